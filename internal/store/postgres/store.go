package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/internal/render"
	"github.com/MrWong99/voxplot/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [store.Store] holding a single connection
// pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// NewStore connects to the database at dsn, registers pgvector types on
// every connection and runs [Migrate]. dims is the length of the profile
// vectors that will be saved.
func NewStore(ctx context.Context, dsn string, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool, dims: dims}, nil
}

// Save upserts a. A nil profile is stored as NULL.
func (s *Store) Save(ctx context.Context, a *store.Analysis) error {
	if a.Profile != nil && len(a.Profile) != s.dims {
		return fmt.Errorf("postgres store: save: %w: got %d, want %d", store.ErrProfileDims, len(a.Profile), s.dims)
	}
	store.Prepare(a, time.Now())

	const q = `
		INSERT INTO analyses
		    (id, source, duration, sample_rate, channels, artifacts, series, summaries, profile, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		    source      = EXCLUDED.source,
		    duration    = EXCLUDED.duration,
		    sample_rate = EXCLUDED.sample_rate,
		    channels    = EXCLUDED.channels,
		    artifacts   = EXCLUDED.artifacts,
		    series      = EXCLUDED.series,
		    summaries   = EXCLUDED.summaries,
		    profile     = EXCLUDED.profile,
		    created_at  = EXCLUDED.created_at`

	var profile any
	if a.Profile != nil {
		profile = pgvector.NewVector(a.Profile)
	}
	_, err := s.pool.Exec(ctx, q,
		a.ID,
		a.Source,
		a.Duration,
		a.SampleRate,
		a.Channels,
		nonNilSlice(a.Artifacts),
		nonNilMap(a.Series),
		nonNilMap(a.Summaries),
		profile,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save %q: %w", a.ID, err)
	}
	return nil
}

// Get returns the analysis with the given ID, including its series and profile.
func (s *Store) Get(ctx context.Context, id string) (*store.Analysis, error) {
	const q = `
		SELECT id, source, duration, sample_rate, channels, artifacts, summaries, created_at,
		       series, profile::real[]
		FROM   analyses
		WHERE  id = $1`

	var a store.Analysis
	err := s.pool.QueryRow(ctx, q, id).Scan(append(headerDest(&a), &a.Series, &a.Profile)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: get %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %q: %w", id, err)
	}
	return &a, nil
}

// List returns analyses newest first without their series.
func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]*store.Analysis, error) {
	const q = `
		SELECT id, source, duration, sample_rate, channels, artifacts, summaries, created_at
		FROM   analyses
		ORDER  BY created_at DESC, id
		LIMIT  $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, q, opts.EffectiveLimit(), max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.Analysis, error) {
		var a store.Analysis
		if err := row.Scan(headerDest(&a)...); err != nil {
			return nil, err
		}
		return &a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: scan rows: %w", err)
	}
	if out == nil {
		out = []*store.Analysis{}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: delete %q: %w", id, store.ErrNotFound)
	}
	return nil
}

// Similar orders the other analyses by L2 distance (<->) between their
// profile and the profile of id.
func (s *Store) Similar(ctx context.Context, id string, k int) ([]store.Match, error) {
	var hasProfile bool
	err := s.pool.QueryRow(ctx, `SELECT profile IS NOT NULL FROM analyses WHERE id = $1`, id).Scan(&hasProfile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: similar %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar %q: %w", id, err)
	}
	if !hasProfile || k <= 0 {
		return []store.Match{}, nil
	}

	const q = `
		SELECT a.id, a.source, a.duration, a.sample_rate, a.channels, a.artifacts, a.summaries, a.created_at,
		       a.profile <-> r.profile AS distance
		FROM   analyses a, (SELECT profile FROM analyses WHERE id = $1) r
		WHERE  a.id <> $1 AND a.profile IS NOT NULL
		ORDER  BY distance, a.id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, id, k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar %q: %w", id, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Match, error) {
		m := store.Match{Analysis: &store.Analysis{}}
		if err := row.Scan(append(headerDest(m.Analysis), &m.Distance)...); err != nil {
			return store.Match{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar %q: scan rows: %w", id, err)
	}
	if out == nil {
		out = []store.Match{}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// headerDest returns scan targets for the columns shared by every query:
// id, source, duration, sample_rate, channels, artifacts, summaries, created_at.
func headerDest(a *store.Analysis) []any {
	return []any{&a.ID, &a.Source, &a.Duration, &a.SampleRate, &a.Channels, &a.Artifacts, &a.Summaries, &a.CreatedAt}
}

func nonNilSlice(a []render.Artifact) []render.Artifact {
	if a == nil {
		return []render.Artifact{}
	}
	return a
}

func nonNilMap[V any](m map[feature.Kind]V) map[feature.Kind]V {
	if m == nil {
		return map[feature.Kind]V{}
	}
	return m
}
