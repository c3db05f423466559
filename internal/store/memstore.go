package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/voxplot/internal/feature"
)

// MemStore is an in-process [Store]. The zero value is not usable; create
// one with [NewMemStore].
type MemStore struct {
	mu       sync.RWMutex
	analyses map[string]*Analysis
	dims     int
	now      func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty store. When dims is positive, Save rejects
// profiles of any other length.
func NewMemStore(dims int) *MemStore {
	return &MemStore{
		analyses: make(map[string]*Analysis),
		dims:     dims,
		now:      time.Now,
	}
}

func (s *MemStore) Save(_ context.Context, a *Analysis) error {
	if s.dims > 0 && a.Profile != nil && len(a.Profile) != s.dims {
		return fmt.Errorf("store: save: %w: got %d, want %d", ErrProfileDims, len(a.Profile), s.dims)
	}
	Prepare(a, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[a.ID] = clone(a)
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, fmt.Errorf("store: get %q: %w", id, ErrNotFound)
	}
	return clone(a), nil
}

func (s *MemStore) List(_ context.Context, opts ListOptions) ([]*Analysis, error) {
	s.mu.RLock()
	all := slices.SortedFunc(maps.Values(s.analyses), newestFirst)
	s.mu.RUnlock()

	if opts.Offset >= len(all) {
		return []*Analysis{}, nil
	}
	all = all[max(opts.Offset, 0):]
	all = all[:min(len(all), opts.EffectiveLimit())]

	out := make([]*Analysis, len(all))
	for i, a := range all {
		c := clone(a)
		c.Series = nil
		out[i] = c
	}
	return out, nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.analyses[id]; !ok {
		return fmt.Errorf("store: delete %q: %w", id, ErrNotFound)
	}
	delete(s.analyses, id)
	return nil
}

func (s *MemStore) Similar(_ context.Context, id string, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.analyses[id]
	if !ok {
		return nil, fmt.Errorf("store: similar %q: %w", id, ErrNotFound)
	}
	matches := []Match{}
	if ref.Profile == nil || k <= 0 {
		return matches, nil
	}
	q := widen(ref.Profile)
	for _, a := range s.analyses {
		if a.ID == id || len(a.Profile) != len(ref.Profile) {
			continue
		}
		c := clone(a)
		c.Series = nil
		matches = append(matches, Match{Analysis: c, Distance: floats.Distance(q, widen(a.Profile), 2)})
	}
	slices.SortFunc(matches, func(x, y Match) int {
		if c := cmp.Compare(x.Distance, y.Distance); c != 0 {
			return c
		}
		return cmp.Compare(x.Analysis.ID, y.Analysis.ID)
	})
	return matches[:min(k, len(matches))], nil
}

func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) Close() {}

func newestFirst(x, y *Analysis) int {
	if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(x.ID, y.ID)
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// clone deep-copies a so callers never share slices or maps with the store.
func clone(a *Analysis) *Analysis {
	c := *a
	c.Artifacts = slices.Clone(a.Artifacts)
	c.Profile = slices.Clone(a.Profile)
	if a.Series != nil {
		c.Series = make(map[feature.Kind][]Sample, len(a.Series))
		for k, v := range a.Series {
			c.Series[k] = slices.Clone(v)
		}
	}
	c.Summaries = maps.Clone(a.Summaries)
	return &c
}
