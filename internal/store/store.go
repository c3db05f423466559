// Package store persists finished analyses: the artifacts written for a
// recording, its voiced feature series, per-feature summaries and a profile
// vector used to find recordings with similar prosody.
//
// Two backends implement [Store]: [MemStore] keeps everything in process and
// the postgres subpackage stores analyses in PostgreSQL with the profile in a
// pgvector column. Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/internal/render"
)

var (
	// ErrNotFound is returned when no analysis with the requested ID exists.
	ErrNotFound = errors.New("analysis not found")

	// ErrProfileDims is returned by Save when the profile length does not
	// match the dimension the store was created with.
	ErrProfileDims = errors.New("profile dimension mismatch")
)

// DefaultListLimit caps List when [ListOptions.Limit] is zero.
const DefaultListLimit = 50

// Sample is one voiced point of a series as [time, value].
type Sample [2]float64

// Analysis is the persisted result of one AutoFull run.
type Analysis struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Duration   float64   `json:"duration"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	CreatedAt  time.Time `json:"created_at"`

	Artifacts []render.Artifact                `json:"artifacts"`
	Series    map[feature.Kind][]Sample        `json:"series,omitempty"`
	Summaries map[feature.Kind]feature.Summary `json:"summaries,omitempty"`

	// Profile is the vector built by [feature.Profile]. Analyses without a
	// profile never appear in Similar results.
	Profile []float32 `json:"-"`
}

// Artifact returns the artifact of the given kind and format.
func (a *Analysis) Artifact(kind feature.Kind, format render.Format) (render.Artifact, bool) {
	for _, art := range a.Artifacts {
		if art.Kind == kind && art.Format == format {
			return art, true
		}
	}
	return render.Artifact{}, false
}

// Match is one result of [Store.Similar].
type Match struct {
	Analysis *Analysis `json:"analysis"`
	Distance float64   `json:"distance"`
}

// ListOptions pages through stored analyses, newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store persists analyses.
type Store interface {
	// Save inserts or replaces a. An empty ID is filled with a new UUID and
	// a zero CreatedAt with the current time, both written back to a.
	Save(ctx context.Context, a *Analysis) error

	// Get returns the analysis with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (*Analysis, error)

	// List returns analyses ordered by creation time, newest first.
	// Series are omitted from the results.
	List(ctx context.Context, opts ListOptions) ([]*Analysis, error)

	// Delete removes the analysis with the given ID or returns [ErrNotFound].
	Delete(ctx context.Context, id string) error

	// Similar returns up to k analyses whose profiles are closest to the
	// profile of id in Euclidean distance, nearest first. The analysis
	// itself is excluded.
	Similar(ctx context.Context, id string, k int) ([]Match, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close()
}

// SeriesFrom converts the voiced points of a track into samples.
// Unvoiced points and non-finite values are dropped.
func SeriesFrom(points []feature.Point) []Sample {
	out := make([]Sample, 0, len(points))
	for _, p := range points {
		if !p.Voiced || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			continue
		}
		out = append(out, Sample{p.X, p.Y})
	}
	return out
}

// Prepare assigns an ID and creation time to a when they are unset.
// Backends call it at the start of Save.
func Prepare(a *Analysis, now time.Time) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now.UTC()
	}
}

// EffectiveLimit returns Limit, or [DefaultListLimit] when Limit is not positive.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}
