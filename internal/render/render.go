// Package render writes extracted feature tracks to disk or a stream: PNG
// plots drawn with gonum/plot and whitespace-separated text tables.
//
// Every write failure is reported as an [*IOError] wrapping [ErrWrite].
// Renderers never retry.
package render

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxplot/internal/feature"
)

var (
	// ErrWrite is wrapped by every [IOError].
	ErrWrite = errors.New("write failed")

	// ErrNotImplemented is returned when a renderer has no output for the
	// requested feature.
	ErrNotImplemented = errors.New("not implemented")
)

// IOError reports a failed output write.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("render: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("render: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both [ErrWrite] and the underlying cause.
func (e *IOError) Unwrap() []error { return []error{ErrWrite, e.Err} }

// Format identifies the encoding of an [Artifact].
type Format string

const (
	FormatPNG  Format = "png"
	FormatText Format = "txt"
)

// Artifact is one file produced for a feature.
type Artifact struct {
	Kind   feature.Kind `json:"kind"`
	Format Format       `json:"format"`
	Path   string       `json:"path"`
}
