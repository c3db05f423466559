// Package feature turns a decoded [audio.Signal] into the three exported
// series (amplitude, intensity and pitch) and provides the reductions applied
// to them before output: down-sampling, summary statistics and the compact
// profile vector used for similarity search.
//
// Every extractor is a pure function of its inputs. Frames without a value
// (unvoiced pitch frames and digitally silent intensity frames) are kept in
// the track with Voiced=false and a NaN Y so that no statistic or plot can
// mistake them for a measured zero. Text tables use [Track.Rows], which
// reports silent intensity frames at the [acoustics.SilenceDB] floor.
package feature

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/voxplot/pkg/acoustics"
	"github.com/MrWong99/voxplot/pkg/audio"
)

// ErrUnknownKind is returned by [ParseKind] for unrecognised selectors.
var ErrUnknownKind = errors.New("unknown feature")

// Kind selects one of the extracted series.
type Kind string

const (
	Amplitude Kind = "amplitude"
	Intensity Kind = "intensity"
	Pitch     Kind = "pitch"
)

// Kinds lists every feature in output order.
var Kinds = []Kind{Amplitude, Intensity, Pitch}

// IsValid reports whether k is a recognised feature.
func (k Kind) IsValid() bool {
	switch k {
	case Amplitude, Intensity, Pitch:
		return true
	}
	return false
}

// ParseKind converts a command-line selector into a [Kind].
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w %q; valid values: amplitude, intensity, pitch", ErrUnknownKind, s)
	}
	return k, nil
}

// Point is one sample of a [Track].
type Point struct {
	X      float64
	Y      float64
	Voiced bool
}

// Track is an ordered series extracted from a signal.
type Track struct {
	Kind   Kind
	Points []Point

	// XMin and XMax are the time extent of the source signal.
	XMin, XMax float64

	// Ceiling is the upper frequency bound of a pitch track, 0 otherwise.
	Ceiling float64
}

// Voiced returns the points that carry a value, in order.
func (t *Track) Voiced() []Point {
	out := make([]Point, 0, len(t.Points))
	for _, p := range t.Points {
		if p.Voiced {
			out = append(out, p)
		}
	}
	return out
}

// Rows returns the points written to text tables. Intensity frames at the
// digital silence floor are reported as [acoustics.SilenceDB]; every other
// point is returned as is, so unvoiced pitch frames still carry no value.
// The track is not modified.
func (t *Track) Rows() []Point {
	if t.Kind != Intensity {
		return t.Points
	}
	out := make([]Point, len(t.Points))
	for i, p := range t.Points {
		if !p.Voiced {
			p.Y, p.Voiced = acoustics.SilenceDB, true
		}
		out[i] = p
	}
	return out
}

// Options holds the analysis settings passed to the extractors.
type Options struct {
	Pitch     acoustics.PitchOptions
	Intensity acoustics.IntensityOptions
}

// DefaultOptions returns the standard analysis settings.
func DefaultOptions() Options {
	return Options{
		Pitch:     acoustics.DefaultPitchOptions(),
		Intensity: acoustics.DefaultIntensityOptions(),
	}
}

// Extract dispatches to the extractor for kind.
func Extract(sig *audio.Signal, kind Kind, opts Options) (*Track, error) {
	switch kind {
	case Amplitude:
		return ExtractAmplitude(sig), nil
	case Intensity:
		return ExtractIntensity(sig, opts.Intensity)
	case Pitch:
		return ExtractPitch(sig, opts.Pitch)
	}
	return nil, fmt.Errorf("feature: %w %q", ErrUnknownKind, kind)
}

// ExtractAmplitude returns the mono waveform against its time axis.
func ExtractAmplitude(sig *audio.Signal) *Track {
	mono := sig.Mono()
	tr := &Track{
		Kind:   Amplitude,
		Points: make([]Point, len(mono)),
		XMin:   sig.XMin,
		XMax:   sig.XMax(),
	}
	for i, v := range mono {
		tr.Points[i] = Point{X: sig.X(i), Y: v, Voiced: true}
	}
	return tr
}

// ExtractIntensity returns the intensity contour in dB. Digitally silent
// frames are marked as having no value.
func ExtractIntensity(sig *audio.Signal, opts acoustics.IntensityOptions) (*Track, error) {
	contour, err := acoustics.Intensity(sig.Mono(), float64(sig.SampleRate), sig.XMin, opts)
	if err != nil {
		return nil, fmt.Errorf("feature: intensity: %w", err)
	}
	tr := &Track{
		Kind:   Intensity,
		Points: make([]Point, len(contour.Values)),
		XMin:   sig.XMin,
		XMax:   sig.XMax(),
	}
	for i, v := range contour.Values {
		p := Point{X: contour.Times[i], Y: v, Voiced: true}
		if v <= acoustics.SilenceDB {
			p.Y, p.Voiced = math.NaN(), false
		}
		tr.Points[i] = p
	}
	return tr, nil
}

// ExtractPitch returns the F0 track in Hz. Unvoiced frames are marked as
// having no value instead of carrying a 0 Hz estimate.
func ExtractPitch(sig *audio.Signal, opts acoustics.PitchOptions) (*Track, error) {
	contour, err := acoustics.Pitch(sig.Mono(), float64(sig.SampleRate), sig.XMin, opts)
	if err != nil {
		return nil, fmt.Errorf("feature: pitch: %w", err)
	}
	tr := &Track{
		Kind:    Pitch,
		Points:  make([]Point, len(contour.Frames)),
		XMin:    sig.XMin,
		XMax:    sig.XMax(),
		Ceiling: contour.Ceiling,
	}
	for i, f := range contour.Frames {
		p := Point{X: f.Time, Y: f.Frequency, Voiced: f.Voiced()}
		if !p.Voiced {
			p.Y = math.NaN()
		}
		tr.Points[i] = p
	}
	return tr, nil
}
