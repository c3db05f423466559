package feature

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoVoicedFrames is returned by [Summarize] when a track has no
	// values, e.g. the pitch or intensity of a silent recording.
	ErrNoVoicedFrames = errors.New("no voiced frames")

	// ErrZeroMean is returned by [Summarize] when the coefficient of
	// variation is undefined because the mean is zero.
	ErrZeroMean = errors.New("zero mean; coefficient of variation undefined")
)

// Summary holds descriptive statistics over the voiced points of a track.
type Summary struct {
	Kind   Kind `json:"kind"`
	Frames int  `json:"frames"`
	Voiced int  `json:"voiced"`

	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`

	// CV is the coefficient of variation StdDev/|Mean|.
	CV float64 `json:"cv"`
}

// Summarize computes statistics over the voiced, finite points of t. Frames
// without a value never enter the statistics. A track with no such points
// returns [ErrNoVoicedFrames]; a zero mean returns [ErrZeroMean] with every
// field except CV filled in.
func Summarize(t *Track) (Summary, error) {
	s := Summary{Kind: t.Kind, Frames: len(t.Points)}
	ys := make([]float64, 0, len(t.Points))
	for _, p := range t.Points {
		if p.Voiced && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) {
			ys = append(ys, p.Y)
		}
	}
	s.Voiced = len(ys)
	if len(ys) == 0 {
		return s, fmt.Errorf("feature: summarize %s: %w", t.Kind, ErrNoVoicedFrames)
	}

	s.Min = floats.Min(ys)
	s.Max = floats.Max(ys)
	s.Mean, s.StdDev = stat.PopMeanStdDev(ys, nil)
	if s.Mean == 0 {
		return s, fmt.Errorf("feature: summarize %s: %w", t.Kind, ErrZeroMean)
	}
	s.CV = s.StdDev / math.Abs(s.Mean)
	return s, nil
}
