package feature_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/pkg/acoustics"
	"github.com/MrWong99/voxplot/pkg/audio"
)

func toneSignal(freq float64, rate, n int) *audio.Signal {
	s := make([]float64, n)
	for i := range s {
		s[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return &audio.Signal{Channels: [][]float64{s}, SampleRate: rate}
}

// toneThenSilence is half a second of 200 Hz followed by half a second of silence.
func toneThenSilence() *audio.Signal {
	sig := toneSignal(200, 16000, 16000)
	clear(sig.Channels[0][8000:])
	return sig
}

func ramp(n int) []feature.Point {
	pts := make([]feature.Point, n)
	for i := range pts {
		pts[i] = feature.Point{X: float64(i), Y: math.Sin(float64(i) / 50), Voiced: true}
	}
	return pts
}

func ys(points []feature.Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Y
	}
	return out
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"amplitude", "Intensity", " pitch "} {
		k, err := feature.ParseKind(s)
		require.NoError(t, err)
		assert.True(t, k.IsValid())
	}
	_, err := feature.ParseKind("loudness")
	assert.ErrorIs(t, err, feature.ErrUnknownKind)
}

func TestExtractAmplitude_TimeAxis(t *testing.T) {
	sig := toneSignal(100, 1000, 500)
	tr := feature.ExtractAmplitude(sig)
	require.Len(t, tr.Points, 500)
	assert.InDelta(t, 0.0005, tr.Points[0].X, 1e-12)
	assert.InDelta(t, 0.4995, tr.Points[499].X, 1e-12)
	assert.Equal(t, 0.0, tr.XMin)
	assert.Equal(t, 0.5, tr.XMax)
}

func TestExtractPitch_UnvoicedIsNaN(t *testing.T) {
	tr, err := feature.ExtractPitch(toneThenSilence(), feature.DefaultOptions().Pitch)
	require.NoError(t, err)

	var voiced, unvoiced int
	for _, p := range tr.Points {
		if p.Voiced {
			voiced++
			if p.X > 0.05 && p.X < 0.45 {
				assert.InDelta(t, 200, p.Y, 5)
			}
			continue
		}
		unvoiced++
		assert.True(t, math.IsNaN(p.Y), "unvoiced point at %.3fs has Y=%v", p.X, p.Y)
	}
	assert.Positive(t, voiced)
	assert.Positive(t, unvoiced)
	assert.Equal(t, 600.0, tr.Ceiling)
}

func TestExtractIntensity_SilentFramesHaveNoValue(t *testing.T) {
	tr, err := feature.ExtractIntensity(toneThenSilence(), feature.DefaultOptions().Intensity)
	require.NoError(t, err)
	last := tr.Points[len(tr.Points)-1]
	assert.False(t, last.Voiced)
	assert.True(t, math.IsNaN(last.Y))
	assert.True(t, tr.Points[0].Voiced)
}

func TestTrackRows(t *testing.T) {
	sig := toneThenSilence()

	in, err := feature.ExtractIntensity(sig, feature.DefaultOptions().Intensity)
	require.NoError(t, err)
	rows := in.Rows()
	require.Len(t, rows, len(in.Points))
	last := rows[len(rows)-1]
	assert.True(t, last.Voiced)
	assert.Equal(t, acoustics.SilenceDB, last.Y)
	assert.False(t, in.Points[len(in.Points)-1].Voiced, "Rows must not modify the track")

	pt, err := feature.ExtractPitch(sig, feature.DefaultOptions().Pitch)
	require.NoError(t, err)
	for _, p := range pt.Rows() {
		if !p.Voiced {
			assert.True(t, math.IsNaN(p.Y))
		}
	}
}

func TestExtract_Dispatch(t *testing.T) {
	sig := toneSignal(200, 16000, 16000)
	for _, k := range feature.Kinds {
		tr, err := feature.Extract(sig, k, feature.DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, k, tr.Kind)
	}
	_, err := feature.Extract(sig, "formants", feature.DefaultOptions())
	assert.ErrorIs(t, err, feature.ErrUnknownKind)
}

func TestDownsample_BelowThresholdUnchanged(t *testing.T) {
	pts := ramp(10000)
	out := feature.Downsample(pts, 10000, 1000)
	assert.Len(t, out, 10000)
	assert.Same(t, &pts[0], &out[0])
}

// With equal-sized chunks the reduced mean equals the raw mean. When
// n%chunks != 0 the chunk sizes differ by one and every chunk weighs 1/chunks
// instead of size/n, so the means may drift by at most
// (max(y)-min(y)) * chunks / n.
func TestDownsample_RowCountAndMean(t *testing.T) {
	linear := func(n int) []feature.Point {
		pts := make([]feature.Point, n)
		for i := range pts {
			pts[i] = feature.Point{X: float64(i), Y: 0.9 + 0.1*float64(i)/float64(n), Voiced: true}
		}
		return pts
	}
	tests := []struct {
		name  string
		pts   []feature.Point
		exact bool
	}{
		{"divisible", ramp(20000), true},
		{"remainder", ramp(12345), false},
		{"remainder on a trend", linear(15500), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := feature.Downsample(tt.pts, 0, 0)
			require.Len(t, out, feature.DefaultDownsampleChunks)

			raw := ys(tt.pts)
			delta := 1e-12
			if !tt.exact {
				lo, hi := floats.Min(raw), floats.Max(raw)
				delta = (hi - lo) * float64(feature.DefaultDownsampleChunks) / float64(len(raw))
			}
			assert.InDelta(t, stat.Mean(raw, nil), stat.Mean(ys(out), nil), delta)
			for i := 1; i < len(out); i++ {
				assert.Greater(t, out[i].X, out[i-1].X, "reduced series must stay ordered")
			}
		})
	}
}

func TestDownsample_ChunkBoundaries(t *testing.T) {
	pts := ramp(11)
	out := feature.Downsample(pts, 5, 4)
	require.Len(t, out, 4)
	// Sizes 3,3,3,2 → X means 1, 4, 7, 9.5.
	assert.Equal(t, []float64{1, 4, 7, 9.5}, []float64{out[0].X, out[1].X, out[2].X, out[3].X})
}

func TestSummarize_Pitch(t *testing.T) {
	tr, err := feature.ExtractPitch(toneThenSilence(), feature.DefaultOptions().Pitch)
	require.NoError(t, err)
	s, err := feature.Summarize(tr)
	require.NoError(t, err)
	assert.Less(t, s.Voiced, s.Frames)
	assert.InDelta(t, 200, s.Mean, 10)
	assert.Less(t, s.CV, 0.2)
	assert.False(t, math.IsNaN(s.CV) || math.IsInf(s.CV, 0))
}

func TestSummarize_SilentInput(t *testing.T) {
	silent := &audio.Signal{Channels: [][]float64{make([]float64, 16000)}, SampleRate: 16000}
	for _, k := range []feature.Kind{feature.Intensity, feature.Pitch} {
		tr, err := feature.Extract(silent, k, feature.DefaultOptions())
		require.NoError(t, err)
		s, err := feature.Summarize(tr)
		assert.ErrorIs(t, err, feature.ErrNoVoicedFrames, k)
		assert.Zero(t, s.Voiced)
		assert.False(t, math.IsNaN(s.CV), k)
	}
}

func TestSummarize_ZeroMean(t *testing.T) {
	tr := &feature.Track{Kind: feature.Amplitude, Points: []feature.Point{
		{X: 0, Y: -1, Voiced: true},
		{X: 1, Y: 1, Voiced: true},
	}}
	s, err := feature.Summarize(tr)
	assert.ErrorIs(t, err, feature.ErrZeroMean)
	assert.Equal(t, 1.0, s.StdDev)
	assert.Zero(t, s.CV)
}

func TestProfile(t *testing.T) {
	sig := toneThenSilence()
	in, err := feature.ExtractIntensity(sig, feature.DefaultOptions().Intensity)
	require.NoError(t, err)
	pt, err := feature.ExtractPitch(sig, feature.DefaultOptions().Pitch)
	require.NoError(t, err)

	v := feature.Profile(in, pt, 16)
	require.Len(t, v, 16)
	for _, x := range v {
		assert.False(t, math.IsNaN(float64(x)))
	}

	empty := &feature.Track{Kind: feature.Pitch, XMax: 1}
	v = feature.Profile(in, empty, 0)
	require.Len(t, v, feature.DefaultProfileDims)
	for _, x := range v[feature.DefaultProfileDims/2:] {
		assert.Zero(t, x)
	}
}

func TestProfile_SilentRecordingHasNone(t *testing.T) {
	silent := &audio.Signal{Channels: [][]float64{make([]float64, 16000)}, SampleRate: 16000}
	in, err := feature.ExtractIntensity(silent, feature.DefaultOptions().Intensity)
	require.NoError(t, err)
	pt, err := feature.ExtractPitch(silent, feature.DefaultOptions().Pitch)
	require.NoError(t, err)

	assert.Nil(t, feature.Profile(in, pt, 16))

	empty := &feature.Track{Kind: feature.Pitch, XMax: 1}
	assert.Nil(t, feature.Profile(empty, empty, 0))
}
