package acoustics_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/voxplot/pkg/acoustics"
)

func sine(freq, amp, rate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func TestPitch_SineWithinFiveHertz(t *testing.T) {
	for _, freq := range []float64{120, 200, 330} {
		samples := sine(freq, 0.5, 16000, 16000)
		contour, err := acoustics.Pitch(samples, 16000, 0, acoustics.DefaultPitchOptions())
		require.NoError(t, err)
		require.NotEmpty(t, contour.Frames)

		voiced := 0
		for _, f := range contour.Frames {
			if !f.Voiced() {
				continue
			}
			voiced++
			assert.InDeltaf(t, freq, f.Frequency, 5, "frame at %.3fs", f.Time)
		}
		assert.Greaterf(t, voiced, len(contour.Frames)*9/10, "%.0f Hz: only %d/%d frames voiced", freq, voiced, len(contour.Frames))
	}
}

func TestPitch_SilenceIsUnvoiced(t *testing.T) {
	contour, err := acoustics.Pitch(make([]float64, 8000), 8000, 0, acoustics.DefaultPitchOptions())
	require.NoError(t, err)
	for _, f := range contour.Frames {
		assert.False(t, f.Voiced(), "frame at %.3fs voiced", f.Time)
		assert.Zero(t, f.Frequency)
	}
}

func TestPitch_FrameTimesCentred(t *testing.T) {
	contour, err := acoustics.Pitch(sine(200, 0.5, 16000, 16000), 16000, 0, acoustics.PitchOptions{})
	require.NoError(t, err)
	first := contour.Frames[0].Time
	last := contour.Frames[len(contour.Frames)-1].Time
	assert.InDelta(t, 1.0, first+last, 1e-9)
	assert.InDelta(t, 0.01, contour.Frames[1].Time-first, 1e-12)
	assert.Equal(t, 75.0, contour.Floor)
	assert.Equal(t, 600.0, contour.Ceiling)
}

func TestPitch_Errors(t *testing.T) {
	_, err := acoustics.Pitch(make([]float64, 100), 16000, 0, acoustics.DefaultPitchOptions())
	assert.ErrorIs(t, err, acoustics.ErrTooShort)

	_, err = acoustics.Pitch(make([]float64, 16000), 16000, 0, acoustics.PitchOptions{Floor: 500, Ceiling: 100})
	assert.ErrorIs(t, err, acoustics.ErrInvalidOptions)

	_, err = acoustics.Pitch(make([]float64, 16000), 0, 0, acoustics.DefaultPitchOptions())
	assert.ErrorIs(t, err, acoustics.ErrInvalidOptions)
}

func TestIntensity_SineLevel(t *testing.T) {
	contour, err := acoustics.Intensity(sine(200, 0.5, 16000, 16000), 16000, 0, acoustics.DefaultIntensityOptions())
	require.NoError(t, err)
	require.NotEmpty(t, contour.Values)

	// Mean square of a 0.5 amplitude sine is 0.125.
	want := 10 * math.Log10(0.125/4e-10)
	for i, v := range contour.Values {
		assert.InDeltaf(t, want, v, 0.5, "frame %d", i)
	}
	assert.InDelta(t, 0.008, contour.Times[1]-contour.Times[0], 1e-12)
}

func TestIntensity_SilenceFloor(t *testing.T) {
	contour, err := acoustics.Intensity(make([]float64, 16000), 16000, 0, acoustics.IntensityOptions{})
	require.NoError(t, err)
	for _, v := range contour.Values {
		assert.Equal(t, acoustics.SilenceDB, v)
	}
}

func TestIntensity_TooShort(t *testing.T) {
	_, err := acoustics.Intensity(make([]float64, 50), 16000, 0, acoustics.IntensityOptions{})
	assert.ErrorIs(t, err, acoustics.ErrTooShort)
}

func TestSpectrogram_PeakAtToneFrequency(t *testing.T) {
	s, err := acoustics.NewSpectrogram(sine(1000, 0.5, 16000, 16000), 16000, 0, acoustics.DefaultSpectrogramOptions())
	require.NoError(t, err)
	require.NotEmpty(t, s.Power)
	assert.LessOrEqual(t, len(s.Times), 1000)
	assert.Equal(t, 5000.0, s.YMax)
	assert.LessOrEqual(t, s.Freqs[len(s.Freqs)-1], 5000.0)

	row := s.Power[len(s.Power)/2]
	peakBin := 0
	for k := range row {
		if row[k] > row[peakBin] {
			peakBin = k
		}
	}
	assert.InDelta(t, 1000, s.Freqs[peakBin], 2*(s.Freqs[1]-s.Freqs[0]))
	assert.Greater(t, s.PeakPower(), 0.0)
}

func TestSpectrogram_MaxFrequencyCappedAtNyquist(t *testing.T) {
	s, err := acoustics.NewSpectrogram(sine(500, 0.5, 8000, 8000), 8000, 0, acoustics.SpectrogramOptions{MaxFrequency: 8000, WindowLength: 0.03})
	require.NoError(t, err)
	assert.Equal(t, 4000.0, s.YMax)
}

func TestPreEmphasize(t *testing.T) {
	in := []float64{1, 1, 1, 1}
	out := acoustics.PreEmphasize(in, 16000, 50)
	alpha := math.Exp(-2 * math.Pi * 50 / 16000)
	assert.Equal(t, 1.0, out[0])
	for i := 1; i < len(out); i++ {
		assert.InDelta(t, 1-alpha, out[i], 1e-12)
	}
	assert.Equal(t, []float64{1, 1, 1, 1}, in, "input must not be modified")
}
