// Package acoustics implements the short-term acoustic analyses used to plot
// and export speech recordings: the intensity contour, the autocorrelation
// pitch tracker and the power spectrogram.
//
// All functions are pure: they read a mono sample slice and return freshly
// allocated results. The defaults follow the conventions of common
// phonetics tools (intensity min pitch 100 Hz, pitch floor 75 Hz and
// ceiling 600 Hz, 5 ms Gaussian spectrogram window up to 5 kHz).
package acoustics

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

var (
	// ErrTooShort is returned when the signal is shorter than a single
	// analysis window.
	ErrTooShort = errors.New("acoustics: signal shorter than analysis window")

	// ErrInvalidOptions is returned for non-positive rates, steps or
	// inverted frequency ranges.
	ErrInvalidOptions = errors.New("acoustics: invalid options")
)

// frameLayout centres numberOfFrames analysis windows of windowDuration
// seconds, timeStep apart, over a signal of the given duration starting at
// xmin. It returns the frame count and the centre time of the first frame.
func frameLayout(xmin, duration, windowDuration, timeStep float64) (int, float64, error) {
	if timeStep <= 0 || windowDuration <= 0 {
		return 0, 0, ErrInvalidOptions
	}
	if windowDuration > duration {
		return 0, 0, ErrTooShort
	}
	n := int(math.Floor((duration-windowDuration)/timeStep)) + 1
	t1 := xmin + 0.5*duration - 0.5*float64(n-1)*timeStep
	return n, t1, nil
}

// frame copies the wn samples centred on time t into dst, zero-filling
// anything that falls outside samples.
func frame(dst, samples []float64, rate, xmin, t float64) {
	wn := len(dst)
	centre := (t-xmin)*rate - 0.5
	start := int(math.Round(centre - 0.5*float64(wn-1)))
	for i := range dst {
		j := start + i
		if j < 0 || j >= len(samples) {
			dst[i] = 0
			continue
		}
		dst[i] = samples[j]
	}
}

func subtractMean(x []float64) {
	if len(x) == 0 {
		return
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean := sum / float64(len(x))
	for i := range x {
		x[i] -= mean
	}
}

func maxAbs(x []float64) float64 {
	var peak float64
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// hanning returns a raised-cosine window whose end points are non-zero.
func hanning(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*(float64(i)+0.5)/float64(n))
	}
	return w
}

// gaussian returns a Gaussian window that falls to zero at both edges.
func gaussian(n int) []float64 {
	w := make([]float64, n)
	edge := math.Exp(-12)
	mid := 0.5 * float64(n+1)
	denom := float64(n + 1)
	for i := range w {
		d := (float64(i+1) - mid) / denom
		w[i] = (math.Exp(-48*d*d) - edge) / (1 - edge)
	}
	return w
}

// autocorrelator computes the linear (non-circular) autocorrelation of
// fixed-length frames through a zero-padded FFT.
type autocorrelator struct {
	fft    *fourier.FFT
	buf    []float64
	coeffs []complex128
	out    []float64
}

func newAutocorrelator(frameLen, maxLag int) *autocorrelator {
	n := nextPow2(frameLen + maxLag + 1)
	return &autocorrelator{
		fft: fourier.NewFFT(n),
		buf: make([]float64, n),
		out: make([]float64, n),
	}
}

// compute returns r[0..n) for x. The result aliases internal storage and is
// valid until the next call.
func (a *autocorrelator) compute(x []float64) []float64 {
	copy(a.buf, x)
	clear(a.buf[len(x):])
	a.coeffs = a.fft.Coefficients(a.coeffs, a.buf)
	for i, c := range a.coeffs {
		re, im := real(c), imag(c)
		a.coeffs[i] = complex(re*re+im*im, 0)
	}
	a.out = a.fft.Sequence(a.out, a.coeffs)
	return a.out
}
