package acoustics

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// SpectrogramOptions configures [NewSpectrogram].
type SpectrogramOptions struct {
	// WindowLength is the effective Gaussian window length in seconds; the
	// physical window is twice as long. Default: 0.005.
	WindowLength float64

	// MaxFrequency is the highest analysed frequency in Hz, capped at the
	// Nyquist frequency. Default: 5000.
	MaxFrequency float64

	// TimeStep between frames in seconds. Default: 0.002.
	TimeStep float64

	// FrequencyStep is the requested bin spacing in Hz. Default: 20.
	FrequencyStep float64

	// MaxFrames bounds the number of frames; the time step is widened for
	// long signals. Default: 1000.
	MaxFrames int
}

// DefaultSpectrogramOptions returns the standard broadband settings.
func DefaultSpectrogramOptions() SpectrogramOptions {
	return SpectrogramOptions{
		WindowLength:  0.005,
		MaxFrequency:  5000,
		TimeStep:      0.002,
		FrequencyStep: 20,
		MaxFrames:     1000,
	}
}

func (o SpectrogramOptions) withDefaults() SpectrogramOptions {
	d := DefaultSpectrogramOptions()
	if o.WindowLength <= 0 {
		o.WindowLength = d.WindowLength
	}
	if o.MaxFrequency <= 0 {
		o.MaxFrequency = d.MaxFrequency
	}
	if o.TimeStep <= 0 {
		o.TimeStep = d.TimeStep
	}
	if o.FrequencyStep <= 0 {
		o.FrequencyStep = d.FrequencyStep
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = d.MaxFrames
	}
	return o
}

// Spectrogram is a time-frequency power grid. Power is indexed
// [frame][bin]; Times and Freqs give the centre of each frame and bin.
type Spectrogram struct {
	Times []float64
	Freqs []float64
	Power [][]float64

	XMin, XMax float64
	YMin, YMax float64
}

// PeakPower returns the largest power value in the grid.
func (s *Spectrogram) PeakPower() float64 {
	var peak float64
	for _, row := range s.Power {
		for _, p := range row {
			peak = max(peak, p)
		}
	}
	return peak
}

// NewSpectrogram computes the short-time power spectrum of samples.
func NewSpectrogram(samples []float64, rate, xmin float64, opts SpectrogramOptions) (*Spectrogram, error) {
	if rate <= 0 {
		return nil, ErrInvalidOptions
	}
	opts = opts.withDefaults()
	duration := float64(len(samples)) / rate
	physical := 2 * opts.WindowLength

	step := max(opts.TimeStep, opts.WindowLength/8)
	if opts.MaxFrames > 1 && duration > physical {
		step = max(step, (duration-physical)/float64(opts.MaxFrames-1))
	}
	n, t1, err := frameLayout(xmin, duration, physical, step)
	if err != nil {
		return nil, err
	}

	wn := max(int(math.Round(physical*rate)), 2)
	nfft := nextPow2(max(wn, int(math.Ceil(rate/opts.FrequencyStep))))
	df := rate / float64(nfft)
	maxFreq := min(opts.MaxFrequency, rate/2)
	bins := int(math.Floor(maxFreq/df)) + 1

	window := gaussian(wn)
	fft := fourier.NewFFT(nfft)
	buf := make([]float64, nfft)
	var coeffs []complex128

	s := &Spectrogram{
		Times: make([]float64, n),
		Freqs: make([]float64, bins),
		Power: make([][]float64, n),
		XMin:  xmin,
		XMax:  xmin + duration,
		YMin:  0,
		YMax:  maxFreq,
	}
	for k := range bins {
		s.Freqs[k] = float64(k) * df
	}

	seg := make([]float64, wn)
	for i := range n {
		t := t1 + float64(i)*step
		frame(seg, samples, rate, xmin, t)
		for j := range seg {
			buf[j] = seg[j] * window[j]
		}
		clear(buf[wn:])
		coeffs = fft.Coefficients(coeffs, buf)

		row := make([]float64, bins)
		for k := range bins {
			c := coeffs[k]
			row[k] = (real(c)*real(c) + imag(c)*imag(c)) / float64(wn*wn)
		}
		s.Times[i] = t
		s.Power[i] = row
	}
	return s, nil
}

// PreEmphasize returns a copy of samples with a first-order high-pass
// pre-emphasis applied from fromHz upward (+6 dB/octave).
func PreEmphasize(samples []float64, rate, fromHz float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	if rate <= 0 || fromHz <= 0 {
		return out
	}
	alpha := math.Exp(-2 * math.Pi * fromHz / rate)
	for i := len(out) - 1; i > 0; i-- {
		out[i] -= alpha * out[i-1]
	}
	return out
}
