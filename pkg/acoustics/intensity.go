package acoustics

import "math"

// SilenceDB is the intensity reported for frames of digital silence.
const SilenceDB = -300.0

// referencePower is the squared auditory threshold (20 µPa)², in Pa².
const referencePower = 4e-10

// IntensityOptions configures [Intensity].
type IntensityOptions struct {
	// MinPitch is the lowest periodicity the window must smooth out, in Hz.
	// The window spans 6.4/MinPitch seconds. Default: 100.
	MinPitch float64

	// TimeStep between frame centres in seconds. Default: 0.8/MinPitch.
	TimeStep float64

	// KeepDC disables the per-frame mean subtraction.
	KeepDC bool
}

// DefaultIntensityOptions returns the standard intensity settings.
func DefaultIntensityOptions() IntensityOptions {
	return IntensityOptions{MinPitch: 100}
}

func (o IntensityOptions) withDefaults() IntensityOptions {
	if o.MinPitch <= 0 {
		o.MinPitch = 100
	}
	if o.TimeStep <= 0 {
		o.TimeStep = 0.8 / o.MinPitch
	}
	return o
}

// IntensityContour is a short-term energy envelope in dB re 20 µPa.
type IntensityContour struct {
	Times  []float64
	Values []float64
}

// Intensity computes the intensity contour of samples (sample rate rate,
// first sample centred at xmin + 0.5/rate).
func Intensity(samples []float64, rate, xmin float64, opts IntensityOptions) (*IntensityContour, error) {
	if rate <= 0 {
		return nil, ErrInvalidOptions
	}
	opts = opts.withDefaults()
	duration := float64(len(samples)) / rate
	windowDuration := 6.4 / opts.MinPitch

	n, t1, err := frameLayout(xmin, duration, windowDuration, opts.TimeStep)
	if err != nil {
		return nil, err
	}

	wn := max(int(math.Round(windowDuration*rate)), 1)
	window := gaussian(wn)
	var sumW float64
	for _, w := range window {
		sumW += w
	}

	out := &IntensityContour{
		Times:  make([]float64, n),
		Values: make([]float64, n),
	}
	buf := make([]float64, wn)
	for i := range n {
		t := t1 + float64(i)*opts.TimeStep
		frame(buf, samples, rate, xmin, t)
		if !opts.KeepDC {
			subtractMean(buf)
		}
		var sumXW float64
		for j, x := range buf {
			sumXW += x * x * window[j]
		}
		out.Times[i] = t
		out.Values[i] = powerToDB(sumXW / sumW)
	}
	return out, nil
}

func powerToDB(power float64) float64 {
	if power <= 0 {
		return SilenceDB
	}
	return 10 * math.Log10(power/referencePower)
}
