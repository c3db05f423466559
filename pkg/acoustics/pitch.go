package acoustics

import "math"

// PitchOptions configures [Pitch].
type PitchOptions struct {
	// TimeStep between frame centres in seconds. Default: 0.25 * window.
	TimeStep float64

	// Floor is the lowest F0 candidate in Hz. Default: 75.
	Floor float64

	// Ceiling is the highest F0 candidate in Hz. Default: 600.
	Ceiling float64

	// PeriodsPerWindow sets the window length in periods of Floor. Default: 3.
	PeriodsPerWindow float64

	// VoicingThreshold is the minimum normalised autocorrelation peak for a
	// frame to count as voiced. Default: 0.45.
	VoicingThreshold float64

	// SilenceThreshold is the minimum local peak, relative to the global
	// peak, for a frame to be analysed at all. Default: 0.03.
	SilenceThreshold float64

	// OctaveCost favours higher-frequency candidates per octave. Default: 0.01.
	OctaveCost float64
}

// DefaultPitchOptions returns the standard pitch tracker settings.
func DefaultPitchOptions() PitchOptions {
	return PitchOptions{
		Floor:            75,
		Ceiling:          600,
		PeriodsPerWindow: 3,
		VoicingThreshold: 0.45,
		SilenceThreshold: 0.03,
		OctaveCost:       0.01,
	}
}

func (o PitchOptions) withDefaults() PitchOptions {
	d := DefaultPitchOptions()
	if o.Floor <= 0 {
		o.Floor = d.Floor
	}
	if o.Ceiling <= 0 {
		o.Ceiling = d.Ceiling
	}
	if o.PeriodsPerWindow <= 0 {
		o.PeriodsPerWindow = d.PeriodsPerWindow
	}
	if o.VoicingThreshold <= 0 {
		o.VoicingThreshold = d.VoicingThreshold
	}
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = d.SilenceThreshold
	}
	if o.OctaveCost < 0 {
		o.OctaveCost = 0
	}
	if o.TimeStep <= 0 {
		o.TimeStep = 0.25 * o.PeriodsPerWindow / o.Floor
	}
	return o
}

// PitchFrame is one analysis frame of a [PitchContour]. Unvoiced frames have
// Frequency 0.
type PitchFrame struct {
	Time      float64
	Frequency float64
	Strength  float64
}

// Voiced reports whether the frame carries an F0 estimate.
func (f PitchFrame) Voiced() bool { return f.Frequency > 0 }

// PitchContour is the frame-by-frame F0 estimate of a signal.
type PitchContour struct {
	Frames  []PitchFrame
	Floor   float64
	Ceiling float64
}

// Pitch tracks the fundamental frequency of samples with a windowed,
// normalised autocorrelation. Each frame picks the highest-scoring
// autocorrelation peak between Floor and Ceiling; frames that are too quiet
// or whose best peak is below the voicing threshold are unvoiced.
func Pitch(samples []float64, rate, xmin float64, opts PitchOptions) (*PitchContour, error) {
	if rate <= 0 {
		return nil, ErrInvalidOptions
	}
	opts = opts.withDefaults()
	if opts.Ceiling <= opts.Floor {
		return nil, ErrInvalidOptions
	}
	if nyquist := rate / 2; opts.Ceiling > nyquist {
		opts.Ceiling = nyquist
	}

	duration := float64(len(samples)) / rate
	windowDuration := opts.PeriodsPerWindow / opts.Floor
	n, t1, err := frameLayout(xmin, duration, windowDuration, opts.TimeStep)
	if err != nil {
		return nil, err
	}

	wn := int(math.Round(windowDuration * rate))
	minLag := max(int(math.Floor(rate/opts.Ceiling)), 2)
	maxLag := min(int(math.Ceil(rate/opts.Floor)), wn-2)
	if maxLag <= minLag {
		return nil, ErrTooShort
	}

	window := hanning(wn)
	ac := newAutocorrelator(wn, maxLag+1)
	windowAC := append([]float64(nil), ac.compute(window)[:maxLag+2]...)
	for i := len(windowAC) - 1; i >= 0; i-- {
		windowAC[i] /= windowAC[0]
	}

	globalPeak := globalPeak(samples)
	out := &PitchContour{
		Frames:  make([]PitchFrame, n),
		Floor:   opts.Floor,
		Ceiling: opts.Ceiling,
	}
	buf := make([]float64, wn)
	norm := make([]float64, maxLag+2)

	for i := range n {
		t := t1 + float64(i)*opts.TimeStep
		out.Frames[i].Time = t
		if globalPeak == 0 {
			continue
		}

		frame(buf, samples, rate, xmin, t)
		subtractMean(buf)
		if maxAbs(buf) < opts.SilenceThreshold*globalPeak {
			continue
		}
		for j := range buf {
			buf[j] *= window[j]
		}
		r := ac.compute(buf)
		if r[0] <= 0 {
			continue
		}
		for lag := range norm {
			norm[lag] = r[lag] / r[0] / windowAC[lag]
		}

		best := bestCandidate(norm, minLag, maxLag, rate, opts)
		out.Frames[i].Frequency = best.Frequency
		out.Frames[i].Strength = best.Strength
	}
	return out, nil
}

// bestCandidate scans the local maxima of the normalised autocorrelation and
// returns the voiced candidate with the highest octave-weighted score, or an
// unvoiced frame when none passes the voicing threshold.
func bestCandidate(norm []float64, minLag, maxLag int, rate float64, opts PitchOptions) PitchFrame {
	var best PitchFrame
	bestScore := math.Inf(-1)
	for lag := max(minLag, 1); lag <= maxLag; lag++ {
		prev, cur, next := norm[lag-1], norm[lag], norm[lag+1]
		if cur <= prev || cur < next {
			continue
		}

		// Parabolic interpolation around the integer peak.
		refined := float64(lag)
		strength := cur
		if denom := prev - 2*cur + next; denom != 0 {
			delta := 0.5 * (prev - next) / denom
			refined += delta
			strength = cur - 0.25*(prev-next)*delta
		}
		if strength > 1 {
			strength = 1 / strength
		}
		if strength < opts.VoicingThreshold {
			continue
		}

		freq := rate / refined
		if freq < opts.Floor || freq > opts.Ceiling {
			continue
		}
		score := strength + opts.OctaveCost*math.Log2(freq/opts.Floor)
		if score > bestScore {
			bestScore = score
			best = PitchFrame{Frequency: freq, Strength: strength}
		}
	}
	return best
}

func globalPeak(samples []float64) float64 {
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(max(len(samples), 1))
	var peak float64
	for _, v := range samples {
		if a := math.Abs(v - mean); a > peak {
			peak = a
		}
	}
	return peak
}
