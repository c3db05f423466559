package audio

import "fmt"

// Signal is a fully decoded audio clip held in memory.
//
// Samples are stored per channel as float64 values normalised to [-1.0, 1.0].
// A Signal is never modified after it has been produced by [Load] or
// [Decode]; every analysis step derives new values from it.
type Signal struct {
	// Channels holds one sample slice per channel. All slices have the same length.
	Channels [][]float64

	// SampleRate in Hz (e.g., 44100, 16000).
	SampleRate int

	// XMin is the start time of the clip in seconds. Decoded files start at 0.
	XMin float64
}

// NumChannels returns the number of channels in the signal.
func (s *Signal) NumChannels() int { return len(s.Channels) }

// Len returns the number of samples per channel.
func (s *Signal) Len() int {
	if len(s.Channels) == 0 {
		return 0
	}
	return len(s.Channels[0])
}

// Duration returns the length of the signal in seconds.
func (s *Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.Len()) / float64(s.SampleRate)
}

// XMax returns the end time of the signal in seconds.
func (s *Signal) XMax() float64 { return s.XMin + s.Duration() }

// X returns the time of the centre of sample i in seconds.
func (s *Signal) X(i int) float64 {
	return s.XMin + (float64(i)+0.5)/float64(s.SampleRate)
}

// Mono returns the channel average of the signal. For a mono signal the
// underlying slice is returned directly and must not be modified.
func (s *Signal) Mono() []float64 {
	return MixDown(s.Channels)
}

// String returns a short description such as "44100Hz stereo, 2.50s".
func (s *Signal) String() string {
	return fmt.Sprintf("%s, %.2fs", formatString(s.SampleRate, s.NumChannels()), s.Duration())
}
