package audio

import (
	"encoding/binary"
	"fmt"
)

// PCM16ToFloat de-interleaves 16-bit signed little-endian PCM into one float64
// slice per channel, normalised to [-1.0, 1.0]. Trailing bytes that do not form
// a complete frame are ignored.
func PCM16ToFloat(pcm []byte, channels int) [][]float64 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = make([]float64, frames)
	}
	for i := range frames {
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			out[ch][i] = float64(sample) / 32768.0
		}
	}
	return out
}

// MixDown averages all channels per frame. If there is a single channel its
// slice is returned unchanged (zero allocation).
func MixDown(channels [][]float64) []float64 {
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	}
	n := len(channels[0])
	mono := make([]float64, n)
	for _, ch := range channels {
		for i := range n {
			mono[i] += ch[i]
		}
	}
	scale := 1 / float64(len(channels))
	for i := range mono {
		mono[i] *= scale
	}
	return mono
}

// Resample converts samples from srcRate to dstRate using linear
// interpolation. If the rates match or either is non-positive, the input is
// returned unchanged.
func Resample(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}
	out := make([]float64, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Resampled returns a copy of s converted to rate Hz. The receiver is not
// modified; if the rate already matches, s itself is returned.
func (s *Signal) Resampled(rate int) *Signal {
	if rate <= 0 || rate == s.SampleRate {
		return s
	}
	out := &Signal{
		Channels:   make([][]float64, len(s.Channels)),
		SampleRate: rate,
		XMin:       s.XMin,
	}
	for i, ch := range s.Channels {
		out.Channels[i] = Resample(ch, s.SampleRate, rate)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
