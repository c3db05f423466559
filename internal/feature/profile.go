package feature

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultProfileDims is the length of the vector returned by [Profile].
const DefaultProfileDims = 64

// Profile builds a fixed-length descriptor of a recording: the first half is
// the intensity contour and the second half the pitch contour, each
// resampled onto an even time grid over the track extent and z-normalised.
// A half with no voiced points is zero; when both are, Profile returns nil
// because the recording carries nothing to compare. Recordings with similar
// prosody end up close in Euclidean distance regardless of duration or
// loudness.
func Profile(intensity, pitch *Track, dims int) []float32 {
	if dims <= 0 {
		dims = DefaultProfileDims
	}
	half := dims / 2
	ic, pc := contour(intensity, half), contour(pitch, dims-half)
	if ic == nil && pc == nil {
		return nil
	}
	out := make([]float32, dims)
	copyNormalised(out[:half], ic)
	copyNormalised(out[half:], pc)
	return out
}

// contour linearly interpolates the voiced points of t at n evenly spaced
// times. It returns nil when t has no voiced points.
func contour(t *Track, n int) []float64 {
	if t == nil || n == 0 {
		return nil
	}
	voiced := t.Voiced()
	if len(voiced) == 0 {
		return nil
	}
	out := make([]float64, n)
	span := t.XMax - t.XMin
	j := 0
	for k := range out {
		x := t.XMin + (float64(k)+0.5)*span/float64(n)
		for j+1 < len(voiced) && voiced[j+1].X < x {
			j++
		}
		switch {
		case x <= voiced[0].X:
			out[k] = voiced[0].Y
		case j+1 >= len(voiced):
			out[k] = voiced[len(voiced)-1].Y
		default:
			a, b := voiced[j], voiced[j+1]
			frac := (x - a.X) / (b.X - a.X)
			out[k] = a.Y + frac*(b.Y-a.Y)
		}
	}
	return out
}

func copyNormalised(dst []float32, src []float64) {
	if len(src) == 0 {
		return
	}
	mean, std := stat.PopMeanStdDev(src, nil)
	if std == 0 || math.IsNaN(std) {
		return
	}
	for i, v := range src {
		dst[i] = float32((v - mean) / std)
	}
}
