package feature

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultDownsampleThreshold is the point count above which a series is reduced.
	DefaultDownsampleThreshold = 10000

	// DefaultDownsampleChunks is the number of points a reduced series has.
	DefaultDownsampleChunks = 1000
)

// Downsample reduces points to chunks contiguous partitions when there are
// more than threshold of them. Each partition collapses to the mean of its X
// values and the mean of its voiced Y values. Partition sizes differ by at
// most one; the first len(points)%chunks partitions take the extra point.
// At or below the threshold the input is returned unchanged.
func Downsample(points []Point, threshold, chunks int) []Point {
	if threshold <= 0 {
		threshold = DefaultDownsampleThreshold
	}
	if chunks <= 0 {
		chunks = DefaultDownsampleChunks
	}
	n := len(points)
	if n <= threshold || chunks >= n {
		return points
	}

	base, rem := n/chunks, n%chunks
	out := make([]Point, 0, chunks)
	xs := make([]float64, 0, base+1)
	ys := make([]float64, 0, base+1)
	start := 0
	for c := range chunks {
		size := base
		if c < rem {
			size++
		}
		xs, ys = xs[:0], ys[:0]
		for _, p := range points[start : start+size] {
			xs = append(xs, p.X)
			if p.Voiced {
				ys = append(ys, p.Y)
			}
		}
		start += size

		reduced := Point{X: stat.Mean(xs, nil), Y: math.NaN()}
		if len(ys) > 0 {
			reduced.Y = stat.Mean(ys, nil)
			reduced.Voiced = true
		}
		out = append(out, reduced)
	}
	return out
}
