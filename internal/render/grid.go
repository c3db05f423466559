package render

import (
	"math"

	"github.com/MrWong99/voxplot/pkg/acoustics"
)

// spectrogramGrid adapts a spectrogram to plotter.GridXYZ. Power is shown
// in dB, clamped to the dynamic range below the peak, and the frequency
// axis is stretched so that the highest bin lands on top.
type spectrogramGrid struct {
	spec   *acoustics.Spectrogram
	db     [][]float64
	yScale float64

	floor, peak float64
}

func newSpectrogramGrid(spec *acoustics.Spectrogram, dynamicRange, top float64) *spectrogramGrid {
	g := &spectrogramGrid{spec: spec, yScale: 1}
	if spec.YMax > 0 {
		g.yScale = top / spec.YMax
	}

	g.peak = 0
	if pp := spec.PeakPower(); pp > 0 {
		g.peak = 10 * math.Log10(pp)
	}
	g.floor = g.peak - dynamicRange

	g.db = make([][]float64, len(spec.Power))
	for i, row := range spec.Power {
		out := make([]float64, len(row))
		for j, pw := range row {
			v := g.floor
			if pw > 0 {
				v = max(10*math.Log10(pw), g.floor)
			}
			out[j] = v
		}
		g.db[i] = out
	}
	return g
}

func (g *spectrogramGrid) Dims() (c, r int)   { return len(g.spec.Times), len(g.spec.Freqs) }
func (g *spectrogramGrid) Z(c, r int) float64 { return g.db[c][r] }
func (g *spectrogramGrid) X(c int) float64    { return g.spec.Times[c] }
func (g *spectrogramGrid) Y(r int) float64    { return g.spec.Freqs[r] * g.yScale }
