package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/pkg/acoustics"
	"github.com/MrWong99/voxplot/pkg/audio"
)

const (
	// DefaultWidth and DefaultHeight are the image size in inches.
	DefaultWidth  = 6.4
	DefaultHeight = 4.8

	// DefaultDynamicRange is the spectrogram range below its peak, in dB.
	DefaultDynamicRange = 70.0

	// DefaultPreEmphasis is the pre-emphasis corner of the pitch background, in Hz.
	DefaultPreEmphasis = 50.0
)

var foreground = color.RGBA{R: 31, G: 119, B: 180, A: 255}

// Option configures a [PlotRenderer].
type Option func(*PlotRenderer)

// WithSize sets the image size in inches.
func WithSize(width, height float64) Option {
	return func(r *PlotRenderer) {
		if width > 0 && height > 0 {
			r.width, r.height = vg.Length(width)*vg.Inch, vg.Length(height)*vg.Inch
		}
	}
}

// WithDynamicRange sets how far below the spectrogram peak the colour scale
// bottoms out, in dB.
func WithDynamicRange(db float64) Option {
	return func(r *PlotRenderer) {
		if db > 0 {
			r.dynamicRange = db
		}
	}
}

// WithIntensitySpectrogram overrides the background of intensity plots.
func WithIntensitySpectrogram(opts acoustics.SpectrogramOptions) Option {
	return func(r *PlotRenderer) { r.intensitySpec = opts }
}

// WithPitchSpectrogram overrides the background of pitch plots.
func WithPitchSpectrogram(opts acoustics.SpectrogramOptions) Option {
	return func(r *PlotRenderer) { r.pitchSpec = opts }
}

// PlotRenderer draws feature tracks as PNG images.
type PlotRenderer struct {
	width, height vg.Length
	dynamicRange  float64
	intensitySpec acoustics.SpectrogramOptions
	pitchSpec     acoustics.SpectrogramOptions
}

// NewPlotRenderer returns a renderer with the standard image size and
// spectrogram settings.
func NewPlotRenderer(opts ...Option) *PlotRenderer {
	r := &PlotRenderer{
		width:         DefaultWidth * vg.Inch,
		height:        DefaultHeight * vg.Inch,
		dynamicRange:  DefaultDynamicRange,
		intensitySpec: acoustics.DefaultSpectrogramOptions(),
		pitchSpec: acoustics.SpectrogramOptions{
			WindowLength: 0.03,
			MaxFrequency: 8000,
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Plot builds the figure for tr. The signal provides the waveform of
// amplitude plots and the spectrogram background of the others.
func (r *PlotRenderer) Plot(sig *audio.Signal, tr *feature.Track) (*plot.Plot, error) {
	switch tr.Kind {
	case feature.Amplitude:
		return r.amplitude(sig)
	case feature.Intensity:
		return r.intensity(sig, tr)
	case feature.Pitch:
		return r.pitch(sig, tr)
	}
	return nil, fmt.Errorf("render: plot %q: %w", tr.Kind, ErrNotImplemented)
}

// Render draws tr and encodes it as PNG to w.
func (r *PlotRenderer) Render(w io.Writer, sig *audio.Signal, tr *feature.Track) error {
	p, err := r.Plot(sig, tr)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(r.width, r.height, "png")
	if err != nil {
		return fmt.Errorf("render: encode %s: %w", tr.Kind, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return &IOError{Op: "write png", Err: err}
	}
	return nil
}

// RenderFile writes the PNG for tr to path. The image is PNG whatever the
// extension of path.
func (r *PlotRenderer) RenderFile(path string, sig *audio.Signal, tr *feature.Track) (a Artifact, err error) {
	f, err := os.Create(path)
	if err != nil {
		return a, &IOError{Path: path, Op: "create", Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &IOError{Path: path, Op: "close", Err: cerr}
		}
	}()
	if err := r.Render(f, sig, tr); err != nil {
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			ioErr.Path = path
		}
		return a, err
	}
	return Artifact{Kind: tr.Kind, Format: FormatPNG, Path: path}, nil
}

func (r *PlotRenderer) amplitude(sig *audio.Signal) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "time [s]"
	p.Y.Label.Text = "amplitude"

	for c, ch := range sig.Channels {
		xys := make(plotter.XYs, len(ch))
		for i, v := range ch {
			xys[i] = plotter.XY{X: sig.X(i), Y: v}
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("render: amplitude channel %d: %w", c+1, err)
		}
		l.LineStyle.Color = plotutil.Color(c)
		p.Add(l)
		if len(sig.Channels) > 1 {
			p.Legend.Add(fmt.Sprintf("channel %d", c+1), l)
		}
	}
	p.X.Min, p.X.Max = sig.XMin, sig.XMax()
	return p, nil
}

func (r *PlotRenderer) intensity(sig *audio.Signal, tr *feature.Track) (*plot.Plot, error) {
	top := 10.0
	for _, pt := range tr.Voiced() {
		top = max(top, math.Ceil(pt.Y/10)*10)
	}

	p := plot.New()
	p.X.Label.Text = "time [s]"
	p.Y.Label.Text = "intensity [dB]"

	spec, err := acoustics.NewSpectrogram(sig.Mono(), float64(sig.SampleRate), sig.XMin, r.intensitySpec)
	if err := r.addBackground(p, spec, err, top); err != nil {
		return nil, err
	}

	for _, run := range voicedRuns(tr.Points) {
		under, err := plotter.NewLine(run)
		if err != nil {
			return nil, fmt.Errorf("render: intensity: %w", err)
		}
		under.LineStyle.Color = color.White
		under.LineStyle.Width = vg.Points(3)
		over, err := plotter.NewLine(run)
		if err != nil {
			return nil, fmt.Errorf("render: intensity: %w", err)
		}
		over.LineStyle.Color = foreground
		over.LineStyle.Width = vg.Points(1)
		p.Add(under, over)
	}

	p.X.Min, p.X.Max = tr.XMin, tr.XMax
	p.Y.Min, p.Y.Max = 0, top
	return p, nil
}

func (r *PlotRenderer) pitch(sig *audio.Signal, tr *feature.Track) (*plot.Plot, error) {
	ceiling := tr.Ceiling
	if ceiling <= 0 {
		ceiling = acoustics.DefaultPitchOptions().Ceiling
	}

	p := plot.New()
	p.X.Label.Text = "time [s]"
	p.Y.Label.Text = "fundamental frequency [Hz]"

	mono := acoustics.PreEmphasize(sig.Mono(), float64(sig.SampleRate), DefaultPreEmphasis)
	spec, err := acoustics.NewSpectrogram(mono, float64(sig.SampleRate), sig.XMin, r.pitchSpec)
	if err := r.addBackground(p, spec, err, ceiling); err != nil {
		return nil, err
	}

	voiced := tr.Voiced()
	if len(voiced) > 0 {
		xys := make(plotter.XYs, len(voiced))
		for i, pt := range voiced {
			xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		under, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("render: pitch: %w", err)
		}
		under.GlyphStyle = draw.GlyphStyle{Color: color.White, Radius: vg.Points(2.5), Shape: draw.CircleGlyph{}}
		over, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("render: pitch: %w", err)
		}
		over.GlyphStyle = draw.GlyphStyle{Color: foreground, Radius: vg.Points(1), Shape: draw.CircleGlyph{}}
		p.Add(under, over)
	}

	p.X.Min, p.X.Max = tr.XMin, tr.XMax
	p.Y.Min, p.Y.Max = 0, ceiling
	return p, nil
}

// addBackground draws spec as a heat map stretched over [0, top] on the
// y axis and notes its real frequency range in the legend. A signal too
// short for one spectrogram frame is drawn without background.
func (r *PlotRenderer) addBackground(p *plot.Plot, spec *acoustics.Spectrogram, err error, top float64) error {
	if errors.Is(err, acoustics.ErrTooShort) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("render: spectrogram: %w", err)
	}
	grid := newSpectrogramGrid(spec, r.dynamicRange, top)

	cm := moreland.BlackBody()
	cm.SetMin(0)
	cm.SetMax(1)
	h := plotter.NewHeatMap(grid, cm.Palette(255))
	h.Min, h.Max = grid.floor, grid.peak
	h.Rasterized = true
	p.Add(h)
	p.Legend.Add(fmt.Sprintf("spectrogram 0-%.0f Hz", spec.YMax))
	p.Legend.Top = true
	return nil
}

// voicedRuns splits points into contiguous voiced stretches so that lines
// are never drawn across frames without a value.
func voicedRuns(points []feature.Point) []plotter.XYs {
	var runs []plotter.XYs
	var cur plotter.XYs
	for _, pt := range points {
		if !pt.Voiced {
			if len(cur) > 0 {
				runs = append(runs, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: pt.X, Y: pt.Y})
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}
