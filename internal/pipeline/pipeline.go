// Package pipeline runs the resolve → load → extract → render chain for one
// recording. An [Analyzer] carries every dependency explicitly (resolver,
// loader, renderer, store, metrics and logger) so nothing is shared through
// package state, and several analyses may run on one Analyzer concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxplot/internal/config"
	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/internal/journal"
	"github.com/MrWong99/voxplot/internal/media"
	"github.com/MrWong99/voxplot/internal/observe"
	"github.com/MrWong99/voxplot/internal/render"
	"github.com/MrWong99/voxplot/internal/resilience"
	"github.com/MrWong99/voxplot/internal/store"
	"github.com/MrWong99/voxplot/pkg/acoustics"
	"github.com/MrWong99/voxplot/pkg/audio"
)

// Resolver maps an input path to a decodable audio file.
// [*media.Resolver] is the production implementation.
type Resolver interface {
	Resolve(ctx context.Context, path string) (media.Resolved, error)
}

// Settings are the analysis parameters that may change while an Analyzer
// is running.
type Settings struct {
	Features feature.Options

	// Amplitude series above DownsampleThreshold points are reduced to
	// DownsampleChunks points for text output and storage.
	DownsampleThreshold int
	DownsampleChunks    int

	// Signals above MaxSampleRate are resampled to it after decoding.
	// Zero disables resampling.
	MaxSampleRate int
}

// DefaultSettings returns the standard extractor and down-sampling settings.
func DefaultSettings() Settings {
	return Settings{
		Features:            feature.DefaultOptions(),
		DownsampleThreshold: feature.DefaultDownsampleThreshold,
		DownsampleChunks:    feature.DefaultDownsampleChunks,
	}
}

// SettingsFromConfig converts the analysis section of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	a := cfg.Analysis
	s.Features.Pitch.Floor = a.PitchFloor
	s.Features.Pitch.Ceiling = a.PitchCeiling
	s.Features.Pitch.VoicingThreshold = a.VoicingThreshold
	s.Features.Pitch.SilenceThreshold = a.SilenceThreshold
	s.Features.Intensity.MinPitch = a.IntensityMinPitch
	s.DownsampleThreshold = a.DownsampleThreshold
	s.DownsampleChunks = a.DownsampleChunks
	s.MaxSampleRate = a.MaxSampleRate
	return s
}

// NewRenderer builds a plot renderer from the plot section of cfg.
func NewRenderer(cfg *config.Config) *render.PlotRenderer {
	return render.NewPlotRenderer(
		render.WithSize(cfg.Plot.Width, cfg.Plot.Height),
		render.WithDynamicRange(cfg.Plot.DynamicRange),
		render.WithIntensitySpectrogram(acoustics.DefaultSpectrogramOptions()),
	)
}

// Analyzer runs commands against recordings. Create one with [New].
type Analyzer struct {
	resolver    Resolver
	loader      *audio.Loader
	store       store.Store
	metrics     *observe.Metrics
	log         *slog.Logger
	journal     Journal
	workers     int
	profileDims int

	settings atomic.Pointer[Settings]
	renderer atomic.Pointer[render.PlotRenderer]
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithResolver replaces the default [media.Resolver].
func WithResolver(r Resolver) Option {
	return func(a *Analyzer) { a.resolver = r }
}

// WithLoader sets the audio loader.
func WithLoader(l *audio.Loader) Option {
	return func(a *Analyzer) { a.loader = l }
}

// WithRenderer sets the plot renderer.
func WithRenderer(r *render.PlotRenderer) Option {
	return func(a *Analyzer) { a.renderer.Store(r) }
}

// WithStore saves every AutoFull result to s.
func WithStore(s store.Store) Option {
	return func(a *Analyzer) { a.store = s }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithLogger sets the base logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.log = l }
}

// WithSettings sets the initial analysis settings.
func WithSettings(s Settings) Option {
	return func(a *Analyzer) { a.settings.Store(&s) }
}

// WithWorkers bounds the number of concurrent analyses in [Analyzer.RunBatch].
func WithWorkers(n int) Option {
	return func(a *Analyzer) { a.workers = n }
}

// Journal records the outcome of every [Analyzer.Analyze] call.
type Journal interface {
	Record(journal.Entry) error
}

// WithJournal records every analysis in j.
func WithJournal(j Journal) Option {
	return func(a *Analyzer) { a.journal = j }
}

// WithProfileDims sets the length of the similarity profile stored with each
// analysis. It must match the store's dimension.
func WithProfileDims(n int) Option {
	return func(a *Analyzer) { a.profileDims = n }
}

// New returns an Analyzer with defaults for every unset dependency. Without
// [WithStore] results are not persisted.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.resolver == nil {
		a.resolver = media.NewResolver(media.WithLogger(a.log))
	}
	if a.loader == nil {
		a.loader = &audio.Loader{}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.workers <= 0 {
		a.workers = 1
	}
	if a.profileDims <= 0 {
		a.profileDims = feature.DefaultProfileDims
	}
	if a.settings.Load() == nil {
		s := DefaultSettings()
		a.settings.Store(&s)
	}
	if a.renderer.Load() == nil {
		a.renderer.Store(render.NewPlotRenderer())
	}
	return a
}

// Settings returns the current analysis settings.
func (a *Analyzer) Settings() Settings { return *a.settings.Load() }

// Reconfigure swaps in new analysis and plot settings. Analyses already
// running finish with the settings they started with.
func (a *Analyzer) Reconfigure(s Settings, r *render.PlotRenderer) {
	a.settings.Store(&s)
	if r != nil {
		a.renderer.Store(r)
	}
}

// Store returns the configured store or nil.
func (a *Analyzer) Store() store.Store { return a.store }

// Run executes cmd against input. Tables and summaries go to stdout; for
// AutoFull every written path is printed followed by a "----------" line.
func (a *Analyzer) Run(ctx context.Context, cmd Command, input string, stdout io.Writer) (err error) {
	if err := cmd.Validate(); err != nil {
		return err
	}
	defer func() { a.metrics.RecordAnalysis(ctx, cmd.Kind.String(), err) }()

	if cmd.Kind == AutoFull {
		res, err := a.Analyze(ctx, input)
		if err != nil {
			return err
		}
		return printArtifacts(stdout, res.Artifacts)
	}

	sig, err := a.load(ctx, input)
	if err != nil {
		return err
	}
	settings := a.Settings()
	tr, err := a.extract(ctx, sig, cmd.Feature, settings)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case GeneratePlot:
		_, err = a.renderPlot(ctx, sig, tr, cmd.Output)
		return err
	case PrintRawData:
		points := tr.Rows()
		if tr.Kind == feature.Amplitude {
			points = feature.Downsample(points, settings.DownsampleThreshold, settings.DownsampleChunks)
		}
		return a.stage(ctx, observe.StageRender, func(context.Context) error {
			return render.WriteText(stdout, points)
		})
	case PrintSummary:
		sum, err := feature.Summarize(tr)
		if err != nil {
			return err
		}
		return writeSummary(stdout, sum)
	}
	return nil
}

// load resolves and decodes input. Generated intermediate files are cleaned
// up before it returns according to the resolver's keep setting.
func (a *Analyzer) load(ctx context.Context, input string) (*audio.Signal, error) {
	var resolved media.Resolved
	err := a.stage(ctx, observe.StageResolve, func(ctx context.Context) error {
		var err error
		resolved, err = a.resolver.Resolve(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resolved.Cleanup(); err != nil {
			observe.LoggerFrom(ctx, a.log).WarnContext(ctx, "cleanup failed", "err", err)
		}
	}()

	var sig *audio.Signal
	err = a.stage(ctx, observe.StageLoad, func(ctx context.Context) error {
		var err error
		sig, err = a.loader.Load(resolved.Path)
		return err
	})
	if err != nil {
		return nil, err
	}
	if limit := a.Settings().MaxSampleRate; limit > 0 && sig.SampleRate > limit {
		sig = sig.Resampled(limit)
	}
	a.metrics.AudioDuration.Record(ctx, sig.Duration())
	observe.LoggerFrom(ctx, a.log).DebugContext(ctx, "audio loaded", "input", input, "path", resolved.Path, "signal", sig.String())
	return sig, nil
}

func (a *Analyzer) extract(ctx context.Context, sig *audio.Signal, kind feature.Kind, s Settings) (*feature.Track, error) {
	var tr *feature.Track
	err := a.stage(ctx, observe.StageExtract, func(context.Context) error {
		var err error
		tr, err = feature.Extract(sig, kind, s.Features)
		return err
	})
	return tr, err
}

func (a *Analyzer) renderPlot(ctx context.Context, sig *audio.Signal, tr *feature.Track, path string) (render.Artifact, error) {
	var art render.Artifact
	err := a.stage(ctx, observe.StageRender, func(context.Context) error {
		var err error
		art, err = a.renderer.Load().RenderFile(path, sig, tr)
		return err
	})
	if err != nil {
		return render.Artifact{}, err
	}
	a.metrics.RecordArtifact(ctx, string(art.Kind), string(art.Format))
	return art, nil
}

// stage runs fn inside a span named after stage and records its duration
// and failure class.
func (a *Analyzer) stage(ctx context.Context, stage observe.Stage, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "voxplot."+string(stage))
	start := time.Now()
	err := fn(ctx)
	a.metrics.RecordStage(ctx, stage, start, err)
	if err != nil {
		a.metrics.RecordError(ctx, stage, ErrorClass(err))
	}
	observe.EndSpan(span, err)
	return err
}

// ErrorClass returns a short category for err used in metrics and exit
// codes: "usage", "media", "decode", "io", "unavailable" or "other".
func ErrorClass(err error) string {
	var (
		mediaErr  *media.MediaError
		decodeErr *audio.DecodeError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUsage):
		return "usage"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "unavailable"
	case errors.As(err, &mediaErr):
		return "media"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.Is(err, render.ErrWrite):
		return "io"
	}
	return "other"
}

func printArtifacts(w io.Writer, arts []render.Artifact) error {
	for _, art := range arts {
		if _, err := fmt.Fprintf(w, "%s\n----------\n", art.Path); err != nil {
			return &render.IOError{Path: "<stdout>", Op: "write", Err: err}
		}
	}
	return nil
}

func writeSummary(w io.Writer, s feature.Summary) error {
	_, err := fmt.Fprintf(w, "frames %d\nvoiced %d\nmin %.2f\nmax %.2f\nmean %.2f\nstddev %.2f\ncv %.4f\n",
		s.Frames, s.Voiced, s.Min, s.Max, s.Mean, s.StdDev, s.CV)
	if err != nil {
		return &render.IOError{Path: "<stdout>", Op: "write", Err: err}
	}
	return nil
}
