package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/internal/journal"
	"github.com/MrWong99/voxplot/internal/observe"
	"github.com/MrWong99/voxplot/internal/render"
	"github.com/MrWong99/voxplot/internal/store"
	"github.com/MrWong99/voxplot/pkg/audio"
)

// ArtifactPath returns where AutoFull writes the output of kind for input:
// "<input>_<kind>.png" for plots and "<input>_<kind>.csv" for tables.
func ArtifactPath(input string, kind feature.Kind, format render.Format) string {
	ext := "png"
	if format == render.FormatText {
		ext = "csv"
	}
	return fmt.Sprintf("%s_%s.%s", input, kind, ext)
}

// Analyze runs the full pipeline on input: every feature is extracted,
// plotted and written as a text table next to input. The result is saved
// when the Analyzer has a store.
//
// Analyze stops at the first failure; artifacts already written stay on disk.
func (a *Analyzer) Analyze(ctx context.Context, input string) (*store.Analysis, error) {
	a.metrics.ActiveAnalyses.Add(ctx, 1)
	defer a.metrics.ActiveAnalyses.Add(ctx, -1)

	ctx, span := observe.StartSpan(ctx, "voxplot.analyze")
	start := time.Now()
	res, err := a.analyze(ctx, input)
	observe.EndSpan(span, err)
	a.record(ctx, input, res, err, time.Since(start))
	return res, err
}

func (a *Analyzer) record(ctx context.Context, input string, res *store.Analysis, err error, took time.Duration) {
	if a.journal == nil {
		return
	}
	e := journal.Entry{Input: input, Status: "ok", Seconds: took.Seconds()}
	if err != nil {
		e.Status = "error"
		e.Class = ErrorClass(err)
		e.Error = err.Error()
	} else {
		e.ID = res.ID
		e.Artifacts = len(res.Artifacts)
	}
	if err := a.journal.Record(e); err != nil {
		observe.LoggerFrom(ctx, a.log).WarnContext(ctx, "journal write failed", "input", input, "err", err)
	}
}

func (a *Analyzer) analyze(ctx context.Context, input string) (*store.Analysis, error) {
	log := observe.LoggerFrom(ctx, a.log)
	sig, err := a.load(ctx, input)
	if err != nil {
		return nil, err
	}
	settings := a.Settings()

	res := &store.Analysis{
		Source:     input,
		Duration:   sig.Duration(),
		SampleRate: sig.SampleRate,
		Channels:   sig.NumChannels(),
		Series:     make(map[feature.Kind][]store.Sample, len(feature.Kinds)),
		Summaries:  make(map[feature.Kind]feature.Summary, 2),
	}
	tracks := make(map[feature.Kind]*feature.Track, len(feature.Kinds))
	for _, kind := range feature.Kinds {
		tr, err := a.extract(ctx, sig, kind, settings)
		if err != nil {
			return nil, err
		}
		tracks[kind] = tr

		points := tr.Rows()
		if kind == feature.Amplitude {
			points = feature.Downsample(points, settings.DownsampleThreshold, settings.DownsampleChunks)
		}
		arts, err := a.writeArtifacts(ctx, sig, tr, points, input)
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, arts...)
		res.Series[kind] = store.SeriesFrom(points)

		if kind == feature.Amplitude {
			continue
		}
		sum, err := feature.Summarize(tr)
		switch {
		case err == nil:
			res.Summaries[kind] = sum
		case errors.Is(err, feature.ErrNoVoicedFrames), errors.Is(err, feature.ErrZeroMean):
			log.DebugContext(ctx, "no summary", "kind", kind, "err", err)
		default:
			return nil, err
		}
	}
	res.Profile = feature.Profile(tracks[feature.Intensity], tracks[feature.Pitch], a.profileDims)

	if a.store != nil {
		err := a.stage(ctx, observe.StageStore, func(ctx context.Context) error {
			return a.store.Save(ctx, res)
		})
		if err != nil {
			return nil, err
		}
	}
	log.InfoContext(ctx, "analysis complete", "input", input, "id", res.ID,
		"duration", res.Duration, "artifacts", len(res.Artifacts))
	return res, nil
}

func (a *Analyzer) writeArtifacts(ctx context.Context, sig *audio.Signal, tr *feature.Track, points []feature.Point, input string) ([]render.Artifact, error) {
	plotArt, err := a.renderPlot(ctx, sig, tr, ArtifactPath(input, tr.Kind, render.FormatPNG))
	if err != nil {
		return nil, err
	}
	textArt := render.Artifact{Kind: tr.Kind, Format: render.FormatText, Path: ArtifactPath(input, tr.Kind, render.FormatText)}
	err = a.stage(ctx, observe.StageRender, func(context.Context) error {
		return render.WriteTextFile(textArt.Path, points)
	})
	if err != nil {
		return nil, err
	}
	a.metrics.RecordArtifact(ctx, string(textArt.Kind), string(textArt.Format))
	return []render.Artifact{plotArt, textArt}, nil
}

// RunBatch runs AutoFull for every input with at most the configured number
// of workers. The artifact listing of each input is printed to stdout as a
// block once that input finishes. A failing input does not stop the others;
// all failures are returned joined, each wrapped with its input path.
func (a *Analyzer) RunBatch(ctx context.Context, inputs []string, stdout io.Writer) error {
	if len(inputs) == 0 {
		return Usagef("batch: no inputs")
	}
	var (
		mu   sync.Mutex
		errs = make([]error, len(inputs))
		g    errgroup.Group
	)
	g.SetLimit(a.workers)
	for i, input := range inputs {
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = fmt.Errorf("%s: %w", input, ctx.Err())
				return nil
			}
			res, err := a.Analyze(ctx, input)
			a.metrics.RecordAnalysis(ctx, "batch", err)
			if err != nil {
				observe.LoggerFrom(ctx, a.log).ErrorContext(ctx, "analysis failed", "input", input, "err", err)
				errs[i] = fmt.Errorf("%s: %w", input, err)
				return nil
			}

			var buf bytes.Buffer
			_ = printArtifacts(&buf, res.Artifacts)
			mu.Lock()
			defer mu.Unlock()
			if _, err := stdout.Write(buf.Bytes()); err != nil {
				errs[i] = &render.IOError{Path: "<stdout>", Op: "write", Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
