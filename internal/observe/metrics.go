// Package observe provides the observability primitives shared by the CLI
// and the HTTP server: OpenTelemetry metrics and traces, trace-aware
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// by a Prometheus bridge registered on a private registry (see
// [InitProvider]), which "voxplot serve" exposes on /metrics and CLI runs
// can dump to a node_exporter textfile. Tests should use [NewMetrics] with
// their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxplot metrics.
const meterName = "github.com/MrWong99/voxplot"

// Stage names one step of an analysis.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageLoad    Stage = "load"
	StageExtract Stage = "extract"
	StageRender  Stage = "render"
	StageStore   Stage = "store"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// StageDuration tracks the latency of each analysis stage. Attributes:
	// stage, status.
	StageDuration metric.Float64Histogram

	// AudioDuration records the length of every decoded recording in seconds.
	AudioDuration metric.Float64Histogram

	// Analyses counts finished analyses. Attributes: command, status.
	Analyses metric.Int64Counter

	// Artifacts counts written outputs. Attributes: kind, format.
	Artifacts metric.Int64Counter

	// Errors counts failures. Attributes: stage, class.
	Errors metric.Int64Counter

	// ActiveAnalyses tracks analyses in flight (batch workers and uploads).
	ActiveAnalyses metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets covers anything from a cached WAV header to a long video
// extraction, in seconds.
var stageBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

var audioBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("voxplot.stage.duration",
		metric.WithDescription("Latency of one analysis stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioDuration, err = m.Float64Histogram("voxplot.audio.duration",
		metric.WithDescription("Length of analysed recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Analyses, err = m.Int64Counter("voxplot.analyses",
		metric.WithDescription("Finished analyses by command and status."),
	); err != nil {
		return nil, err
	}
	if met.Artifacts, err = m.Int64Counter("voxplot.artifacts",
		metric.WithDescription("Written artifacts by feature and format."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("voxplot.errors",
		metric.WithDescription("Failures by stage and error class."),
	); err != nil {
		return nil, err
	}

	if met.ActiveAnalyses, err = m.Int64UpDownCounter("voxplot.active_analyses",
		metric.WithDescription("Analyses currently in flight."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxplot.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the exporting provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStage records the duration of stage since start.
func (m *Metrics) RecordStage(ctx context.Context, stage Stage, start time.Time, err error) {
	m.StageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("status", status(err)),
		),
	)
}

// RecordAnalysis counts one finished command.
func (m *Metrics) RecordAnalysis(ctx context.Context, command string, err error) {
	m.Analyses.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status(err)),
		),
	)
}

// RecordArtifact counts one written output file.
func (m *Metrics) RecordArtifact(ctx context.Context, kind, format string) {
	m.Artifacts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("format", format),
		),
	)
}

// RecordError counts one failure. class is a short error category such as
// "media" or "decode".
func (m *Metrics) RecordError(ctx context.Context, stage Stage, class string) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("class", class),
		),
	)
}
