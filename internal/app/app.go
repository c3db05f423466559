// Package app wires the voxplot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates telemetry, the
// analysis store, the media resolver and the analyzer from the config; Run,
// RunBatch and Serve execute commands; Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithStore,
// WithResolver, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxplot/internal/config"
	"github.com/MrWong99/voxplot/internal/health"
	"github.com/MrWong99/voxplot/internal/journal"
	"github.com/MrWong99/voxplot/internal/media"
	"github.com/MrWong99/voxplot/internal/observe"
	"github.com/MrWong99/voxplot/internal/pipeline"
	"github.com/MrWong99/voxplot/internal/server"
	"github.com/MrWong99/voxplot/internal/store"
	"github.com/MrWong99/voxplot/internal/store/postgres"
)

// Version is reported in telemetry resources.
var Version = "dev"

// App owns all subsystem lifetimes.
type App struct {
	cfg   *config.Config
	log   *slog.Logger
	level *slog.LevelVar

	provider *observe.Provider
	metrics  *observe.Metrics
	store    store.Store
	resolver *media.Resolver
	analyzer *pipeline.Analyzer

	// memStore selects an in-memory store when no DSN is configured.
	memStore bool

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithInMemoryStore keeps analyses in memory when no PostgreSQL DSN is
// configured. Without it, analyses are only persisted when a DSN is set.
func WithInMemoryStore() Option {
	return func(a *App) { a.memStore = true }
}

// WithResolver injects a media resolver instead of creating one from config.
func WithResolver(r *media.Resolver) Option {
	return func(a *App) { a.resolver = r }
}

// WithLogger sets the logger and the level variable that hot reload adjusts.
// level may be nil when the level never changes.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.log = l
		a.level = level
	}
}

// WithProvider injects an initialised telemetry provider. The App does not
// shut it down.
func WithProvider(p *observe.Provider) Option {
	return func(a *App) { a.provider = p }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Media resolver ────────────────────────────────────────────────
	if a.resolver == nil {
		a.resolver = media.NewResolver(
			media.WithToolPath(media.ToolFFmpeg, cfg.Tools.FFmpeg),
			media.WithToolPath(media.ToolFFprobe, cfg.Tools.FFprobe),
			media.WithToolPath(media.ToolSox, cfg.Tools.Sox),
			media.WithKeepExtracted(cfg.Tools.Keep()),
			media.WithLogger(a.log),
		)
	}

	// ── 4. Analyzer ──────────────────────────────────────────────────────
	aopts := []pipeline.Option{
		pipeline.WithResolver(a.resolver),
		pipeline.WithRenderer(pipeline.NewRenderer(cfg)),
		pipeline.WithSettings(pipeline.SettingsFromConfig(cfg)),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
		pipeline.WithWorkers(cfg.Batch.Workers),
		pipeline.WithProfileDims(cfg.Store.ProfileDims),
	}
	if a.store != nil {
		aopts = append(aopts, pipeline.WithStore(a.store))
	}
	if cfg.Batch.Journal != "" {
		aopts = append(aopts, pipeline.WithJournal(journal.NewFileJournal(cfg.Batch.Journal)))
	}
	a.analyzer = pipeline.New(aopts...)

	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.provider == nil {
		p, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    a.cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
		})
		if err != nil {
			return err
		}
		a.provider = p
		a.closers = append(a.closers, p.Shutdown)
	}
	m, err := observe.NewMetrics(a.provider.MeterProvider)
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch {
	case a.store != nil:
		return nil
	case a.cfg.Store.PostgresDSN != "":
		st, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN, a.cfg.Store.ProfileDims)
		if err != nil {
			return err
		}
		a.store = st
	case a.memStore:
		a.store = store.NewMemStore(a.cfg.Store.ProfileDims)
	default:
		return nil
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.store.Close()
		return nil
	})
	return nil
}

// Analyzer returns the configured analyzer.
func (a *App) Analyzer() *pipeline.Analyzer { return a.analyzer }

// Store returns the configured store, or nil when results are not persisted.
func (a *App) Store() store.Store { return a.store }

// Run executes one command. See [pipeline.Analyzer.Run].
func (a *App) Run(ctx context.Context, cmd pipeline.Command, input string, stdout io.Writer) error {
	return a.analyzer.Run(ctx, cmd, input, stdout)
}

// RunBatch runs AutoFull on every input. See [pipeline.Analyzer.RunBatch].
func (a *App) RunBatch(ctx context.Context, inputs []string, stdout io.Writer) error {
	return a.analyzer.RunBatch(ctx, inputs, stdout)
}

// Reconfigure applies a hot-reloaded config. Log level and analysis
// settings take effect immediately; other changes are logged and wait for a
// restart. It has the signature expected by [config.NewWatcher].
func (a *App) Reconfigure(_, next *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(Level(diff.NewLogLevel))
		a.log.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.AnalysisChanged {
		a.analyzer.Reconfigure(pipeline.SettingsFromConfig(next), pipeline.NewRenderer(next))
		a.log.Info("analysis settings reloaded")
	}
	if len(diff.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}
}

// Level converts a config log level to a [slog.Level].
func Level(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Checkers returns the readiness checks for serve: the store when present,
// ffmpeg and ffprobe, and sox as an optional check.
func (a *App) Checkers() []health.Checker {
	var cs []health.Checker
	if a.store != nil {
		cs = append(cs, health.Checker{Name: "store", Check: a.store.Ping})
	}
	tool := func(t media.Tool) func(context.Context) error {
		return func(ctx context.Context) error { return a.resolver.CheckTool(ctx, t) }
	}
	cs = append(cs,
		health.Checker{Name: string(media.ToolFFmpeg), Check: tool(media.ToolFFmpeg)},
		health.Checker{Name: string(media.ToolFFprobe), Check: tool(media.ToolFFprobe)},
		health.Checker{Name: string(media.ToolSox), Check: tool(media.ToolSox), Optional: true},
	)
	return cs
}

// Handler returns the HTTP API handler for serve.
func (a *App) Handler() http.Handler {
	srv := server.New(a.analyzer, a.store,
		server.WithHealth(health.New(a.Checkers()...)),
		server.WithMetricsHandler(a.provider.Handler()),
		server.WithMetrics(a.metrics),
		server.WithLogger(a.log),
		server.WithUploadDir(a.cfg.Server.UploadDir),
		server.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
	)
	return srv.Handler()
}

// Serve listens on the configured address until ctx is cancelled, then
// drains in-flight requests within the configured shutdown timeout.
func (a *App) Serve(ctx context.Context) error {
	if a.store == nil {
		return errors.New("app: serve needs a store; use WithInMemoryStore or set store.postgres_dsn")
	}
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Requests keep ctx values but not its cancellation; Shutdown
		// drains them instead.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()
	a.log.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// DumpMetrics writes the metrics of this run to the configured
// node_exporter textfile. It is a no-op when none is configured.
func (a *App) DumpMetrics() error {
	path := a.cfg.Telemetry.PrometheusTextfile
	if path == "" {
		return nil
	}
	return a.provider.WriteTextfile(path)
}

// Shutdown releases all resources in order. It is safe to call multiple
// times. If ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Debug("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
