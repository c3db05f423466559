// Command voxplot plots and prints the amplitude, intensity and pitch of
// audio and video recordings, runs batches of them, and serves the same
// analyses over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxplot/internal/app"
	"github.com/MrWong99/voxplot/internal/config"
	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/internal/media"
	"github.com/MrWong99/voxplot/internal/pipeline"
	"github.com/MrWong99/voxplot/internal/render"
	"github.com/MrWong99/voxplot/pkg/audio"
)

// defaultConfigPath is read when present and -config is not given.
const defaultConfigPath = "voxplot.yaml"

// Exit codes.
const (
	exitOK     = 0
	exitOther  = 1
	exitUsage  = 2
	exitMedia  = 3
	exitDecode = 4
	exitIO     = 5
)

const usage = `Usage:
  voxplot [flags] <video_or_audio_path>
  voxplot [flags] <audio_path> generate_plot_file <amplitude|intensity|pitch> <output_path>
  voxplot [flags] <audio_path> print_raw_data <amplitude|intensity|pitch>
  voxplot [flags] <audio_path> print_summary <intensity|pitch>
  voxplot [flags] batch <path>...
  voxplot [flags] serve

With only a path, voxplot writes <path>_amplitude.png, <path>_intensity.png,
<path>_pitch.png and matching .csv tables, printing each path.

Flags:
  -config <path>      YAML configuration file (default: ./voxplot.yaml if present)
  -log-level <level>  debug, info, warn or error (overrides the config)
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// invocation is a parsed command line.
type invocation struct {
	mode   string // "run", "batch" or "serve"
	input  string
	inputs []string
	cmd    pipeline.Command
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("voxplot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to the YAML configuration file")
	logLevel := fs.String("log-level", "", "log level override")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stdout, usage)
			return exitOK
		}
		fmt.Fprintf(stderr, "voxplot: %v\n\n%s", err, usage)
		return exitUsage
	}

	inv, help, err := parseArgs(fs.Args())
	if help {
		fmt.Fprint(stdout, usage)
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "voxplot: %v\n\n%s", err, usage)
		return exitUsage
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "voxplot: %v\n", err)
		return exitOther
	}
	if *logLevel != "" {
		if !config.LogLevel(*logLevel).IsValid() {
			fmt.Fprintf(stderr, "voxplot: invalid -log-level %q; valid values: debug, info, warn, error\n", *logLevel)
			return exitUsage
		}
		cfg.LogLevel = config.LogLevel(*logLevel)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLogger(logger, level)}
	if inv.mode == "serve" {
		opts = append(opts, app.WithInMemoryStore())
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		logger.Error("failed to initialise application", "err", err)
		return exitOther
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", "err", err)
		}
	}()

	switch inv.mode {
	case "serve":
		err = serve(ctx, application, *configPath, logger)
	case "batch":
		err = application.RunBatch(ctx, inv.inputs, stdout)
	default:
		err = application.Run(ctx, inv.cmd, inv.input, stdout)
	}

	if inv.mode != "serve" {
		if derr := application.DumpMetrics(); derr != nil {
			logger.Warn("metrics textfile", "err", derr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "voxplot: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// parseArgs maps positional arguments to an invocation. help is true for
// an empty command line and the help forms.
func parseArgs(args []string) (inv invocation, help bool, err error) {
	if len(args) == 0 {
		return inv, true, nil
	}
	switch args[0] {
	case "help", "-h", "--help":
		return inv, true, nil
	case "serve":
		if len(args) > 1 {
			return inv, false, pipeline.Usagef("serve takes no arguments")
		}
		return invocation{mode: "serve"}, false, nil
	case "batch":
		if len(args) < 2 {
			return inv, false, pipeline.Usagef("batch needs at least one path")
		}
		return invocation{mode: "batch", inputs: args[1:]}, false, nil
	}

	inv = invocation{mode: "run", input: args[0]}
	if len(args) == 1 {
		inv.cmd = pipeline.Command{Kind: pipeline.AutoFull}
		return inv, false, nil
	}

	kind, err := pipeline.ParseCommandKind(args[1])
	if err != nil {
		return inv, false, err
	}
	want := 3
	if kind == pipeline.GeneratePlot {
		want = 4
	}
	if len(args) < 3 {
		return inv, false, pipeline.Usagef("%s: missing feature (amplitude, intensity or pitch)", kind)
	}
	if len(args) != want {
		if len(args) < want {
			return inv, false, pipeline.Usagef("%s: missing output path", kind)
		}
		return inv, false, pipeline.Usagef("%s: unexpected argument %q", kind, args[want])
	}
	feat, err := feature.ParseKind(args[2])
	if err != nil {
		return inv, false, &pipeline.UsageError{Msg: kind.String(), Err: err}
	}
	inv.cmd = pipeline.Command{Kind: kind, Feature: feat}
	if kind == pipeline.GeneratePlot {
		inv.cmd.Output = args[3]
	}
	return inv, false, inv.cmd.Validate()
}

// loadConfig reads path, or ./voxplot.yaml when path is empty and the file
// exists, or falls back to defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadOptional(defaultConfigPath)
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found", path)
	}
	return cfg, err
}

// serve runs the HTTP API and, when a config file is in use, hot-reloads it.
func serve(ctx context.Context, a *app.App, configPath string, log *slog.Logger) error {
	if configPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			configPath = defaultConfigPath
		}
	}
	if configPath != "" {
		w, err := config.NewWatcher(configPath, a.Reconfigure, config.WithWatcherLogger(log))
		if err != nil {
			return err
		}
		defer w.Stop()
	}
	return a.Serve(ctx)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var (
		mediaErr  *media.MediaError
		decodeErr *audio.DecodeError
	)
	switch {
	case errors.Is(err, pipeline.ErrUsage):
		return exitUsage
	case errors.As(err, &mediaErr):
		return exitMedia
	case errors.As(err, &decodeErr):
		return exitDecode
	case errors.Is(err, render.ErrWrite):
		return exitIO
	}
	return exitOther
}

func newLogger(w io.Writer, level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(app.Level(level))
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), lvl
}
