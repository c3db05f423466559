// Package media resolves a user-supplied input path into a file the audio
// loader can decode. Video containers have their first audio stream
// extracted with ffmpeg, audio formats the loader cannot read are converted
// with SoX, and everything else passes through unchanged.
//
// Generated files are written next to the input as "<input>.wav".
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/voxplot/internal/resilience"
)

var (
	// ErrNotFound means the input path does not exist or is not a regular file.
	ErrNotFound = errors.New("input not found")

	// ErrNoAudioStream means a container has no audio track.
	ErrNoAudioStream = errors.New("no audio stream")

	// ErrExtract means an external tool failed to produce a WAV file.
	ErrExtract = errors.New("audio extraction failed")
)

// MediaError reports an input that could not be resolved to decodable audio.
type MediaError struct {
	Path string
	Err  error
}

func (e *MediaError) Error() string { return fmt.Sprintf("media: %s: %v", e.Path, e.Err) }

func (e *MediaError) Unwrap() error { return e.Err }

// VideoExtensions lists the container extensions whose audio is extracted
// with ffmpeg.
var VideoExtensions = []string{".mp4", ".mkv", ".mov", ".webm", ".avi", ".m4v", ".flv", ".3gp"}

// soxTypes maps extensions the loader cannot decode to SoX file types.
var soxTypes = map[string]string{
	".aiff": "aiff",
	".aif":  "aiff",
	".au":   "au",
	".amr":  "amr-nb",
	".gsm":  "gsm",
}

// IsVideo reports whether path has a video container extension.
func IsVideo(path string) bool {
	return slices.Contains(VideoExtensions, strings.ToLower(filepath.Ext(path)))
}

// ExtractedPath is where the audio of input is written.
func ExtractedPath(input string) string { return input + ".wav" }

// Resolved is the outcome of [Resolver.Resolve].
type Resolved struct {
	// Path is the file to decode.
	Path string

	// Source is the path the caller asked for.
	Source string

	// Generated is true when Path was written by the resolver.
	Generated bool

	// Probe is set for video inputs.
	Probe *Probe

	keep bool
}

// Cleanup removes a generated file unless the resolver keeps extracted
// audio. It is a no-op for pass-through inputs.
func (r Resolved) Cleanup() error {
	if !r.Generated || r.keep {
		return nil
	}
	if err := os.Remove(r.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("media: cleanup %s: %w", r.Path, err)
	}
	return nil
}

// Tool names one of the external binaries.
type Tool string

const (
	ToolFFmpeg  Tool = "ffmpeg"
	ToolFFprobe Tool = "ffprobe"
	ToolSox     Tool = "sox"
)

// Option configures a [Resolver].
type Option func(*Resolver)

// WithToolPath overrides the binary used for tool.
func WithToolPath(tool Tool, path string) Option {
	return func(r *Resolver) {
		if path != "" {
			r.paths[tool] = path
		}
	}
}

// WithKeepExtracted controls whether [Resolved.Cleanup] deletes generated
// files. The default keeps them.
func WithKeepExtracted(keep bool) Option {
	return func(r *Resolver) { r.keep = keep }
}

// WithRunner replaces the process runner used for ffmpeg and ffprobe.
func WithRunner(run Runner) Option {
	return func(r *Resolver) { r.run = run }
}

// WithBreakers shares a breaker group between resolvers.
func WithBreakers(g *resilience.Group) Option {
	return func(r *Resolver) { r.breakers = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver turns input paths into decodable audio files.
type Resolver struct {
	paths    map[Tool]string
	keep     bool
	run      Runner
	breakers *resilience.Group
	log      *slog.Logger
}

// NewResolver returns a resolver that finds ffmpeg, ffprobe and sox on PATH.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		paths: map[Tool]string{
			ToolFFmpeg:  string(ToolFFmpeg),
			ToolFFprobe: string(ToolFFprobe),
			ToolSox:     string(ToolSox),
		},
		keep: true,
		run:  ExecRunner{},
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.breakers == nil {
		r.breakers = resilience.NewGroup(resilience.CircuitBreakerConfig{
			MaxFailures: 3,
			Cooldown:    30 * time.Second,
			Trips:       ToolUnavailable,
			Logger:      r.log,
		})
	}
	return r
}

// Breakers returns the breaker group guarding the external tools.
func (r *Resolver) Breakers() *resilience.Group { return r.breakers }

// ToolUnavailable reports whether err means the binary itself could not
// run, as opposed to rejecting its input.
func ToolUnavailable(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist)
}

// Resolve maps path to a file the audio loader can decode.
func (r *Resolver) Resolve(ctx context.Context, path string) (Resolved, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Resolved{}, &MediaError{Path: path, Err: ErrNotFound}
	case err != nil:
		return Resolved{}, &MediaError{Path: path, Err: err}
	case !info.Mode().IsRegular():
		return Resolved{}, &MediaError{Path: path, Err: fmt.Errorf("%w: not a regular file", ErrNotFound)}
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case IsVideo(path):
		return r.extractVideo(ctx, path)
	case soxTypes[ext] != "":
		return r.convert(ctx, path, soxTypes[ext])
	}
	return Resolved{Path: path, Source: path}, nil
}

func (r *Resolver) extractVideo(ctx context.Context, path string) (Resolved, error) {
	probe, err := r.Probe(ctx, path)
	if err != nil {
		return Resolved{}, err
	}
	if probe.AudioStreams == 0 {
		return Resolved{}, &MediaError{Path: path, Err: ErrNoAudioStream}
	}

	out := ExtractedPath(path)
	args := []string{"-hide_banner", "-nostats", "-y", "-i", path, "-vn", "-acodec", "pcm_s16le", out}
	if _, err := r.exec(ctx, ToolFFmpeg, args...); err != nil {
		return Resolved{}, &MediaError{Path: path, Err: fmt.Errorf("%w: %w", ErrExtract, err)}
	}
	r.log.DebugContext(ctx, "extracted audio track", "input", path, "output", out,
		"sample_rate", probe.SampleRate, "channels", probe.Channels)
	return Resolved{Path: out, Source: path, Generated: true, Probe: &probe, keep: r.keep}, nil
}

// exec runs tool through its breaker.
func (r *Resolver) exec(ctx context.Context, tool Tool, args ...string) ([]byte, error) {
	var out []byte
	err := r.breakers.Get(string(tool)).Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.run.Run(ctx, r.paths[tool], args...)
		return err
	})
	return out, err
}

// CheckTool verifies that tool can be executed and its breaker is not open.
func (r *Resolver) CheckTool(ctx context.Context, tool Tool) error {
	if st := r.breakers.Get(string(tool)).State(); st == resilience.StateOpen {
		return fmt.Errorf("%s: %w", tool, resilience.ErrCircuitOpen)
	}
	if tool == ToolSox {
		return checkSox(r.paths[ToolSox])
	}
	_, err := r.run.Run(ctx, r.paths[tool], "-hide_banner", "-version")
	return err
}
