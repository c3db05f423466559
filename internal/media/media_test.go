package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MrWong99/voxplot/internal/resilience"
	"github.com/MrWong99/voxplot/pkg/audio"
)

const probeWithAudio = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264"},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "44100", "channels": 2}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.480000"}
}`

const probeVideoOnly = `{
  "streams": [{"index": 0, "codec_type": "video", "codec_name": "h264"}],
  "format": {"format_name": "matroska,webm", "duration": "3.000000"}
}`

type call struct {
	name string
	args []string
}

// fakeRunner answers ffprobe with a canned document and makes ffmpeg
// write an empty output file.
type fakeRunner struct {
	probe string
	err   error
	calls []call
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.err != nil {
		return nil, f.err
	}
	if name == "ffprobe" {
		return []byte(f.probe), nil
	}
	if name == "ffmpeg" && len(args) > 0 {
		return nil, os.WriteFile(args[len(args)-1], nil, 0o644)
	}
	return nil, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not really media"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve_Missing(t *testing.T) {
	r := NewResolver(WithRunner(&fakeRunner{}), WithLogger(quietLogger()))
	_, err := r.Resolve(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))

	var me *MediaError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MediaError", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResolve_Directory(t *testing.T) {
	r := NewResolver(WithRunner(&fakeRunner{}), WithLogger(quietLogger()))
	_, err := r.Resolve(context.Background(), t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResolve_AudioPassesThrough(t *testing.T) {
	run := &fakeRunner{}
	r := NewResolver(WithRunner(run), WithLogger(quietLogger()))
	for _, name := range []string{"take.wav", "take.mp3", "take.FLAC", "take.ogg", "noext"} {
		path := touch(t, name)
		res, err := r.Resolve(context.Background(), path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if res.Path != path || res.Generated {
			t.Errorf("%s: resolved = %+v, want pass-through", name, res)
		}
	}
	if len(run.calls) != 0 {
		t.Errorf("audio inputs spawned tools: %v", run.calls)
	}
}

func TestResolve_VideoExtractsAudio(t *testing.T) {
	run := &fakeRunner{probe: probeWithAudio}
	r := NewResolver(WithRunner(run), WithToolPath(ToolFFmpeg, "ffmpeg"), WithLogger(quietLogger()))
	path := touch(t, "lecture.MP4")

	res, err := r.Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := path + ".wav"; res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
	if !res.Generated || res.Source != path {
		t.Errorf("resolved = %+v", res)
	}
	if res.Probe == nil || res.Probe.SampleRate != 44100 || res.Probe.Channels != 2 {
		t.Errorf("Probe = %+v", res.Probe)
	}

	if len(run.calls) != 2 || run.calls[0].name != "ffprobe" || run.calls[1].name != "ffmpeg" {
		t.Fatalf("calls = %v, want ffprobe then ffmpeg", run.calls)
	}
	args := run.calls[1].args
	for _, want := range [][]string{{"-y"}, {"-i", path}, {"-vn"}, {"-acodec", "pcm_s16le"}} {
		if !containsSeq(args, want) {
			t.Errorf("ffmpeg args %v missing %v", args, want)
		}
	}

	// Extracted audio is kept by default.
	if err := res.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("extracted file removed despite keep: %v", err)
	}
}

func TestResolve_VideoWithoutAudio(t *testing.T) {
	run := &fakeRunner{probe: probeVideoOnly}
	r := NewResolver(WithRunner(run), WithLogger(quietLogger()))
	_, err := r.Resolve(context.Background(), touch(t, "screen.mkv"))

	var me *MediaError
	if !errors.As(err, &me) || !errors.Is(err, ErrNoAudioStream) {
		t.Fatalf("err = %v, want MediaError(ErrNoAudioStream)", err)
	}
	if len(run.calls) != 1 {
		t.Errorf("ffmpeg ran for a container without audio: %v", run.calls)
	}
}

func TestResolved_CleanupRemovesWhenNotKept(t *testing.T) {
	r := NewResolver(WithRunner(&fakeRunner{probe: probeWithAudio}), WithKeepExtracted(false), WithLogger(quietLogger()))
	res, err := r.Resolve(context.Background(), touch(t, "clip.webm"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(res.Path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("extracted file still present: %v", err)
	}
	// A second cleanup is harmless.
	if err := res.Cleanup(); err != nil {
		t.Errorf("second Cleanup: %v", err)
	}
}

func TestResolve_MissingToolOpensBreaker(t *testing.T) {
	run := &fakeRunner{err: &ToolError{Name: "ffprobe", Err: exec.ErrNotFound}}
	group := resilience.NewGroup(resilience.CircuitBreakerConfig{MaxFailures: 2, Trips: ToolUnavailable, Logger: quietLogger()})
	r := NewResolver(WithRunner(run), WithBreakers(group), WithLogger(quietLogger()))
	path := touch(t, "clip.mov")

	for range 2 {
		if _, err := r.Resolve(context.Background(), path); !errors.Is(err, exec.ErrNotFound) {
			t.Fatalf("err = %v, want exec.ErrNotFound", err)
		}
	}
	_, err := r.Resolve(context.Background(), path)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if len(run.calls) != 2 {
		t.Errorf("runner called %d times, want 2", len(run.calls))
	}
	if err := r.CheckTool(context.Background(), ToolFFprobe); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("CheckTool = %v, want ErrCircuitOpen", err)
	}
}

func TestResolve_BadInputDoesNotOpenBreaker(t *testing.T) {
	run := &fakeRunner{err: &ToolError{Name: "ffprobe", Stderr: "moov atom not found", Err: errors.New("exit status 1")}}
	r := NewResolver(WithRunner(run), WithLogger(quietLogger()))
	path := touch(t, "broken.mp4")

	for range 5 {
		_, err := r.Resolve(context.Background(), path)
		var me *MediaError
		if !errors.As(err, &me) {
			t.Fatalf("err = %v, want *MediaError", err)
		}
	}
	if st := r.Breakers().States()["ffprobe"]; st != resilience.StateClosed {
		t.Errorf("ffprobe breaker = %v, want closed", st)
	}
}

func TestParseProbe(t *testing.T) {
	p, err := parseProbe([]byte(probeWithAudio))
	if err != nil {
		t.Fatal(err)
	}
	want := Probe{FormatName: "mov,mp4,m4a,3gp,3g2,mj2", Duration: 12.48, AudioStreams: 1, VideoStreams: 1, SampleRate: 44100, Channels: 2}
	if p != want {
		t.Errorf("parseProbe = %+v, want %+v", p, want)
	}
	if _, err := parseProbe([]byte("Invalid data found")); err == nil {
		t.Error("expected error for non-JSON output")
	}
}

func TestToolError_Message(t *testing.T) {
	err := &ToolError{Name: "ffmpeg", Stderr: "line one\nclip.mp4: Invalid data found when processing input\n", Err: errors.New("exit status 1")}
	want := "ffmpeg: exit status 1: clip.mp4: Invalid data found when processing input"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsVideo(t *testing.T) {
	for _, tt := range []struct {
		path string
		want bool
	}{
		{"a.mp4", true}, {"b.MKV", true}, {"c.3gp", true},
		{"d.wav", false}, {"e.mp3", false}, {"f", false}, {"mp4", false},
	} {
		if got := IsVideo(tt.path); got != tt.want {
			t.Errorf("IsVideo(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

// The remaining tests exercise the real binaries and are skipped when they
// are not installed.

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

func writeTone(t *testing.T, path string) {
	t.Helper()
	s := make([]float64, 8000)
	for i := range s {
		s[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/8000)
	}
	if err := audio.WriteWAVFile(path, &audio.Signal{Channels: [][]float64{s}, SampleRate: 8000}); err != nil {
		t.Fatal(err)
	}
}

func TestResolve_RealFFmpeg(t *testing.T) {
	requireTool(t, "ffmpeg")
	requireTool(t, "ffprobe")
	dir := t.TempDir()
	wav := filepath.Join(dir, "tone.wav")
	writeTone(t, wav)
	video := filepath.Join(dir, "tone.mkv")
	if out, err := exec.Command("ffmpeg", "-y", "-i", wav, "-c:a", "pcm_s16le", video).CombinedOutput(); err != nil {
		t.Fatalf("build fixture: %v\n%s", err, out)
	}

	r := NewResolver(WithLogger(quietLogger()))
	res, err := r.Resolve(context.Background(), video)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sig, err := audio.Load(res.Path)
	if err != nil {
		t.Fatalf("Load extracted: %v", err)
	}
	if sig.SampleRate != 8000 || sig.Len() < 7000 {
		t.Errorf("extracted signal = %v", sig)
	}
	if err := r.CheckTool(context.Background(), ToolFFmpeg); err != nil {
		t.Errorf("CheckTool(ffmpeg) = %v", err)
	}
}

func TestResolve_RealSox(t *testing.T) {
	requireTool(t, "sox")
	dir := t.TempDir()
	wav := filepath.Join(dir, "tone.wav")
	writeTone(t, wav)
	aiff := filepath.Join(dir, "tone.aiff")
	if out, err := exec.Command("sox", wav, aiff).CombinedOutput(); err != nil {
		t.Fatalf("build fixture: %v\n%s", err, out)
	}

	r := NewResolver(WithLogger(quietLogger()))
	res, err := r.Resolve(context.Background(), aiff)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Path != aiff+".wav" || !res.Generated {
		t.Errorf("resolved = %+v", res)
	}
	if _, err := audio.Load(res.Path); err != nil {
		t.Errorf("Load converted: %v", err)
	}
}

func containsSeq(haystack, needle []string) bool {
	for i := range haystack {
		if i+len(needle) <= len(haystack) && slices.Equal(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}
