package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/internal/health"
	"github.com/MrWong99/voxplot/internal/observe"
	"github.com/MrWong99/voxplot/internal/pipeline"
	"github.com/MrWong99/voxplot/internal/store"
	"github.com/MrWong99/voxplot/pkg/audio"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// sineWAV returns a one second 220 Hz tone encoded as WAV.
func sineWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/16000)
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := audio.WriteWAVFile(path, &audio.Signal{Channels: [][]float64{samples}, SampleRate: 16000}); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type testEnv struct {
	srv       *Server
	store     *store.MemStore
	uploadDir string
	handler   http.Handler
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	m := testMetrics(t)
	st := store.NewMemStore(feature.DefaultProfileDims)
	an := pipeline.New(pipeline.WithStore(st), pipeline.WithMetrics(m), pipeline.WithLogger(discardLogger()))
	dir := t.TempDir()
	base := []Option{WithUploadDir(dir), WithMetrics(m), WithLogger(discardLogger())}
	srv := New(an, st, append(base, opts...)...)
	return &testEnv{srv: srv, store: st, uploadDir: dir, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env.Data
}

func TestUploadLifecycle(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, uploadRequest(t, "file", "tone.wav", sineWAV(t)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body)
	}
	created := decodeData[store.Analysis](t, rec)
	if created.ID == "" || len(created.Artifacts) != 6 {
		t.Fatalf("created = %+v", created)
	}
	if filepath.Base(created.Source) != "tone.wav" {
		t.Errorf("source = %q, want a file named tone.wav", created.Source)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decodeData[store.Analysis](t, rec)
	if len(got.Series[feature.Pitch]) == 0 {
		t.Error("get returned no pitch series")
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses", nil))
	if list := decodeData[[]store.Analysis](t, rec); len(list) != 1 {
		t.Errorf("list returned %d analyses, want 1", len(list))
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses/"+created.ID+"/plots/pitch", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("plot status = %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("plot body is not a PNG")
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses/"+created.ID+"/plots/pitch?format=csv", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Errorf("csv status = %d, %d bytes", rec.Code, rec.Body.Len())
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/v1/statistics", nil))
	if stats := decodeData[Statistics](t, rec); stats != (Statistics{AnalysesTotal: 1, AnalysesSuccess: 1}) {
		t.Errorf("statistics = %+v", stats)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodDelete, "/v1/analyses/"+created.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, err := os.Stat(filepath.Dir(created.Source)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("upload directory still present: %v", err)
	}
	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		req     func(t *testing.T) *http.Request
		status  int
		message string
	}{
		{
			name:   "missing field",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "other", "tone.wav", []byte("x")) },
			status: http.StatusBadRequest,
		},
		{
			name:    "not audio",
			req:     func(t *testing.T) *http.Request { return uploadRequest(t, "file", "notes.wav", []byte("plain text")) },
			status:  http.StatusUnprocessableEntity,
			message: "notes.wav: unsupported or corrupt audio (decode error)",
		},
		{
			name:   "too large",
			opts:   []Option{WithMaxUploadBytes(512)},
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "file", "big.wav", make([]byte, 4096)) },
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, tt.opts...)
			rec := e.do(t, tt.req(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			var body struct {
				Message string `json:"message"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Message == "" {
				t.Errorf("error body = %+v, %v", body, err)
			}
			if tt.message != "" && body.Message != tt.message {
				t.Errorf("message = %q, want %q", body.Message, tt.message)
			}
			if strings.Contains(body.Message, e.uploadDir) {
				t.Errorf("message %q exposes the upload dir", body.Message)
			}
			entries, _ := os.ReadDir(e.uploadDir)
			if len(entries) != 0 {
				t.Errorf("upload dir holds %d entries after a failed upload", len(entries))
			}
		})
	}
}

func TestNotFoundAndBadRequests(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		method, target string
		status         int
	}{
		{http.MethodGet, "/v1/analyses/missing", http.StatusNotFound},
		{http.MethodDelete, "/v1/analyses/missing", http.StatusNotFound},
		{http.MethodGet, "/v1/analyses/missing/similar", http.StatusNotFound},
		{http.MethodGet, "/v1/analyses/missing/plots/pitch", http.StatusNotFound},
		{http.MethodGet, "/v1/analyses/missing/plots/loudness", http.StatusBadRequest},
		{http.MethodGet, "/v1/analyses/missing/plots/pitch?format=gif", http.StatusBadRequest},
		{http.MethodGet, "/v1/analyses?limit=-1", http.StatusBadRequest},
		{http.MethodGet, "/v1/analyses/x/similar?k=abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := e.do(t, httptest.NewRequest(tt.method, tt.target, nil))
		if rec.Code != tt.status {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.target, rec.Code, tt.status)
		}
	}
}

func TestSimilar(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	profile := func(v float32) []float32 {
		p := make([]float32, feature.DefaultProfileDims)
		p[0] = v
		return p
	}
	for _, a := range []*store.Analysis{
		{ID: "ref", Profile: profile(0)},
		{ID: "near", Profile: profile(1)},
		{ID: "far", Profile: profile(10)},
	} {
		if err := e.store.Save(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses/ref/similar?k=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	matches := decodeData[[]store.Match](t, rec)
	if len(matches) != 1 || matches[0].Analysis.ID != "near" {
		t.Errorf("matches = %+v, want [near]", matches)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "voxplot_analyses_total 0\n")
	})
	e := newTestEnv(t,
		WithHealth(health.New(health.Checker{Name: "store", Check: func(context.Context) error { return nil }})),
		WithMetricsHandler(metrics),
	)

	for _, target := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := e.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", target, rec.Code)
		}
	}
}

func TestUploadName(t *testing.T) {
	tests := map[string]string{
		"voice.wav":            "voice.wav",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\clip.mp4`: "clip.mp4",
		"":                     "upload",
		"..":                   "upload",
	}
	for in, want := range tests {
		if got := uploadName(in); got != want {
			t.Errorf("uploadName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOwns(t *testing.T) {
	s := New(nil, nil, WithUploadDir("/srv/uploads"))
	tests := map[string]bool{
		"/srv/uploads/upload-123": true,
		"/srv/uploads":            false,
		"/srv/uploads/a/b":        false,
		"/srv/other":              false,
		"/home/me":                false,
	}
	for dir, want := range tests {
		if got := s.owns(dir); got != want {
			t.Errorf("owns(%q) = %v, want %v", dir, got, want)
		}
	}
}
