// Package server exposes the analysis pipeline over HTTP for "voxplot serve".
//
// Routes:
//
//	POST   /v1/analyses                         multipart "file" upload, runs AutoFull
//	GET    /v1/analyses                         list, newest first (?limit=&offset=)
//	GET    /v1/analyses/{id}                    one analysis with its series
//	DELETE /v1/analyses/{id}                    remove the analysis and its upload
//	GET    /v1/analyses/{id}/similar            nearest profiles (?k=)
//	GET    /v1/analyses/{id}/plots/{feature}    PNG plot (?format=csv for the table)
//	GET    /v1/statistics                       upload counters
//	GET    /healthz, /readyz                    liveness and readiness
//	GET    /metrics                             Prometheus exposition
//
// Successful responses wrap their payload in {"data": ...}; failures carry
// {"message": ...} with a matching status code.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/MrWong99/voxplot/internal/health"
	"github.com/MrWong99/voxplot/internal/observe"
	"github.com/MrWong99/voxplot/internal/store"
)

// DefaultMaxUploadBytes caps request bodies when no limit is configured.
const DefaultMaxUploadBytes = 256 << 20

// Analyzer runs AutoFull on a file. [*pipeline.Analyzer] implements it.
type Analyzer interface {
	Analyze(ctx context.Context, input string) (*store.Analysis, error)
}

// Server holds the HTTP handlers. Create one with [New].
type Server struct {
	analyzer  Analyzer
	store     store.Store
	health    *health.Handler
	metrics   http.Handler
	obs       *observe.Metrics
	log       *slog.Logger
	uploadDir string
	maxUpload int64

	uploads   atomic.Int64
	succeeded atomic.Int64
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.obs = m }
}

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithUploadDir sets where uploads and their artifacts are written.
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// WithMaxUploadBytes caps the request body of an upload.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// New returns a Server that analyses uploads with a and serves results
// from st.
func New(a Analyzer, st store.Store, opts ...Option) *Server {
	s := &Server{analyzer: a, store: st}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.obs == nil {
		s.obs = observe.DefaultMetrics()
	}
	if s.uploadDir == "" {
		s.uploadDir = filepath.Join(os.TempDir(), "voxplot")
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	return s
}

// Handler returns the routed handler wrapped in [observe.Middleware].
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyses", s.handleUpload)
	mux.HandleFunc("GET /v1/analyses", s.handleList)
	mux.HandleFunc("GET /v1/analyses/{id}", s.handleGet)
	mux.HandleFunc("DELETE /v1/analyses/{id}", s.handleDelete)
	mux.HandleFunc("GET /v1/analyses/{id}/similar", s.handleSimilar)
	mux.HandleFunc("GET /v1/analyses/{id}/plots/{feature}", s.handlePlot)
	mux.HandleFunc("GET /v1/statistics", s.handleStatistics)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return observe.Middleware(s.obs, s.log)(mux)
}
