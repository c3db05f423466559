package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/voxplot/internal/feature"
	"github.com/MrWong99/voxplot/internal/observe"
	"github.com/MrWong99/voxplot/internal/pipeline"
	"github.com/MrWong99/voxplot/internal/render"
	"github.com/MrWong99/voxplot/internal/store"
)

const (
	defaultSimilar = 5
	maxSimilar     = 100
)

// Statistics counts uploads since the server started.
type Statistics struct {
	AnalysesTotal   int64 `json:"analyses_total"`
	AnalysesSuccess int64 `json:"analyses_success"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, `missing multipart field "file"`)
		return
	}
	defer file.Close()

	s.uploads.Add(1)
	path, err := s.saveUpload(file, hdr.Filename)
	if err != nil {
		observe.LoggerFrom(r.Context(), s.log).ErrorContext(r.Context(), "save upload", "err", err)
		writeError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}

	res, err := s.analyzer.Analyze(r.Context(), path)
	if err != nil {
		_ = os.RemoveAll(filepath.Dir(path))
		status := analysisStatus(err)
		log := observe.LoggerFrom(r.Context(), s.log)
		if status >= http.StatusInternalServerError {
			log.ErrorContext(r.Context(), "analysis failed", "err", err)
		} else {
			log.WarnContext(r.Context(), "analysis rejected", "err", err)
		}
		writeError(w, status, analysisMessage(filepath.Base(path), err))
		return
	}
	s.succeeded.Add(1)
	writeData(w, http.StatusCreated, res)
}

// saveUpload copies src into a fresh directory below the upload dir and
// returns the file path.
func (s *Server) saveUpload(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(s.uploadDir, "upload-")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, uploadName(filename))
	f, err := os.Create(path)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	_, err = io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

// uploadName reduces a client-supplied file name to its base name. The
// extension is kept because the loader and resolver dispatch on it.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload"
	}
	return name
}

// analysisMessage describes a failed analysis to the client without
// exposing server paths.
func analysisMessage(name string, err error) string {
	switch class := pipeline.ErrorClass(err); class {
	case "media":
		return fmt.Sprintf("%s: no usable audio stream (media error)", name)
	case "decode":
		return fmt.Sprintf("%s: unsupported or corrupt audio (decode error)", name)
	case "unavailable":
		return fmt.Sprintf("%s: media tools unavailable, retry later", name)
	default:
		return fmt.Sprintf("%s: analysis failed (%s error)", name, class)
	}
}

func analysisStatus(err error) int {
	switch pipeline.ErrorClass(err) {
	case "media", "decode":
		return http.StatusUnprocessableEntity
	case "unavailable":
		return http.StatusServiceUnavailable
	case "usage":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err1 := intParam(r, "limit", 0)
	offset, err2 := intParam(r, "offset", 0)
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.store.List(r.Context(), store.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, a)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	}
	if dir := filepath.Dir(a.Source); s.owns(dir) {
		if err := os.RemoveAll(dir); err != nil {
			observe.LoggerFrom(r.Context(), s.log).WarnContext(r.Context(), "remove upload", "dir", dir, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// owns reports whether dir is an upload directory created by this server.
func (s *Server) owns(dir string) bool {
	rel, err := filepath.Rel(s.uploadDir, dir)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !strings.Contains(rel, string(filepath.Separator))
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	k, err := intParam(r, "k", defaultSimilar)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	matches, err := s.store.Similar(r.Context(), r.PathValue("id"), min(max(k, 1), maxSimilar))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, matches)
}

func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	kind, err := feature.ParseKind(r.PathValue("feature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format, contentType := render.FormatPNG, "image/png"
	switch r.URL.Query().Get("format") {
	case "", "png":
	case "csv", "txt":
		format, contentType = render.FormatText, "text/csv; charset=utf-8"
	default:
		writeError(w, http.StatusBadRequest, "format must be png or csv")
		return
	}

	a, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	art, ok := a.Artifact(kind, format)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no %s %s artifact", kind, format))
		return
	}
	f, err := os.Open(art.Path)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "artifact file missing")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot open artifact")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot open artifact")
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, filepath.Base(art.Path), info.ModTime(), f)
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, Statistics{
		AnalysesTotal:   s.uploads.Load(),
		AnalysesSuccess: s.succeeded.Load(),
	})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	observe.LoggerFrom(r.Context(), s.log).ErrorContext(r.Context(), "store", "err", err)
	writeError(w, http.StatusInternalServerError, "store unavailable")
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
