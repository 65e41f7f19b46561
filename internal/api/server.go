// Package api serves live pipeline statistics and stored analysis runs over
// HTTP.
package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
	"github.com/banshee-data/motion.watch/internal/scene/storage/sqlite"
	"github.com/banshee-data/motion.watch/internal/version"
)

const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// LiveSource is the running pipeline.
type LiveSource interface {
	Summary() pipeline.Summary
	FramesProcessed() int
	PublishErrors() int
}

// RunStore is the read side of the run database.
type RunStore interface {
	ListRuns() ([]*sqlite.Run, error)
	GetRun(runID string) (*sqlite.Run, error)
	ListAnomalies(runID string) ([]anomaly.Anomaly, error)
	CountAnomaliesByType(runID string) (map[anomaly.Kind]int, error)
	TrackObservations(runID string, trackID int) ([]sqlite.Observation, error)
}

var _ RunStore = (*sqlite.Store)(nil)

// Server exposes the HTTP endpoints. Either source may be nil; its routes
// then answer 503.
type Server struct {
	live     LiveSource
	store    RunStore
	gatherer prometheus.Gatherer
}

// NewServer creates a server. A nil gatherer serves the default registry.
func NewServer(live LiveSource, store RunStore, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{live: live, store: store, gatherer: gatherer}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with the metrics endpoint and the read-only
// /api routes registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/status", s.showStatus)
	mux.HandleFunc("GET /api/stats", s.showStats)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
	mux.HandleFunc("GET /api/runs/{id}/anomalies", s.listRunAnomalies)
	mux.HandleFunc("GET /api/runs/{id}/tracks/{track}", s.showTrack)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"live":       s.live != nil,
		"database":   s.store != nil,
		"frames":     0,
		"pub_errors": 0,
	}
	if s.live != nil {
		status["frames"] = s.live.FramesProcessed()
		status["pub_errors"] = s.live.PublishErrors()
	}
	writeJSON(w, http.StatusOK, status)
}

// showStats returns the live run summary. Per-frame data is omitted unless
// ?frames=true.
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no pipeline running")
		return
	}
	withFrames := false
	if v := r.URL.Query().Get("frames"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid 'frames' parameter")
			return
		}
		withFrames = parsed
	}
	summary := s.live.Summary()
	if !withFrames {
		summary.Frames = nil
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return false
	}
	return true
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	runs, err := s.store.ListRuns()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*sqlite.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// lookupRun writes the error response itself and returns nil when the run
// cannot be served.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *sqlite.Run {
	if !s.requireStore(w) {
		return nil
	}
	run, err := s.store.GetRun(r.PathValue("id"))
	if errors.Is(err, sqlite.ErrRunNotFound) {
		writeJSONError(w, http.StatusNotFound, "run not found")
		return nil
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to load run: %v", err))
		return nil
	}
	return run
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	counts, err := s.store.CountAnomaliesByType(run.RunID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to count anomalies: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":               run,
		"anomalies_by_type": counts,
	})
}

func (s *Server) listRunAnomalies(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	list, err := s.store.ListAnomalies(run.RunID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list anomalies: %v", err))
		return
	}

	if sev := r.URL.Query().Get("severity"); sev != "" {
		filtered := list[:0]
		for _, a := range list {
			if string(a.Severity) == sev {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []anomaly.Anomaly{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) showTrack(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	trackID, err := strconv.Atoi(r.PathValue("track"))
	if err != nil || trackID < 1 {
		writeJSONError(w, http.StatusBadRequest, "Invalid track id")
		return
	}
	obs, err := s.store.TrackObservations(run.RunID, trackID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to load track: %v", err))
		return
	}
	if len(obs) == 0 {
		writeJSONError(w, http.StatusNotFound, "track not found")
		return
	}
	writeJSON(w, http.StatusOK, obs)
}
