// Package httpapi serves the forge HTTP API: job submission, status and
// cancellation, result retrieval, and a server-sent-events progress stream
// with polling fallback via the status endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"atlasforge/internal/domain"
	"atlasforge/internal/forge"
	"atlasforge/internal/indicator"
	"atlasforge/internal/store"
)

// Server hosts the forge API over a stdlib mux.
type Server struct {
	controller *forge.Controller
	jobs       store.JobStore
	results    store.ResultStore
	prices     store.PriceStore
	registry   *indicator.Registry
	hub        *Hub
	log        *slog.Logger
}

// NewServer creates a Server. The hub must already be running.
func NewServer(controller *forge.Controller, jobs store.JobStore, results store.ResultStore,
	prices store.PriceStore, registry *indicator.Registry, hub *Hub, log *slog.Logger) *Server {

	return &Server{
		controller: controller,
		jobs:       jobs,
		results:    results,
		prices:     prices,
		registry:   registry,
		hub:        hub,
		log:        log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)
	mux.HandleFunc("GET /api/jobs/{id}/results", s.handleResults)
	mux.HandleFunc("GET /api/jobs/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /api/indicators", s.handleIndicators)
	mux.HandleFunc("GET /api/tickers", s.handleTickers)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the complete HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleSubmitJob accepts a JSON job config, rejects unknown fields, and
// starts the job in the background.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var cfg domain.JobConfig
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding job config: %w", err))
		return
	}

	job, err := s.controller.Submit(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Info("job submitted", "jobId", job.ID, "total", job.TotalBranches)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.controller.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": "cancelling"})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 1000)
	results, err := s.results.ListResults(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleProgress streams progress snapshots for one job as server-sent
// events. The stream starts with the job's current state so late
// subscribers are not blind until the next publish.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(event domain.ProgressEvent) {
		data, _ := json.Marshal(event)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(domain.ProgressEvent{
		JobID:             job.ID,
		CompletedBranches: job.CompletedBranches,
		TotalBranches:     job.TotalBranches,
		PassingBranches:   job.PassingBranches,
		Status:            job.Status,
	})
	if job.Status.Terminal() {
		return
	}

	c := s.hub.subscribe()
	defer s.hub.unsubscribe(c)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if event.JobID != id {
				continue
			}
			send(event)
			if event.Status.Terminal() {
				return
			}
		}
	}
}

func (s *Server) handleIndicators(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.prices.ListTickers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if tickers == nil {
		tickers = []string{}
	}
	writeJSON(w, http.StatusOK, tickers)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
