// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"meridian/platform/shared/logger"
)

// Prometheus metrics
var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_orchestrator_requests_total",
			Help: "Total number of requests processed by the orchestrator",
		},
		[]string{"outcome"},
	)
	requestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_orchestrator_request_duration_seconds",
			Help:    "End to end request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		},
	)
	requestCost = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_orchestrator_request_cost_usd",
			Help:    "Estimated per-request cost in USD",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_orchestrator_cache_hits_total",
			Help: "Total similarity cache hits",
		},
	)
	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_orchestrator_cache_misses_total",
			Help: "Total similarity cache misses",
		},
	)
	cacheCorruptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_orchestrator_cache_corrupt_fingerprints_total",
			Help: "Cache entries skipped during lookup because their fingerprint was unusable",
		},
	)
	breakerOpensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_orchestrator_breaker_opens_total",
			Help: "Circuit breaker open transitions per dependency",
		},
		[]string{"dependency"},
	)
	fallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_orchestrator_fallbacks_total",
			Help: "Requests that fell back to the bare primary path",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestLatency)
	prometheus.MustRegister(requestCost)
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(cacheMissesTotal)
	prometheus.MustRegister(cacheCorruptTotal)
	prometheus.MustRegister(breakerOpensTotal)
	prometheus.MustRegister(fallbacksTotal)
}

// Server exposes the orchestrator over HTTP.
type Server struct {
	orch *Orchestrator
	log  *logger.Logger
	http *http.Server
}

// NewServer builds the router and wraps it with CORS.
func NewServer(orch *Orchestrator, addr string, log *logger.Logger) *Server {
	s := &Server{orch: orch, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/metrics", s.statsHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/v1/process", s.processHandler).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info("", "http server listening", map[string]interface{}{"addr": s.http.Addr})
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	resp, err := s.orch.Handle(r.Context(), req)
	if err != nil {
		if IsInvalidInput(err) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.ErrorWithErr(req.RequestID, "request handling failed", err, nil)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := s.orch.GetHealth()
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetStats())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
