// Package server exposes the router and gate over HTTP: the decision
// endpoints, the admin/observability surface and prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arbiterhq/arbiter/pkg/backpressure"
	"github.com/arbiterhq/arbiter/pkg/bus"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/router"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
	"github.com/arbiterhq/arbiter/pkg/tracer"
)

// GateProcessor abstracts the base service and its adaptive decorator.
type GateProcessor interface {
	ProcessRequest(ctx context.Context, req *domain.GateRequest) *domain.GateResponse
}

// FeedbackSink receives outcome feedback for previously scored requests. The
// salience adapter implements it; weight adaptation only happens through this
// ingress.
type FeedbackSink interface {
	Observe(features domain.SalienceFeatures, predicted, outcome float64)
}

type nopFeedback struct{}

func (nopFeedback) Observe(domain.SalienceFeatures, float64, float64) {}

// Server wires the HTTP surface.
type Server struct {
	router    *router.Router
	gate      GateProcessor
	capacity  *backpressure.Manager
	traces    *tracer.Tracer
	publisher bus.Publisher
	feedback  FeedbackSink
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
}

// Options carries Server collaborators.
type Options struct {
	Router    *router.Router
	Gate      GateProcessor
	Capacity  *backpressure.Manager
	Tracer    *tracer.Tracer
	Publisher bus.Publisher
	Feedback  FeedbackSink
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	pub := opts.Publisher
	if pub == nil {
		pub = bus.NopPublisher{}
	}
	sink := opts.Feedback
	if sink == nil {
		sink = nopFeedback{}
	}
	return &Server{
		router:    opts.Router,
		gate:      opts.Gate,
		capacity:  opts.Capacity,
		traces:    opts.Tracer,
		publisher: pub,
		feedback:  sink,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Handler builds the full route table, instrumented with otelhttp.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/route", s.handleRoute)
	mux.HandleFunc("POST /v1/gate", s.handleGate)
	mux.HandleFunc("GET /v1/traces/{id}", s.handleTrace)
	mux.HandleFunc("POST /v1/feedback", s.handleFeedback)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return otelhttp.NewHandler(mux, "arbiter")
}

type routeRequest struct {
	Headers  map[string]string `json:"headers,omitempty"`
	Payload  map[string]any    `json:"payload,omitempty"`
	Metadata router.Metadata   `json:"metadata,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result := s.router.Route(r.Context(), router.Request{Headers: req.Headers, Payload: req.Payload}, req.Metadata)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	var req domain.GateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.capacity.RecordRequest()
	start := time.Now()

	resp := s.gate.ProcessRequest(r.Context(), &req)

	success := resp.Decision.Action != domain.ActionDrop || !strings.HasPrefix(firstReason(resp), "error_")
	s.capacity.RecordCompletion(success, time.Since(start))

	s.metrics.QueueDepth.Set(float64(s.capacity.QueueSize()))
	s.metrics.CurrentLoad.Set(s.capacity.CurrentLoad())

	if err := s.publisher.PublishDecision(r.Context(), resp); err != nil {
		s.metrics.BusPublishErr.Inc()
		s.logger.Error().Err(err).Str("topic", resp.Routing.Topic).Msg("failed to publish decision")
	}

	writeJSON(w, http.StatusOK, resp)
}

func firstReason(resp *domain.GateResponse) string {
	if len(resp.Decision.Reasons) == 0 {
		return ""
	}
	return resp.Decision.Reasons[0]
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trace, err := s.traces.Get(id)
	if err != nil {
		if errors.Is(err, tracer.ErrTraceNotFound) {
			writeError(w, http.StatusNotFound, "trace not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("explain") == "true" {
		explanation, err := s.traces.ExplainDecision(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(explanation))
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

type feedbackRequest struct {
	TraceID string  `json:"trace_id"`
	Outcome float64 `json:"outcome"`
}

// handleFeedback resolves the trace the outcome refers to and forwards its
// scored features to the adaptation sink.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TraceID == "" {
		writeError(w, http.StatusBadRequest, "trace_id is required")
		return
	}
	if req.Outcome < 0 || req.Outcome > 1 {
		writeError(w, http.StatusBadRequest, "outcome must be in [0,1]")
		return
	}

	trace, err := s.traces.Get(req.TraceID)
	if err != nil {
		if errors.Is(err, tracer.ErrTraceNotFound) {
			writeError(w, http.StatusNotFound, "trace not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.feedback.Observe(trace.Features, trace.Calibrated, req.Outcome)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backpressure": s.capacity.Snapshot(),
		"traces":       s.traces.GetTraceAnalytics(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
