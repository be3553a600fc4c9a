// Package gate implements the smart-path admission-control engine. It
// sequences policy evaluation, backpressure checks, intent derivation and
// salience scoring into a four-action verdict with a full explainability
// trace. ProcessRequest never fails: every fault degrades to a DROP response
// carrying a diagnostic reason.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/internal/window"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/salience"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
	"github.com/arbiterhq/arbiter/pkg/tracer"
)

// Pipeline stage names recorded in decision traces.
const (
	StageValidation   = "validation"
	StagePolicy       = "policy"
	StageBackpressure = "backpressure"
	StageIntent       = "intent_derivation"
	StageSalience     = "salience"
	StageAction       = "action_selection"
	StageRouting      = "routing"
	StageTrace        = "trace"
)

const historyCapacity = 1000

// PolicyEvaluator is the policy bridge contract consumed by the gate.
type PolicyEvaluator interface {
	EvaluatePolicy(ctx context.Context, req *domain.GateRequest) domain.PolicyResult
}

// CapacityChecker is the backpressure contract consumed by the gate.
type CapacityChecker interface {
	CheckCapacity(req *domain.GateRequest) domain.BackpressureResult
}

// IntentSource produces ranked intent candidates for undeclared requests.
type IntentSource interface {
	DeriveIntents(req *domain.GateRequest) []domain.DerivedIntent
}

// SalienceScorer turns a request into a calibrated priority.
type SalienceScorer interface {
	Calculate(req *domain.GateRequest, weights domain.SalienceWeights) salience.Result
}

// HistoryRecord is the bounded per-decision record kept for offline analysis
// and learning hooks. It is write-only from the hot path.
type HistoryRecord struct {
	RequestID string                  `json:"request_id"`
	TraceID   string                  `json:"trace_id"`
	Action    domain.Action           `json:"action"`
	Priority  float64                 `json:"priority"`
	Features  domain.SalienceFeatures `json:"features"`
	CreatedAt time.Time               `json:"created_at"`
}

// Service is the gate orchestrator. Construct it with NewService and share a
// single instance across request handlers; all state it touches is
// synchronized.
type Service struct {
	provider *config.Provider
	policy   PolicyEvaluator
	capacity CapacityChecker
	intents  IntentSource
	scorer   SalienceScorer
	adapter  *salience.Adapter
	traces   *tracer.Tracer
	history  *window.Ring[HistoryRecord]
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	otel     oteltrace.Tracer
	now      func() time.Time
}

// Options carries the collaborators a Service composes.
type Options struct {
	Provider *config.Provider
	Policy   PolicyEvaluator
	Capacity CapacityChecker
	Intents  IntentSource
	Scorer   SalienceScorer
	// Adapter supplies learned weights when learning is enabled; nil reads
	// weights from configuration.
	Adapter *salience.Adapter
	// Tracer may be nil to disable explainability storage.
	Tracer  *tracer.Tracer
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger
	// Clock overrides the time source; nil selects time.Now.
	Clock func() time.Time
}

// NewService wires the orchestrator.
func NewService(opts Options) *Service {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		provider: opts.Provider,
		policy:   opts.Policy,
		capacity: opts.Capacity,
		intents:  opts.Intents,
		scorer:   opts.Scorer,
		adapter:  opts.Adapter,
		traces:   opts.Tracer,
		history:  window.NewRing[HistoryRecord](historyCapacity),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		otel:     otel.Tracer("arbiter/gate"),
		now:      now,
	}
}

// Thresholds returns the action cut points from the current snapshot.
func (s *Service) Thresholds() domain.Thresholds {
	t := s.provider.Current().Config.Thresholds
	return domain.Thresholds{Admit: t.Admit, Boost: t.Boost, Drop: t.Drop}
}

// ProcessRequest runs the full decision state machine. It never raises; all
// faults degrade to a DROP response with a diagnostic reason.
func (s *Service) ProcessRequest(ctx context.Context, req *domain.GateRequest) *domain.GateResponse {
	return s.ProcessWithThresholds(ctx, req, s.Thresholds())
}

// ProcessWithThresholds is ProcessRequest with explicit action thresholds.
// The adaptive decorator uses it to apply load-scaled cut points.
func (s *Service) ProcessWithThresholds(ctx context.Context, req *domain.GateRequest, th domain.Thresholds) (resp *domain.GateResponse) {
	start := s.now()

	ctx, span := s.otel.Start(ctx, "gate.process_request")
	defer span.End()

	p := &pipeline{req: req, thresholds: th, start: start}
	p.traceID = req.TraceID
	if p.traceID == "" {
		p.traceID = uuid.NewString()
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().Any("panic", rec).Str("request_id", req.RequestID).Msg("gate pipeline panicked")
			resp = s.finish(p, domain.GateDecision{
				Action:  domain.ActionDrop,
				Reasons: []string{fmt.Sprintf("error_internal:%v", rec)},
			}, TopicError)
		}
		span.SetAttributes(
			attribute.String("gate.action", string(resp.Decision.Action)),
			attribute.Float64("gate.priority", resp.Decision.Priority),
			attribute.String("gate.trace_id", p.traceID),
		)
		s.metrics.ObserveGateDecision(resp.Decision.Action, req.Policy.Band, resp.Decision.Priority)
	}()

	// 1. Structural validation.
	p.visit(StageValidation)
	if missing := validate(req); missing != "" {
		return s.finish(p, domain.GateDecision{
			Action:  domain.ActionDrop,
			Reasons: []string{"error_missing_field:" + missing},
		}, TopicError)
	}

	// 2. Policy evaluation. A policy drop is terminal.
	p.visit(StagePolicy)
	p.policy = s.policy.EvaluatePolicy(ctx, req)
	if p.policy.ShouldDrop {
		return s.finish(p, domain.GateDecision{
			Action:      domain.ActionDrop,
			Reasons:     p.policy.Reasons,
			Obligations: p.policy.Obligations,
		}, TopicDropped)
	}

	// 3. Backpressure. Drop beats defer; a defer skips salience entirely.
	p.visit(StageBackpressure)
	bp := s.capacity.CheckCapacity(req)
	if bp.ShouldDrop {
		return s.finish(p, domain.GateDecision{
			Action:      domain.ActionDrop,
			Reasons:     append([]string{"backpressure"}, bp.Reasons...),
			Obligations: p.policy.Obligations,
		}, TopicDropped)
	}
	if bp.ShouldDefer {
		ttl := bp.EstimatedDelay.Milliseconds()
		if ttl <= 0 {
			ttl = deferTTL(0)
		}
		return s.finish(p, domain.GateDecision{
			Action:      domain.ActionDefer,
			Reasons:     append([]string{"backpressure"}, bp.Reasons...),
			Obligations: p.policy.Obligations,
			TTLMillis:   ttl,
		}, TopicDeferred)
	}

	// 4. Intent derivation: routing only, never gating.
	p.visit(StageIntent)
	if req.Intent != "" && req.Intent != domain.IntentUnknown {
		p.intents = []domain.DerivedIntent{{
			Intent:     req.Intent,
			Confidence: domain.IntentConfidence{Score: 1.0, Sources: []string{"declared"}},
			Reasoning:  "intent declared by caller",
		}}
	} else {
		p.intents = s.intents.DeriveIntents(req)
	}

	// 5. Salience scoring.
	p.visit(StageSalience)
	p.scored = true
	p.score = s.scorer.Calculate(req, s.weights())

	// 6. Action selection.
	p.visit(StageAction)
	mod := s.bandModifier(req.Policy.Band)
	urgent := req.Affect.HasTag("urgent") || p.score.Features.Urgency > 0.8
	decision := selectAction(p.score.Priority, th, mod, urgent)
	decision.Confidence = p.score.Confidence
	decision.Uncertainty = p.score.Uncertainty
	decision.Obligations = p.policy.Obligations

	return s.finish(p, decision, "")
}

// weights returns learned weights when an adapter is wired and learning is
// enabled, otherwise the configured weight set.
func (s *Service) weights() domain.SalienceWeights {
	cfg := s.provider.Current().Config
	if s.adapter != nil && cfg.Learning.Enabled {
		return s.adapter.Weights()
	}
	return cfg.EffectiveWeights()
}

func (s *Service) bandModifier(band domain.Band) config.BandModifier {
	return s.provider.Current().Config.Policy.BandModifiers[string(band)]
}

// pipeline is the per-request working state of the decision state machine.
type pipeline struct {
	req        *domain.GateRequest
	thresholds domain.Thresholds
	start      time.Time
	traceID    string
	stages     []string
	policy     domain.PolicyResult
	intents    []domain.DerivedIntent
	score      salience.Result
	scored     bool
}

func (p *pipeline) visit(stage string) {
	p.stages = append(p.stages, stage)
}

// finish builds routing info, the explainability trace and the final
// response. Every terminal path funnels through here so that even error
// decisions carry a complete GateResponse.
func (s *Service) finish(p *pipeline, decision domain.GateDecision, topicOverride string) *domain.GateResponse {
	now := s.now()

	p.visit(StageRouting)
	routing := buildRoutingInfo(decision, p.intents, now)
	if topicOverride != "" {
		routing.Topic = topicOverride
		if decision.Action == domain.ActionDrop {
			routing.Priority = 0
		}
	}

	p.visit(StageTrace)
	trace := &domain.DecisionTrace{
		TraceID:       p.traceID,
		RequestID:     p.req.RequestID,
		Features:      p.score.Features,
		Weights:       p.score.Weights,
		RawScore:      p.score.RawScore,
		Calibrated:    p.score.Priority,
		Thresholds:    p.thresholds,
		Stages:        p.stages,
		Action:        decision.Action,
		Reasons:       decision.Reasons,
		ExecutionTime: now.Sub(p.start),
		CreatedAt:     now,
	}
	if !p.scored {
		// Terminal before scoring: record the weights that would have applied.
		trace.Weights = s.weights()
	}
	s.traces.Store(trace)
	if s.metrics != nil {
		s.metrics.TracesStored.Inc()
	}

	s.history.Add(HistoryRecord{
		RequestID: p.req.RequestID,
		TraceID:   p.traceID,
		Action:    decision.Action,
		Priority:  decision.Priority,
		Features:  p.score.Features,
		CreatedAt: now,
	})

	s.logger.Info().
		Str("request_id", p.req.RequestID).
		Str("trace_id", p.traceID).
		Str("action", string(decision.Action)).
		Float64("priority", decision.Priority).
		Str("reasons", strings.Join(decision.Reasons, ",")).
		Dur("duration", trace.ExecutionTime).
		Msg("gate decision")

	return &domain.GateResponse{
		Decision:       decision,
		DerivedIntents: p.intents,
		Routing:        routing,
		Trace:          trace,
		Timestamp:      now,
	}
}

// RecentDecisions returns up to n records from the bounded decision history,
// newest last. Intended for offline analysis, never the hot path.
func (s *Service) RecentDecisions(n int) []HistoryRecord {
	return s.history.Last(n)
}

// validate returns the name of the first missing required field, or "".
func validate(req *domain.GateRequest) string {
	switch {
	case strings.TrimSpace(req.RequestID) == "":
		return "request_id"
	case strings.TrimSpace(req.SpaceID) == "":
		return "space_id"
	case strings.TrimSpace(req.Actor.PersonID) == "":
		return "actor.person_id"
	case req.Policy.Band == "":
		return "policy.band"
	}
	return ""
}
