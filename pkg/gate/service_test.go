package gate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/salience"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
	"github.com/arbiterhq/arbiter/pkg/tracer"
)

type stubPolicy struct {
	result domain.PolicyResult
}

func (s stubPolicy) EvaluatePolicy(context.Context, *domain.GateRequest) domain.PolicyResult {
	return s.result
}

type stubCapacity struct {
	result domain.BackpressureResult
}

func (s stubCapacity) CheckCapacity(*domain.GateRequest) domain.BackpressureResult {
	return s.result
}

type stubIntents struct {
	intents []domain.DerivedIntent
	called  bool
}

func (s *stubIntents) DeriveIntents(*domain.GateRequest) []domain.DerivedIntent {
	s.called = true
	return s.intents
}

type stubScorer struct {
	fn func(*domain.GateRequest, domain.SalienceWeights) salience.Result
}

func (s stubScorer) Calculate(req *domain.GateRequest, w domain.SalienceWeights) salience.Result {
	return s.fn(req, w)
}

func fixedScore(priority float64) stubScorer {
	return stubScorer{fn: func(_ *domain.GateRequest, w domain.SalienceWeights) salience.Result {
		return salience.Result{
			Features:    domain.SalienceFeatures{Urgency: 0.5, Value: 0.5},
			Weights:     w,
			RawScore:    priority,
			Priority:    priority,
			Confidence:  0.7,
			Uncertainty: 0.3,
		}
	}}
}

type serviceOverrides struct {
	policy   PolicyEvaluator
	capacity CapacityChecker
	intents  IntentSource
	scorer   SalienceScorer
	tracer   *tracer.Tracer
}

func newTestService(t *testing.T, ov serviceOverrides) *Service {
	t.Helper()
	if ov.policy == nil {
		ov.policy = stubPolicy{}
	}
	if ov.capacity == nil {
		ov.capacity = stubCapacity{}
	}
	if ov.intents == nil {
		ov.intents = &stubIntents{}
	}
	if ov.scorer == nil {
		ov.scorer = fixedScore(0.7)
	}
	if ov.tracer == nil {
		ov.tracer = tracer.New(100)
	}
	return NewService(Options{
		Provider: config.NewStaticProvider(config.Default()),
		Policy:   ov.policy,
		Capacity: ov.capacity,
		Intents:  ov.intents,
		Scorer:   ov.scorer,
		Tracer:   ov.tracer,
		Metrics:  telemetry.NewNopMetrics(),
		Logger:   zerolog.Nop(),
	})
}

func validRequest() *domain.GateRequest {
	return &domain.GateRequest{
		RequestID: "req-1",
		SpaceID:   "personal:alex",
		Actor:     domain.Actor{PersonID: "alex", Role: "member"},
		Policy:    domain.PolicyInfo{Band: domain.BandGreen},
		Intent:    domain.IntentRecall,
		Content:   &domain.Content{Text: "where did I leave my keys"},
	}
}

func TestProcessRequestBoost(t *testing.T) {
	traces := tracer.New(100)
	s := newTestService(t, serviceOverrides{scorer: fixedScore(0.85), tracer: traces})

	resp := s.ProcessRequest(context.Background(), validRequest())

	assert.Equal(t, domain.ActionBoost, resp.Decision.Action)
	assert.InDelta(t, 0.85, resp.Decision.Priority, 1e-9)
	assert.Contains(t, resp.Decision.Reasons, "above_boost_threshold")
	assert.Equal(t, TopicRecall, resp.Routing.Topic)
	assert.Equal(t, 11, resp.Routing.Priority)
	assert.Equal(t, 3, resp.Routing.Retry.MaxRetries)

	require.NotNil(t, resp.Trace)
	stored, err := traces.Get(resp.Trace.TraceID)
	require.NoError(t, err)
	assert.Equal(t, "req-1", stored.RequestID)
	assert.Equal(t, []string{
		StageValidation, StagePolicy, StageBackpressure, StageIntent,
		StageSalience, StageAction, StageRouting, StageTrace,
	}, stored.Stages)
}

func TestProcessRequestAdmit(t *testing.T) {
	s := newTestService(t, serviceOverrides{scorer: fixedScore(0.7)})

	resp := s.ProcessRequest(context.Background(), validRequest())

	assert.Equal(t, domain.ActionAdmit, resp.Decision.Action)
	assert.Equal(t, TopicRecall, resp.Routing.Topic)
	assert.Equal(t, 7, resp.Routing.Priority)
	assert.Equal(t, 1, resp.Routing.Retry.MaxRetries)
	assert.InDelta(t, 0.7, resp.Decision.Confidence, 1e-9)
	assert.InDelta(t, 0.3, resp.Decision.Uncertainty, 1e-9)
}

func TestProcessRequestDefer(t *testing.T) {
	s := newTestService(t, serviceOverrides{scorer: fixedScore(0.45)})

	resp := s.ProcessRequest(context.Background(), validRequest())

	assert.Equal(t, domain.ActionDefer, resp.Decision.Action)
	assert.EqualValues(t, 45000, resp.Decision.TTLMillis)
	assert.Equal(t, TopicDeferred, resp.Routing.Topic)
	require.NotNil(t, resp.Routing.Deadline)
}

func TestProcessRequestDrop(t *testing.T) {
	s := newTestService(t, serviceOverrides{scorer: fixedScore(0.1)})

	resp := s.ProcessRequest(context.Background(), validRequest())

	assert.Equal(t, domain.ActionDrop, resp.Decision.Action)
	assert.Zero(t, resp.Decision.Priority)
	assert.Contains(t, resp.Decision.Reasons, "below_drop_threshold")
	assert.Equal(t, TopicDropped, resp.Routing.Topic)
	assert.Zero(t, resp.Routing.Priority)
}

func TestProcessRequestPolicyDropIsTerminal(t *testing.T) {
	intents := &stubIntents{}
	s := newTestService(t, serviceOverrides{
		policy: stubPolicy{result: domain.PolicyResult{
			ShouldDrop: true,
			Reasons:    []string{"band_black_restricted"},
		}},
		intents: intents,
	})

	req := validRequest()
	req.Policy.Band = domain.BandBlack
	resp := s.ProcessRequest(context.Background(), req)

	assert.Equal(t, domain.ActionDrop, resp.Decision.Action)
	assert.Contains(t, resp.Decision.Reasons, "band_black_restricted")
	assert.Equal(t, TopicDropped, resp.Routing.Topic)
	assert.False(t, intents.called, "terminal policy drop must not derive intents")
	assert.NotContains(t, resp.Trace.Stages, StageSalience)
}

func TestProcessRequestBackpressureDrop(t *testing.T) {
	s := newTestService(t, serviceOverrides{
		capacity: stubCapacity{result: domain.BackpressureResult{
			ShouldDrop: true,
			Reasons:    []string{"queue_critical:200"},
		}},
	})

	resp := s.ProcessRequest(context.Background(), validRequest())

	assert.Equal(t, domain.ActionDrop, resp.Decision.Action)
	assert.Equal(t, []string{"backpressure", "queue_critical:200"}, resp.Decision.Reasons)
}

func TestProcessRequestBackpressureDefer(t *testing.T) {
	s := newTestService(t, serviceOverrides{
		capacity: stubCapacity{result: domain.BackpressureResult{
			ShouldDefer:    true,
			Reasons:        []string{"load_high:0.85"},
			EstimatedDelay: 2 * time.Second,
		}},
	})

	resp := s.ProcessRequest(context.Background(), validRequest())

	assert.Equal(t, domain.ActionDefer, resp.Decision.Action)
	assert.EqualValues(t, 2000, resp.Decision.TTLMillis)
	assert.Equal(t, TopicDeferred, resp.Routing.Topic)
}

func TestProcessRequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.GateRequest)
		want   string
	}{
		{"request id", func(r *domain.GateRequest) { r.RequestID = "" }, "error_missing_field:request_id"},
		{"space id", func(r *domain.GateRequest) { r.SpaceID = " " }, "error_missing_field:space_id"},
		{"actor", func(r *domain.GateRequest) { r.Actor.PersonID = "" }, "error_missing_field:actor.person_id"},
		{"band", func(r *domain.GateRequest) { r.Policy.Band = "" }, "error_missing_field:policy.band"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, serviceOverrides{})
			req := validRequest()
			tt.mutate(req)

			resp := s.ProcessRequest(context.Background(), req)
			assert.Equal(t, domain.ActionDrop, resp.Decision.Action)
			assert.Contains(t, resp.Decision.Reasons, tt.want)
			assert.Equal(t, TopicError, resp.Routing.Topic)
			require.NotNil(t, resp.Trace, "error responses still carry a trace")
		})
	}
}

func TestProcessRequestDeclaredIntentBypassesDerivation(t *testing.T) {
	intents := &stubIntents{intents: []domain.DerivedIntent{{Intent: domain.IntentWrite}}}
	s := newTestService(t, serviceOverrides{intents: intents})

	resp := s.ProcessRequest(context.Background(), validRequest())

	assert.False(t, intents.called)
	require.NotEmpty(t, resp.DerivedIntents)
	assert.Equal(t, domain.IntentRecall, resp.DerivedIntents[0].Intent)
	assert.Equal(t, 1.0, resp.DerivedIntents[0].Confidence.Score)
	assert.Equal(t, []string{"declared"}, resp.DerivedIntents[0].Confidence.Sources)
}

func TestProcessRequestDerivesWhenUndeclared(t *testing.T) {
	intents := &stubIntents{intents: []domain.DerivedIntent{{Intent: domain.IntentWrite}}}
	s := newTestService(t, serviceOverrides{intents: intents})

	req := validRequest()
	req.Intent = ""
	resp := s.ProcessRequest(context.Background(), req)

	assert.True(t, intents.called)
	require.NotEmpty(t, resp.DerivedIntents)
	assert.Equal(t, domain.IntentWrite, resp.DerivedIntents[0].Intent)
	assert.Equal(t, TopicWrite, resp.Routing.Topic)
}

func TestProcessRequestObligationsPropagate(t *testing.T) {
	s := newTestService(t, serviceOverrides{
		policy: stubPolicy{result: domain.PolicyResult{
			Obligations: []string{"pii_redaction", "access_log"},
		}},
	})

	resp := s.ProcessRequest(context.Background(), validRequest())
	assert.Equal(t, []string{"pii_redaction", "access_log"}, resp.Decision.Obligations)
}

func TestProcessRequestPanicRecovery(t *testing.T) {
	s := newTestService(t, serviceOverrides{
		scorer: stubScorer{fn: func(*domain.GateRequest, domain.SalienceWeights) salience.Result {
			panic("scorer exploded")
		}},
	})

	resp := s.ProcessRequest(context.Background(), validRequest())

	require.NotNil(t, resp)
	assert.Equal(t, domain.ActionDrop, resp.Decision.Action)
	require.NotEmpty(t, resp.Decision.Reasons)
	assert.True(t, strings.HasPrefix(resp.Decision.Reasons[0], "error_internal:"))
	assert.Equal(t, TopicError, resp.Routing.Topic)
	assert.NotNil(t, resp.Trace)
}

func TestProcessRequestTraceIDCorrelation(t *testing.T) {
	s := newTestService(t, serviceOverrides{})

	req := validRequest()
	req.TraceID = "trace-42"
	resp := s.ProcessRequest(context.Background(), req)
	assert.Equal(t, "trace-42", resp.Trace.TraceID)

	req = validRequest()
	resp = s.ProcessRequest(context.Background(), req)
	assert.NotEmpty(t, resp.Trace.TraceID)
}

func TestProcessRequestDeterministic(t *testing.T) {
	s := newTestService(t, serviceOverrides{scorer: fixedScore(0.7)})

	first := s.ProcessRequest(context.Background(), validRequest())
	for i := 0; i < 5; i++ {
		again := s.ProcessRequest(context.Background(), validRequest())
		assert.Equal(t, first.Decision.Action, again.Decision.Action)
		assert.Equal(t, first.Decision.Priority, again.Decision.Priority)
		assert.Equal(t, first.Routing.Topic, again.Routing.Topic)
	}
}

func TestRecentDecisions(t *testing.T) {
	s := newTestService(t, serviceOverrides{})

	for i := 0; i < 5; i++ {
		s.ProcessRequest(context.Background(), validRequest())
	}

	records := s.RecentDecisions(3)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, "req-1", rec.RequestID)
		assert.NotEmpty(t, rec.TraceID)
	}
}
