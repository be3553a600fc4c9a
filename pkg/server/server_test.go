package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/backpressure"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/gate"
	"github.com/arbiterhq/arbiter/pkg/intent"
	"github.com/arbiterhq/arbiter/pkg/policy"
	"github.com/arbiterhq/arbiter/pkg/router"
	"github.com/arbiterhq/arbiter/pkg/salience"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
	"github.com/arbiterhq/arbiter/pkg/tracer"
)

func newTestServer(t *testing.T, mutate ...func(*Options)) *httptest.Server {
	t.Helper()

	provider := config.NewStaticProvider(config.Default())
	logger := zerolog.Nop()
	metrics := telemetry.NewNopMetrics()

	capacity := backpressure.NewManager(provider, logger)
	traces := tracer.New(100)
	service := gate.NewService(gate.Options{
		Provider: provider,
		Policy:   policy.NewBridge(nil, logger),
		Capacity: capacity,
		Intents:  intent.NewDeriver(nil, logger),
		Scorer:   salience.NewCalculator(logger),
		Tracer:   traces,
		Metrics:  metrics,
		Logger:   logger,
	})

	opts := Options{
		Router:   router.New(provider, metrics, logger),
		Gate:     service,
		Capacity: capacity,
		Tracer:   traces,
		Metrics:  metrics,
		Logger:   logger,
	}
	for _, m := range mutate {
		m(&opts)
	}
	srv := New(opts)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouteEndpoint(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]any{
		"headers": map[string]string{
			"x-intent":            "RECALL",
			"x-intent-confidence": "0.95",
		},
		"payload":  map[string]any{"query": "team standup notes"},
		"metadata": map[string]any{"band": "GREEN"},
	}
	resp := postJSON(t, ts.URL+"/v1/route", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[domain.RoutingResult](t, resp)
	assert.Equal(t, domain.FastPath, result.Decision)
	assert.Equal(t, domain.ReasonValidIntent, result.Reason.Code)
}

func TestRouteEndpointRejectsBadJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/route", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateEndpointAndTraceLookup(t *testing.T) {
	ts := newTestServer(t)

	req := &domain.GateRequest{
		RequestID: "req-1",
		SpaceID:   "personal:alex",
		Actor:     domain.Actor{PersonID: "alex", Role: "member"},
		Policy:    domain.PolicyInfo{Band: domain.BandGreen},
		Content:   &domain.Content{Text: "save my packing list, it is important"},
	}
	resp := postJSON(t, ts.URL+"/v1/gate", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	gateResp := decode[domain.GateResponse](t, resp)
	assert.NotEmpty(t, gateResp.Decision.Action)
	require.NotNil(t, gateResp.Trace)

	// The stored trace is retrievable by ID.
	lookup, err := http.Get(ts.URL + "/v1/traces/" + gateResp.Trace.TraceID)
	require.NoError(t, err)
	trace := decode[domain.DecisionTrace](t, lookup)
	assert.Equal(t, "req-1", trace.RequestID)

	// And explainable as plain text.
	explain, err := http.Get(ts.URL + "/v1/traces/" + gateResp.Trace.TraceID + "?explain=true")
	require.NoError(t, err)
	defer explain.Body.Close()
	assert.Equal(t, http.StatusOK, explain.StatusCode)
	assert.Contains(t, explain.Header.Get("Content-Type"), "text/plain")
}

func TestTraceNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/traces/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[map[string]any](t, resp)
	assert.Contains(t, stats, "backpressure")
	assert.Contains(t, stats, "traces")
}

type recordingSink struct {
	features  domain.SalienceFeatures
	predicted float64
	outcome   float64
	called    bool
}

func (r *recordingSink) Observe(f domain.SalienceFeatures, predicted, outcome float64) {
	r.features = f
	r.predicted = predicted
	r.outcome = outcome
	r.called = true
}

func TestFeedbackEndpointFeedsSink(t *testing.T) {
	sink := &recordingSink{}
	ts := newTestServer(t, func(o *Options) { o.Feedback = sink })

	req := &domain.GateRequest{
		RequestID: "req-1",
		SpaceID:   "personal:alex",
		Actor:     domain.Actor{PersonID: "alex", Role: "member"},
		Policy:    domain.PolicyInfo{Band: domain.BandGreen},
		Content:   &domain.Content{Text: "save my packing list, it is important"},
	}
	resp := postJSON(t, ts.URL+"/v1/gate", req)
	gateResp := decode[domain.GateResponse](t, resp)
	require.NotNil(t, gateResp.Trace)

	fb := postJSON(t, ts.URL+"/v1/feedback", map[string]any{
		"trace_id": gateResp.Trace.TraceID,
		"outcome":  0.9,
	})
	defer fb.Body.Close()
	require.Equal(t, http.StatusAccepted, fb.StatusCode)

	assert.True(t, sink.called)
	assert.Equal(t, 0.9, sink.outcome)
	assert.Equal(t, gateResp.Trace.Calibrated, sink.predicted)
	assert.Equal(t, gateResp.Trace.Features, sink.features)
}

func TestFeedbackEndpointRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"missing trace id", map[string]any{"outcome": 0.5}, http.StatusBadRequest},
		{"outcome out of range", map[string]any{"trace_id": "x", "outcome": 1.5}, http.StatusBadRequest},
		{"unknown trace", map[string]any{"trace_id": "nope", "outcome": 0.5}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/feedback", tt.body)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestGateEndpointErrorStillResponds(t *testing.T) {
	ts := newTestServer(t)

	// Missing required fields degrade to a DROP on the error topic, never an
	// HTTP error.
	resp := postJSON(t, ts.URL+"/v1/gate", &domain.GateRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	gateResp := decode[domain.GateResponse](t, resp)
	assert.Equal(t, domain.ActionDrop, gateResp.Decision.Action)
	assert.Equal(t, gate.TopicError, gateResp.Routing.Topic)
}
