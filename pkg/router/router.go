// Package router implements the deterministic fast-path/smart-path
// classifier that triages every inbound request before it may consume
// downstream compute. Checks run in a strict order and the first failure
// wins; any unexpected fault escalates to the smart path (fail-closed). The
// router never returns an error to its caller.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
)

// Headers the router inspects before falling back to the payload.
const (
	HeaderIntent     = "x-intent"
	HeaderConfidence = "x-intent-confidence"
)

// Request is the inbound envelope the router classifies.
type Request struct {
	Headers map[string]string `json:"headers,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`
}

// Metadata carries caller attributes resolved by the transport layer.
type Metadata struct {
	Band    domain.Band `json:"band,omitempty"`
	ActorID string      `json:"actor_id,omitempty"`
}

// Router decides whether a request may take the fast path. It reads the
// configuration snapshot on every call, so reloads apply immediately.
type Router struct {
	provider *config.Provider
	limiter  *rateLimiter
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Router.
func New(provider *config.Provider, metrics *telemetry.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		provider: provider,
		limiter:  newRateLimiter(provider.Current().Config.Router.RateLimit),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconfigure reapplies rate-limit settings after a config reload. Other
// checks pick the new snapshot up automatically.
func (r *Router) Reconfigure() {
	r.limiter.configure(r.provider.Current().Config.Router.RateLimit)
}

// Route classifies a request. It never panics or returns an error: faults
// degrade to SMART_PATH with reason router_error.
func (r *Router) Route(ctx context.Context, req Request, md Metadata) (result domain.RoutingResult) {
	start := r.now()

	defer func() {
		if rec := recover(); rec != nil {
			result = domain.RoutingResult{
				Decision: domain.SmartPath,
				Reason: domain.RouteReason{
					Code:    domain.ReasonRouterError,
					Message: fmt.Sprintf("unexpected routing fault: %v", rec),
				},
			}
		}
		result.ExecutionTimeUS = time.Since(start).Microseconds()
		r.metrics.ObserveRouterDecision(result)
		r.logger.Debug().
			Str("decision", string(result.Decision)).
			Str("intent", string(result.Intent)).
			Str("reason", result.Reason.Code).
			Int64("duration_us", result.ExecutionTimeUS).
			Msg("routing decision")
	}()

	cfg := r.provider.Current().Config.Router
	return r.route(ctx, req, md, cfg)
}

func (r *Router) route(_ context.Context, req Request, md Metadata, cfg config.RouterConfig) domain.RoutingResult {
	rules := r.provider.Current().Config.IntentRules

	// 1. Intent must be declared and on the allow-list.
	intent, declared := extractIntent(req)
	if !declared || !contains(cfg.AllowedIntents, intent) {
		return smartPath(domain.ReasonUnknownIntent, "intent missing or not allowed", map[string]any{"intent": intent})
	}

	// 2. Declared confidence must clear the per-intent threshold.
	confidence := extractConfidence(req)
	threshold := cfg.DefaultConfidenceThreshold
	if per, ok := rules.Confidence[intent]; ok {
		threshold = per
	}
	if confidence < threshold {
		res := smartPath(domain.ReasonLowConfidence,
			fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, threshold),
			map[string]any{"confidence": confidence, "threshold": threshold})
		res.Intent = domain.Intent(intent)
		res.Confidence = confidence
		return res
	}

	// 3. Eligibility: required fields, payload ceiling, intent-specific rules.
	if res, ok := r.checkEligibility(req, intent, cfg); !ok {
		res.Intent = domain.Intent(intent)
		res.Confidence = confidence
		return res
	}

	// 4. Band policy: the caller's band must allow this intent on the fast path.
	band := md.Band
	if band == "" {
		band = domain.BandGreen
	}
	allowed, ok := cfg.BandIntents[string(band)]
	if !ok || !contains(allowed, intent) {
		res := smartPath(domain.ReasonPolicyBand,
			fmt.Sprintf("band %s does not permit fast-path %s", band, intent),
			map[string]any{"band": string(band)})
		res.Intent = domain.Intent(intent)
		res.Confidence = confidence
		return res
	}

	// 5. Per-intent rate limit.
	if !r.limiter.allow(intent) {
		res := smartPath(domain.ReasonRateLimited, "fast-path token budget exhausted", map[string]any{"intent": intent})
		res.Intent = domain.Intent(intent)
		res.Confidence = confidence
		return res
	}

	// 6. All checks passed.
	return domain.RoutingResult{
		Decision:   domain.FastPath,
		Reason:     domain.RouteReason{Code: domain.ReasonValidIntent, Message: "all fast-path checks passed"},
		Intent:     domain.Intent(intent),
		Confidence: confidence,
	}
}

func (r *Router) checkEligibility(req Request, intent string, cfg config.RouterConfig) (domain.RoutingResult, bool) {
	data, err := json.Marshal(req.Payload)
	if err != nil {
		// Unserializable payloads cannot be validated; fail closed.
		return smartPath(domain.ReasonRouterError, fmt.Sprintf("payload not serializable: %v", err), nil), false
	}

	if cfg.MaxPayloadBytes > 0 && len(data) > cfg.MaxPayloadBytes {
		return smartPath(domain.ReasonEligibilityFailed,
			fmt.Sprintf("payload %d bytes exceeds ceiling %d", len(data), cfg.MaxPayloadBytes),
			map[string]any{"field": "payload", "size": len(data)}), false
	}

	for _, path := range cfg.RequiredFields[intent] {
		if !gjson.GetBytes(data, path).Exists() {
			return smartPath(domain.ReasonEligibilityFailed,
				fmt.Sprintf("required field %q missing", path),
				map[string]any{"field": path}), false
		}
	}

	if intent == string(domain.IntentRecall) {
		query := gjson.GetBytes(data, "query").String()
		minLen, maxLen := cfg.RecallQueryMinLen, cfg.RecallQueryMaxLen
		if minLen > 0 && len(query) < minLen {
			return smartPath(domain.ReasonEligibilityFailed,
				fmt.Sprintf("query length %d below minimum %d", len(query), minLen),
				map[string]any{"field": "query"}), false
		}
		if maxLen > 0 && len(query) > maxLen {
			return smartPath(domain.ReasonEligibilityFailed,
				fmt.Sprintf("query length %d above maximum %d", len(query), maxLen),
				map[string]any{"field": "query"}), false
		}
	}

	return domain.RoutingResult{}, true
}

func smartPath(code, message string, ctx map[string]any) domain.RoutingResult {
	return domain.RoutingResult{
		Decision: domain.SmartPath,
		Reason:   domain.RouteReason{Code: code, Message: message, Context: ctx},
	}
}

func extractIntent(req Request) (string, bool) {
	if v, ok := req.Headers[HeaderIntent]; ok && v != "" {
		return strings.ToUpper(strings.TrimSpace(v)), true
	}
	if v, ok := req.Payload["intent"].(string); ok && v != "" {
		return strings.ToUpper(strings.TrimSpace(v)), true
	}
	return "", false
}

// extractConfidence parses the declared confidence, defaulting to 0.0 on any
// parse failure so that malformed values route to the smart path.
func extractConfidence(req Request) float64 {
	if v, ok := req.Headers[HeaderConfidence]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
		return 0
	}
	switch v := req.Payload["confidence"].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case int:
		return float64(v)
	}
	return 0
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
