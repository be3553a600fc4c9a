package domain

// RouteDecision says whether a request may take the cheap fast path or must be
// escalated to the full attention gate.
type RouteDecision string

const (
	FastPath  RouteDecision = "FAST_PATH"
	SmartPath RouteDecision = "SMART_PATH"
)

// Router reason codes. The reason always reflects the first failing check in
// the fixed order intent -> confidence -> eligibility -> band -> rate limit.
const (
	ReasonValidIntent       = "valid_intent"
	ReasonUnknownIntent     = "unknown_intent"
	ReasonLowConfidence     = "low_confidence"
	ReasonEligibilityFailed = "eligibility_failed"
	ReasonPolicyBand        = "policy_band"
	ReasonRateLimited       = "rate_limited"
	ReasonRouterError       = "router_error"
)

// RouteReason explains a routing decision.
type RouteReason struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// RoutingResult is the router's synchronous output.
type RoutingResult struct {
	Decision        RouteDecision `json:"decision"`
	Reason          RouteReason   `json:"reason"`
	Intent          Intent        `json:"intent,omitempty"`
	Confidence      float64       `json:"confidence,omitempty"`
	ExecutionTimeUS int64         `json:"execution_time_us"`
}
