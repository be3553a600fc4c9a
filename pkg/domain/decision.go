package domain

import "time"

// Action is the admission verdict for a smart-path request.
type Action string

const (
	ActionAdmit Action = "ADMIT"
	ActionBoost Action = "BOOST"
	ActionDefer Action = "DEFER"
	ActionDrop  Action = "DROP"
)

// GateDecision is the four-action verdict produced once per request.
// Priority is always clamped to [0,1]; a DROP reports priority 0. A DEFER
// always carries TTLMillis > 0.
type GateDecision struct {
	Action      Action   `json:"action"`
	Priority    float64  `json:"priority"`
	Reasons     []string `json:"reasons,omitempty"`
	Obligations []string `json:"obligations,omitempty"`
	TTLMillis   int64    `json:"ttl_ms,omitempty"`
	Confidence  float64  `json:"confidence"`
	Uncertainty float64  `json:"uncertainty"`
}

// RetryPolicy describes how downstream consumers should retry delivery.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// RoutingInfo is the envelope handed to the message bus. Topic names are the
// only wire-visible contract of the gate.
type RoutingInfo struct {
	Topic    string      `json:"topic"`
	Priority int         `json:"priority"`
	Deadline *time.Time  `json:"deadline,omitempty"`
	Retry    RetryPolicy `json:"retry_policy"`
}

// GateResponse is the full output of the smart path. Its trace correlates 1:1
// with the originating request via the trace ID.
type GateResponse struct {
	Decision       GateDecision    `json:"decision"`
	DerivedIntents []DerivedIntent `json:"derived_intents,omitempty"`
	Routing        RoutingInfo     `json:"routing"`
	Trace          *DecisionTrace  `json:"trace,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Thresholds are the action-selection cut points on the calibrated priority.
type Thresholds struct {
	Admit float64 `json:"admit" yaml:"admit"`
	Boost float64 `json:"boost" yaml:"boost"`
	Drop  float64 `json:"drop" yaml:"drop"`
}

// DecisionTrace is the explainability record built for every decision,
// including terminal error decisions. It never influences the decision it
// describes.
type DecisionTrace struct {
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id"`

	Features   SalienceFeatures `json:"features"`
	Weights    SalienceWeights  `json:"weights"`
	RawScore   float64          `json:"raw_score"`
	Calibrated float64          `json:"calibrated_priority"`
	Thresholds Thresholds       `json:"thresholds"`

	// Stages is the ordered list of pipeline stage names visited.
	Stages []string `json:"stages"`

	Action        Action        `json:"action"`
	Reasons       []string      `json:"reasons,omitempty"`
	ExecutionTime time.Duration `json:"execution_time_ns"`
	CreatedAt     time.Time     `json:"created_at"`
}
