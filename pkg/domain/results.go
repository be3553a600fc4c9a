package domain

import "time"

// BackpressureResult is a capacity snapshot computed per request from the
// shared sliding-window state. Reasons accumulate across all checks.
type BackpressureResult struct {
	ShouldDefer    bool          `json:"should_defer"`
	ShouldDrop     bool          `json:"should_drop"`
	Reasons        []string      `json:"reasons,omitempty"`
	CurrentLoad    float64       `json:"current_load"`
	EstimatedDelay time.Duration `json:"estimated_delay_ms"`
}

// BandRestrictions are the processing constraints a policy band imposes on an
// otherwise-permitted request.
type BandRestrictions struct {
	MaxProcessingMS  int  `json:"max_processing_ms,omitempty"`
	ContentFiltering bool `json:"content_filtering,omitempty"`
	AuditRequired    bool `json:"audit_required,omitempty"`
}

// PolicyResult is the union-merged verdict of the policy bridge layers.
type PolicyResult struct {
	ShouldDrop       bool             `json:"should_drop"`
	Reasons          []string         `json:"reasons,omitempty"`
	Obligations      []string         `json:"obligations,omitempty"`
	BandRestrictions BandRestrictions `json:"band_restrictions"`
}

// IntentConfidence scores a derived intent candidate and records where the
// score came from.
type IntentConfidence struct {
	Score    float64  `json:"score"`
	Sources  []string `json:"sources"`
	Evidence []string `json:"evidence,omitempty"`
}

// DerivedIntent is a candidate intent produced when the request declared none.
type DerivedIntent struct {
	Intent     Intent           `json:"intent"`
	Confidence IntentConfidence `json:"confidence"`
	Reasoning  string           `json:"reasoning,omitempty"`
}
