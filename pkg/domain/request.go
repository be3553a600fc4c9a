package domain

import "time"

// Band is the security/sensitivity classification of a request or space.
// Restriction increases from GREEN to BLACK.
type Band string

const (
	BandGreen Band = "GREEN"
	BandAmber Band = "AMBER"
	BandRed   Band = "RED"
	BandBlack Band = "BLACK"
)

// Valid reports whether the band is one of the four known classifications.
func (b Band) Valid() bool {
	switch b {
	case BandGreen, BandAmber, BandRed, BandBlack:
		return true
	}
	return false
}

// Intent identifies what a request wants the downstream platform to do.
type Intent string

const (
	IntentRecall              Intent = "RECALL"
	IntentWrite               Intent = "WRITE"
	IntentProspectiveSchedule Intent = "PROSPECTIVE_SCHEDULE"
	IntentProject             Intent = "PROJECT"
	IntentHippoEncode         Intent = "HIPPO_ENCODE"
	IntentUnknown             Intent = "UNKNOWN"
)

// Actor identifies the caller on whose behalf a request runs.
type Actor struct {
	PersonID string `json:"person_id" yaml:"person_id"`
	Role     string `json:"role" yaml:"role"`
}

// PolicyInfo carries the caller-supplied policy envelope.
type PolicyInfo struct {
	Band        Band           `json:"band" yaml:"band"`
	ABAC        map[string]any `json:"abac,omitempty" yaml:"abac,omitempty"`
	Obligations []string       `json:"obligations,omitempty" yaml:"obligations,omitempty"`
}

// Content is the optional free-text body attached to a request.
type Content struct {
	Text        string   `json:"text" yaml:"text"`
	Type        string   `json:"type" yaml:"type"`
	Attachments []string `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// AffectSignals is the read-only sentiment bundle produced by the affect
// subsystem. Valence is in [-1,1], arousal and confidence in [0,1].
type AffectSignals struct {
	Valence    float64  `json:"valence" yaml:"valence"`
	Arousal    float64  `json:"arousal" yaml:"arousal"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// HasTag reports whether the affect bundle carries the given tag.
func (a *AffectSignals) HasTag(tag string) bool {
	if a == nil {
		return false
	}
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// QoS carries the caller's latency budget and device thermal state.
type QoS struct {
	BudgetMS int    `json:"budget_ms" yaml:"budget_ms"`
	Thermal  string `json:"thermal" yaml:"thermal"`
}

// RequestContext carries situational hints used by salience scoring.
type RequestContext struct {
	RecentSimilarCount int  `json:"recent_similar_count" yaml:"recent_similar_count"`
	ChildPresent       bool `json:"child_present" yaml:"child_present"`
	// TimeOfDay is the local hour of day, 0-23.
	TimeOfDay int `json:"time_of_day" yaml:"time_of_day"`
}

// ConversationContext carries dialogue-flow markers from the conversation the
// request belongs to.
type ConversationContext struct {
	MessageType string `json:"message_type" yaml:"message_type"`
	TurnCount   int    `json:"turn_count" yaml:"turn_count"`
}

// GateRequest is the immutable input to the smart path. It is built by the
// caller once per request and is read-only through the pipeline.
type GateRequest struct {
	RequestID string         `json:"request_id"`
	Actor     Actor          `json:"actor"`
	SpaceID   string         `json:"space_id"`
	Policy    PolicyInfo     `json:"policy"`
	Payload   map[string]any `json:"payload,omitempty"`

	// Intent is the declared intent, if the caller already knows it. When
	// empty the gate derives candidates heuristically.
	Intent Intent `json:"intent,omitempty"`

	Content             *Content             `json:"content,omitempty"`
	ConversationContext *ConversationContext `json:"conversation_context,omitempty"`
	Affect              *AffectSignals       `json:"affect,omitempty"`
	QoS                 *QoS                 `json:"qos,omitempty"`
	Context             *RequestContext      `json:"context,omitempty"`

	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}
