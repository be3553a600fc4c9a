package domain

import "context"

// PolicyQuery is the input to the external ABAC policy service.
type PolicyQuery struct {
	ActorID            string         `json:"actor_id"`
	ResourceType       string         `json:"resource_type"`
	Action             string         `json:"action"`
	ResourceAttributes map[string]any `json:"resource_attributes,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
}

// Policy service decisions.
const (
	PolicyPermit = "PERMIT"
	PolicyDeny   = "DENY"
)

// PolicyVerdict is the outcome of an external policy evaluation.
type PolicyVerdict struct {
	Decision    string         `json:"decision"`
	Reasons     []string       `json:"reasons,omitempty"`
	Obligations []string       `json:"obligations,omitempty"`
	Advice      map[string]any `json:"advice,omitempty"`
	Confidence  float64        `json:"confidence"`
	Version     string         `json:"version,omitempty"`
}

// PolicyService is the contract with the external ABAC engine. The policy
// bridge consults it when configured; evaluation failure is treated as a deny
// (fail-closed).
type PolicyService interface {
	Evaluate(ctx context.Context, query PolicyQuery) (PolicyVerdict, error)
}
