package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

const defaultEntrypoint = "arbiter/authz/decision"

// OPAServiceOptions control construction of the embedded ABAC evaluator.
type OPAServiceOptions struct {
	// Entrypoint is the decision document path (e.g. "arbiter/authz/decision").
	Entrypoint string
	// Modules maps module names to Rego source.
	Modules map[string]string
}

// OPAService implements domain.PolicyService with an embedded OPA instance.
// It backs deployments that do not run a standalone policy engine.
type OPAService struct {
	entrypoint string
	prepared   rego.PreparedEvalQuery
	mu         sync.RWMutex
}

// NewOPAService compiles the supplied Rego modules and prepares the decision
// query, surfacing syntax errors at startup rather than per request.
func NewOPAService(ctx context.Context, opts OPAServiceOptions) (*OPAService, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}
	if len(opts.Modules) == 0 {
		return nil, errors.New("opa policy service requires at least one rego module")
	}

	names := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := []func(*rego.Rego){
		rego.Query(fmt.Sprintf("result := data.%s", strings.ReplaceAll(entry, "/", "."))),
	}
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return &OPAService{entrypoint: entry, prepared: prepared}, nil
}

// Evaluate runs the decision document against the query and converts the
// result document into a PolicyVerdict. An undefined result is a deny.
func (s *OPAService) Evaluate(ctx context.Context, query domain.PolicyQuery) (domain.PolicyVerdict, error) {
	input := map[string]any{
		"actor_id":            query.ActorID,
		"resource_type":       query.ResourceType,
		"action":              query.Action,
		"resource_attributes": query.ResourceAttributes,
		"context":             query.Context,
	}

	s.mu.RLock()
	prepared := s.prepared
	s.mu.RUnlock()

	results, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.PolicyVerdict{}, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Bindings) == 0 {
		return domain.PolicyVerdict{Decision: domain.PolicyDeny, Reasons: []string{"decision_undefined"}}, nil
	}

	doc, ok := results[0].Bindings["result"].(map[string]any)
	if !ok {
		return domain.PolicyVerdict{Decision: domain.PolicyDeny, Reasons: []string{"decision_malformed"}}, nil
	}

	verdict := domain.PolicyVerdict{Decision: domain.PolicyDeny, Confidence: 1.0}
	if allow, ok := doc["allow"].(bool); ok && allow {
		verdict.Decision = domain.PolicyPermit
	}
	verdict.Reasons = toStringSlice(doc["reasons"])
	verdict.Obligations = toStringSlice(doc["obligations"])
	if advice, ok := doc["advice"].(map[string]any); ok {
		verdict.Advice = advice
	}
	if conf, ok := doc["confidence"].(float64); ok {
		verdict.Confidence = conf
	}
	if version, ok := doc["version"].(string); ok {
		verdict.Version = version
	}
	return verdict, nil
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
