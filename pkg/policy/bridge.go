// Package policy implements the policy bridge: per-request evaluation of
// band, space, actor and content rules, plus an optional consultation of the
// external ABAC policy service. A violation is never silently allowed; the
// bridge either drops or attaches obligations.
package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

const maxContentBytes = 50 * 1024

// Obligation names attached to otherwise-permitted decisions.
const (
	ObligationAudit             = "audit_log"
	ObligationContentFilter     = "content_filtering"
	ObligationAccessLog         = "access_log"
	ObligationRedactPII         = "pii_redaction"
	ObligationFamilyProtection  = "family_data_protection"
	ObligationPersonalPrivacy   = "personal_privacy"
	ObligationSharedSpaceAudit  = "shared_space_audit"
	ObligationGuestAudit        = "guest_audit"
	ObligationChildSafety       = "child_safety"
	ObligationParentalOversight = "parental_oversight"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{1,3}[\s\-.]?\(?\d{2,4}\)?[\s\-.]?\d{3,4}[\s\-.]?\d{3,4}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	sensitiveKeywords = []string{"password", "secret", "private key", "credential", "token"}
)

// Bridge evaluates the four policy layers for each request. It is stateless
// per call; the optional ABAC service is the only external dependency.
type Bridge struct {
	abac   domain.PolicyService
	logger zerolog.Logger
}

// NewBridge creates a Bridge. abac may be nil, in which case only the local
// layers run.
func NewBridge(abac domain.PolicyService, logger zerolog.Logger) *Bridge {
	return &Bridge{abac: abac, logger: logger}
}

// EvaluatePolicy runs the band, space, actor and content layers, merging
// should_drop by union and deduplicating obligations.
func (b *Bridge) EvaluatePolicy(ctx context.Context, req *domain.GateRequest) domain.PolicyResult {
	var merged domain.PolicyResult

	layers := []domain.PolicyResult{
		b.evaluateBand(req),
		b.evaluateSpace(req),
		b.evaluateActor(req),
	}
	if req.Content != nil {
		layers = append(layers, b.evaluateContent(req))
	}
	if b.abac != nil {
		layers = append(layers, b.evaluateABAC(ctx, req))
	}

	seen := make(map[string]struct{})
	for _, layer := range layers {
		merged.ShouldDrop = merged.ShouldDrop || layer.ShouldDrop
		merged.Reasons = append(merged.Reasons, layer.Reasons...)
		for _, ob := range layer.Obligations {
			if _, dup := seen[ob]; dup {
				continue
			}
			seen[ob] = struct{}{}
			merged.Obligations = append(merged.Obligations, ob)
		}
		merged.BandRestrictions = mergeRestrictions(merged.BandRestrictions, layer.BandRestrictions)
	}
	return merged
}

func mergeRestrictions(a, b domain.BandRestrictions) domain.BandRestrictions {
	out := a
	if b.MaxProcessingMS > 0 && (out.MaxProcessingMS == 0 || b.MaxProcessingMS < out.MaxProcessingMS) {
		out.MaxProcessingMS = b.MaxProcessingMS
	}
	out.ContentFiltering = out.ContentFiltering || b.ContentFiltering
	out.AuditRequired = out.AuditRequired || b.AuditRequired
	return out
}

func hasOverrideToken(req *domain.GateRequest) bool {
	if tok, ok := req.Policy.ABAC["override_token"].(string); ok && tok != "" {
		return true
	}
	return false
}

func (b *Bridge) evaluateBand(req *domain.GateRequest) domain.PolicyResult {
	switch req.Policy.Band {
	case domain.BandBlack:
		if req.Actor.Role == "system" || hasOverrideToken(req) {
			return domain.PolicyResult{
				Obligations:      []string{ObligationAudit},
				BandRestrictions: domain.BandRestrictions{AuditRequired: true, MaxProcessingMS: 1000},
			}
		}
		return domain.PolicyResult{
			ShouldDrop: true,
			Reasons:    []string{"band_black_restricted"},
		}
	case domain.BandRed:
		if !hasOverrideToken(req) {
			return domain.PolicyResult{
				ShouldDrop: true,
				Reasons:    []string{"band_red_requires_override"},
			}
		}
		return domain.PolicyResult{
			Obligations:      []string{ObligationAudit},
			BandRestrictions: domain.BandRestrictions{AuditRequired: true, MaxProcessingMS: 2000},
		}
	case domain.BandAmber:
		return domain.PolicyResult{
			Obligations:      []string{ObligationContentFilter, ObligationAccessLog},
			BandRestrictions: domain.BandRestrictions{ContentFiltering: true, MaxProcessingMS: 5000},
		}
	case domain.BandGreen:
		return domain.PolicyResult{
			BandRestrictions: domain.BandRestrictions{MaxProcessingMS: 10000},
		}
	default:
		return domain.PolicyResult{
			ShouldDrop: true,
			Reasons:    []string{fmt.Sprintf("band_unknown:%s", req.Policy.Band)},
		}
	}
}

func (b *Bridge) evaluateSpace(req *domain.GateRequest) domain.PolicyResult {
	space := strings.TrimSpace(req.SpaceID)
	if space == "" {
		return domain.PolicyResult{
			ShouldDrop: true,
			Reasons:    []string{"space_missing"},
		}
	}

	var result domain.PolicyResult
	switch {
	case strings.HasPrefix(space, "family:"):
		result.Obligations = append(result.Obligations, ObligationFamilyProtection)
	case strings.HasPrefix(space, "personal:"):
		result.Obligations = append(result.Obligations, ObligationPersonalPrivacy)
	case strings.HasPrefix(space, "shared:"):
		result.Obligations = append(result.Obligations, ObligationSharedSpaceAudit)
	}
	return result
}

func (b *Bridge) evaluateActor(req *domain.GateRequest) domain.PolicyResult {
	if strings.TrimSpace(req.Actor.PersonID) == "" {
		return domain.PolicyResult{
			ShouldDrop: true,
			Reasons:    []string{"actor_missing"},
		}
	}
	if suspended, ok := req.Policy.ABAC["suspended"].(bool); ok && suspended {
		return domain.PolicyResult{
			ShouldDrop: true,
			Reasons:    []string{"actor_suspended"},
		}
	}

	var result domain.PolicyResult
	switch req.Actor.Role {
	case "guest":
		result.Obligations = append(result.Obligations, ObligationGuestAudit)
	case "child":
		result.Obligations = append(result.Obligations, ObligationChildSafety, ObligationParentalOversight)
	}
	return result
}

func (b *Bridge) evaluateContent(req *domain.GateRequest) domain.PolicyResult {
	var result domain.PolicyResult
	text := req.Content.Text

	if len(text) > maxContentBytes {
		result.ShouldDrop = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("content_oversize:%d", len(text)))
		return result
	}

	if req.Policy.Band == domain.BandRed || req.Policy.Band == domain.BandBlack {
		lower := strings.ToLower(text)
		for _, kw := range sensitiveKeywords {
			if strings.Contains(lower, kw) {
				result.ShouldDrop = true
				result.Reasons = append(result.Reasons, fmt.Sprintf("content_sensitive:%s", kw))
				break
			}
		}
	}

	if emailPattern.MatchString(text) || phonePattern.MatchString(text) || ssnPattern.MatchString(text) {
		result.Obligations = append(result.Obligations, ObligationRedactPII)
	}
	return result
}

// evaluateABAC consults the external policy service. Unavailability is
// fail-closed: the request drops with an audit obligation rather than
// bypassing the engine.
func (b *Bridge) evaluateABAC(ctx context.Context, req *domain.GateRequest) domain.PolicyResult {
	verdict, err := b.abac.Evaluate(ctx, domain.PolicyQuery{
		ActorID:      req.Actor.PersonID,
		ResourceType: "space",
		Action:       string(req.Intent),
		ResourceAttributes: map[string]any{
			"space_id": req.SpaceID,
			"band":     string(req.Policy.Band),
		},
		Context: map[string]any{
			"role": req.Actor.Role,
		},
	})
	if err != nil {
		b.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("abac evaluation failed, failing closed")
		return domain.PolicyResult{
			ShouldDrop:  true,
			Reasons:     []string{"abac_unavailable"},
			Obligations: []string{ObligationAudit},
		}
	}
	if verdict.Decision == domain.PolicyDeny {
		reasons := verdict.Reasons
		if len(reasons) == 0 {
			reasons = []string{"abac_deny"}
		}
		return domain.PolicyResult{
			ShouldDrop:  true,
			Reasons:     reasons,
			Obligations: verdict.Obligations,
		}
	}
	return domain.PolicyResult{Obligations: verdict.Obligations}
}
