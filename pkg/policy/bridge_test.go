package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

type mockPolicyService struct {
	mock.Mock
}

func (m *mockPolicyService) Evaluate(ctx context.Context, query domain.PolicyQuery) (domain.PolicyVerdict, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(domain.PolicyVerdict), args.Error(1)
}

func baseRequest(band domain.Band) *domain.GateRequest {
	return &domain.GateRequest{
		RequestID: "req-1",
		SpaceID:   "personal:alex",
		Actor:     domain.Actor{PersonID: "alex", Role: "member"},
		Policy:    domain.PolicyInfo{Band: band},
	}
}

func TestEvaluateBandMatrix(t *testing.T) {
	b := NewBridge(nil, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name       string
		req        *domain.GateRequest
		wantDrop   bool
		wantReason string
	}{
		{
			name: "green passes without obligations",
			req:  baseRequest(domain.BandGreen),
		},
		{
			name: "amber passes with filtering obligations",
			req:  baseRequest(domain.BandAmber),
		},
		{
			name:       "red drops without override",
			req:        baseRequest(domain.BandRed),
			wantDrop:   true,
			wantReason: "band_red_requires_override",
		},
		{
			name: "red passes with override token",
			req: func() *domain.GateRequest {
				r := baseRequest(domain.BandRed)
				r.Policy.ABAC = map[string]any{"override_token": "tok-1"}
				return r
			}(),
		},
		{
			name:       "black drops for regular actors",
			req:        baseRequest(domain.BandBlack),
			wantDrop:   true,
			wantReason: "band_black_restricted",
		},
		{
			name: "black permits system role",
			req: func() *domain.GateRequest {
				r := baseRequest(domain.BandBlack)
				r.Actor.Role = "system"
				return r
			}(),
		},
		{
			name:       "unknown band drops",
			req:        baseRequest(domain.Band("PURPLE")),
			wantDrop:   true,
			wantReason: "band_unknown:PURPLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := b.EvaluatePolicy(ctx, tt.req)
			assert.Equal(t, tt.wantDrop, result.ShouldDrop)
			if tt.wantReason != "" {
				assert.Contains(t, result.Reasons, tt.wantReason)
			}
		})
	}
}

func TestEvaluateSpaceObligations(t *testing.T) {
	b := NewBridge(nil, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		space string
		want  string
	}{
		{"family:chen", ObligationFamilyProtection},
		{"personal:alex", ObligationPersonalPrivacy},
		{"shared:kitchen", ObligationSharedSpaceAudit},
	}
	for _, tt := range tests {
		req := baseRequest(domain.BandGreen)
		req.SpaceID = tt.space
		result := b.EvaluatePolicy(ctx, req)
		assert.False(t, result.ShouldDrop, tt.space)
		assert.Contains(t, result.Obligations, tt.want, tt.space)
	}
}

func TestEvaluateActor(t *testing.T) {
	b := NewBridge(nil, zerolog.Nop())
	ctx := context.Background()

	t.Run("missing person drops", func(t *testing.T) {
		req := baseRequest(domain.BandGreen)
		req.Actor.PersonID = " "
		result := b.EvaluatePolicy(ctx, req)
		assert.True(t, result.ShouldDrop)
		assert.Contains(t, result.Reasons, "actor_missing")
	})

	t.Run("suspended actor drops", func(t *testing.T) {
		req := baseRequest(domain.BandGreen)
		req.Policy.ABAC = map[string]any{"suspended": true}
		result := b.EvaluatePolicy(ctx, req)
		assert.True(t, result.ShouldDrop)
		assert.Contains(t, result.Reasons, "actor_suspended")
	})

	t.Run("child role attaches safety obligations", func(t *testing.T) {
		req := baseRequest(domain.BandGreen)
		req.Actor.Role = "child"
		result := b.EvaluatePolicy(ctx, req)
		assert.False(t, result.ShouldDrop)
		assert.Contains(t, result.Obligations, ObligationChildSafety)
		assert.Contains(t, result.Obligations, ObligationParentalOversight)
	})
}

func TestEvaluateContent(t *testing.T) {
	b := NewBridge(nil, zerolog.Nop())
	ctx := context.Background()

	t.Run("oversize content drops", func(t *testing.T) {
		req := baseRequest(domain.BandGreen)
		req.Content = &domain.Content{Text: strings.Repeat("x", maxContentBytes+1)}
		result := b.EvaluatePolicy(ctx, req)
		assert.True(t, result.ShouldDrop)
		require.NotEmpty(t, result.Reasons)
		assert.Contains(t, result.Reasons[len(result.Reasons)-1], "content_oversize")
	})

	t.Run("sensitive keyword drops under restricted band", func(t *testing.T) {
		req := baseRequest(domain.BandRed)
		req.Policy.ABAC = map[string]any{"override_token": "tok"}
		req.Content = &domain.Content{Text: "here is my password for the server"}
		result := b.EvaluatePolicy(ctx, req)
		assert.True(t, result.ShouldDrop)
		assert.Contains(t, result.Reasons, "content_sensitive:password")
	})

	t.Run("sensitive keyword passes under green", func(t *testing.T) {
		req := baseRequest(domain.BandGreen)
		req.Content = &domain.Content{Text: "remind me to rotate my password"}
		result := b.EvaluatePolicy(ctx, req)
		assert.False(t, result.ShouldDrop)
	})

	t.Run("pii attaches redaction obligation", func(t *testing.T) {
		req := baseRequest(domain.BandGreen)
		req.Content = &domain.Content{Text: "email me at alex@example.com"}
		result := b.EvaluatePolicy(ctx, req)
		assert.False(t, result.ShouldDrop)
		assert.Contains(t, result.Obligations, ObligationRedactPII)
	})
}

func TestObligationsDeduplicated(t *testing.T) {
	b := NewBridge(nil, zerolog.Nop())

	// Black band with system role and content PII: the audit obligation only
	// appears once even if multiple layers request it.
	req := baseRequest(domain.BandBlack)
	req.Actor.Role = "system"
	result := b.EvaluatePolicy(context.Background(), req)

	seen := map[string]int{}
	for _, ob := range result.Obligations {
		seen[ob]++
	}
	for ob, n := range seen {
		assert.Equal(t, 1, n, "obligation %s duplicated", ob)
	}
}

func TestEvaluateABACFailClosed(t *testing.T) {
	svc := new(mockPolicyService)
	svc.On("Evaluate", mock.Anything, mock.Anything).
		Return(domain.PolicyVerdict{}, errors.New("connection refused"))

	b := NewBridge(svc, zerolog.Nop())
	result := b.EvaluatePolicy(context.Background(), baseRequest(domain.BandGreen))

	assert.True(t, result.ShouldDrop)
	assert.Contains(t, result.Reasons, "abac_unavailable")
	assert.Contains(t, result.Obligations, ObligationAudit)
	svc.AssertExpectations(t)
}

func TestEvaluateABACDeny(t *testing.T) {
	svc := new(mockPolicyService)
	svc.On("Evaluate", mock.Anything, mock.Anything).
		Return(domain.PolicyVerdict{
			Decision: domain.PolicyDeny,
			Reasons:  []string{"space_access_denied"},
		}, nil)

	b := NewBridge(svc, zerolog.Nop())
	result := b.EvaluatePolicy(context.Background(), baseRequest(domain.BandGreen))

	assert.True(t, result.ShouldDrop)
	assert.Contains(t, result.Reasons, "space_access_denied")
}

func TestEvaluateABACPermitMergesObligations(t *testing.T) {
	svc := new(mockPolicyService)
	svc.On("Evaluate", mock.Anything, mock.Anything).
		Return(domain.PolicyVerdict{
			Decision:    domain.PolicyPermit,
			Obligations: []string{"custom_obligation"},
		}, nil)

	b := NewBridge(svc, zerolog.Nop())
	result := b.EvaluatePolicy(context.Background(), baseRequest(domain.BandGreen))

	assert.False(t, result.ShouldDrop)
	assert.Contains(t, result.Obligations, "custom_obligation")
}
