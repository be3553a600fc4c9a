package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

const testModule = `package arbiter.authz

import rego.v1

default decision := {"allow": false, "reasons": ["default_deny"]}

decision := {"allow": true, "obligations": ["audit_log"]} if {
	input.action == "RECALL"
	input.context.role != "guest"
}
`

func TestOPAServiceEvaluate(t *testing.T) {
	ctx := context.Background()
	svc, err := NewOPAService(ctx, OPAServiceOptions{
		Entrypoint: "arbiter/authz/decision",
		Modules:    map[string]string{"authz.rego": testModule},
	})
	require.NoError(t, err)

	t.Run("permit", func(t *testing.T) {
		verdict, err := svc.Evaluate(ctx, domain.PolicyQuery{
			ActorID: "alex",
			Action:  "RECALL",
			Context: map[string]any{"role": "member"},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PolicyPermit, verdict.Decision)
		assert.Contains(t, verdict.Obligations, "audit_log")
	})

	t.Run("deny", func(t *testing.T) {
		verdict, err := svc.Evaluate(ctx, domain.PolicyQuery{
			ActorID: "alex",
			Action:  "WRITE",
			Context: map[string]any{"role": "member"},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PolicyDeny, verdict.Decision)
		assert.Contains(t, verdict.Reasons, "default_deny")
	})
}

func TestOPAServiceRejectsInvalidModule(t *testing.T) {
	_, err := NewOPAService(context.Background(), OPAServiceOptions{
		Modules: map[string]string{"bad.rego": "package broken\n\ndecision :="},
	})
	require.Error(t, err)
}

func TestOPAServiceRequiresModules(t *testing.T) {
	_, err := NewOPAService(context.Background(), OPAServiceOptions{})
	require.Error(t, err)
}
