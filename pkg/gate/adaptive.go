package gate

import (
	"context"

	"github.com/arbiterhq/arbiter/pkg/backpressure"
	"github.com/arbiterhq/arbiter/pkg/domain"
)

// AdaptiveGate decorates a Service with load-aware thresholds: as observed
// load rises past the defer threshold the admit and boost cut points climb,
// shrinking the admitted slice of traffic before hard backpressure kicks in.
// It wraps the base service rather than changing its decision loop.
type AdaptiveGate struct {
	inner    *Service
	capacity *backpressure.Manager
}

// NewAdaptiveGate wraps a base gate service.
func NewAdaptiveGate(inner *Service, capacity *backpressure.Manager) *AdaptiveGate {
	return &AdaptiveGate{inner: inner, capacity: capacity}
}

// ProcessRequest scales the configured thresholds by current load and
// delegates to the base service.
func (g *AdaptiveGate) ProcessRequest(ctx context.Context, req *domain.GateRequest) *domain.GateResponse {
	cfg := g.inner.provider.Current().Config
	th := g.inner.Thresholds()

	if cfg.Thresholds.AdaptiveEnabled {
		th = scaleThresholds(th, g.capacity.CurrentLoad(), cfg.Thresholds.AdaptationRate, cfg.Backpressure.LoadDeferThreshold)
	}
	return g.inner.ProcessWithThresholds(ctx, req, th)
}

// scaleThresholds raises admit and boost proportionally to the load above
// the defer threshold. Cut points never exceed 1.0 and the drop threshold is
// left alone so load never widens the DROP band.
func scaleThresholds(th domain.Thresholds, load, rate, deferAt float64) domain.Thresholds {
	if rate <= 0 || load <= deferAt {
		return th
	}
	excess := load - deferAt

	th.Admit = capAt1(th.Admit + rate*excess)
	th.Boost = capAt1(th.Boost + rate*excess)
	if th.Boost < th.Admit {
		th.Boost = th.Admit
	}
	return th
}

func capAt1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
