package salience

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
)

// Adapter applies bounded online updates to the salience weights from
// observed outcomes. Updates happen in batches and every weight stays within
// [WeightMin, WeightMax]; with safety checks enabled a batch that worsens the
// mean absolute error beyond the rollback threshold is reverted.
type Adapter struct {
	mu       sync.Mutex
	cfg      config.LearningConfig
	weights  domain.SalienceWeights
	baseline domain.SalienceWeights

	samples      int
	batchErr     float64
	batchSamples int
	previousErr  float64
	gradient     domain.SalienceFeatures
	logger       zerolog.Logger
}

// NewAdapter wraps an initial weight set. When learning is disabled the
// adapter is a passthrough.
func NewAdapter(cfg config.LearningConfig, initial domain.SalienceWeights, logger zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:         cfg,
		weights:     initial.Clamp(),
		baseline:    initial.Clamp(),
		previousErr: math.Inf(1),
		logger:      logger,
	}
}

// Weights returns the current weight set.
func (a *Adapter) Weights() domain.SalienceWeights {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.weights
}

// Observe records one feedback sample: the features that were scored, the
// calibrated priority that was predicted and the outcome signal in [0,1]
// (e.g. whether the admitted request turned out to be worth its compute).
func (a *Adapter) Observe(features domain.SalienceFeatures, predicted, outcome float64) {
	if !a.cfg.Enabled {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err := outcome - predicted
	a.samples++
	a.batchErr += math.Abs(err)
	a.batchSamples++

	// Accumulate the gradient; applied once per adaptation window.
	a.gradient.Urgency += err * features.Urgency
	a.gradient.Novelty += err * features.Novelty
	a.gradient.Value += err * features.Value
	a.gradient.Risk -= err * features.Risk
	a.gradient.Cost -= err * features.Cost
	a.gradient.SocialRisk -= err * features.SocialRisk
	a.gradient.AffectArousal += err * features.AffectArousal
	a.gradient.AffectValence += err * features.AffectValence
	a.gradient.ContextBump += err * features.ContextBump
	a.gradient.TemporalFit += err * features.TemporalFit
	a.gradient.PersonalRelevance += err * features.PersonalRelevance
	a.gradient.GoalAlignment += err * features.GoalAlignment

	if a.samples < a.cfg.MinSamples {
		return
	}
	if a.cfg.AdaptationFrequency <= 0 || a.batchSamples < a.cfg.AdaptationFrequency {
		return
	}

	a.applyBatchLocked()
}

func (a *Adapter) applyBatchLocked() {
	meanErr := a.batchErr / float64(a.batchSamples)

	if a.cfg.SafetyChecks && meanErr > a.previousErr+a.cfg.RollbackThreshold {
		a.logger.Warn().
			Float64("mean_error", meanErr).
			Float64("previous_error", a.previousErr).
			Msg("adaptation regressed beyond rollback threshold, reverting weights")
		a.weights = a.baseline
	} else {
		a.baseline = a.weights
		lr := a.cfg.LearningRate / float64(a.batchSamples)
		a.weights.Urgency += lr * a.gradient.Urgency
		a.weights.Novelty += lr * a.gradient.Novelty
		a.weights.Value += lr * a.gradient.Value
		a.weights.Risk += lr * a.gradient.Risk
		a.weights.Cost += lr * a.gradient.Cost
		a.weights.SocialRisk += lr * a.gradient.SocialRisk
		a.weights.AffectArousal += lr * a.gradient.AffectArousal
		a.weights.AffectValence += lr * a.gradient.AffectValence
		a.weights.ContextBump += lr * a.gradient.ContextBump
		a.weights.TemporalFit += lr * a.gradient.TemporalFit
		a.weights.PersonalRelevance += lr * a.gradient.PersonalRelevance
		a.weights.GoalAlignment += lr * a.gradient.GoalAlignment
		a.weights = a.weights.Clamp()
	}

	a.previousErr = meanErr
	a.batchErr = 0
	a.batchSamples = 0
	a.gradient = domain.SalienceFeatures{}
}
