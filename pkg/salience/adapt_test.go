package salience

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
)

func learningConfig() config.LearningConfig {
	return config.LearningConfig{
		Enabled:             true,
		LearningRate:        0.5,
		AdaptationFrequency: 10,
		MinSamples:          10,
		SafetyChecks:        true,
		RollbackThreshold:   0.15,
	}
}

func TestAdapterDisabledIsPassthrough(t *testing.T) {
	cfg := learningConfig()
	cfg.Enabled = false
	initial := domain.DefaultSalienceWeights()
	a := NewAdapter(cfg, initial, zerolog.Nop())

	features := domain.SalienceFeatures{Urgency: 1.0}
	for i := 0; i < 100; i++ {
		a.Observe(features, 0.2, 0.9)
	}
	assert.Equal(t, initial, a.Weights())
}

func TestAdapterAppliesBatchUpdate(t *testing.T) {
	a := NewAdapter(learningConfig(), domain.DefaultSalienceWeights(), zerolog.Nop())
	before := a.Weights()

	// Consistent underprediction on high-urgency requests pushes the urgency
	// weight up once the batch window fills.
	features := domain.SalienceFeatures{Urgency: 1.0}
	for i := 0; i < 10; i++ {
		a.Observe(features, 0.3, 0.9)
	}

	after := a.Weights()
	assert.Greater(t, after.Urgency, before.Urgency)
	assert.LessOrEqual(t, after.Urgency, domain.WeightMax)
}

func TestAdapterWeightsStayBounded(t *testing.T) {
	cfg := learningConfig()
	cfg.LearningRate = 100 // absurdly aggressive
	cfg.SafetyChecks = false
	a := NewAdapter(cfg, domain.DefaultSalienceWeights(), zerolog.Nop())

	features := domain.SalienceFeatures{Urgency: 1.0, Risk: 1.0}
	for i := 0; i < 50; i++ {
		a.Observe(features, 0.0, 1.0)
	}

	w := a.Weights()
	for _, v := range []float64{w.Urgency, w.Risk, w.Novelty, w.Cost} {
		assert.GreaterOrEqual(t, v, domain.WeightMin)
		assert.LessOrEqual(t, v, domain.WeightMax)
	}
}

func TestAdapterRollsBackOnRegression(t *testing.T) {
	a := NewAdapter(learningConfig(), domain.DefaultSalienceWeights(), zerolog.Nop())

	// First batch: tiny error, establishes a good baseline and nudges the
	// weights off their defaults.
	features := domain.SalienceFeatures{Urgency: 0.5}
	for i := 0; i < 10; i++ {
		a.Observe(features, 0.5, 0.51)
	}
	assert.NotEqual(t, domain.DefaultSalienceWeights(), a.Weights())

	// Second batch: error regresses far beyond the rollback threshold, so the
	// weights revert to the last safe baseline.
	for i := 0; i < 10; i++ {
		a.Observe(features, 0.1, 0.9)
	}
	assert.Equal(t, domain.DefaultSalienceWeights(), a.Weights())
}
