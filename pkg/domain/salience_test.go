package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSalienceWeightsRoundTrip(t *testing.T) {
	// Every field carries a distinct value so a dropped or swapped tag would
	// fail the comparison.
	in := SalienceWeights{
		Urgency:           1.01,
		Novelty:           0.62,
		Value:             0.83,
		Risk:              0.74,
		Cost:              0.55,
		SocialRisk:        0.66,
		AffectArousal:     0.47,
		AffectValence:     0.38,
		ContextBump:       0.59,
		TemporalFit:       0.41,
		PersonalRelevance: 0.52,
		GoalAlignment:     0.63,
		Bias:              0.14,
		Temperature:       0.85,
		PlattA:            1.4,
		PlattB:            -0.2,
	}

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out SalienceWeights
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, in, out)
	})

	t.Run("yaml", func(t *testing.T) {
		data, err := yaml.Marshal(in)
		require.NoError(t, err)

		var out SalienceWeights
		require.NoError(t, yaml.Unmarshal(data, &out))
		assert.Equal(t, in, out)
	})
}

func TestSalienceWeightsYAMLKeys(t *testing.T) {
	// Config files bind the calibration parameters by their snake_case keys.
	doc := `
urgency: 1.5
temperature: 0.7
platt_a: 2.0
platt_b: -0.5
`
	var w SalienceWeights
	require.NoError(t, yaml.Unmarshal([]byte(doc), &w))
	assert.Equal(t, 1.5, w.Urgency)
	assert.Equal(t, 0.7, w.Temperature)
	assert.Equal(t, 2.0, w.PlattA)
	assert.Equal(t, -0.5, w.PlattB)
}
