package domain

// SalienceFeatures are the normalized numeric signals extracted from a
// request. Every feature is in [0,1] except AffectValence and ContextBump,
// which are in [-1,1].
type SalienceFeatures struct {
	Urgency           float64 `json:"urgency" yaml:"urgency"`
	Novelty           float64 `json:"novelty" yaml:"novelty"`
	Value             float64 `json:"value" yaml:"value"`
	Risk              float64 `json:"risk" yaml:"risk"`
	Cost              float64 `json:"cost" yaml:"cost"`
	SocialRisk        float64 `json:"social_risk" yaml:"social_risk"`
	AffectArousal     float64 `json:"affect_arousal" yaml:"affect_arousal"`
	AffectValence     float64 `json:"affect_valence" yaml:"affect_valence"`
	ContextBump       float64 `json:"context_bump" yaml:"context_bump"`
	TemporalFit       float64 `json:"temporal_fit" yaml:"temporal_fit"`
	PersonalRelevance float64 `json:"personal_relevance" yaml:"personal_relevance"`
	GoalAlignment     float64 `json:"goal_alignment" yaml:"goal_alignment"`
}

// Values returns every feature in declaration order. The order is stable and
// matches WeightValues.
func (f SalienceFeatures) Values() []float64 {
	return []float64{
		f.Urgency, f.Novelty, f.Value, f.Risk, f.Cost, f.SocialRisk,
		f.AffectArousal, f.AffectValence, f.ContextBump, f.TemporalFit,
		f.PersonalRelevance, f.GoalAlignment,
	}
}

// WeightBounds are the limits every individual weight is clamped to during
// adaptation.
const (
	WeightMin = 0.0
	WeightMax = 2.0
)

// SalienceWeights are the linear-model coefficients plus calibration
// parameters. Loaded from configuration and mutated only through bounded
// adaptation updates.
type SalienceWeights struct {
	Urgency           float64 `json:"urgency" yaml:"urgency"`
	Novelty           float64 `json:"novelty" yaml:"novelty"`
	Value             float64 `json:"value" yaml:"value"`
	Risk              float64 `json:"risk" yaml:"risk"`
	Cost              float64 `json:"cost" yaml:"cost"`
	SocialRisk        float64 `json:"social_risk" yaml:"social_risk"`
	AffectArousal     float64 `json:"affect_arousal" yaml:"affect_arousal"`
	AffectValence     float64 `json:"affect_valence" yaml:"affect_valence"`
	ContextBump       float64 `json:"context_bump" yaml:"context_bump"`
	TemporalFit       float64 `json:"temporal_fit" yaml:"temporal_fit"`
	PersonalRelevance float64 `json:"personal_relevance" yaml:"personal_relevance"`
	GoalAlignment     float64 `json:"goal_alignment" yaml:"goal_alignment"`

	Bias float64 `json:"bias" yaml:"bias"`

	// Calibration parameters: priority = sigmoid(PlattA*(raw/Temperature)+PlattB).
	Temperature float64 `json:"temperature" yaml:"temperature"`
	PlattA      float64 `json:"platt_a" yaml:"platt_a"`
	PlattB      float64 `json:"platt_b" yaml:"platt_b"`
}

// DefaultSalienceWeights returns the stock linear model used when the
// configuration does not override it.
func DefaultSalienceWeights() SalienceWeights {
	return SalienceWeights{
		Urgency:           1.0,
		Novelty:           0.6,
		Value:             0.8,
		Risk:              0.7,
		Cost:              0.5,
		SocialRisk:        0.6,
		AffectArousal:     0.4,
		AffectValence:     0.3,
		ContextBump:       0.5,
		TemporalFit:       0.4,
		PersonalRelevance: 0.5,
		GoalAlignment:     0.5,
		Bias:              0.0,
		Temperature:       1.0,
		PlattA:            1.0,
		PlattB:            0.0,
	}
}

// Clamp bounds every weight to [WeightMin, WeightMax] and keeps the
// calibration temperature strictly positive.
func (w SalienceWeights) Clamp() SalienceWeights {
	clamp := func(v float64) float64 {
		if v < WeightMin {
			return WeightMin
		}
		if v > WeightMax {
			return WeightMax
		}
		return v
	}
	w.Urgency = clamp(w.Urgency)
	w.Novelty = clamp(w.Novelty)
	w.Value = clamp(w.Value)
	w.Risk = clamp(w.Risk)
	w.Cost = clamp(w.Cost)
	w.SocialRisk = clamp(w.SocialRisk)
	w.AffectArousal = clamp(w.AffectArousal)
	w.AffectValence = clamp(w.AffectValence)
	w.ContextBump = clamp(w.ContextBump)
	w.TemporalFit = clamp(w.TemporalFit)
	w.PersonalRelevance = clamp(w.PersonalRelevance)
	w.GoalAlignment = clamp(w.GoalAlignment)
	if w.Temperature <= 0 {
		w.Temperature = 1.0
	}
	return w
}
