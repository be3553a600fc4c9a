// Package salience turns a gate request into a calibrated [0,1] priority.
// Features are extracted independently and an extractor failure degrades that
// feature to 0.0 instead of aborting the scoring stage.
package salience

import (
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

// Result bundles everything the gate and the tracer need from one scoring
// pass.
type Result struct {
	Features    domain.SalienceFeatures
	Weights     domain.SalienceWeights
	RawScore    float64
	Priority    float64
	Confidence  float64
	Uncertainty float64
}

var (
	urgencyKeywords = []string{"urgent", "asap", "immediately", "right now", "emergency", "critical", "deadline"}
	valueKeywords   = []string{"important", "remember", "save", "keep", "birthday", "anniversary", "family"}
	riskyKeywords   = []string{"delete", "remove", "share", "send", "publish", "forward"}
	adultKeywords   = []string{"adult", "explicit", "nsfw"}
)

// Calculator computes salience features and the calibrated priority. It is
// stateless and safe for concurrent use.
type Calculator struct {
	logger zerolog.Logger
}

// NewCalculator creates a Calculator.
func NewCalculator(logger zerolog.Logger) *Calculator {
	return &Calculator{logger: logger}
}

type extractor struct {
	name string
	fn   func(*domain.GateRequest) float64
}

// Calculate scores the request with the supplied weights. It never fails: a
// panicking extractor contributes 0.0 for its feature.
func (c *Calculator) Calculate(req *domain.GateRequest, weights domain.SalienceWeights) Result {
	weights = weights.Clamp()

	extractors := []extractor{
		{"urgency", extractUrgency},
		{"novelty", extractNovelty},
		{"value", extractValue},
		{"risk", extractRisk},
		{"cost", extractCost},
		{"social_risk", extractSocialRisk},
		{"affect_arousal", extractAffectArousal},
		{"affect_valence", extractAffectValence},
		{"context_bump", extractContextBump},
		{"temporal_fit", extractTemporalFit},
		{"personal_relevance", extractPersonalRelevance},
		{"goal_alignment", extractGoalAlignment},
	}

	values := make([]float64, len(extractors))
	for i, ex := range extractors {
		values[i] = c.safeExtract(ex, req)
	}

	features := domain.SalienceFeatures{
		Urgency:           values[0],
		Novelty:           values[1],
		Value:             values[2],
		Risk:              values[3],
		Cost:              values[4],
		SocialRisk:        values[5],
		AffectArousal:     values[6],
		AffectValence:     values[7],
		ContextBump:       values[8],
		TemporalFit:       values[9],
		PersonalRelevance: values[10],
		GoalAlignment:     values[11],
	}

	raw := rawScore(features, weights)
	priority := calibrate(raw, weights)
	confidence := scoreConfidence(features)

	return Result{
		Features:    features,
		Weights:     weights,
		RawScore:    raw,
		Priority:    priority,
		Confidence:  confidence,
		Uncertainty: 1 - confidence,
	}
}

func (c *Calculator) safeExtract(ex extractor, req *domain.GateRequest) (value float64) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn().Str("feature", ex.name).Any("panic", r).Msg("feature extraction failed, defaulting to 0")
			value = 0.0
		}
	}()
	return ex.fn(req)
}

// rawScore is the weighted linear sum. Risk, cost and social risk subtract
// from the score; everything else adds.
func rawScore(f domain.SalienceFeatures, w domain.SalienceWeights) float64 {
	score := w.Urgency*f.Urgency +
		w.Novelty*f.Novelty +
		w.Value*f.Value +
		w.AffectArousal*f.AffectArousal +
		w.AffectValence*f.AffectValence +
		w.ContextBump*f.ContextBump +
		w.TemporalFit*f.TemporalFit +
		w.PersonalRelevance*f.PersonalRelevance +
		w.GoalAlignment*f.GoalAlignment +
		w.Bias
	score -= w.Risk * f.Risk
	score -= w.Cost * f.Cost
	score -= w.SocialRisk * f.SocialRisk
	return score
}

// calibrate applies temperature scaling followed by Platt scaling and clamps
// the result to [0,1].
func calibrate(raw float64, w domain.SalienceWeights) float64 {
	temp := w.Temperature
	if temp <= 0 {
		temp = 1.0
	}
	p := sigmoid(w.PlattA*(raw/temp) + w.PlattB)
	return clamp01(p)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// scoreConfidence is the fraction of non-zero features minus a 0.1 penalty
// per feature with an extreme value (>0.8 or <0.2), floored at 0.1.
func scoreConfidence(f domain.SalienceFeatures) float64 {
	values := f.Values()
	nonZero := 0
	extreme := 0
	for _, v := range values {
		if v != 0 {
			nonZero++
		}
		if v > 0.8 || v < 0.2 {
			extreme++
		}
	}
	confidence := float64(nonZero)/float64(len(values)) - 0.1*float64(extreme)
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func contentText(req *domain.GateRequest) string {
	if req.Content == nil {
		return ""
	}
	return req.Content.Text
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractUrgency(req *domain.GateRequest) float64 {
	score := 0.0
	if containsAny(contentText(req), urgencyKeywords) {
		score += 0.4
	}
	if req.Affect != nil && req.Affect.Arousal > 0.7 {
		score += 0.3
	}
	if req.QoS != nil && req.QoS.BudgetMS > 0 && req.QoS.BudgetMS < 500 {
		score += 0.3
	}
	return clamp01(score)
}

func extractNovelty(req *domain.GateRequest) float64 {
	score := 1.0
	if req.Context != nil {
		score -= 0.1 * float64(req.Context.RecentSimilarCount)
	}
	if text := contentText(req); len(text) > 500 {
		score += 0.1
	}
	return clamp01(score)
}

func extractValue(req *domain.GateRequest) float64 {
	score := 0.3
	if containsAny(contentText(req), valueKeywords) {
		score += 0.4
	}
	if req.Content != nil && len(req.Content.Attachments) > 0 {
		score += 0.2
	}
	return clamp01(score)
}

func extractRisk(req *domain.GateRequest) float64 {
	score := 0.0
	switch req.Policy.Band {
	case domain.BandGreen:
		score = 0.1
	case domain.BandAmber:
		score = 0.4
	case domain.BandRed:
		score = 0.7
	case domain.BandBlack:
		score = 1.0
	}
	if containsAny(contentText(req), riskyKeywords) {
		score += 0.2
	}
	if trusted, ok := req.Policy.ABAC["device_trusted"].(bool); ok && !trusted {
		score += 0.2
	}
	return clamp01(score)
}

func extractCost(req *domain.GateRequest) float64 {
	score := 0.0
	if text := contentText(req); len(text) > 0 {
		score += math.Min(0.5, float64(len(text))/10000.0)
	}
	if req.Content != nil {
		score += math.Min(0.4, 0.2*float64(len(req.Content.Attachments)))
	}
	if req.QoS != nil {
		switch strings.ToLower(req.QoS.Thermal) {
		case "hot":
			score += 0.2
		case "critical":
			score += 0.4
		}
	}
	return clamp01(score)
}

func extractSocialRisk(req *domain.GateRequest) float64 {
	score := 0.0
	if req.Context != nil && req.Context.ChildPresent {
		score += 0.4
	}
	if containsAny(contentText(req), adultKeywords) {
		score += 0.4
	}
	if req.Context != nil && isLateNight(req.Context.TimeOfDay) {
		score += 0.2
	}
	return clamp01(score)
}

func extractAffectArousal(req *domain.GateRequest) float64 {
	if req.Affect == nil {
		return 0
	}
	return clamp01(req.Affect.Arousal)
}

func extractAffectValence(req *domain.GateRequest) float64 {
	if req.Affect == nil {
		return 0
	}
	v := req.Affect.Valence
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func extractContextBump(req *domain.GateRequest) float64 {
	bump := 0.0
	if req.Affect.HasTag("urgent") {
		bump += 0.3
	}
	if req.Context != nil && isLateNight(req.Context.TimeOfDay) {
		bump -= 0.2
	}
	if bump < -1 {
		return -1
	}
	if bump > 1 {
		return 1
	}
	return bump
}

func extractTemporalFit(req *domain.GateRequest) float64 {
	if req.Context == nil {
		return 0.5
	}
	hour := req.Context.TimeOfDay
	switch {
	case hour >= 8 && hour < 20:
		return 0.8
	case hour >= 20 && hour < 22:
		return 0.6
	case hour >= 6 && hour < 8:
		return 0.6
	default:
		return 0.2
	}
}

func extractPersonalRelevance(req *domain.GateRequest) float64 {
	text := strings.ToLower(contentText(req))
	if text == "" {
		return 0.3
	}
	for _, marker := range []string{"my ", "me ", "our ", " i "} {
		if strings.Contains(text, marker) || strings.HasPrefix(text, "i ") {
			return 0.6
		}
	}
	return 0.3
}

func extractGoalAlignment(req *domain.GateRequest) float64 {
	if req.Intent != "" && req.Intent != domain.IntentUnknown {
		return 0.7
	}
	if req.ConversationContext != nil && req.ConversationContext.MessageType == "follow_up" {
		return 0.6
	}
	return 0.4
}

func isLateNight(hour int) bool {
	return hour >= 22 || hour <= 5
}
