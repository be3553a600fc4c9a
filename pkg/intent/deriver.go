// Package intent derives ranked intent candidates for requests that declared
// none, combining regex patterns, affect-tag hints, temporal language and
// conversation-flow markers.
package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

const maxCandidates = 3

// Source names recorded in derived-intent evidence.
const (
	SourcePattern      = "pattern"
	SourceAffect       = "affect"
	SourceTemporal     = "temporal"
	SourceConversation = "conversation"
)

// defaultPatterns are compiled when the configuration supplies none.
var defaultPatterns = map[domain.Intent][]string{
	domain.IntentRecall: {
		`(?i)\b(remember|recall|what did|when did|where did|find|search|look up)\b`,
	},
	domain.IntentWrite: {
		`(?i)\b(save|store|note|write down|keep|record|jot)\b`,
	},
	domain.IntentProspectiveSchedule: {
		`(?i)\b(remind|schedule|appointment|calendar)\b`,
	},
	domain.IntentProject: {
		`(?i)\b(plan|project|organize|roadmap|steps to)\b`,
	},
	domain.IntentHippoEncode: {
		`(?i)\b(journal|reflect|today i|i felt|i learned)\b`,
	},
}

var (
	futureLanguage = regexp.MustCompile(`(?i)\b(tomorrow|tonight|later|next (week|month|year)|in \d+ (minutes|hours|days)|at \d{1,2}(:\d{2})?\s?(am|pm)?)\b`)
	pastLanguage   = regexp.MustCompile(`(?i)\b(yesterday|last (week|month|year|night)|remember when|did we|a while ago)\b`)
)

// Deriver produces ranked intent candidates. It is immutable after
// construction and safe for concurrent use.
type Deriver struct {
	patterns map[domain.Intent][]*regexp.Regexp
	ordered  []domain.Intent
	logger   zerolog.Logger
}

// NewDeriver compiles the configured pattern table, falling back to the
// defaults per intent. Invalid expressions are skipped with a warning rather
// than failing startup.
func NewDeriver(configured map[string][]string, logger zerolog.Logger) *Deriver {
	patterns := make(map[domain.Intent][]*regexp.Regexp)

	for it, exprs := range defaultPatterns {
		patterns[it] = compileAll(it, exprs, logger)
	}
	for name, exprs := range configured {
		it := domain.Intent(strings.ToUpper(name))
		if compiled := compileAll(it, exprs, logger); len(compiled) > 0 {
			patterns[it] = compiled
		}
	}

	// Pattern matching walks intents in a fixed order so equal-confidence
	// candidates always rank the same way between calls.
	ordered := make([]domain.Intent, 0, len(patterns))
	for it := range patterns {
		ordered = append(ordered, it)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	return &Deriver{patterns: patterns, ordered: ordered, logger: logger}
}

func compileAll(it domain.Intent, exprs []string, logger zerolog.Logger) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			logger.Warn().Str("intent", string(it)).Str("pattern", expr).Err(err).Msg("skipping invalid intent pattern")
			continue
		}
		out = append(out, re)
	}
	return out
}

// candidate is one pre-merge hint from a single source.
type candidate struct {
	intent     domain.Intent
	confidence float64
	source     string
	evidence   string
}

// DeriveIntents combines all heuristic sources, merges same-intent candidates
// and returns at most three, sorted by descending confidence.
func (d *Deriver) DeriveIntents(req *domain.GateRequest) []domain.DerivedIntent {
	var candidates []candidate
	candidates = append(candidates, d.fromPatterns(req)...)
	candidates = append(candidates, d.fromAffect(req)...)
	candidates = append(candidates, d.fromTemporal(req)...)
	candidates = append(candidates, d.fromConversation(req)...)

	merged := mergeCandidates(candidates)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Confidence.Score != merged[j].Confidence.Score {
			return merged[i].Confidence.Score > merged[j].Confidence.Score
		}
		return merged[i].Intent < merged[j].Intent
	})
	if len(merged) > maxCandidates {
		merged = merged[:maxCandidates]
	}
	return merged
}

func (d *Deriver) fromPatterns(req *domain.GateRequest) []candidate {
	text := contentText(req)
	if text == "" {
		return nil
	}

	var out []candidate
	for _, it := range d.ordered {
		for _, re := range d.patterns[it] {
			if match := re.FindString(text); match != "" {
				out = append(out, candidate{
					intent:     it,
					confidence: 0.5,
					source:     SourcePattern,
					evidence:   fmt.Sprintf("matched %q", match),
				})
				break
			}
		}
	}
	return out
}

func (d *Deriver) fromAffect(req *domain.GateRequest) []candidate {
	if req.Affect == nil {
		return nil
	}
	var out []candidate
	if req.Affect.HasTag("urgent") {
		out = append(out, candidate{
			intent:     domain.IntentProspectiveSchedule,
			confidence: 0.4,
			source:     SourceAffect,
			evidence:   "urgent affect tag",
		})
	}
	if req.Affect.HasTag("reflective") {
		out = append(out, candidate{
			intent:     domain.IntentHippoEncode,
			confidence: 0.4,
			source:     SourceAffect,
			evidence:   "reflective affect tag",
		})
	}
	return out
}

func (d *Deriver) fromTemporal(req *domain.GateRequest) []candidate {
	text := contentText(req)
	if text == "" {
		return nil
	}
	var out []candidate
	if match := futureLanguage.FindString(text); match != "" {
		out = append(out, candidate{
			intent:     domain.IntentProspectiveSchedule,
			confidence: 0.5,
			source:     SourceTemporal,
			evidence:   fmt.Sprintf("future language %q", match),
		})
	}
	if match := pastLanguage.FindString(text); match != "" {
		out = append(out, candidate{
			intent:     domain.IntentRecall,
			confidence: 0.5,
			source:     SourceTemporal,
			evidence:   fmt.Sprintf("past language %q", match),
		})
	}
	return out
}

func (d *Deriver) fromConversation(req *domain.GateRequest) []candidate {
	if req.ConversationContext == nil {
		return nil
	}
	switch req.ConversationContext.MessageType {
	case "follow_up", "clarification":
		return []candidate{{
			intent:     domain.IntentRecall,
			confidence: 0.45,
			source:     SourceConversation,
			evidence:   fmt.Sprintf("%s message", req.ConversationContext.MessageType),
		}}
	}
	return nil
}

// mergeCandidates folds same-intent candidates into one, applying the
// multi-source bonus: min(0.95, total_confidence * min(1.0, 0.2*source_count)).
func mergeCandidates(candidates []candidate) []domain.DerivedIntent {
	byIntent := make(map[domain.Intent][]candidate)
	order := make([]domain.Intent, 0)
	for _, c := range candidates {
		if _, seen := byIntent[c.intent]; !seen {
			order = append(order, c.intent)
		}
		byIntent[c.intent] = append(byIntent[c.intent], c)
	}

	out := make([]domain.DerivedIntent, 0, len(order))
	for _, it := range order {
		group := byIntent[it]
		total := 0.0
		sources := make([]string, 0, len(group))
		evidence := make([]string, 0, len(group))
		for _, c := range group {
			total += c.confidence
			sources = append(sources, c.source)
			evidence = append(evidence, c.evidence)
		}
		score := total * minF(1.0, 0.2*float64(len(group)))
		if score > 0.95 {
			score = 0.95
		}
		out = append(out, domain.DerivedIntent{
			Intent: it,
			Confidence: domain.IntentConfidence{
				Score:    score,
				Sources:  sources,
				Evidence: evidence,
			},
			Reasoning: fmt.Sprintf("%d source(s) agree on %s", len(group), it),
		})
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func contentText(req *domain.GateRequest) string {
	if req.Content == nil {
		return ""
	}
	return req.Content.Text
}
