package gate

import (
	"math"
	"time"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
)

// Topic names are the only wire-visible contract of the gate.
const (
	TopicAdmitted = "bus.attention_gate.admitted"
	TopicDeferred = "bus.attention_gate.deferred"
	TopicDropped  = "bus.attention_gate.dropped"
	TopicError    = "bus.attention_gate.error"

	TopicRecall   = "bus.retrieval.query"
	TopicWrite    = "bus.ingest.write"
	TopicSchedule = "bus.scheduler.prospective"
	TopicProject  = "bus.planner.project"
	TopicEncode   = "bus.hippocampus.encode"
)

var intentTopics = map[domain.Intent]string{
	domain.IntentRecall:              TopicRecall,
	domain.IntentWrite:               TopicWrite,
	domain.IntentProspectiveSchedule: TopicSchedule,
	domain.IntentProject:             TopicProject,
	domain.IntentHippoEncode:         TopicEncode,
}

const deferBaseTTLMillis = 30000.0

// deferTTL computes the advisory retry TTL for a DEFER verdict:
// round(30000 * (2.0 - max(0.5, priority))). Always positive.
func deferTTL(priority float64) int64 {
	p := math.Max(0.5, priority)
	return int64(math.Round(deferBaseTTLMillis * (2.0 - p)))
}

// selectAction applies the band priority cap and picks one of the four
// actions from the calibrated priority.
func selectAction(priority float64, th domain.Thresholds, mod config.BandModifier, urgent bool) domain.GateDecision {
	if mod.MaxPriority > 0 && priority > mod.MaxPriority {
		priority = mod.MaxPriority
	}

	boostThreshold := th.Boost
	if mod.BoostThreshold > 0 {
		boostThreshold = mod.BoostThreshold
	}

	switch {
	case priority < th.Drop:
		// DROP reports priority 0 so downstream consumers never treat it
		// as schedulable work.
		return domain.GateDecision{
			Action:   domain.ActionDrop,
			Priority: 0,
			Reasons:  []string{"below_drop_threshold"},
		}
	case priority >= boostThreshold:
		reasons := []string{"above_boost_threshold"}
		if urgent {
			reasons = append(reasons, "urgent_signal")
		}
		return domain.GateDecision{
			Action:   domain.ActionBoost,
			Priority: priority,
			Reasons:  reasons,
		}
	case priority >= th.Admit:
		return domain.GateDecision{
			Action:   domain.ActionAdmit,
			Priority: priority,
			Reasons:  []string{"above_admit_threshold"},
		}
	default:
		return domain.GateDecision{
			Action:    domain.ActionDefer,
			Priority:  priority,
			Reasons:   []string{"between_drop_and_admit"},
			TTLMillis: deferTTL(priority),
		}
	}
}

const deadlineCutoffMillis = 60000

// buildRoutingInfo maps the decision and top derived intent to a bus topic
// and numeric delivery priority.
func buildRoutingInfo(decision domain.GateDecision, intents []domain.DerivedIntent, now time.Time) domain.RoutingInfo {
	info := domain.RoutingInfo{
		Priority: int(math.Round(decision.Priority * 10)),
		Retry:    domain.RetryPolicy{MaxRetries: 1, BackoffMultiplier: 1.5},
	}

	switch decision.Action {
	case domain.ActionDrop:
		info.Topic = TopicDropped
		info.Priority = 0
		return info
	case domain.ActionDefer:
		info.Topic = TopicDeferred
		info.Priority--
		if info.Priority < 0 {
			info.Priority = 0
		}
	case domain.ActionBoost:
		info.Priority += 2
		info.Retry.MaxRetries = 3
		info.Topic = topicForIntents(intents)
	case domain.ActionAdmit:
		info.Topic = topicForIntents(intents)
	}

	if decision.TTLMillis > 0 && decision.TTLMillis < deadlineCutoffMillis {
		deadline := now.Add(time.Duration(decision.TTLMillis) * time.Millisecond)
		info.Deadline = &deadline
	}
	return info
}

func topicForIntents(intents []domain.DerivedIntent) string {
	if len(intents) == 0 {
		return TopicAdmitted
	}
	if topic, ok := intentTopics[intents[0].Intent]; ok {
		return topic
	}
	return TopicAdmitted
}
