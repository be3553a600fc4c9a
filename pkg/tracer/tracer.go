// Package tracer stores bounded explainability records for gate decisions.
// It is purely observational: it never influences a decision and the gate
// works unchanged when tracing is disabled.
package tracer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/window"
	"github.com/arbiterhq/arbiter/pkg/domain"
)

const defaultCapacity = 10000

// ErrTraceNotFound is returned when a trace ID has no stored record (either
// never seen or already evicted).
var ErrTraceNotFound = fmt.Errorf("trace not found")

// Tracer keeps the most recent decision traces in a ring buffer, with a
// secondary index by trace ID. A nil Tracer is a valid no-op.
type Tracer struct {
	mu    sync.Mutex
	ring  *window.Ring[*domain.DecisionTrace]
	index map[string]*domain.DecisionTrace
}

// New creates a Tracer retaining up to capacity traces. capacity <= 0 selects
// the default.
func New(capacity int) *Tracer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Tracer{
		ring:  window.NewRing[*domain.DecisionTrace](capacity),
		index: make(map[string]*domain.DecisionTrace, capacity),
	}
}

// Store records a trace. Evicted traces leave the index as well, unless a
// newer retained trace reuses the same ID.
func (t *Tracer) Store(trace *domain.DecisionTrace) {
	if t == nil || trace == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ring.Len() == t.ring.Capacity() {
		oldest := t.ring.Snapshot()
		if len(oldest) > 0 {
			evicted := oldest[0]
			if cur, ok := t.index[evicted.TraceID]; ok && cur == evicted {
				delete(t.index, evicted.TraceID)
			}
		}
	}
	t.ring.Add(trace)
	t.index[trace.TraceID] = trace
}

// Get returns the stored trace for the given ID.
func (t *Tracer) Get(traceID string) (*domain.DecisionTrace, error) {
	if t == nil {
		return nil, ErrTraceNotFound
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	trace, ok := t.index[traceID]
	if !ok {
		return nil, ErrTraceNotFound
	}
	return trace, nil
}

// ExplainDecision renders a human-readable explanation of a stored decision.
func (t *Tracer) ExplainDecision(traceID string) (string, error) {
	trace, err := t.Get(traceID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "decision %s for request %s: %s (priority %.3f)\n",
		trace.TraceID, trace.RequestID, trace.Action, trace.Calibrated)
	fmt.Fprintf(&sb, "raw score %.3f calibrated with temperature=%.2f platt_a=%.2f platt_b=%.2f\n",
		trace.RawScore, trace.Weights.Temperature, trace.Weights.PlattA, trace.Weights.PlattB)
	fmt.Fprintf(&sb, "thresholds: drop<%.2f defer<%.2f admit<%.2f<=boost\n",
		trace.Thresholds.Drop, trace.Thresholds.Admit, trace.Thresholds.Boost)
	fmt.Fprintf(&sb, "stages: %s\n", strings.Join(trace.Stages, " -> "))
	if len(trace.Reasons) > 0 {
		fmt.Fprintf(&sb, "reasons: %s\n", strings.Join(trace.Reasons, ", "))
	}
	fmt.Fprintf(&sb, "dominant features: %s", dominantFeatures(trace.Features))
	return sb.String(), nil
}

func dominantFeatures(f domain.SalienceFeatures) string {
	type fv struct {
		name  string
		value float64
	}
	all := []fv{
		{"urgency", f.Urgency}, {"novelty", f.Novelty}, {"value", f.Value},
		{"risk", f.Risk}, {"cost", f.Cost}, {"social_risk", f.SocialRisk},
		{"affect_arousal", f.AffectArousal}, {"affect_valence", f.AffectValence},
		{"context_bump", f.ContextBump}, {"temporal_fit", f.TemporalFit},
		{"personal_relevance", f.PersonalRelevance}, {"goal_alignment", f.GoalAlignment},
	}
	parts := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		best := -1
		for j, item := range all {
			if item.name == "" {
				continue
			}
			if best == -1 || abs(item.value) > abs(all[best].value) {
				best = j
			}
		}
		if best == -1 || all[best].value == 0 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s=%.2f", all[best].name, all[best].value))
		all[best].name = ""
		all[best].value = 0
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Analytics summarizes the retained traces for the admin surface.
type Analytics struct {
	Total           int                   `json:"total"`
	ByAction        map[domain.Action]int `json:"by_action"`
	AvgPriority     float64               `json:"avg_priority"`
	AvgExecutionUS  float64               `json:"avg_execution_us"`
	OldestCreatedAt time.Time             `json:"oldest_created_at,omitzero"`
}

// GetTraceAnalytics computes aggregate statistics over the retained history.
func (t *Tracer) GetTraceAnalytics() Analytics {
	out := Analytics{ByAction: make(map[domain.Action]int)}
	if t == nil {
		return out
	}
	t.mu.Lock()
	traces := t.ring.Snapshot()
	t.mu.Unlock()

	if len(traces) == 0 {
		return out
	}
	out.Total = len(traces)
	out.OldestCreatedAt = traces[0].CreatedAt

	var prioritySum, execSum float64
	for _, tr := range traces {
		out.ByAction[tr.Action]++
		prioritySum += tr.Calibrated
		execSum += float64(tr.ExecutionTime.Microseconds())
	}
	out.AvgPriority = prioritySum / float64(len(traces))
	out.AvgExecutionUS = execSum / float64(len(traces))
	return out
}
