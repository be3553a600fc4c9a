// Package window provides small bounded-window primitives shared by the
// backpressure manager and the decision history buffers. All types are safe
// for concurrent use.
package window

import (
	"sort"
	"sync"
	"time"
)

// TimeWindow records event timestamps and answers "how many events happened
// in the last d". Entries older than the retention period are pruned lazily
// on every write and read.
type TimeWindow struct {
	mu        sync.Mutex
	stamps    []time.Time
	retention time.Duration
}

// NewTimeWindow creates a window that retains timestamps for the given
// duration.
func NewTimeWindow(retention time.Duration) *TimeWindow {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &TimeWindow{retention: retention}
}

// Record appends an event at the given instant.
func (w *TimeWindow) Record(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	w.stamps = append(w.stamps, now)
}

// CountSince returns the number of events recorded within the window ending
// at now and starting d earlier.
func (w *TimeWindow) CountSince(now time.Time, d time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	cutoff := now.Add(-d)
	n := 0
	for _, ts := range w.stamps {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// Len returns the number of retained timestamps.
func (w *TimeWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stamps)
}

func (w *TimeWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.retention)
	i := 0
	for i < len(w.stamps) && w.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// BoolRing is a fixed-capacity ring of success/failure flags with
// oldest-first eviction.
type BoolRing struct {
	mu       sync.Mutex
	values   []bool
	head     int
	size     int
	capacity int
}

// NewBoolRing creates a ring holding at most capacity flags.
func NewBoolRing(capacity int) *BoolRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &BoolRing{values: make([]bool, capacity), capacity: capacity}
}

// Push appends a flag, evicting the oldest when full.
func (r *BoolRing) Push(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.head + r.size) % r.capacity
	r.values[idx] = v
	if r.size < r.capacity {
		r.size++
	} else {
		r.head = (r.head + 1) % r.capacity
	}
}

// Len returns the number of stored flags.
func (r *BoolRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// FailureRate returns the fraction of false flags, and the sample count.
func (r *BoolRing) FailureRate() (rate float64, samples int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return 0, 0
	}
	failures := 0
	for i := 0; i < r.size; i++ {
		if !r.values[(r.head+i)%r.capacity] {
			failures++
		}
	}
	return float64(failures) / float64(r.size), r.size
}

// FloatRing is a fixed-capacity ring of float64 observations with
// oldest-first eviction.
type FloatRing struct {
	mu       sync.Mutex
	values   []float64
	head     int
	size     int
	capacity int
}

// NewFloatRing creates a ring holding at most capacity observations.
func NewFloatRing(capacity int) *FloatRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &FloatRing{values: make([]float64, capacity), capacity: capacity}
}

// Push appends an observation, evicting the oldest when full.
func (r *FloatRing) Push(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.head + r.size) % r.capacity
	r.values[idx] = v
	if r.size < r.capacity {
		r.size++
	} else {
		r.head = (r.head + 1) % r.capacity
	}
}

// Len returns the number of stored observations.
func (r *FloatRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Percentile returns the p-th percentile (0-100) of the stored observations
// using nearest-rank on a sorted copy. Returns 0 when empty.
func (r *FloatRing) Percentile(p float64) float64 {
	r.mu.Lock()
	snapshot := make([]float64, 0, r.size)
	for i := 0; i < r.size; i++ {
		snapshot = append(snapshot, r.values[(r.head+i)%r.capacity])
	}
	r.mu.Unlock()

	if len(snapshot) == 0 {
		return 0
	}
	sort.Float64s(snapshot)
	if p <= 0 {
		return snapshot[0]
	}
	if p >= 100 {
		return snapshot[len(snapshot)-1]
	}
	rank := int(float64(len(snapshot))*p/100+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(snapshot) {
		rank = len(snapshot) - 1
	}
	return snapshot[rank]
}
