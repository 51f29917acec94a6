package engine

import (
	"sort"
	"sync"
)

// StepStats counts one node's traffic during one step.
type StepStats struct {
	Node      int     `json:"node"`
	Step      int64   `json:"step"`
	Time      float64 `json:"time"`
	Fired     int     `json:"fired"`     // ticks fired
	Processed int     `json:"processed"` // process invocations in Phase 1
	Sent      int     `json:"sent"`      // records swapped into the incoming queue
	Delivered int     `json:"delivered"` // handler invocations from queued records
	NonLocal  int     `json:"non_local"` // targets resident on another node
	Stale     int     `json:"stale"`     // records of dropped Msgs
	Remote    int     `json:"remote"`    // records received from other nodes
	Errors    int     `json:"errors"`    // dispatch failures during delivery
}

func (s *StepStats) add(o StepStats) {
	s.Processed += o.Processed
	s.Delivered += o.Delivered
	s.NonLocal += o.NonLocal
	s.Stale += o.Stale
	s.Remote += o.Remote
	s.Errors += o.Errors
}

// Recorder receives per-step statistics. Nodes call RecordStep
// concurrently from their end-of-cycle barrier, so implementations must be
// safe for concurrent use and must not block.
type Recorder interface {
	RecordStep(StepStats)
}

// MemoryRecorder buffers step statistics until they are flushed to the
// journal after a run.
type MemoryRecorder struct {
	mu    sync.Mutex
	steps []StepStats
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

func (r *MemoryRecorder) RecordStep(s StepStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

// Steps returns the buffered statistics ordered by step, then node.
func (r *MemoryRecorder) Steps() []StepStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]StepStats(nil), r.steps...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].Node < out[j].Node
	})
	return out
}

// Drain returns the buffered statistics and clears the buffer.
func (r *MemoryRecorder) Drain() []StepStats {
	out := r.Steps()
	r.mu.Lock()
	r.steps = nil
	r.mu.Unlock()
	return out
}

// Totals sums statistics across steps and nodes.
func Totals(steps []StepStats) StepStats {
	var t StepStats
	for _, s := range steps {
		t.add(s)
		t.Fired += s.Fired
		t.Sent += s.Sent
		if s.Step > t.Step {
			t.Step = s.Step
		}
		if s.Time > t.Time {
			t.Time = s.Time
		}
	}
	return t
}
