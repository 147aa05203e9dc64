// Package modelmetrics tracks per-algorithm model quality from operator
// feedback and inference latency from the scoring path. The two inputs are
// deliberately separate: latency accrues on every detection, while the
// confusion matrix only moves when a human labels an outcome.
package modelmetrics

import (
	"sync"
	"time"
)

type algorithmState struct {
	counts         Counts
	inferenceCount uint64
	totalLatency   time.Duration
}

// Tracker accumulates model quality metrics. It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*algorithmState
}

// NewTracker pre-registers the given algorithms so snapshots report them
// even before any inference or feedback arrives.
func NewTracker(algorithms ...string) *Tracker {
	t := &Tracker{states: make(map[string]*algorithmState, len(algorithms))}
	for _, a := range algorithms {
		t.states[a] = &algorithmState{}
	}
	return t
}

func (t *Tracker) state(algorithm string) *algorithmState {
	s, ok := t.states[algorithm]
	if !ok {
		s = &algorithmState{}
		t.states[algorithm] = s
	}
	return s
}

// RecordInference accrues one scoring pass and its latency.
func (t *Tracker) RecordInference(algorithm string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(algorithm)
	s.inferenceCount++
	s.totalLatency += latency
}

// RecordOutcome applies one labeled outcome to the confusion matrix.
// predicted is what the model said, actual is what the operator confirmed.
func (t *Tracker) RecordOutcome(algorithm string, predicted, actual bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(algorithm)
	switch {
	case predicted && actual:
		s.counts.TruePositives++
	case predicted && !actual:
		s.counts.FalsePositives++
	case !predicted && actual:
		s.counts.FalseNegatives++
	default:
		s.counts.TrueNegatives++
	}
}

// Weights returns per-algorithm F1 scores for ensemble weighting. Algorithms
// with no labeled outcomes yet are omitted; a nil map means no algorithm has
// feedback and callers should fall back to equal weighting.
func (t *Tracker) Weights() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var weights map[string]float64
	for name, s := range t.states {
		if s.counts.Total() == 0 {
			continue
		}
		if weights == nil {
			weights = make(map[string]float64, len(t.states))
		}
		weights[name] = scoresFrom(s.counts).F1
	}
	return weights
}

// Snapshot returns a consistent copy of every tracked algorithm's state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Algorithms:  make(map[string]AlgorithmSnapshot, len(t.states)),
		GeneratedAt: time.Now().UTC(),
	}
	for name, s := range t.states {
		as := AlgorithmSnapshot{
			Algorithm:      name,
			Counts:         s.counts,
			Scores:         scoresFrom(s.counts),
			InferenceCount: s.inferenceCount,
		}
		if s.inferenceCount > 0 {
			as.AvgLatency = s.totalLatency / time.Duration(s.inferenceCount)
		}
		snap.Algorithms[name] = as
	}
	return snap
}
