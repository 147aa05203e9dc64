package detection

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Algorithm identifies one of the supported scoring algorithms.
type Algorithm int

const (
	AlgorithmIsolation Algorithm = iota
	AlgorithmBoundary
	AlgorithmStatistical
	AlgorithmEnsemble
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmIsolation:
		return "isolation"
	case AlgorithmBoundary:
		return "boundary"
	case AlgorithmStatistical:
		return "statistical"
	case AlgorithmEnsemble:
		return "ensemble"
	default:
		return "unknown"
	}
}

// ParseAlgorithm converts an algorithm selector string into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, bool) {
	switch s {
	case "isolation":
		return AlgorithmIsolation, true
	case "boundary":
		return AlgorithmBoundary, true
	case "statistical":
		return AlgorithmStatistical, true
	case "ensemble":
		return AlgorithmEnsemble, true
	default:
		return 0, false
	}
}

// ScoringAlgorithms lists the individual (non-ensemble) algorithms in their
// canonical order. The ensemble evaluates them in exactly this order.
func ScoringAlgorithms() []Algorithm {
	return []Algorithm{AlgorithmIsolation, AlgorithmBoundary, AlgorithmStatistical}
}

// AlgorithmResult is the outcome of a single algorithm scoring one vector.
// Immutable once produced.
type AlgorithmResult struct {
	Algorithm       string        `json:"algorithm"`
	RawScore        float64       `json:"raw_score"`
	Confidence      float64       `json:"confidence"`
	IsAnomaly       bool          `json:"is_anomaly"`
	ComputationTime time.Duration `json:"computation_time"`
}

// FeatureSummary is a bounded digest of the input vector stored with a
// record instead of the full feature payload.
type FeatureSummary struct {
	Length int     `json:"length"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes the stored digest of a feature vector.
func Summarize(features []float64) FeatureSummary {
	s := FeatureSummary{Length: len(features)}
	if len(features) == 0 {
		return s
	}
	s.Min = features[0]
	s.Max = features[0]
	var sum float64
	for _, v := range features {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = sum / float64(len(features))
	return s
}

// Record is the immutable result of one detection call.
type Record struct {
	ID               uuid.UUID         `json:"id"`
	Timestamp        time.Time         `json:"timestamp"`
	Algorithm        string            `json:"algorithm"`
	AlgorithmResults []AlgorithmResult `json:"algorithm_results,omitempty"`
	IsAnomaly        bool              `json:"is_anomaly"`
	Confidence       float64           `json:"confidence"`
	AlertLevel       AlertLevel        `json:"alert_level"`
	FeatureSummary   FeatureSummary    `json:"feature_summary"`
	Description      string            `json:"description"`
}

// NewRecord assembles a detection record from a finished pipeline run.
func NewRecord(algorithm Algorithm, results []AlgorithmResult, isAnomaly bool, confidence float64, level AlertLevel, summary FeatureSummary, description string) *Record {
	rec := &Record{
		ID:             uuid.New(),
		Timestamp:      time.Now().UTC(),
		Algorithm:      algorithm.String(),
		IsAnomaly:      isAnomaly,
		Confidence:     confidence,
		AlertLevel:     level,
		FeatureSummary: summary,
		Description:    description,
	}
	if algorithm == AlgorithmEnsemble {
		rec.AlgorithmResults = results
	}
	return rec
}

// Aggregate holds store-wide counters for the history log.
type Aggregate struct {
	TotalCount   int64 `json:"total_count"`
	AnomalyCount int64 `json:"anomaly_count"`
}

// ClampConfidence bounds a normalized confidence into [0,1] and maps
// non-finite values to 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return math.Min(1, math.Max(0, c))
}
