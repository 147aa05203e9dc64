package modelmetrics

import "time"

// Counts is the confusion matrix for one algorithm, built from operator
// feedback only. Detections without feedback never move these counters.
type Counts struct {
	TruePositives  uint64 `json:"true_positives"`
	FalsePositives uint64 `json:"false_positives"`
	TrueNegatives  uint64 `json:"true_negatives"`
	FalseNegatives uint64 `json:"false_negatives"`
}

// Total returns the number of labeled outcomes.
func (c Counts) Total() uint64 {
	return c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
}

// Scores are the quality metrics derived from Counts. Undefined ratios
// (zero denominators) report as zero rather than NaN.
type Scores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Accuracy  float64 `json:"accuracy"`
}

// AlgorithmSnapshot is a point-in-time view of one algorithm's health.
type AlgorithmSnapshot struct {
	Algorithm      string        `json:"algorithm"`
	Counts         Counts        `json:"confusion_matrix"`
	Scores         Scores        `json:"scores"`
	InferenceCount uint64        `json:"inference_count"`
	AvgLatency     time.Duration `json:"avg_latency"`
}

// Snapshot is a consistent view across all tracked algorithms.
type Snapshot struct {
	Algorithms  map[string]AlgorithmSnapshot `json:"algorithms"`
	GeneratedAt time.Time                    `json:"generated_at"`
}

func scoresFrom(c Counts) Scores {
	var s Scores
	if d := c.TruePositives + c.FalsePositives; d > 0 {
		s.Precision = float64(c.TruePositives) / float64(d)
	}
	if d := c.TruePositives + c.FalseNegatives; d > 0 {
		s.Recall = float64(c.TruePositives) / float64(d)
	}
	if d := s.Precision + s.Recall; d > 0 {
		s.F1 = 2 * s.Precision * s.Recall / d
	}
	if d := c.Total(); d > 0 {
		s.Accuracy = float64(c.TruePositives+c.TrueNegatives) / float64(d)
	}
	return s
}
