package detector

import (
	"math"
	"sync"
	"time"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
)

// StatisticalConfig tunes the z-score scorer.
type StatisticalConfig struct {
	// ZMax is the mean absolute z-score that maps to confidence 1.0.
	ZMax float64 `koanf:"z_max"`
	// Threshold is the confidence at or above which the vector is flagged.
	Threshold float64 `koanf:"threshold"`
}

func (c *StatisticalConfig) normalize() {
	if c.ZMax <= 0 {
		c.ZMax = 3.0
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
}

// StatisticalScorer scores a vector by its mean absolute z-score against
// reference statistics. The default calibration is a zero-mean,
// unit-variance reference, so the scorer is usable without training; Fit
// recalibrates the per-feature mean and standard deviation from reference
// data for better sensitivity.
//
// Normalization is the documented linear clamp confidence = min(z/ZMax, 1),
// monotonic in the raw score.
type StatisticalScorer struct {
	mu  sync.RWMutex
	cfg StatisticalConfig

	// Per-feature calibration; nil means the zero-mean unit-variance default.
	mean []float64
	std  []float64
}

// NewStatisticalScorer creates a statistical scorer with the given config.
func NewStatisticalScorer(cfg StatisticalConfig) *StatisticalScorer {
	cfg.normalize()
	return &StatisticalScorer{cfg: cfg}
}

func (s *StatisticalScorer) Name() string { return detection.AlgorithmStatistical.String() }

// Trained always reports true: the scorer works with default calibration.
func (s *StatisticalScorer) Trained() bool { return true }

// Fit calibrates per-feature mean and standard deviation from reference data.
func (s *StatisticalScorer) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errors.NewValidationError("EMPTY_TRAINING_DATA", "reference data is empty")
	}
	nFeatures := len(data[0])
	mean := make([]float64, nFeatures)
	std := make([]float64, nFeatures)

	for _, row := range data {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(data))
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range data {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
	}

	s.mu.Lock()
	s.mean = mean
	s.std = std
	s.mu.Unlock()
	return nil
}

// Score computes the mean absolute z-score of the vector.
func (s *StatisticalScorer) Score(features []float64) (detection.AlgorithmResult, error) {
	start := time.Now()

	s.mu.RLock()
	mean, std := s.mean, s.std
	cfg := s.cfg
	s.mu.RUnlock()

	var total float64
	for i, v := range features {
		m, sd := 0.0, 1.0
		if mean != nil && i < len(mean) {
			m = mean[i]
			sd = std[i]
		}
		if sd < 1e-9 {
			sd = 1e-9
		}
		total += math.Abs(v-m) / sd
	}
	raw := total / float64(len(features))
	confidence := detection.ClampConfidence(raw / cfg.ZMax)

	return detection.AlgorithmResult{
		Algorithm:       s.Name(),
		RawScore:        raw,
		Confidence:      confidence,
		IsAnomaly:       confidence >= cfg.Threshold,
		ComputationTime: time.Since(start),
	}, nil
}
