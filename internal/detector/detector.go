// Package detector implements the unsupervised scoring algorithms behind the
// detection engine: an isolation forest, a one-class boundary model, and a
// reference-statistics z-score scorer.
package detector

import (
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
)

// Scorer maps a feature vector to an AlgorithmResult. Score is safe for
// concurrent use; Fit takes exclusive access to the model state.
type Scorer interface {
	// Name returns the algorithm selector this scorer answers to.
	Name() string
	// Trained reports whether the model is ready to score.
	Trained() bool
	// Fit (re)trains the model on reference data assumed to be mostly normal.
	Fit(data [][]float64) error
	// Score computes the raw anomaly score and normalized confidence for one
	// vector. Returns a ModelNotTrained error when fitting is required and
	// has not happened.
	Score(features []float64) (detection.AlgorithmResult, error)
}

// Config carries every tunable of the scoring layer. Zero values are
// replaced with the documented defaults by Normalize.
type Config struct {
	Isolation   IsolationConfig   `koanf:"isolation"`
	Boundary    BoundaryConfig    `koanf:"boundary"`
	Statistical StatisticalConfig `koanf:"statistical"`
	Ensemble    EnsembleConfig    `koanf:"ensemble"`
}

// Normalize fills unset fields with defaults and reports configuration
// errors that cannot be defaulted away.
func (c *Config) Normalize() error {
	c.Isolation.normalize()
	c.Boundary.normalize()
	c.Statistical.normalize()
	return c.Ensemble.normalize()
}

// DefaultConfig returns the fully defaulted scoring configuration.
func DefaultConfig() Config {
	cfg := Config{}
	_ = cfg.Normalize()
	return cfg
}
