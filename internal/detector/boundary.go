package detector

import (
	"math"
	"sync"
	"time"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
)

// BoundaryConfig tunes the one-class boundary scorer.
type BoundaryConfig struct {
	// Nu bounds the fraction of training points allowed outside the boundary.
	Nu float64 `koanf:"nu"`
	// Gamma is the RBF kernel width; 0 means 1/num_features.
	Gamma float64 `koanf:"gamma"`
	// MaxIter caps the SMO training iterations.
	MaxIter int `koanf:"max_iter"`
	// Tolerance is the training convergence tolerance.
	Tolerance float64 `koanf:"tolerance"`
	// SigmoidScale divides the signed boundary distance before the sigmoid
	// normalization.
	SigmoidScale float64 `koanf:"sigmoid_scale"`
	// Threshold is the confidence at or above which the vector is flagged.
	Threshold float64 `koanf:"threshold"`
}

func (c *BoundaryConfig) normalize() {
	if c.Nu <= 0 || c.Nu > 1 {
		c.Nu = 0.1
	}
	if c.MaxIter <= 0 {
		c.MaxIter = 1000
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-3
	}
	if c.SigmoidScale <= 0 {
		c.SigmoidScale = 1.0
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
}

// BoundaryScorer learns a one-class decision boundary around reference data
// (a one-class SVM with an RBF kernel trained by simplified SMO). The raw
// score is the signed distance from the boundary, positive outside.
// Confidence is the documented clamped sigmoid 1/(1+exp(-d/scale)), so
// distance 0 maps to confidence 0.5 and the default threshold 0.5 flags
// exactly the vectors outside the boundary.
//
// Inputs are standardized with per-feature statistics learned at fit time,
// mirroring the usual scaler + SVM pipeline.
type BoundaryScorer struct {
	mu  sync.RWMutex
	cfg BoundaryConfig

	gamma          float64
	supportVectors [][]float64
	alphas         []float64
	rho            float64

	// Per-feature standardization learned at fit time.
	mean, std []float64

	trained bool
}

// NewBoundaryScorer creates an untrained boundary scorer.
func NewBoundaryScorer(cfg BoundaryConfig) *BoundaryScorer {
	cfg.normalize()
	return &BoundaryScorer{cfg: cfg}
}

func (s *BoundaryScorer) Name() string { return detection.AlgorithmBoundary.String() }

func (s *BoundaryScorer) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trained
}

// Fit learns the scaler and the decision boundary from reference data.
func (s *BoundaryScorer) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errors.NewValidationError("EMPTY_TRAINING_DATA", "reference data is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nFeatures := len(data[0])
	s.mean, s.std = fitScaler(data)
	scaled := make([][]float64, len(data))
	for i, row := range data {
		scaled[i] = scale(row, s.mean, s.std)
	}

	s.gamma = s.cfg.Gamma
	if s.gamma <= 0 {
		s.gamma = 1.0 / float64(nFeatures)
	}

	n := len(scaled)
	kernel := make([][]float64, n)
	for i := 0; i < n; i++ {
		kernel[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			kernel[i][j] = rbf(scaled[i], scaled[j], s.gamma)
		}
	}

	alphas, rho := s.solve(kernel, n)

	s.supportVectors = s.supportVectors[:0]
	s.alphas = s.alphas[:0]
	for i := 0; i < n; i++ {
		if alphas[i] > 1e-5 {
			s.supportVectors = append(s.supportVectors, scaled[i])
			s.alphas = append(s.alphas, alphas[i])
		}
	}
	s.rho = rho
	s.trained = true
	return nil
}

// Score computes the signed distance of one vector from the boundary.
func (s *BoundaryScorer) Score(features []float64) (detection.AlgorithmResult, error) {
	start := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.trained {
		return detection.AlgorithmResult{}, errors.NewModelNotTrainedError(s.Name())
	}

	x := scale(features, s.mean, s.std)

	// Decision function f(x) = sum(alpha_i * K(sv_i, x)) - rho; inside the
	// boundary f > 0, so the anomaly distance is -f.
	decision := -s.rho
	for i, sv := range s.supportVectors {
		decision += s.alphas[i] * rbf(sv, x, s.gamma)
	}
	raw := -decision

	confidence := detection.ClampConfidence(1.0 / (1.0 + math.Exp(-raw/s.cfg.SigmoidScale)))

	return detection.AlgorithmResult{
		Algorithm:       s.Name(),
		RawScore:        raw,
		Confidence:      confidence,
		IsAnomaly:       confidence >= s.cfg.Threshold,
		ComputationTime: time.Since(start),
	}, nil
}

// solve runs simplified SMO on the one-class dual problem.
func (s *BoundaryScorer) solve(kernel [][]float64, n int) ([]float64, float64) {
	alphas := make([]float64, n)
	c := 1.0 / (float64(n) * s.cfg.Nu)
	for i := range alphas {
		alphas[i] = 0.5 * c
	}

	for iter := 0; iter < s.cfg.MaxIter; iter++ {
		changed := 0
		for i := 0; i < n; i++ {
			fi := dot(alphas, kernel[i])
			ei := fi - 1.0
			if !((alphas[i] < c-s.cfg.Tolerance && ei < -s.cfg.Tolerance) ||
				(alphas[i] > s.cfg.Tolerance && ei > s.cfg.Tolerance)) {
				continue
			}

			j := (i + 1 + iter) % n
			if j == i {
				continue
			}
			ej := dot(alphas, kernel[j]) - 1.0

			lo := math.Max(0, alphas[i]+alphas[j]-c)
			hi := math.Min(c, alphas[i]+alphas[j])
			if hi-lo < 1e-8 {
				continue
			}

			eta := 2*kernel[i][j] - kernel[i][i] - kernel[j][j]
			if eta >= -1e-8 {
				continue
			}

			oldJ := alphas[j]
			alphas[j] = math.Max(lo, math.Min(hi, alphas[j]-(ej-ei)/eta))
			if math.Abs(alphas[j]-oldJ) < 1e-5 {
				continue
			}
			alphas[i] += oldJ - alphas[j]
			changed++
		}
		if changed == 0 {
			break
		}
	}

	// Bias from the on-margin support vectors.
	var rho float64
	var count int
	for i := 0; i < n; i++ {
		if alphas[i] > s.cfg.Tolerance && alphas[i] < c-s.cfg.Tolerance {
			rho += dot(alphas, kernel[i])
			count++
		}
	}
	if count > 0 {
		rho /= float64(count)
	} else {
		rho = 1.0
	}
	return alphas, rho
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func rbf(a, b []float64, gamma float64) float64 {
	var sumSq float64
	for i := range a {
		d := a[i] - b[i]
		sumSq += d * d
	}
	return math.Exp(-gamma * sumSq)
}

func fitScaler(data [][]float64) (mean, std []float64) {
	nFeatures := len(data[0])
	mean = make([]float64, nFeatures)
	std = make([]float64, nFeatures)
	n := float64(len(data))

	for _, row := range data {
		for j, v := range row {
			mean[j] += v
		}
	}
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
		if std[j] < 1e-9 {
			std[j] = 1e-9
		}
	}
	return mean, std
}

func scale(row, mean, std []float64) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		if i < len(mean) {
			out[i] = (v - mean[i]) / std[i]
		} else {
			out[i] = v
		}
	}
	return out
}
