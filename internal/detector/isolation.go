package detector

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
)

// IsolationConfig tunes the isolation forest scorer.
type IsolationConfig struct {
	// Trees is the number of isolation trees in the forest.
	Trees int `koanf:"trees"`
	// SampleSize is the subsample size used to build each tree.
	SampleSize int `koanf:"sample_size"`
	// Threshold is the confidence at or above which the vector is flagged.
	Threshold float64 `koanf:"threshold"`
	// Seed fixes the RNG for reproducible forests.
	Seed int64 `koanf:"seed"`
}

func (c *IsolationConfig) normalize() {
	if c.Trees <= 0 {
		c.Trees = 100
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 256
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.6
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}

// IsolationScorer estimates how easily a vector is isolated by random
// axis-aligned splits. Shorter average isolation paths mean higher anomaly
// scores. The raw score 2^(-E[h(x)]/c(n)) already lies in (0,1), so the
// documented normalization is the identity clamped to [0,1].
type IsolationScorer struct {
	mu  sync.RWMutex
	cfg IsolationConfig
	rng *rand.Rand

	trees    []*isoNode
	maxDepth int
	// Expected path length c(n) for the training subsample size.
	refPathLen float64
	trained    bool
}

// isoNode is a node in an isolation tree; leaves carry the sample count
// that reached them.
type isoNode struct {
	splitFeature int
	splitValue   float64
	left, right  *isoNode
	size         int
}

// NewIsolationScorer creates an untrained isolation forest scorer.
func NewIsolationScorer(cfg IsolationConfig) *IsolationScorer {
	cfg.normalize()
	return &IsolationScorer{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (s *IsolationScorer) Name() string { return detection.AlgorithmIsolation.String() }

func (s *IsolationScorer) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trained
}

// Fit builds the forest from reference data assumed to be mostly normal.
func (s *IsolationScorer) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errors.NewValidationError("EMPTY_TRAINING_DATA", "reference data is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nSamples := len(data)
	nFeatures := len(data[0])
	sampleSize := s.cfg.SampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	s.maxDepth = int(math.Ceil(math.Log2(float64(sampleSize))))

	trees := make([]*isoNode, s.cfg.Trees)
	for i := range trees {
		indices := s.rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}
		trees[i] = s.grow(sample, nFeatures, 0)
	}

	s.trees = trees
	s.refPathLen = expectedPathLength(float64(sampleSize))
	s.trained = true
	return nil
}

func (s *IsolationScorer) grow(data [][]float64, nFeatures, depth int) *isoNode {
	n := len(data)
	if depth >= s.maxDepth || n <= 1 {
		return &isoNode{size: n}
	}

	feature := s.rng.Intn(nFeatures)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &isoNode{size: n}
	}

	split := minVal + s.rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		splitFeature: feature,
		splitValue:   split,
		left:         s.grow(left, nFeatures, depth+1),
		right:        s.grow(right, nFeatures, depth+1),
	}
}

// Score computes the isolation score for one vector.
func (s *IsolationScorer) Score(features []float64) (detection.AlgorithmResult, error) {
	start := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.trained {
		return detection.AlgorithmResult{}, errors.NewModelNotTrainedError(s.Name())
	}

	var totalPath float64
	for _, tree := range s.trees {
		totalPath += isoPathLength(features, tree, 0)
	}
	avgPath := totalPath / float64(len(s.trees))

	raw := math.Pow(2, -avgPath/s.refPathLen)
	confidence := detection.ClampConfidence(raw)

	return detection.AlgorithmResult{
		Algorithm:       s.Name(),
		RawScore:        raw,
		Confidence:      confidence,
		IsAnomaly:       confidence >= s.cfg.Threshold,
		ComputationTime: time.Since(start),
	}, nil
}

func isoPathLength(sample []float64, n *isoNode, depth int) float64 {
	if n.left == nil && n.right == nil {
		return float64(depth) + expectedPathLength(float64(n.size))
	}
	if sample[n.splitFeature] < n.splitValue {
		return isoPathLength(sample, n.left, depth+1)
	}
	return isoPathLength(sample, n.right, depth+1)
}

// expectedPathLength is c(n), the average path length of an unsuccessful
// BST search: 2*H(n-1) - 2*(n-1)/n with H approximated via ln + the
// Euler-Mascheroni constant.
func expectedPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}
