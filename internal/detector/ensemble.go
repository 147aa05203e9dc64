package detector

import (
	"fmt"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
)

// VotePolicy decides how many individual anomaly flags force an ensemble
// anomaly regardless of the averaged confidence.
type VotePolicy string

const (
	VoteAny      VotePolicy = "any"
	VoteMajority VotePolicy = "majority"
	VoteAll      VotePolicy = "all"
)

// EnsembleConfig fixes the combination policy at configuration time.
type EnsembleConfig struct {
	// Threshold is the final-confidence threshold for an ensemble anomaly.
	Threshold float64 `koanf:"threshold"`
	// Policy is the vote rule evaluated alongside the threshold.
	Policy VotePolicy `koanf:"policy"`
}

func (c *EnsembleConfig) normalize() error {
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	switch c.Policy {
	case "":
		c.Policy = VoteMajority
	case VoteAny, VoteMajority, VoteAll:
	default:
		return fmt.Errorf("unknown ensemble vote policy %q", c.Policy)
	}
	return nil
}

// Combine aggregates per-algorithm results into the ensemble decision.
//
// The final confidence is the weighted average of the normalized
// confidences; missing or all-zero weights fall back to equal weighting, so
// the result always stays within [min, max] of the inputs. The vector is an
// anomaly when the final confidence reaches the ensemble threshold OR the
// vote policy is satisfied. An exact majority tie does not satisfy the
// majority policy; the confidence threshold alone decides.
func Combine(results []detection.AlgorithmResult, weights map[string]float64, cfg EnsembleConfig) (isAnomaly bool, confidence float64) {
	if len(results) == 0 {
		return false, 0
	}

	var weightSum, weighted float64
	for _, r := range results {
		w := weights[r.Algorithm]
		if w < 0 {
			w = 0
		}
		weighted += w * r.Confidence
		weightSum += w
	}
	if weightSum <= 0 {
		weighted, weightSum = 0, 0
		for _, r := range results {
			weighted += r.Confidence
			weightSum++
		}
	}
	confidence = detection.ClampConfidence(weighted / weightSum)

	votes := 0
	for _, r := range results {
		if r.IsAnomaly {
			votes++
		}
	}

	voteHit := false
	switch cfg.Policy {
	case VoteAny:
		voteHit = votes >= 1
	case VoteAll:
		voteHit = votes == len(results)
	default: // majority
		voteHit = votes*2 > len(results)
	}

	return confidence >= cfg.Threshold || voteHit, confidence
}
