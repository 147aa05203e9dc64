package detection

import (
	"fmt"
	"math"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
)

// ValidateFeatures checks an incoming feature vector against the deployment's
// expected shape. It is side-effect free and must run before any scoring.
func ValidateFeatures(features []float64, expectedLength int) error {
	if len(features) == 0 {
		return errors.ErrEmptyInput
	}
	if len(features) != expectedLength {
		return errors.NewValidationError("INVALID_SHAPE",
			fmt.Sprintf("expected %d features, got %d", expectedLength, len(features)))
	}
	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.NewValidationError("NON_NUMERIC",
				fmt.Sprintf("feature %d is not a finite number", i))
		}
	}
	return nil
}
