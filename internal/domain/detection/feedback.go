package detection

import (
	"time"

	"github.com/google/uuid"
)

// Feedback is an operator's ground-truth label for one detection.
// At most one feedback row exists per detection.
type Feedback struct {
	DetectionID uuid.UUID `json:"detection_id"`
	IsAnomaly   bool      `json:"is_anomaly"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
