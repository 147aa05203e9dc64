package alerting

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
)

// DispatchStatus tracks an alert through the async delivery pipeline.
type DispatchStatus string

const (
	StatusPending   DispatchStatus = "pending"
	StatusDelivered DispatchStatus = "delivered"
	StatusFailed    DispatchStatus = "failed"
	StatusDuplicate DispatchStatus = "duplicate"
)

// Event is one alert raised for an anomalous detection. Exactly one event
// is dispatched per detection ID; replays are marked duplicate and dropped.
type Event struct {
	ID          uuid.UUID            `json:"id"`
	DetectionID uuid.UUID            `json:"detection_id"`
	Level       detection.AlertLevel `json:"level"`
	Confidence  float64              `json:"confidence"`
	Message     string               `json:"message"`
	CreatedAt   time.Time            `json:"created_at"`

	Status   DispatchStatus `json:"dispatch_status"`
	Attempts int            `json:"attempts"`
}

// Config controls queue depth and retry behavior of the dispatcher.
type Config struct {
	QueueSize    int           `koanf:"queue_size"`
	Workers      int           `koanf:"workers"`
	MaxAttempts  int           `koanf:"max_attempts"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	// MinLevel suppresses alerts below this severity.
	MinLevel detection.AlertLevel `koanf:"min_level"`
	// DedupeTTL bounds how long a detection ID blocks duplicate alerts.
	DedupeTTL time.Duration `koanf:"dedupe_ttl"`
}

func (c *Config) normalize() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 24 * time.Hour
	}
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	c := Config{MinLevel: detection.AlertMedium}
	c.normalize()
	return c
}
