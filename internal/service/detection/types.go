package detection

import (
	"time"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/service/modelmetrics"
)

// DetectRequest scores one feature vector with one algorithm or the
// ensemble of all of them.
type DetectRequest struct {
	Features    []float64           `json:"features"`
	Algorithm   detection.Algorithm `json:"-"`
	Description string              `json:"description,omitempty"`
}

// BatchRequest scores many vectors with a shared algorithm selector.
type BatchRequest struct {
	Vectors   [][]float64         `json:"vectors"`
	Algorithm detection.Algorithm `json:"-"`
}

// BatchItem is the per-vector outcome of a batch run. Exactly one of
// Record and Error is set.
type BatchItem struct {
	Index  int               `json:"index"`
	Record *detection.Record `json:"record,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// HistoryFilter narrows a history query.
type HistoryFilter struct {
	Limit         int
	Offset        int
	OnlyAnomalies bool
}

func (f *HistoryFilter) normalize() {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// TrainRequest starts a retraining run. Nil samples train on generated
// reference data.
type TrainRequest struct {
	Samples   [][]float64         `json:"samples,omitempty"`
	Algorithm detection.Algorithm `json:"-"`
}

// TrainingState is the lifecycle of a training run.
type TrainingState string

const (
	TrainingIdle      TrainingState = "idle"
	TrainingRunning   TrainingState = "running"
	TrainingCompleted TrainingState = "completed"
	TrainingFailed    TrainingState = "failed"
)

// TrainingStatus reports the latest training run.
type TrainingStatus struct {
	State       TrainingState `json:"state"`
	Progress    float64       `json:"progress"`
	SampleCount int           `json:"sample_count,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Report is the export document handed to external reporting.
type Report struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Aggregate   detection.Aggregate   `json:"aggregate"`
	Metrics     modelmetrics.Snapshot `json:"model_metrics"`
	Recent      []*detection.Record   `json:"recent_detections"`
	Training    TrainingStatus        `json:"training"`
}

// Config tunes the engine around the scoring layer.
type Config struct {
	// FeatureCount is the required feature vector length.
	FeatureCount int `koanf:"feature_count"`
	// TrainingSampleCount sizes generated reference data.
	TrainingSampleCount int `koanf:"training_sample_count"`
	// TrainingSeed seeds generated reference data.
	TrainingSeed int64 `koanf:"training_seed"`
	// Bootstrap fits all scorers on generated data at startup.
	Bootstrap bool `koanf:"bootstrap"`
	// MaxBatchSize caps vectors per batch request.
	MaxBatchSize int `koanf:"max_batch_size"`
	// ExportRecentLimit caps records embedded in an export document.
	ExportRecentLimit int `koanf:"export_recent_limit"`

	Severity detection.SeverityBounds `koanf:"severity"`
}

func (c *Config) normalize() error {
	if c.FeatureCount <= 0 {
		c.FeatureCount = 1000
	}
	if c.TrainingSampleCount <= 0 {
		c.TrainingSampleCount = 500
	}
	if c.TrainingSeed == 0 {
		c.TrainingSeed = 42
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.ExportRecentLimit <= 0 {
		c.ExportRecentLimit = 100
	}
	if c.Severity == (detection.SeverityBounds{}) {
		c.Severity = detection.DefaultSeverityBounds()
	}
	return c.Severity.Validate()
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	cfg := Config{}
	_ = cfg.normalize()
	return cfg
}
