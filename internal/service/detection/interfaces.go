package detection

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/service/modelmetrics"
)

// Service is the detection engine interface.
type Service interface {
	// Detect validates and scores one feature vector, persists the outcome,
	// and raises an alert when warranted.
	Detect(ctx context.Context, req DetectRequest) (*detection.Record, error)
	// DetectBatch scores many vectors; invalid rows fail individually
	// without aborting the batch.
	DetectBatch(ctx context.Context, req BatchRequest) (*BatchResult, error)
	// History returns persisted detection records, newest first.
	History(ctx context.Context, filter HistoryFilter) ([]*detection.Record, error)
	// SubmitFeedback stores a ground-truth label and updates model metrics.
	SubmitFeedback(ctx context.Context, detectionID uuid.UUID, isAnomaly bool, comment string) error
	// ModelMetrics returns the live per-algorithm quality snapshot.
	ModelMetrics(ctx context.Context) (modelmetrics.Snapshot, error)
	// Train starts an asynchronous retraining run. Returns a conflict error
	// while another run is in progress.
	Train(ctx context.Context, req TrainRequest) error
	// TrainingStatus reports the state of the latest training run.
	TrainingStatus() TrainingStatus
	// ExportSnapshot assembles the structured report document.
	ExportSnapshot(ctx context.Context) (*Report, error)
}

// Repository is the append-only history store.
type Repository interface {
	// Append persists one detection record.
	Append(ctx context.Context, record *detection.Record) error
	// GetByID returns one record or ErrDetectionNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*detection.Record, error)
	// Recent returns persisted records newest first.
	Recent(ctx context.Context, filter HistoryFilter) ([]*detection.Record, error)
	// Aggregate returns running totals across all persisted records.
	Aggregate(ctx context.Context) (detection.Aggregate, error)
}

// FeedbackRepository stores ground-truth labels, one per detection.
type FeedbackRepository interface {
	// SaveFeedback persists a label; a second label for the same detection
	// returns ErrDuplicateFeedback.
	SaveFeedback(ctx context.Context, fb detection.Feedback) error
}

// Alerter submits alerts without ever blocking or failing the caller.
type Alerter interface {
	Notify(detectionID uuid.UUID, level detection.AlertLevel, confidence float64, message string) bool
}
