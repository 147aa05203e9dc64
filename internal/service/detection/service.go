// Package detection orchestrates the scoring pipeline: validate the input,
// run the selected scorers, combine their results, persist the outcome, and
// raise an alert when the severity warrants one.
package detection

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/anomaly-detection-backend/internal/detector"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
	"github.com/davidleathers/anomaly-detection-backend/internal/metrics"
	"github.com/davidleathers/anomaly-detection-backend/internal/service/modelmetrics"
)

type service struct {
	cfg      Config
	scorers  []detector.Scorer
	byName   map[string]detector.Scorer
	ensemble detector.EnsembleConfig

	repo     Repository
	feedback FeedbackRepository
	alerter  Alerter
	tracker  *modelmetrics.Tracker
	registry *metrics.Registry
	logger   *slog.Logger

	trainMu  sync.Mutex
	training TrainingStatus
}

// NewService wires the engine. alerter and registry may be nil; feedback may
// equal repo when one store implements both. Bootstrap training, when
// enabled, fits every scorer on generated reference data before the service
// is returned.
func NewService(
	cfg Config,
	scoring detector.Config,
	repo Repository,
	feedback FeedbackRepository,
	alerter Alerter,
	tracker *modelmetrics.Tracker,
	registry *metrics.Registry,
	logger *slog.Logger,
) (Service, error) {
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("detection config: %w", err)
	}
	if err := scoring.Normalize(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	if tracker == nil {
		tracker = modelmetrics.NewTracker(
			detection.AlgorithmIsolation.String(),
			detection.AlgorithmBoundary.String(),
			detection.AlgorithmStatistical.String(),
			detection.AlgorithmEnsemble.String(),
		)
	}

	s := &service{
		cfg:      cfg,
		ensemble: scoring.Ensemble,
		repo:     repo,
		feedback: feedback,
		alerter:  alerter,
		tracker:  tracker,
		registry: registry,
		logger:   logger,
		training: TrainingStatus{State: TrainingIdle},
	}
	s.scorers = []detector.Scorer{
		detector.NewIsolationScorer(scoring.Isolation),
		detector.NewBoundaryScorer(scoring.Boundary),
		detector.NewStatisticalScorer(scoring.Statistical),
	}
	s.byName = make(map[string]detector.Scorer, len(s.scorers))
	for _, sc := range s.scorers {
		s.byName[sc.Name()] = sc
	}

	if cfg.Bootstrap {
		data := generateReference(cfg.TrainingSampleCount, cfg.FeatureCount, cfg.TrainingSeed)
		for _, sc := range s.scorers {
			if err := sc.Fit(data); err != nil {
				return nil, fmt.Errorf("bootstrap fit %s: %w", sc.Name(), err)
			}
		}
		s.training = TrainingStatus{
			State:       TrainingCompleted,
			Progress:    1,
			SampleCount: cfg.TrainingSampleCount,
			StartedAt:   time.Now().UTC(),
			CompletedAt: time.Now().UTC(),
		}
	}
	return s, nil
}

func (s *service) Detect(ctx context.Context, req DetectRequest) (*detection.Record, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, errors.NewInternalError("request cancelled").WithCause(err)
	}
	if err := detection.ValidateFeatures(req.Features, s.cfg.FeatureCount); err != nil {
		return nil, err
	}

	scorers, err := s.selectScorers(req.Algorithm)
	if err != nil {
		return nil, err
	}

	results := make([]detection.AlgorithmResult, 0, len(scorers))
	for _, sc := range scorers {
		result, err := sc.Score(req.Features)
		if err != nil {
			return nil, err
		}
		s.tracker.RecordInference(result.Algorithm, result.ComputationTime)
		if s.registry != nil {
			s.registry.RecordScorerDuration(ctx, result.Algorithm, result.ComputationTime)
		}
		results = append(results, result)
	}

	var isAnomaly bool
	var confidence float64
	if req.Algorithm == detection.AlgorithmEnsemble {
		isAnomaly, confidence = detector.Combine(results, s.tracker.Weights(), s.ensemble)
	} else {
		isAnomaly, confidence = results[0].IsAnomaly, results[0].Confidence
	}

	level := s.cfg.Severity.Level(confidence)
	record := detection.NewRecord(
		req.Algorithm, results, isAnomaly, confidence, level,
		detection.Summarize(req.Features), req.Description,
	)

	if err := s.repo.Append(ctx, record); err != nil {
		// The decision was computed; hand it back alongside the error so the
		// caller can still act on an unpersisted result.
		return record, errors.NewPersistenceError("failed to persist detection record").
			WithCause(err).
			WithDetails(map[string]interface{}{"detection_id": record.ID.String()})
	}

	if isAnomaly && level > detection.AlertNone && s.alerter != nil {
		s.alerter.Notify(record.ID, level, confidence,
			fmt.Sprintf("anomaly detected by %s with confidence %.3f", record.Algorithm, confidence))
	}
	if s.registry != nil {
		s.registry.RecordDetection(ctx, record.Algorithm, time.Since(started), isAnomaly, level.String())
	}
	return record, nil
}

func (s *service) selectScorers(algorithm detection.Algorithm) ([]detector.Scorer, error) {
	if algorithm == detection.AlgorithmEnsemble {
		return s.scorers, nil
	}
	sc, ok := s.byName[algorithm.String()]
	if !ok {
		return nil, errors.NewValidationError("UNKNOWN_ALGORITHM",
			fmt.Sprintf("unknown algorithm %q", algorithm.String()))
	}
	return []detector.Scorer{sc}, nil
}

func (s *service) DetectBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Vectors) == 0 {
		return nil, errors.NewValidationError("EMPTY_BATCH", "batch contains no vectors")
	}
	if len(req.Vectors) > s.cfg.MaxBatchSize {
		return nil, errors.NewValidationError("BATCH_TOO_LARGE",
			fmt.Sprintf("batch size %d exceeds limit %d", len(req.Vectors), s.cfg.MaxBatchSize))
	}

	result := &BatchResult{Items: make([]BatchItem, 0, len(req.Vectors))}
	for i, vector := range req.Vectors {
		item := BatchItem{Index: i}
		record, err := s.Detect(ctx, DetectRequest{Features: vector, Algorithm: req.Algorithm})
		if err != nil {
			item.Error = err.Error()
			result.Failed++
		} else {
			item.Record = record
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func (s *service) History(ctx context.Context, filter HistoryFilter) ([]*detection.Record, error) {
	filter.normalize()
	return s.repo.Recent(ctx, filter)
}

func (s *service) SubmitFeedback(ctx context.Context, detectionID uuid.UUID, isAnomaly bool, comment string) error {
	record, err := s.repo.GetByID(ctx, detectionID)
	if err != nil {
		return err
	}

	fb := detection.Feedback{
		DetectionID: detectionID,
		IsAnomaly:   isAnomaly,
		Comment:     comment,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.feedback.SaveFeedback(ctx, fb); err != nil {
		return err
	}

	// Per-algorithm results exist only on ensemble records; the top-level
	// decision is always labeled.
	for _, result := range record.AlgorithmResults {
		s.tracker.RecordOutcome(result.Algorithm, result.IsAnomaly, isAnomaly)
	}
	s.tracker.RecordOutcome(record.Algorithm, record.IsAnomaly, isAnomaly)
	return nil
}

func (s *service) ModelMetrics(_ context.Context) (modelmetrics.Snapshot, error) {
	return s.tracker.Snapshot(), nil
}

func (s *service) Train(_ context.Context, req TrainRequest) error {
	targets, err := s.selectScorers(req.Algorithm)
	if err != nil {
		return err
	}

	samples := req.Samples
	if len(samples) == 0 {
		samples = generateReference(s.cfg.TrainingSampleCount, s.cfg.FeatureCount, s.cfg.TrainingSeed)
	} else {
		for i, row := range samples {
			if len(row) != s.cfg.FeatureCount {
				return errors.NewValidationError("INVALID_SHAPE",
					fmt.Sprintf("training sample %d has %d features, expected %d", i, len(row), s.cfg.FeatureCount))
			}
		}
	}

	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	if s.training.State == TrainingRunning {
		return errors.NewConflictError("training already in progress")
	}
	s.training = TrainingStatus{
		State:       TrainingRunning,
		SampleCount: len(samples),
		StartedAt:   time.Now().UTC(),
	}

	go s.runTraining(targets, samples)
	return nil
}

func (s *service) runTraining(targets []detector.Scorer, samples [][]float64) {
	for i, sc := range targets {
		if err := sc.Fit(samples); err != nil {
			s.logger.Error("training failed", "algorithm", sc.Name(), "error", err)
			s.setTraining(func(st *TrainingStatus) {
				st.State = TrainingFailed
				st.Error = fmt.Sprintf("%s: %v", sc.Name(), err)
				st.CompletedAt = time.Now().UTC()
			})
			if s.registry != nil {
				s.registry.RecordTrainingRun(context.Background(), "failed")
			}
			return
		}
		progress := float64(i+1) / float64(len(targets))
		s.setTraining(func(st *TrainingStatus) { st.Progress = progress })
	}
	s.setTraining(func(st *TrainingStatus) {
		st.State = TrainingCompleted
		st.Progress = 1
		st.CompletedAt = time.Now().UTC()
	})
	if s.registry != nil {
		s.registry.RecordTrainingRun(context.Background(), "completed")
	}
	s.logger.Info("training completed", "samples", len(samples), "scorers", len(targets))
}

func (s *service) setTraining(update func(*TrainingStatus)) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	update(&s.training)
}

func (s *service) TrainingStatus() TrainingStatus {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	return s.training
}

func (s *service) ExportSnapshot(ctx context.Context) (*Report, error) {
	aggregate, err := s.repo.Aggregate(ctx)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to aggregate detection history").WithCause(err)
	}
	recent, err := s.repo.Recent(ctx, HistoryFilter{Limit: s.cfg.ExportRecentLimit})
	if err != nil {
		return nil, errors.NewPersistenceError("failed to read detection history").WithCause(err)
	}

	return &Report{
		GeneratedAt: time.Now().UTC(),
		Aggregate:   aggregate,
		Metrics:     s.tracker.Snapshot(),
		Recent:      recent,
		Training:    s.TrainingStatus(),
	}, nil
}

// generateReference builds seeded standard-normal reference data for
// bootstrap and sample-free training runs.
func generateReference(n, features int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := range data {
		row := make([]float64, features)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		data[i] = row
	}
	return data
}
