package detection_test

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/anomaly-detection-backend/internal/detector"
	domain "github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/repository"
	"github.com/davidleathers/anomaly-detection-backend/internal/service/detection"
)

type fakeAlerter struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (a *fakeAlerter) Notify(detectionID uuid.UUID, _ domain.AlertLevel, _ float64, _ string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, detectionID)
	return true
}

func (a *fakeAlerter) notified() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.calls...)
}

type failingRepo struct {
	*repository.MemoryStore
}

func (r *failingRepo) Append(context.Context, *domain.Record) error {
	return stderrors.New("connection refused")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScoringConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.Isolation.Trees = 30
	cfg.Isolation.SampleSize = 64
	cfg.Boundary.MaxIter = 100
	return cfg
}

func newTestService(t *testing.T, bootstrap bool) (detection.Service, *repository.MemoryStore, *fakeAlerter) {
	t.Helper()

	store := repository.NewMemoryStore()
	alerter := &fakeAlerter{}
	svc, err := detection.NewService(
		detection.Config{FeatureCount: 4, TrainingSampleCount: 200, Bootstrap: bootstrap},
		testScoringConfig(),
		store, store, alerter, nil, nil, testLogger(),
	)
	require.NoError(t, err)
	return svc, store, alerter
}

func outlierVector() []float64 { return []float64{50, 50, 50, 50} }

func TestService_DetectRejectsInvalidInput(t *testing.T) {
	svc, store, _ := newTestService(t, true)

	tests := []struct {
		name     string
		features []float64
		code     string
	}{
		{"empty input", nil, "EMPTY_INPUT"},
		{"wrong length", []float64{1, 2}, "INVALID_SHAPE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Detect(context.Background(), detection.DetectRequest{Features: tt.features})
			require.Error(t, err)

			var appErr *errors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}

	// Failed validation persists nothing.
	agg, err := store.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, agg.TotalCount)
}

func TestService_DetectRequiresTrainedModels(t *testing.T) {
	svc, store, _ := newTestService(t, false)

	_, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  make([]float64, 4),
		Algorithm: domain.AlgorithmIsolation,
	})
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "MODEL_NOT_TRAINED", appErr.Code)

	agg, _ := store.Aggregate(context.Background())
	assert.Zero(t, agg.TotalCount)

	// The statistical scorer carries a default calibration and still works.
	record, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  make([]float64, 4),
		Algorithm: domain.AlgorithmStatistical,
	})
	require.NoError(t, err)
	assert.False(t, record.IsAnomaly)
}

func TestService_DetectNormalVector(t *testing.T) {
	svc, store, alerter := newTestService(t, true)

	record, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  []float64{0.1, -0.2, 0.3, 0.0},
		Algorithm: domain.AlgorithmEnsemble,
	})
	require.NoError(t, err)

	assert.False(t, record.IsAnomaly)
	assert.Equal(t, "ensemble", record.Algorithm)
	assert.Len(t, record.AlgorithmResults, 3)
	assert.NotEqual(t, uuid.Nil, record.ID)

	agg, _ := store.Aggregate(context.Background())
	assert.EqualValues(t, 1, agg.TotalCount)
	assert.Zero(t, agg.AnomalyCount)
	assert.Empty(t, alerter.notified())
}

func TestService_DetectAnomalyRaisesAlert(t *testing.T) {
	svc, store, alerter := newTestService(t, true)

	record, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  outlierVector(),
		Algorithm: domain.AlgorithmEnsemble,
	})
	require.NoError(t, err)

	assert.True(t, record.IsAnomaly)
	assert.Greater(t, record.Confidence, 0.5)
	assert.Greater(t, record.AlertLevel, domain.AlertNone)

	notified := alerter.notified()
	require.Len(t, notified, 1)
	assert.Equal(t, record.ID, notified[0])

	agg, _ := store.Aggregate(context.Background())
	assert.EqualValues(t, 1, agg.AnomalyCount)
}

func TestService_DetectSurfacesPersistenceFailure(t *testing.T) {
	repo := &failingRepo{MemoryStore: repository.NewMemoryStore()}
	alerter := &fakeAlerter{}
	svc, err := detection.NewService(
		detection.Config{FeatureCount: 4, TrainingSampleCount: 200, Bootstrap: true},
		testScoringConfig(),
		repo, repo, alerter, nil, nil, testLogger(),
	)
	require.NoError(t, err)

	record, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  outlierVector(),
		Algorithm: domain.AlgorithmEnsemble,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePersistence))

	// The computed decision still comes back with the error.
	require.NotNil(t, record)
	assert.True(t, record.IsAnomaly)

	// No alert for an unpersisted detection.
	assert.Empty(t, alerter.notified())
}

func TestService_DetectBatch(t *testing.T) {
	svc, store, _ := newTestService(t, true)

	result, err := svc.DetectBatch(context.Background(), detection.BatchRequest{
		Vectors: [][]float64{
			{0.1, -0.1, 0.2, 0.0},
			{1, 2}, // wrong shape
			outlierVector(),
		},
		Algorithm: domain.AlgorithmEnsemble,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 3)
	assert.NotNil(t, result.Items[0].Record)
	assert.Empty(t, result.Items[0].Error)
	assert.Nil(t, result.Items[1].Record)
	assert.NotEmpty(t, result.Items[1].Error)
	assert.True(t, result.Items[2].Record.IsAnomaly)

	agg, _ := store.Aggregate(context.Background())
	assert.EqualValues(t, 2, agg.TotalCount)
}

func TestService_DetectBatchRejectsEmptyAndOversized(t *testing.T) {
	svc, _, _ := newTestService(t, true)

	_, err := svc.DetectBatch(context.Background(), detection.BatchRequest{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	oversized := make([][]float64, 101)
	for i := range oversized {
		oversized[i] = make([]float64, 4)
	}
	_, err = svc.DetectBatch(context.Background(), detection.BatchRequest{Vectors: oversized})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestService_History(t *testing.T) {
	svc, _, _ := newTestService(t, true)

	for i := 0; i < 3; i++ {
		_, err := svc.Detect(context.Background(), detection.DetectRequest{
			Features:  []float64{0.1, 0.2, -0.1, 0.0},
			Algorithm: domain.AlgorithmEnsemble,
		})
		require.NoError(t, err)
	}
	anomalous, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  outlierVector(),
		Algorithm: domain.AlgorithmEnsemble,
	})
	require.NoError(t, err)

	records, err := svc.History(context.Background(), detection.HistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, anomalous.ID, records[0].ID, "newest first")

	anomalies, err := svc.History(context.Background(), detection.HistoryFilter{OnlyAnomalies: true})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, anomalous.ID, anomalies[0].ID)
}

func TestService_SubmitFeedback(t *testing.T) {
	svc, _, _ := newTestService(t, true)

	record, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  outlierVector(),
		Algorithm: domain.AlgorithmEnsemble,
	})
	require.NoError(t, err)

	require.NoError(t, svc.SubmitFeedback(context.Background(), record.ID, true, "confirmed"))

	snap, err := svc.ModelMetrics(context.Background())
	require.NoError(t, err)
	ensemble := snap.Algorithms["ensemble"]
	assert.Equal(t, uint64(1), ensemble.Counts.TruePositives)
	assert.InDelta(t, 1.0, ensemble.Scores.Precision, 1e-9)

	// Each individual algorithm gets labeled too.
	assert.Equal(t, uint64(1), snap.Algorithms["statistical"].Counts.Total())

	err = svc.SubmitFeedback(context.Background(), record.ID, true, "again")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	err = svc.SubmitFeedback(context.Background(), uuid.New(), false, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestService_TrainLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	assert.Equal(t, detection.TrainingIdle, svc.TrainingStatus().State)

	require.NoError(t, svc.Train(context.Background(), detection.TrainRequest{
		Algorithm: domain.AlgorithmEnsemble,
	}))

	require.Eventually(t, func() bool {
		return svc.TrainingStatus().State == detection.TrainingCompleted
	}, 10*time.Second, 10*time.Millisecond)

	status := svc.TrainingStatus()
	assert.Equal(t, 1.0, status.Progress)
	assert.Equal(t, 200, status.SampleCount)
	assert.False(t, status.CompletedAt.IsZero())

	// All scorers are usable after training.
	record, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  outlierVector(),
		Algorithm: domain.AlgorithmEnsemble,
	})
	require.NoError(t, err)
	assert.True(t, record.IsAnomaly)
}

func TestService_TrainRejectsBadSamples(t *testing.T) {
	svc, _, _ := newTestService(t, false)

	err := svc.Train(context.Background(), detection.TrainRequest{
		Samples:   [][]float64{{1, 2}},
		Algorithm: domain.AlgorithmEnsemble,
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestService_ExportSnapshot(t *testing.T) {
	svc, _, _ := newTestService(t, true)

	_, err := svc.Detect(context.Background(), detection.DetectRequest{
		Features:  outlierVector(),
		Algorithm: domain.AlgorithmEnsemble,
	})
	require.NoError(t, err)

	report, err := svc.ExportSnapshot(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, report.Aggregate.TotalCount)
	assert.EqualValues(t, 1, report.Aggregate.AnomalyCount)
	require.Len(t, report.Recent, 1)
	assert.Contains(t, report.Metrics.Algorithms, "isolation")
	assert.Equal(t, detection.TrainingCompleted, report.Training.State)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestService_ConcurrentDetects(t *testing.T) {
	svc, store, _ := newTestService(t, true)

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := svc.Detect(context.Background(), detection.DetectRequest{
					Features:  []float64{0.1, -0.3, 0.2, 0.1},
					Algorithm: domain.AlgorithmEnsemble,
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	agg, _ := store.Aggregate(context.Background())
	assert.EqualValues(t, workers*perWorker, agg.TotalCount)
}
