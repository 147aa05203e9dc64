package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/database"
	"github.com/davidleathers/anomaly-detection-backend/internal/service/alerting"
	detectionsvc "github.com/davidleathers/anomaly-detection-backend/internal/service/detection"
)

const pgUniqueViolation = "23505"

// PostgresStore is the durable history store backed by the detections,
// feedback, and alerts tables.
type PostgresStore struct {
	db *database.Pool
}

func NewPostgresStore(db *database.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, record *detection.Record) error {
	results, err := json.Marshal(record.AlgorithmResults)
	if err != nil {
		return fmt.Errorf("marshal algorithm results: %w", err)
	}
	summary, err := json.Marshal(record.FeatureSummary)
	if err != nil {
		return fmt.Errorf("marshal feature summary: %w", err)
	}

	query := `
		INSERT INTO detections (
			id, created_at, algorithm, is_anomaly, confidence,
			alert_level, algorithm_results, feature_summary, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.Exec(ctx, query,
		record.ID, record.Timestamp, record.Algorithm, record.IsAnomaly,
		record.Confidence, record.AlertLevel.String(), results, summary,
		record.Description,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError("detection record already exists")
		}
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*detection.Record, error) {
	query := `
		SELECT id, created_at, algorithm, is_anomaly, confidence,
		       alert_level, algorithm_results, feature_summary, description
		FROM detections
		WHERE id = $1`

	record, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrDetectionNotFound
		}
		return nil, fmt.Errorf("query detection: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Recent(ctx context.Context, filter detectionsvc.HistoryFilter) ([]*detection.Record, error) {
	query := `
		SELECT id, created_at, algorithm, is_anomaly, confidence,
		       alert_level, algorithm_results, feature_summary, description
		FROM detections`
	if filter.OnlyAnomalies {
		query += ` WHERE is_anomaly`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	rows, err := s.db.Query(ctx, query, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	records := make([]*detection.Record, 0, filter.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Aggregate(ctx context.Context) (detection.Aggregate, error) {
	var agg detection.Aggregate
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_anomaly) FROM detections`
	if err := s.db.QueryRow(ctx, query).Scan(&agg.TotalCount, &agg.AnomalyCount); err != nil {
		return detection.Aggregate{}, fmt.Errorf("aggregate detections: %w", err)
	}
	return agg, nil
}

func (s *PostgresStore) SaveFeedback(ctx context.Context, fb detection.Feedback) error {
	query := `
		INSERT INTO feedback (detection_id, is_anomaly, comment, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.Exec(ctx, query, fb.DetectionID, fb.IsAnomaly, fb.Comment, fb.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrDuplicateFeedback
		}
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordAlert(ctx context.Context, event alerting.Event) error {
	query := `
		INSERT INTO alerts (
			id, detection_id, level, confidence, message,
			dispatch_status, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET dispatch_status = EXCLUDED.dispatch_status,
		    attempts = EXCLUDED.attempts`

	_, err := s.db.Exec(ctx, query,
		event.ID, event.DetectionID, event.Level.String(), event.Confidence,
		event.Message, string(event.Status), event.Attempts, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*detection.Record, error) {
	var (
		record      detection.Record
		level       string
		resultsJSON []byte
		summaryJSON []byte
	)
	err := row.Scan(
		&record.ID, &record.Timestamp, &record.Algorithm, &record.IsAnomaly,
		&record.Confidence, &level, &resultsJSON, &summaryJSON,
		&record.Description,
	)
	if err != nil {
		return nil, err
	}

	if parsed, ok := detection.ParseAlertLevel(level); ok {
		record.AlertLevel = parsed
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &record.AlgorithmResults); err != nil {
			return nil, fmt.Errorf("unmarshal algorithm results: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &record.FeatureSummary); err != nil {
			return nil, fmt.Errorf("unmarshal feature summary: %w", err)
		}
	}
	return &record, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
