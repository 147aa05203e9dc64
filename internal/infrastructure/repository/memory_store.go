package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
	"github.com/davidleathers/anomaly-detection-backend/internal/service/alerting"
	detectionsvc "github.com/davidleathers/anomaly-detection-backend/internal/service/detection"
)

// MemoryStore is the in-process history store for the dev profile and unit
// tests. Append-only; all methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []*detection.Record
	byID     map[uuid.UUID]*detection.Record
	feedback map[uuid.UUID]detection.Feedback
	alerts   []alerting.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[uuid.UUID]*detection.Record),
		feedback: make(map[uuid.UUID]detection.Feedback),
	}
}

func (s *MemoryStore) Append(_ context.Context, record *detection.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.ID]; exists {
		return errors.NewConflictError("detection record already exists")
	}
	s.records = append(s.records, record)
	s.byID[record.ID] = record
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*detection.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[id]
	if !ok {
		return nil, errors.ErrDetectionNotFound
	}
	return record, nil
}

func (s *MemoryStore) Recent(_ context.Context, filter detectionsvc.HistoryFilter) ([]*detection.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*detection.Record, 0, filter.Limit)
	skipped := 0
	for i := len(s.records) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		record := s.records[i]
		if filter.OnlyAnomalies && !record.IsAnomaly {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *MemoryStore) Aggregate(_ context.Context) (detection.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := detection.Aggregate{TotalCount: int64(len(s.records))}
	for _, record := range s.records {
		if record.IsAnomaly {
			agg.AnomalyCount++
		}
	}
	return agg, nil
}

func (s *MemoryStore) SaveFeedback(_ context.Context, fb detection.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.feedback[fb.DetectionID]; exists {
		return errors.ErrDuplicateFeedback
	}
	s.feedback[fb.DetectionID] = fb
	return nil
}

func (s *MemoryStore) RecordAlert(_ context.Context, event alerting.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, event)
	return nil
}

// Alerts returns a copy of every recorded alert event.
func (s *MemoryStore) Alerts() []alerting.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]alerting.Event(nil), s.alerts...)
}
