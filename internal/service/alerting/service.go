// Package alerting dispatches anomaly alerts asynchronously. Delivery
// failures are retried with exponential backoff and then logged; they never
// reach the detection path.
package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/metrics"
)

// Manager owns the alert queue and its dispatch workers.
type Manager struct {
	cfg       Config
	notifiers []Notifier
	guard     Guard
	recorder  Recorder
	registry  *metrics.Registry
	logger    *slog.Logger

	queue  chan Event
	wg     sync.WaitGroup
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	dropped uint64
}

// NewManager starts the dispatch workers. recorder and registry may be nil.
func NewManager(cfg Config, guard Guard, recorder Recorder, registry *metrics.Registry, logger *slog.Logger, notifiers ...Notifier) *Manager {
	cfg.normalize()
	if guard == nil {
		guard = NewMemoryGuard()
	}
	if len(notifiers) == 0 {
		notifiers = []Notifier{NewLogNotifier(logger)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		notifiers: notifiers,
		guard:     guard,
		recorder:  recorder,
		registry:  registry,
		logger:    logger,
		queue:     make(chan Event, cfg.QueueSize),
		cancel:    cancel,
		closed:    make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	return m
}

// Notify enqueues one alert for a detection. It never blocks: when the
// queue is full the alert is dropped and counted. Returns false when the
// alert was suppressed or dropped.
func (m *Manager) Notify(detectionID uuid.UUID, level detection.AlertLevel, confidence float64, message string) bool {
	if level < m.cfg.MinLevel {
		return false
	}

	event := Event{
		ID:          uuid.New(),
		DetectionID: detectionID,
		Level:       level,
		Confidence:  confidence,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
		Status:      StatusPending,
	}

	select {
	case <-m.closed:
		return false
	default:
	}

	select {
	case m.queue <- event:
		if m.registry != nil {
			m.registry.SetAlertQueueDepth(int64(len(m.queue)))
		}
		return true
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		if m.registry != nil {
			m.registry.RecordAlertDispatch(context.Background(), "dropped")
		}
		m.logger.Warn("alert queue full, dropping alert",
			"detection_id", detectionID, "level", level.String())
		return false
	}
}

// Dropped reports how many alerts were discarded due to queue pressure.
func (m *Manager) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close stops accepting alerts, drains the queue, and waits for workers.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		close(m.queue)
		m.wg.Wait()
		m.cancel()
	})
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for event := range m.queue {
		m.dispatch(ctx, event)
		if m.registry != nil {
			m.registry.SetAlertQueueDepth(int64(len(m.queue)))
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, event Event) {
	owned, err := m.guard.Acquire(ctx, event.DetectionID)
	if err != nil {
		// Guard outage must not silence alerts; deliver anyway.
		m.logger.ErrorContext(ctx, "alert dedupe check failed, dispatching anyway",
			"detection_id", event.DetectionID, "error", err)
	} else if !owned {
		event.Status = StatusDuplicate
		m.record(ctx, event)
		return
	}

	backoff := m.cfg.RetryBackoff
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		event.Attempts = attempt
		if err = m.send(ctx, event); err == nil {
			event.Status = StatusDelivered
			m.record(ctx, event)
			return
		}

		m.logger.WarnContext(ctx, "alert dispatch attempt failed",
			"detection_id", event.DetectionID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < m.cfg.MaxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				attempt = m.cfg.MaxAttempts
			}
			backoff *= 2
		}
	}

	event.Status = StatusFailed
	m.logger.ErrorContext(ctx, "alert delivery exhausted retries",
		"detection_id", event.DetectionID,
		"attempts", event.Attempts,
		"error", err,
	)
	m.record(ctx, event)
}

func (m *Manager) send(ctx context.Context, event Event) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) record(ctx context.Context, event Event) {
	if m.registry != nil {
		m.registry.RecordAlertDispatch(ctx, string(event.Status))
	}
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordAlert(ctx, event); err != nil {
		m.logger.ErrorContext(ctx, "failed to record alert status",
			"detection_id", event.DetectionID, "error", err)
	}
}
