package alerting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureNotifier struct {
	mu       sync.Mutex
	failures int
	events   []Event
}

func (n *captureNotifier) Name() string { return "capture" }

func (n *captureNotifier) Send(_ context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("downstream unavailable")
	}
	n.events = append(n.events, event)
	return nil
}

func (n *captureNotifier) delivered() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *captureRecorder) RecordAlert(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *captureRecorder) recorded() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestManager_DeliversAlert(t *testing.T) {
	notifier := &captureNotifier{}
	recorder := &captureRecorder{}
	m := NewManager(Config{RetryBackoff: time.Millisecond}, nil, recorder, nil, testLogger(), notifier)

	detectionID := uuid.New()
	assert.True(t, m.Notify(detectionID, detection.AlertHigh, 0.85, "confidence 0.85"))
	m.Close()

	delivered := notifier.delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, detectionID, delivered[0].DetectionID)
	assert.Equal(t, detection.AlertHigh, delivered[0].Level)

	recorded := recorder.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, StatusDelivered, recorded[0].Status)
	assert.Equal(t, 1, recorded[0].Attempts)
}

func TestManager_SuppressesBelowMinLevel(t *testing.T) {
	notifier := &captureNotifier{}
	m := NewManager(Config{MinLevel: detection.AlertHigh}, nil, nil, nil, testLogger(), notifier)

	assert.False(t, m.Notify(uuid.New(), detection.AlertMedium, 0.6, "medium"))
	m.Close()
	assert.Empty(t, notifier.delivered())
}

func TestManager_RetriesWithBackoff(t *testing.T) {
	notifier := &captureNotifier{failures: 2}
	recorder := &captureRecorder{}
	m := NewManager(Config{MaxAttempts: 3, RetryBackoff: time.Millisecond}, nil, recorder, nil, testLogger(), notifier)

	m.Notify(uuid.New(), detection.AlertCritical, 0.95, "critical")
	m.Close()

	require.Len(t, notifier.delivered(), 1)
	recorded := recorder.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, StatusDelivered, recorded[0].Status)
	assert.Equal(t, 3, recorded[0].Attempts)
}

func TestManager_ExhaustedRetriesNeverPropagate(t *testing.T) {
	notifier := &captureNotifier{failures: 10}
	recorder := &captureRecorder{}
	m := NewManager(Config{MaxAttempts: 3, RetryBackoff: time.Millisecond}, nil, recorder, nil, testLogger(), notifier)

	assert.True(t, m.Notify(uuid.New(), detection.AlertCritical, 0.99, "critical"))
	m.Close()

	assert.Empty(t, notifier.delivered())
	recorded := recorder.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, StatusFailed, recorded[0].Status)
	assert.Equal(t, 3, recorded[0].Attempts)
}

func TestManager_DuplicateDetectionDispatchesOnce(t *testing.T) {
	notifier := &captureNotifier{}
	recorder := &captureRecorder{}
	// Single worker keeps dispatch order deterministic.
	m := NewManager(Config{Workers: 1, RetryBackoff: time.Millisecond}, NewMemoryGuard(), recorder, nil, testLogger(), notifier)

	detectionID := uuid.New()
	m.Notify(detectionID, detection.AlertHigh, 0.8, "first")
	m.Notify(detectionID, detection.AlertHigh, 0.8, "replay")
	m.Close()

	assert.Len(t, notifier.delivered(), 1)

	statuses := make(map[DispatchStatus]int)
	for _, e := range recorder.recorded() {
		statuses[e.Status]++
	}
	assert.Equal(t, 1, statuses[StatusDelivered])
	assert.Equal(t, 1, statuses[StatusDuplicate])
}

type blockingNotifier struct {
	gate chan struct{}
}

func (n *blockingNotifier) Name() string { return "blocking" }

func (n *blockingNotifier) Send(_ context.Context, _ Event) error {
	<-n.gate
	return nil
}

func TestManager_DropsWhenQueueFull(t *testing.T) {
	notifier := &blockingNotifier{gate: make(chan struct{})}
	m := NewManager(Config{QueueSize: 1, Workers: 1, RetryBackoff: time.Millisecond}, nil, nil, nil, testLogger(), notifier)

	// First alert parks in the worker, second fills the queue, the rest
	// must be dropped rather than blocking the caller.
	for i := 0; i < 10; i++ {
		m.Notify(uuid.New(), detection.AlertHigh, 0.8, "burst")
	}
	close(notifier.gate)
	m.Close()

	assert.Positive(t, m.Dropped())
}

func TestMemoryGuard_AcquireOnce(t *testing.T) {
	g := NewMemoryGuard()
	id := uuid.New()

	owned, err := g.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = g.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestRedisGuard_AcquireOnce(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	g := NewRedisGuard(client, time.Hour)
	id := uuid.New()

	owned, err := g.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = g.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, owned)

	// TTL expiry releases the claim.
	s.FastForward(2 * time.Hour)
	owned, err = g.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, owned)
}
