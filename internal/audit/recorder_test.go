package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/bucketing"
	"identity-service/internal/config"
	"identity-service/internal/models"
)

type captureSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Write(_ context.Context, events []models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) snapshot() []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

func newTestBucketing(t *testing.T) *bucketing.BucketingManager {
	t.Helper()
	return bucketing.NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{EventBuckets: 16},
	})
}

func TestRecorderDeliversStampedEvents(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(&config.AuditConfig{
		BufferSize:    64,
		BatchSize:     2,
		FlushInterval: 10 * time.Millisecond,
	}, newTestBucketing(t), sink)
	defer recorder.Close()

	for i := 0; i < 3; i++ {
		recorder.Record(models.AuditEvent{
			EventType:       "authentication",
			Action:          "login",
			Result:          ResultDenied,
			Reason:          "invalid_credentials",
			LoginIdentifier: "ops@example.com",
			IPAddress:       "192.168.1.42",
		})
	}

	require.Eventually(t, func() bool {
		return sink.count() == 3
	}, 2*time.Second, 10*time.Millisecond)

	for _, event := range sink.snapshot() {
		assert.NotEmpty(t, event.EventID)
		assert.False(t, event.EventTime.IsZero())
		assert.Equal(t, event.EventTime.UTC().Format("2006-01-02"), event.EventDate)
		assert.GreaterOrEqual(t, event.EventBucket, 0)
		assert.Less(t, event.EventBucket, 16)
	}
}

func TestRecorderFlushesOnClose(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(&config.AuditConfig{
		BufferSize:    64,
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, newTestBucketing(t), sink)

	recorder.Record(models.AuditEvent{Action: "login", Result: ResultSuccess, ActorID: "abc"})
	recorder.Close()

	assert.Equal(t, 1, sink.count())
}

func TestRecorderIgnoresEventsAfterClose(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(&config.AuditConfig{
		BufferSize:    64,
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, newTestBucketing(t), sink)

	recorder.Close()
	recorder.Record(models.AuditEvent{Action: "login", Result: ResultSuccess})

	assert.Equal(t, 0, sink.count())
}

func TestRecorderGroupsEventsPerPrincipal(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(&config.AuditConfig{
		BufferSize:    64,
		BatchSize:     10,
		FlushInterval: 10 * time.Millisecond,
	}, newTestBucketing(t), sink)
	defer recorder.Close()

	for i := 0; i < 2; i++ {
		recorder.Record(models.AuditEvent{ActorID: "same-actor", Action: "login"})
	}

	require.Eventually(t, func() bool {
		return sink.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	events := sink.snapshot()
	assert.Equal(t, events[0].EventBucket, events[1].EventBucket)
}
