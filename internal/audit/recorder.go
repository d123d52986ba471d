// Package audit provides an append-only trail of authentication and
// authorization outcomes. Recording is fire-and-forget: the request path
// never waits on a sink and sink failures are logged, not returned.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"identity-service/internal/bucketing"
	"identity-service/internal/config"
	"identity-service/internal/models"
	"identity-service/internal/util"
)

const (
	ResultSuccess = "success"
	ResultDenied  = "denied"
	ResultError   = "error"
)

// Sink writes batches of audit events to one backing store.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []models.AuditEvent) error
}

// Recorder buffers audit events in memory and flushes them to all sinks
// in batches. When the buffer is full new events are dropped rather than
// stalling logins.
type Recorder struct {
	sinks     []Sink
	bucketing *bucketing.BucketingManager
	events    chan models.AuditEvent
	batchSize int
	interval  time.Duration

	closed    atomic.Bool
	dropped   atomic.Int64
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewRecorder(cfg *config.AuditConfig, bucketManager *bucketing.BucketingManager, sinks ...Sink) *Recorder {
	r := &Recorder{
		sinks:     sinks,
		bucketing: bucketManager,
		events:    make(chan models.AuditEvent, cfg.BufferSize),
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		done:      make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	util.Info("Audit recorder started",
		util.Int("buffer_size", cfg.BufferSize),
		util.Int("batch_size", cfg.BatchSize),
		util.Duration("flush_interval", cfg.FlushInterval),
		util.Int("sinks", len(sinks)))
	return r
}

// Record stamps the event and queues it for delivery. It never blocks.
func (r *Recorder) Record(event models.AuditEvent) {
	if r.closed.Load() {
		return
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventDate = r.bucketing.GetDateBucket(event.EventTime)
	event.EventBucket = r.bucketing.GetEventBucket(bucketKey(event))

	select {
	case r.events <- event:
	default:
		r.dropped.Add(1)
		util.Warn("Audit buffer full, event dropped",
			util.String("event_type", event.EventType),
			util.String("action", event.Action))
	}
}

// Close stops intake, flushes everything still buffered and waits for the
// flusher to finish.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()

		if n := r.dropped.Load(); n > 0 {
			util.Warn("Audit events were dropped while running", util.Int64("dropped", n))
		}
		util.Info("Audit recorder stopped")
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	batch := make([]models.AuditEvent, 0, r.batchSize)
	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.done:
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
					if len(batch) >= r.batchSize {
						r.flush(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						r.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush fans the batch out to every sink. A failing sink never stops the
// others; errors are logged and swallowed.
func (r *Recorder) flush(events []models.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, sink := range r.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(ctx, events); err != nil {
				util.Error("Audit sink write failed",
					util.String("sink", sink.Name()),
					util.Int("events", len(events)),
					util.ErrorField(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// bucketKey picks the most specific identifier available so events for
// one principal land in one partition.
func bucketKey(event models.AuditEvent) string {
	if event.ActorID != "" {
		return event.ActorID
	}
	if event.LoginIdentifier != "" {
		return event.LoginIdentifier
	}
	return event.IPAddress
}
