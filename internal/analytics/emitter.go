package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Emitter hands trigger events to the aggregator without blocking the
// caller. Emit never fails; events that cannot be queued are dropped and
// counted.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
	Close() error
}

// Recorder is the ingestion side of Aggregator.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// DefaultQueueSize bounds the in-process emitter queue.
const DefaultQueueSize = 1024

// recordTimeout bounds one ingestion by a background worker.
const recordTimeout = 5 * time.Second

// InProcessEmitter feeds a Recorder from a bounded queue drained by one
// worker goroutine.
type InProcessEmitter struct {
	recorder Recorder
	queue    chan Event
	done     chan struct{}
	once     sync.Once
	mu       sync.RWMutex
	closed   bool
}

// NewInProcessEmitter starts the worker.
func NewInProcessEmitter(recorder Recorder, queueSize int) *InProcessEmitter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e := &InProcessEmitter{
		recorder: recorder,
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues ev or drops it when the queue is full or closed.
func (e *InProcessEmitter) Emit(ctx context.Context, ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		eventsDropped.Add(ctx, 1)
		return
	}
	select {
	case e.queue <- ev:
	default:
		eventsDropped.Add(ctx, 1)
		log.Warn().Str("rule_id", ev.RuleID).Msg("analytics_event_dropped")
	}
}

func (e *InProcessEmitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		ingest(e.recorder, ev)
	}
}

// Close stops accepting events and waits for queued ones to be ingested.
func (e *InProcessEmitter) Close() error {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()
	})
	<-e.done
	return nil
}

// ingest records one event with its own deadline. Errors are logged and
// counted by Record, never returned to the emitting request.
func ingest(recorder Recorder, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := recorder.Record(ctx, ev); err != nil {
		log.Error().
			Err(err).
			Str("validation_id", ev.ValidationID).
			Str("rule_id", ev.RuleID).
			Msg("analytics_ingest_failed")
	}
}
