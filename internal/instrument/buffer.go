package instrument

import (
	"sync"
	"time"

	"optcond-backend/internal/logger"
)

// EventBuffer collects events in memory and periodically writes them to the
// log in one batch.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	log     *logger.Logger
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	stop    sync.Once
}

// NewEventBuffer creates a buffer that flushes on a timer or when full.
func NewEventBuffer(log *logger.Logger, maxSize int, flushIntervalMs int) *EventBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 1000
	}
	eb := &EventBuffer{
		log:     log.With("component", "instrument"),
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	eb.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue adds an event to the buffer. If the buffer is full, a flush
// is triggered asynchronously.
func (eb *EventBuffer) Enqueue(event Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	shouldFlush := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if shouldFlush {
		go eb.Flush()
	}
}

// Len returns the number of events waiting to be flushed.
func (eb *EventBuffer) Len() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.events)
}

// Flush writes all buffered events to the log.
func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	for _, e := range batch {
		kv := []any{
			"trace_id", e.TraceID,
			"span_id", e.SpanID,
			"event_type", e.EventType,
			"source", e.Source,
			"status", e.Status,
		}
		if e.ParentSpanID != "" {
			kv = append(kv, "parent_span_id", e.ParentSpanID)
		}
		if e.Component != "" {
			kv = append(kv, "component", e.Component)
		}
		if e.Entity != "" {
			kv = append(kv, "entity", e.Entity, "record_id", e.RecordID)
		}
		if e.UserID != "" {
			kv = append(kv, "user_id", e.UserID)
		}
		if e.EventType == "system" {
			kv = append(kv, "duration_ms", e.DurationMs)
		}
		if len(e.Metadata) > 0 {
			kv = append(kv, "metadata", e.Metadata)
		}
		if e.Status == "error" {
			eb.log.Warn(e.Action, kv...)
		} else {
			eb.log.Debug(e.Action, kv...)
		}
	}
}

// Stop halts the background ticker and flushes remaining events.
func (eb *EventBuffer) Stop() {
	eb.stop.Do(func() {
		eb.ticker.Stop()
		close(eb.done)
		eb.Flush()
	})
}
