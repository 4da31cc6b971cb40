package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Instrumenter starts spans and records business events for one trace.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any)
}

// Span is a timed unit of work. End must be called exactly once.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetEntity(entity, recordID string)
	TraceID() string
	SpanID() string
}

// Event is a finished span or a business event.
type Event struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	EventType    string // "system" or "business"
	Source       string
	Component    string
	Action       string
	Entity       string
	RecordID     string
	UserID       string
	DurationMs   float64
	Status       string
	Metadata     map[string]any
	CreatedAt    time.Time
}

type ctxKey int

const (
	instrumenterKey ctxKey = iota
	spanKey
)

var noop = &NoopInstrumenter{}

// WithInstrumenter returns a context carrying inst.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter stored in ctx, or a no-op one.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if inst, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return inst
	}
	return noop
}

// TraceInstrumenter records spans of a single trace into an EventBuffer.
type TraceInstrumenter struct {
	traceID string
	userID  string
	buffer  *EventBuffer
}

// NewTraceInstrumenter starts a trace. An empty traceID gets a fresh one.
func NewTraceInstrumenter(buffer *EventBuffer, traceID, userID string) *TraceInstrumenter {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return &TraceInstrumenter{traceID: traceID, userID: userID, buffer: buffer}
}

func (t *TraceInstrumenter) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	s := &traceSpan{
		inst:      t,
		spanID:    uuid.NewString(),
		source:    source,
		component: component,
		action:    action,
		status:    "ok",
		start:     time.Now(),
	}
	if parent, ok := ctx.Value(spanKey).(*traceSpan); ok {
		s.parentID = parent.spanID
	}
	return context.WithValue(ctx, spanKey, s), s
}

func (t *TraceInstrumenter) EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any) {
	e := Event{
		TraceID:   t.traceID,
		SpanID:    uuid.NewString(),
		EventType: "business",
		Source:    "app",
		Action:    action,
		Entity:    entity,
		RecordID:  recordID,
		UserID:    t.userID,
		Status:    "ok",
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if parent, ok := ctx.Value(spanKey).(*traceSpan); ok {
		e.ParentSpanID = parent.spanID
	}
	t.buffer.Enqueue(e)
}

type traceSpan struct {
	inst      *TraceInstrumenter
	spanID    string
	parentID  string
	source    string
	component string
	action    string

	mu       sync.Mutex
	status   string
	entity   string
	recordID string
	metadata map[string]any
	start    time.Time
	ended    bool
}

func (s *traceSpan) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	e := Event{
		TraceID:      s.inst.traceID,
		SpanID:       s.spanID,
		ParentSpanID: s.parentID,
		EventType:    "system",
		Source:       s.source,
		Component:    s.component,
		Action:       s.action,
		Entity:       s.entity,
		RecordID:     s.recordID,
		UserID:       s.inst.userID,
		DurationMs:   float64(time.Since(s.start).Microseconds()) / 1000,
		Status:       s.status,
		Metadata:     s.metadata,
		CreatedAt:    s.start,
	}
	s.mu.Unlock()
	s.inst.buffer.Enqueue(e)
}

func (s *traceSpan) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *traceSpan) SetMetadata(key string, value any) {
	s.mu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata[key] = value
	s.mu.Unlock()
}

func (s *traceSpan) SetEntity(entity, recordID string) {
	s.mu.Lock()
	s.entity = entity
	s.recordID = recordID
	s.mu.Unlock()
}

func (s *traceSpan) TraceID() string { return s.inst.traceID }
func (s *traceSpan) SpanID() string  { return s.spanID }
