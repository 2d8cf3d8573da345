// Package tracing converts agent lifecycle events into a correctly nested
// tree of spans behind a pluggable backend contract.
package tracing

import "time"

// StatusCode is the final status of a span.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

// Event is a point-in-time occurrence recorded on a span.
type Event struct {
	Time       time.Time
	Name       string
	Attributes map[string]any
}

// Span is a backend-agnostic handle for one in-flight operation. The
// component that opened it owns it exclusively until it is ended; after
// that the handle must not be reused.
//
// TraceID and SpanID are lowercase hex (32 and 16 characters) when a real
// backend is attached, and empty otherwise.
type Span struct {
	TraceID    string
	SpanID     string
	ParentID   string
	TraceFlags byte
	TraceState string

	Name       string
	Attributes map[string]any
	StartTime  time.Time
	EndTime    time.Time
	Events     []Event
	Status     StatusCode
	StatusMsg  string
}

// SetAttribute records a key-value attribute on the span handle.
func (s *Span) SetAttribute(key string, value any) {
	if s == nil {
		return
	}
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes[key] = value
}

// AddEvent appends a timestamped event to the span handle.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	if s == nil {
		return
	}
	s.Events = append(s.Events, Event{Time: time.Now().UTC(), Name: name, Attributes: attrs})
}

// EndOptions carries everything recorded when a span is closed.
type EndOptions struct {
	Status     StatusCode
	StatusMsg  string
	Error      error
	Attributes map[string]any
	Events     []Event
}

// SpanBackend starts and ends spans on behalf of the state machine.
// Implementations must tolerate nil parents and spans they did not start;
// ending an unknown or already-ended span is a no-op, never a fault.
type SpanBackend interface {
	// StartSpan opens a span named name under parent (nil for a root span)
	// with the given initial attributes and returns its handle.
	StartSpan(name string, parent *Span, attrs map[string]any) *Span

	// EndSpan closes a previously started span, recording final status,
	// error, attributes, and events.
	EndSpan(span *Span, end EndOptions)
}

// NoopBackend keeps span bookkeeping on the handles themselves without
// exporting anything. Control flow through the state machine is identical
// to a real backend; trace identity stays empty so propagation skips
// injection.
type NoopBackend struct{}

var _ SpanBackend = NoopBackend{}

func (NoopBackend) StartSpan(name string, parent *Span, attrs map[string]any) *Span {
	span := &Span{
		Name:      name,
		StartTime: time.Now().UTC(),
	}
	if parent != nil {
		span.ParentID = parent.SpanID
	}
	for k, v := range attrs {
		span.SetAttribute(k, v)
	}
	return span
}

func (NoopBackend) EndSpan(span *Span, end EndOptions) {
	if span == nil || !span.EndTime.IsZero() {
		return
	}
	span.EndTime = time.Now().UTC()
	span.Status = end.Status
	span.StatusMsg = end.StatusMsg
	if end.Error != nil {
		span.Status = StatusError
		if span.StatusMsg == "" {
			span.StatusMsg = end.Error.Error()
		}
	}
	for k, v := range end.Attributes {
		span.SetAttribute(k, v)
	}
	span.Events = append(span.Events, end.Events...)
}
