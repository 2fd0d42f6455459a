package scopez

import (
	"context"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "scopez"
)

// Span is the unit of work scopez makes ambient.
// FinishWithError marks the span finished and records err; a nil err is a plain finish.
// Implementations must tolerate being finished more than once.
type Span interface {
	FinishWithError(err error)
}

// SpanData is the record of a span handed to completion handlers and collectors.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type SpanData struct {
	Tags      map[Tag]string `json:"tags,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Err       error          `json:"-"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Name      string         `json:"name"`
}

// ActiveSpan is a Span created by a Tracer.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	data     *SpanData
	tracer   *Tracer
	mu       sync.Mutex
	finished bool
}

var _ Span = (*ActiveSpan)(nil)

// SetTag adds a key-value pair to the span.
// No-op if span is already finished.
func (a *ActiveSpan) SetTag(key Tag, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finishedLocked() {
		return
	}
	a.setTagLocked(key, value)
}

// GetTag retrieves a tag value by key.
func (a *ActiveSpan) GetTag(key Tag) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.data.Tags == nil {
		return "", false
	}
	value, ok := a.data.Tags[key]
	return value, ok
}

// Finish completes the span without an error.
func (a *ActiveSpan) Finish() {
	a.FinishWithError(nil)
}

// FinishWithError completes the span and records err on it.
// Only the first finish takes effect; later calls are no-ops.
func (a *ActiveSpan) FinishWithError(err error) {
	a.mu.Lock()
	if a.finishedLocked() {
		a.mu.Unlock()
		return
	}

	if err != nil {
		a.data.Err = err
		a.setTagLocked(ErrorTag, "true")
		a.setTagLocked(ErrorMessageTag, err.Error())
	}
	a.finished = true
	a.data.EndTime = a.tracer.now()
	a.data.Duration = a.data.EndTime.Sub(a.data.StartTime)
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.tracer.executeHandlers(snapshot)
}

// Finished reports whether the span has been finished.
func (a *ActiveSpan) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finishedLocked()
}

// Err returns the error the span was finished with, if any.
func (a *ActiveSpan) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.Err
}

// Name returns the operation name.
func (a *ActiveSpan) Name() string {
	return a.data.Name
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() string {
	return a.data.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() string {
	return a.data.SpanID
}

// ParentID returns the span ID of the parent, or "" for a root span.
func (a *ActiveSpan) ParentID() string {
	return a.data.ParentID
}

// Context returns a copy of parent carrying this span explicitly.
// Tracer.StartSpan falls back to it when ctx has no ambient *ActiveSpan.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, bundleKey, a)
}

func (a *ActiveSpan) finishedLocked() bool {
	return a.finished
}

func (a *ActiveSpan) setTagLocked(key Tag, value string) {
	if a.data.Tags == nil {
		a.data.Tags = make(map[Tag]string)
	}
	a.data.Tags[key] = value
}

func (a *ActiveSpan) snapshotLocked() SpanData {
	out := *a.data
	if a.data.Tags != nil {
		out.Tags = make(map[Tag]string, len(a.data.Tags))
		for k, v := range a.data.Tags {
			out.Tags[k] = v
		}
	}
	return out
}

// GetSpan extracts the span explicitly attached to ctx.
// Returns nil if no span is present.
func GetSpan(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(bundleKey).(*ActiveSpan); ok {
		return span
	}
	return nil
}
