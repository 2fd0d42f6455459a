// Package integration exercises scopez pipelines end to end.
package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/zoobzio/scopez"
)

// Harness bundles a tracer, a synchronous collector and a goroutine stack.
type Harness struct {
	Tracer    *scopez.Tracer
	Collector *scopez.Collector
	Advice    *scopez.Advice
	Ctx       context.Context
	t         *testing.T
}

// NewHarness creates a harness and registers cleanup with t.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	tracer := scopez.New()
	collector := scopez.NewCollector(t.Name(), 0)
	tracer.AddCollector(collector)
	t.Cleanup(tracer.Close)

	return &Harness{
		Tracer:    tracer,
		Collector: collector,
		Advice:    scopez.NewAdvice(),
		Ctx:       scopez.WithStack(context.Background(), scopez.NewStack()),
		t:         t,
	}
}

// Recorder records the ambient span every time its publisher is subscribed.
//
//nolint:govet // Field alignment optimized for test helper readability
type Recorder struct {
	seen []scopez.Span
	mu   sync.Mutex
}

// Publisher returns an instrumented source that records the ambient span and
// then subscribes next, if any.
func (r *Recorder) Publisher(advice *scopez.Advice, next scopez.Publisher) scopez.Publisher {
	source := scopez.PublisherFunc(func(ctx context.Context, s scopez.Subscriber) error {
		r.record(scopez.Current(ctx))
		if next == nil {
			s.OnComplete()
			return nil
		}
		if err := next.Subscribe(ctx, s); err != nil {
			return err
		}
		r.record(scopez.Current(ctx))
		return nil
	})
	return scopez.Instrument(source, advice)
}

func (r *Recorder) record(span scopez.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, span)
}

// Seen returns the recorded ambient spans in order.
func (r *Recorder) Seen() []scopez.Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]scopez.Span, len(r.seen))
	copy(out, r.seen)
	return out
}

// SpanNamed returns the collected span with name.
func (h *Harness) SpanNamed(name string) *scopez.SpanData {
	h.t.Helper()
	for _, span := range h.Collector.Export() {
		if span.Name == name {
			s := span
			return &s
		}
	}
	h.t.Errorf("span named %q not collected", name)
	return nil
}

// AssertParentChild verifies child was started inside parent.
func AssertParentChild(t *testing.T, parent *scopez.ActiveSpan, child *scopez.SpanData) {
	t.Helper()
	if child == nil {
		return
	}
	if child.ParentID != parent.SpanID() {
		t.Errorf("%s: expected parent %s, got %s", child.Name, parent.SpanID(), child.ParentID)
	}
	if child.TraceID != parent.TraceID() {
		t.Errorf("%s: expected trace %s, got %s", child.Name, parent.TraceID(), child.TraceID)
	}
}
