package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/zoobzio/scopez"
)

func TestSpanAmbientDuringSubscription(t *testing.T) {
	h := NewHarness(t)
	_, publisher := h.Tracer.StartSpan(context.Background(), "publisher")

	rec := &Recorder{}
	pipeline := scopez.WithPublisherSpan(rec.Publisher(h.Advice, nil), publisher)

	if scopez.Current(h.Ctx) != nil {
		t.Fatal("nothing should be ambient before subscribing")
	}
	if err := pipeline.Subscribe(h.Ctx, scopez.NewSink()); err != nil {
		t.Fatal(err)
	}

	seen := rec.Seen()
	if len(seen) != 1 || seen[0] != publisher {
		t.Errorf("expected publisher ambient during subscription, got %v", seen)
	}
	if scopez.Current(h.Ctx) != nil {
		t.Error("expected ambient span restored to none")
	}
	if publisher.Finished() {
		t.Error("successful subscription must leave the span open")
	}
}

func TestChildSpansParentToPublisher(t *testing.T) {
	h := NewHarness(t)
	_, publisher := h.Tracer.StartSpan(context.Background(), "publisher")

	source := scopez.Defer(func(ctx context.Context) (scopez.Publisher, error) {
		_, child := h.Tracer.StartSpan(ctx, "db.query")
		child.Finish()
		return scopez.Just("row"), nil
	})
	pipeline := scopez.WithPublisherSpan(scopez.Instrument(source, h.Advice), publisher)

	if err := pipeline.Subscribe(h.Ctx, scopez.NewSink()); err != nil {
		t.Fatal(err)
	}

	AssertParentChild(t, publisher, h.SpanNamed("db.query"))
}

func TestNestedPipelinesRestoreOuterSpan(t *testing.T) {
	h := NewHarness(t)
	_, outer := h.Tracer.StartSpan(context.Background(), "outer")
	_, inner := h.Tracer.StartSpan(context.Background(), "inner")

	innerRec := &Recorder{}
	outerRec := &Recorder{}

	innerPipeline := scopez.WithPublisherSpan(innerRec.Publisher(h.Advice, nil), inner)
	outerPipeline := scopez.WithPublisherSpan(outerRec.Publisher(h.Advice, innerPipeline), outer)

	if err := outerPipeline.Subscribe(h.Ctx, scopez.NewSink()); err != nil {
		t.Fatal(err)
	}

	if seen := innerRec.Seen(); len(seen) != 1 || seen[0] != inner {
		t.Errorf("inner subscription should see inner span, got %v", seen)
	}
	seen := outerRec.Seen()
	if len(seen) != 2 {
		t.Fatalf("expected two outer observations, got %d", len(seen))
	}
	if seen[0] != outer {
		t.Error("outer subscription should see outer span")
	}
	if seen[1] != outer {
		t.Errorf("after the inner subscription returned, expected outer, got %v", seen[1])
	}
	if scopez.Current(h.Ctx) != nil {
		t.Error("expected empty stack at the end")
	}
}

func TestFailedSubscriptionFinishesPublisherOnce(t *testing.T) {
	h := NewHarness(t)
	_, publisher := h.Tracer.StartSpan(context.Background(), "publisher")
	boom := errors.New("connection refused")

	source := scopez.Defer(func(context.Context) (scopez.Publisher, error) {
		return nil, boom
	})
	pipeline := scopez.WithPublisherSpan(scopez.Instrument(source, h.Advice), publisher)

	sink := scopez.NewSink()
	err := pipeline.Subscribe(h.Ctx, sink)
	if err != boom {
		t.Fatalf("expected the original error, got %v", err)
	}
	if sink.Err() != boom {
		t.Errorf("expected error signalled to subscriber, got %v", sink.Err())
	}

	spans := h.Collector.Export()
	if len(spans) != 1 {
		t.Fatalf("expected exactly one finished span, got %d", len(spans))
	}
	if spans[0].Err != boom {
		t.Errorf("expected span error %v, got %v", boom, spans[0].Err)
	}
	if scopez.Current(h.Ctx) != nil {
		t.Error("expected stack unwound after failure")
	}
}

func TestMultipleInstrumentedLayersShareSpan(t *testing.T) {
	h := NewHarness(t)
	_, publisher := h.Tracer.StartSpan(context.Background(), "publisher")
	boom := errors.New("boom")

	// Every layer is instrumented, the way an agent instruments every publisher.
	source := scopez.Instrument(scopez.Defer(func(context.Context) (scopez.Publisher, error) {
		return nil, boom
	}), h.Advice)
	mapped := scopez.Instrument(scopez.Map(source, func(v any) (any, error) { return v, nil }), h.Advice)
	pipeline := scopez.WithPublisherSpan(mapped, publisher)

	if err := pipeline.Subscribe(h.Ctx, scopez.NewSink()); err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
	if h.Collector.Count() != 1 {
		t.Errorf("span must be finished once even when several layers fail, got %d", h.Collector.Count())
	}
	if scopez.StackFrom(h.Ctx).Depth() != 0 {
		t.Error("every layer must close its scope")
	}
}

func TestConcurrentSubscriptionsIsolated(t *testing.T) {
	h := NewHarness(t)

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := scopez.Fork(h.Ctx)
			for j := 0; j < 50; j++ {
				_, span := h.Tracer.StartSpan(context.Background(), "publisher")
				rec := &Recorder{}
				pipeline := scopez.WithPublisherSpan(rec.Publisher(h.Advice, nil), span)
				if err := pipeline.Subscribe(ctx, scopez.NewSink()); err != nil {
					errs <- err.Error()
					return
				}
				if seen := rec.Seen(); len(seen) != 1 || seen[0] != span {
					errs <- "observed a foreign span"
					return
				}
				if scopez.Current(ctx) != nil {
					errs <- "stack not unwound"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
}

func TestSubscriptionWithoutStackStillRuns(t *testing.T) {
	h := NewHarness(t)
	_, publisher := h.Tracer.StartSpan(context.Background(), "publisher")

	pipeline := scopez.WithPublisherSpan(scopez.Instrument(scopez.Just(1, 2), h.Advice), publisher)
	sink := scopez.NewSink()

	if err := pipeline.Subscribe(context.Background(), sink); err != nil {
		t.Fatal(err)
	}
	if !sink.Completed() || len(sink.Values()) != 2 {
		t.Error("subscription must be unaffected when activation is impossible")
	}
}

func TestTypedNilPublisherSpanIsAbsent(t *testing.T) {
	h := NewHarness(t)

	// GetSpan returns a nil *ActiveSpan when ctx carries none.
	rec := &Recorder{}
	pipeline := scopez.WithPublisherSpan(rec.Publisher(h.Advice, nil), scopez.GetSpan(context.Background()))

	if err := pipeline.Subscribe(h.Ctx, scopez.NewSink()); err != nil {
		t.Fatal(err)
	}
	if seen := rec.Seen(); len(seen) != 1 || seen[0] != nil {
		t.Errorf("expected no ambient span, got %v", seen)
	}
	if depth := scopez.StackFrom(h.Ctx).Depth(); depth != 0 {
		t.Errorf("expected empty stack, got depth %d", depth)
	}
}
