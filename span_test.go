package scopez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestSpanSetTag(t *testing.T) {
	tracer := New()
	_, span := tracer.StartSpan(context.Background(), "test")

	span.SetTag("key1", "value1")
	span.SetTag("key2", "value2")

	if v, ok := span.GetTag("key1"); !ok || v != "value1" {
		t.Errorf("expected value1, got %q", v)
	}
	if _, ok := span.GetTag("missing"); ok {
		t.Error("expected missing tag to be absent")
	}
}

func TestSpanFinishIsIdempotent(t *testing.T) {
	tracer := New()
	collector := NewCollector("test", 10)
	tracer.AddCollector(collector)

	_, span := tracer.StartSpan(context.Background(), "test")
	first := errors.New("first")

	span.FinishWithError(first)
	span.FinishWithError(errors.New("second"))
	span.Finish()

	if !span.Finished() {
		t.Error("expected span finished")
	}
	if span.Err() != first {
		t.Errorf("expected first error kept, got %v", span.Err())
	}
	if collector.Count() != 1 {
		t.Errorf("expected one collected span, got %d", collector.Count())
	}
}

func TestSpanFinishWithErrorTags(t *testing.T) {
	tracer := New()
	_, span := tracer.StartSpan(context.Background(), "test")

	span.FinishWithError(errors.New("disk full"))

	if v, _ := span.GetTag(ErrorTag); v != "true" {
		t.Errorf("expected error tag, got %q", v)
	}
	if v, _ := span.GetTag(ErrorMessageTag); v != "disk full" {
		t.Errorf("expected error message tag, got %q", v)
	}
}

func TestSpanTagsIgnoredAfterFinish(t *testing.T) {
	tracer := New()
	_, span := tracer.StartSpan(context.Background(), "test")
	span.Finish()

	span.SetTag("late", "value")
	if _, ok := span.GetTag("late"); ok {
		t.Error("tags must not change after finish")
	}
}

func TestSpanDurationWithFakeClock(t *testing.T) {
	fakeClock := clockz.NewFakeClock()
	tracer := New().WithClock(fakeClock)
	defer tracer.Close()

	var got SpanData
	tracer.OnSpanComplete(func(s SpanData) { got = s })

	_, span := tracer.StartSpan(context.Background(), "timed")
	fakeClock.Advance(250 * time.Millisecond)
	span.Finish()

	if got.Duration != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got.Duration)
	}
	if !got.EndTime.Equal(got.StartTime.Add(250 * time.Millisecond)) {
		t.Errorf("unexpected end time %v", got.EndTime)
	}
}

func TestSpanConcurrentFinish(t *testing.T) {
	tracer := New()
	collector := NewCollector("test", 100)
	tracer.AddCollector(collector)
	_, span := tracer.StartSpan(context.Background(), "race")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			span.SetTag(fmt.Sprintf("k%d", n), "v")
			span.FinishWithError(fmt.Errorf("err %d", n))
		}(i)
	}
	wg.Wait()

	if collector.Count() != 1 {
		t.Errorf("expected exactly one finish delivered, got %d", collector.Count())
	}
}

func TestGetSpan(t *testing.T) {
	if GetSpan(context.Background()) != nil {
		t.Error("expected no span")
	}
	//nolint:staticcheck // nil context handling is part of the contract
	if GetSpan(nil) != nil {
		t.Error("expected no span on nil context")
	}

	tracer := New()
	ctx, span := tracer.StartSpan(context.Background(), "test")
	if GetSpan(ctx) != span {
		t.Error("expected span from context")
	}
}
