package scopez

import (
	"sync"
	"sync/atomic"
)

// Collector buffers finished spans for batch export.
// Spans beyond capacity are dropped and counted.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	spans        []SpanData
	name         string
	capacity     int
	droppedCount atomic.Int64
	mu           sync.Mutex
}

// NewCollector creates a collector holding at most capacity spans between exports.
// A capacity <= 0 means unbounded.
func NewCollector(name string, capacity int) *Collector {
	return &Collector{
		name:     name,
		capacity: capacity,
		spans:    make([]SpanData, 0, 8),
	}
}

// Name returns the collector's name.
func (c *Collector) Name() string {
	return c.name
}

// Collect buffers a copy of span. It matches SpanHandler so a collector can be
// registered with Tracer.OnSpanComplete directly.
func (c *Collector) Collect(span SpanData) {
	if span.Tags != nil {
		tags := make(map[Tag]string, len(span.Tags))
		for k, v := range span.Tags {
			tags[k] = v
		}
		span.Tags = tags
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity > 0 && len(c.spans) >= c.capacity {
		c.droppedCount.Add(1)
		return
	}
	c.spans = append(c.spans, span)
}

// Export returns all buffered spans and clears the buffer.
func (c *Collector) Export() []SpanData {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}

	result := c.spans
	// Shrink back after a large burst, otherwise keep capacity.
	if cap(result) > 1024 {
		c.spans = make([]SpanData, 0, 8)
	} else {
		c.spans = make([]SpanData, 0, cap(result))
	}
	return result
}

// Count returns the current number of buffered spans.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the number of spans dropped because the buffer was full.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// Reset clears all buffered spans and the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spans = c.spans[:0]
	c.droppedCount.Store(0)
}
