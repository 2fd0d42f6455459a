package scopez

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// SpanHandler is called when a span completes.
type SpanHandler func(span SpanData)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Tracer starts spans and delivers finished ones to handlers.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r interface{})
	workers      *workerPool
	clock        clockz.Clock
	handlersLock sync.RWMutex
	nextID       atomic.Uint64
	droppedSpans atomic.Uint64
}

// New creates a new tracer using the real clock.
func New() *Tracer {
	return &Tracer{
		handlers: make([]handlerEntry, 0),
		clock:    clockz.RealClock,
	}
}

// WithClock returns a new tracer with the specified clock.
func (*Tracer) WithClock(clock clockz.Clock) *Tracer {
	return &Tracer{
		handlers: make([]handlerEntry, 0),
		clock:    clock,
	}
}

// StartSpan creates a new span and returns ctx carrying it explicitly.
//
// The parent is the ambient span of ctx's Stack when that is an *ActiveSpan,
// otherwise the span explicitly attached to ctx. The ambient span wins because
// it is the unit of work the caller is running inside right now.
func (t *Tracer) StartSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}

	data := &SpanData{
		SpanID:    newID(t.clock, 8),
		Name:      operation,
		StartTime: t.clock.Now(),
	}

	if parent := parentSpan(ctx); parent != nil {
		data.TraceID = parent.TraceID()
		data.ParentID = parent.SpanID()
	} else {
		data.TraceID = newID(t.clock, 16)
	}

	span := &ActiveSpan{data: data, tracer: t}
	return span.Context(ctx), span
}

func parentSpan(ctx context.Context) *ActiveSpan {
	if ambient, ok := Current(ctx).(*ActiveSpan); ok && ambient != nil {
		return ambient
	}
	return GetSpan(ctx)
}

// newID returns n random bytes hex encoded.
func newID(clock clockz.Clock, n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// Fallback to a time-based ID if crypto/rand fails.
		return timeID(clock, n)
	}
	return hex.EncodeToString(b)
}

// timeID derives an n-byte hex ID from clock's current time, n >= 8.
func timeID(clock clockz.Clock, n int) string {
	b := make([]byte, n)
	binary.BigEndian.PutUint64(b[n-8:], uint64(clock.Now().UnixNano()))
	return hex.EncodeToString(b)
}

// OnSpanComplete registers a synchronous handler called when spans complete.
func (t *Tracer) OnSpanComplete(handler SpanHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnSpanCompleteAsync registers an asynchronous handler called when spans complete.
func (t *Tracer) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	return t.registerHandler(handler, true)
}

// AddCollector delivers every finished span to c synchronously.
func (t *Tracer) AddCollector(c *Collector) uint64 {
	if c == nil {
		return 0
	}
	return t.OnSpanComplete(c.Collect)
}

// HasHandlers reports whether any handler is registered.
func (t *Tracer) HasHandlers() bool {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return len(t.handlers) > 0
}

func (t *Tracer) registerHandler(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.panicHook = hook
}

func (t *Tracer) now() time.Time {
	if t == nil || t.clock == nil {
		return time.Now()
	}
	return t.clock.Now()
}

// executeHandlers calls all registered handlers with the finished span.
func (t *Tracer) executeHandlers(span SpanData) {
	if t == nil {
		return
	}

	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}
	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if !h.async {
			t.safeCall(h, span)
			continue
		}
		entry := h
		if workers != nil {
			t.submitAsync(workers, func() {
				t.safeCall(entry, span)
			})
		} else {
			go t.safeCall(entry, span)
		}
	}
}

// submitAsync queues task on pool unless Close has replaced it in the meantime.
// Tasks that miss the pool count as dropped.
func (t *Tracer) submitAsync(pool *workerPool, task func()) {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()

	if t.workers != pool {
		t.droppedSpans.Add(1)
		return
	}
	pool.submit(task)
}

func (t *Tracer) safeCall(entry handlerEntry, span SpanData) {
	defer func() {
		if r := recover(); r != nil {
			if t.panicHook != nil {
				t.panicHook(entry.id, r)
			}
		}
	}()
	entry.handler(span)
}

// EnableWorkerPool bounds async handlers to a fixed number of workers.
// Spans are dropped when the queue is full, see DroppedSpans.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}

	pool := &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedSpans,
	}
	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.run()
	}
	t.workers = pool

	return nil
}

// DroppedSpans returns the number of async deliveries dropped because the worker
// queue was full or the tracer was closed.
func (t *Tracer) DroppedSpans() uint64 {
	return t.droppedSpans.Load()
}

// Close removes all handlers and waits for in-flight async handlers.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	if workers != nil {
		workers.shutdown()
	}
}

//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			// Drain what was already queued.
			for {
				select {
				case task := <-w.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case <-w.stop:
		w.dropped.Add(1)
		return
	default:
	}

	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
