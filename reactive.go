package scopez

import (
	"context"
	"sync"
)

// Subscriber receives the signals of a Publisher.
// CurrentContext is the carrier that travels with the subscriber upstream.
type Subscriber interface {
	CurrentContext() Carrier
	OnNext(value any)
	OnError(err error)
	OnComplete()
}

// Publisher is a reactive source. Subscribe does its work synchronously on the
// calling goroutine and returns an error only when the subscription itself fails.
type Publisher interface {
	Subscribe(ctx context.Context, s Subscriber) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, s Subscriber) error

// Subscribe calls f.
func (f PublisherFunc) Subscribe(ctx context.Context, s Subscriber) error {
	return f(ctx, s)
}

// Just emits values in order and completes.
func Just(values ...any) Publisher {
	return PublisherFunc(func(_ context.Context, s Subscriber) error {
		for _, v := range values {
			s.OnNext(v)
		}
		s.OnComplete()
		return nil
	})
}

// Error signals err to the subscriber. The subscription itself succeeds.
func Error(err error) Publisher {
	return PublisherFunc(func(_ context.Context, s Subscriber) error {
		s.OnError(err)
		return nil
	})
}

// Defer builds the upstream publisher at subscription time.
// If build fails, the error is signalled and returned from Subscribe.
func Defer(build func(ctx context.Context) (Publisher, error)) Publisher {
	return PublisherFunc(func(ctx context.Context, s Subscriber) error {
		p, err := build(ctx)
		if err != nil {
			s.OnError(err)
			return err
		}
		return p.Subscribe(ctx, s)
	})
}

// Map transforms each value with fn. The first error from fn is signalled
// downstream and later values are dropped.
func Map(p Publisher, fn func(any) (any, error)) Publisher {
	return PublisherFunc(func(ctx context.Context, s Subscriber) error {
		return p.Subscribe(ctx, &mapSubscriber{Subscriber: s, fn: fn})
	})
}

type mapSubscriber struct {
	Subscriber
	fn   func(any) (any, error)
	done bool
}

func (m *mapSubscriber) OnNext(value any) {
	if m.done {
		return
	}
	out, err := m.fn(value)
	if err != nil {
		m.done = true
		m.Subscriber.OnError(err)
		return
	}
	m.Subscriber.OnNext(out)
}

func (m *mapSubscriber) OnError(err error) {
	if m.done {
		return
	}
	m.done = true
	m.Subscriber.OnError(err)
}

func (m *mapSubscriber) OnComplete() {
	if m.done {
		return
	}
	m.done = true
	m.Subscriber.OnComplete()
}

// ContextWrite rewrites the carrier seen by everything upstream of the returned publisher.
func ContextWrite(p Publisher, fn func(Carrier) Carrier) Publisher {
	return PublisherFunc(func(ctx context.Context, s Subscriber) error {
		return p.Subscribe(ctx, &contextSubscriber{Subscriber: s, carrier: fn(s.CurrentContext())})
	})
}

type contextSubscriber struct {
	Subscriber
	carrier Carrier
}

func (c *contextSubscriber) CurrentContext() Carrier {
	return c.carrier
}

// WithPublisherSpan attaches span to every subscription of p under PublisherSpanKey.
func WithPublisherSpan(p Publisher, span Span) Publisher {
	return ContextWrite(p, func(c Carrier) Carrier {
		return c.Put(PublisherSpanKey, span)
	})
}

// Instrument runs advice around every Subscribe call on p.
// The span must be attached downstream of the instrumented publisher:
//
//	WithPublisherSpan(Instrument(source, advice), span)
func Instrument(p Publisher, advice *Advice) Publisher {
	return PublisherFunc(func(ctx context.Context, s Subscriber) error {
		return advice.Around(ctx, s, p, func() error {
			return p.Subscribe(ctx, s)
		})
	})
}

// Sink is a Subscriber that records every signal it receives.
// Safe for concurrent use by multiple goroutines.
type Sink struct {
	carrier   Carrier
	values    []any
	err       error
	completed bool
	mu        sync.Mutex
}

// NewSink creates a sink with an empty carrier.
func NewSink() *Sink {
	return &Sink{}
}

// NewSinkWithCarrier creates a sink whose subscriptions carry c.
func NewSinkWithCarrier(c Carrier) *Sink {
	return &Sink{carrier: c}
}

// CurrentContext returns the sink's carrier.
func (k *Sink) CurrentContext() Carrier {
	return k.carrier
}

// OnNext records value.
func (k *Sink) OnNext(value any) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.values = append(k.values, value)
}

// OnError records err.
func (k *Sink) OnError(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.err = err
}

// OnComplete records completion.
func (k *Sink) OnComplete() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.completed = true
}

// Values returns a copy of the received values.
func (k *Sink) Values() []any {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]any, len(k.values))
	copy(out, k.values)
	return out
}

// Err returns the signalled error, if any.
func (k *Sink) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.err
}

// Completed reports whether OnComplete was received.
func (k *Sink) Completed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.completed
}
