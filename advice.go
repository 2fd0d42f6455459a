package scopez

import (
	"context"
	"errors"
	"fmt"
)

// ErrSuppressed is wrapped by every internal failure OnEnter swallows.
var ErrSuppressed = errors.New("scopez: instrumentation failure suppressed")

// Stage identifies which hook recovered a panic.
type Stage int

const (
	StageEnter Stage = iota
	StageExit
)

func (s Stage) String() string {
	switch s {
	case StageEnter:
		return "enter"
	case StageExit:
		return "exit"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Enter is the result of OnEnter.
// Scope is nil when no span was found or when activation failed; in the latter
// case Err says why. Either way the subscription proceeds untouched.
type Enter struct {
	Scope *Scope
	Err   error
}

// Present reports whether a span was activated.
func (e Enter) Present() bool {
	return e.Scope != nil
}

// Advice is the hook pair run around a Publisher's Subscribe call.
// OnEnter activates the span found in the subscriber's carrier, OnExit records
// the call's failure on it and deactivates it.
type Advice struct {
	key       any
	panicHook func(stage Stage, r interface{})
}

// AdviceOption configures an Advice.
type AdviceOption func(*Advice)

// WithKey overrides the carrier key the span is looked up under.
func WithKey(key any) AdviceOption {
	return func(a *Advice) {
		a.key = key
	}
}

// NewAdvice creates an Advice looking spans up under PublisherSpanKey.
func NewAdvice(opts ...AdviceOption) *Advice {
	a := &Advice{key: PublisherSpanKey}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetPanicHook sets a function called when a hook recovers from a panic.
// Without one, recovered panics are dropped silently.
func (a *Advice) SetPanicHook(hook func(stage Stage, r interface{})) {
	a.panicHook = hook
}

// OnEnter runs before Subscribe. It looks up the span stored in subscriber's
// carrier and activates it on the stack carried by ctx. receiver is the publisher
// being subscribed to; it is accepted for symmetry with the intercepted call and
// not otherwise used. OnEnter never panics.
func (a *Advice) OnEnter(ctx context.Context, subscriber Subscriber, _ any) (enter Enter) {
	defer func() {
		if r := recover(); r != nil {
			a.report(StageEnter, r)
			enter = Enter{Err: fmt.Errorf("%w: %v", ErrSuppressed, r)}
		}
	}()

	if subscriber == nil {
		return Enter{}
	}

	value := subscriber.CurrentContext().GetOrDefault(a.key, nil)
	if value == nil {
		return Enter{}
	}

	span, ok := value.(Span)
	if !ok {
		return Enter{Err: fmt.Errorf("%w: carrier value %T is not a span", ErrSuppressed, value)}
	}
	if isNilSpan(span) {
		return Enter{}
	}

	scope, err := StackFrom(ctx).Activate(span, false)
	if err != nil {
		return Enter{Err: fmt.Errorf("%w: %w", ErrSuppressed, err)}
	}
	return Enter{Scope: scope}
}

// OnExit runs after Subscribe returns. thrown is the error Subscribe failed with,
// or nil. When a span was activated and thrown is set, the span is finished with
// thrown. The scope is closed on every path. OnExit never panics.
func (a *Advice) OnExit(enter Enter, thrown error) {
	scope := enter.Scope
	if scope == nil {
		return
	}
	defer a.close(scope)

	if thrown != nil {
		a.finish(scope.Span(), thrown)
	}
}

// Around runs call between OnEnter and OnExit and returns call's error unchanged.
// A panic in call reaches OnExit as an error and is then re-raised with the
// original value.
func (a *Advice) Around(ctx context.Context, subscriber Subscriber, receiver any, call func() error) (err error) {
	enter := a.OnEnter(ctx, subscriber, receiver)

	returned := false
	defer func() {
		if returned {
			a.OnExit(enter, err)
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit
			a.OnExit(enter, nil)
			return
		}
		a.OnExit(enter, panicToError(r))
		panic(r)
	}()

	err = call()
	returned = true
	return err
}

func (a *Advice) finish(span Span, thrown error) {
	defer a.recoverAt(StageExit)
	span.FinishWithError(thrown)
}

func (a *Advice) close(scope *Scope) {
	defer a.recoverAt(StageExit)
	_ = scope.Close() //nolint:errcheck // ordering violations are not reported
}

func (a *Advice) recoverAt(stage Stage) {
	if r := recover(); r != nil {
		a.report(stage, r)
	}
}

func (a *Advice) report(stage Stage, r interface{}) {
	if a.panicHook == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	a.panicHook(stage, r)
}

// PanicError is the error OnExit receives when the subscription panicked with a
// value that is not itself an error.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scopez: subscription panicked: %v", e.Value)
}

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &PanicError{Value: r}
}

var defaultAdvice = NewAdvice()

// OnEnter runs the default Advice's entry hook.
func OnEnter(ctx context.Context, subscriber Subscriber, receiver any) Enter {
	return defaultAdvice.OnEnter(ctx, subscriber, receiver)
}

// OnExit runs the default Advice's exit hook.
func OnExit(enter Enter, thrown error) {
	defaultAdvice.OnExit(enter, thrown)
}
