package scopez

import (
	"context"
	"errors"
	"reflect"
)

var (
	// ErrNilSpan is returned when activating a nil span.
	ErrNilSpan = errors.New("scopez: nil span")
	// ErrNoStack is returned when an operation needs a Stack and the context has none.
	ErrNoStack = errors.New("scopez: no activation stack in context")
	// ErrScopeOrder is returned when a scope is closed while scopes above it are still open.
	ErrScopeOrder = errors.New("scopez: scope closed out of order")
)

type stackKeyType struct{}

var stackKey = stackKeyType{}

// Stack is the ambient-span stack of one goroutine.
// Activate pushes, Scope.Close pops. A Stack is not safe for concurrent use:
// every goroutine that subscribes gets its own, see Fork.
type Stack struct {
	base   Span
	frames []*Scope
}

// NewStack returns an empty stack with no ambient span.
func NewStack() *Stack {
	return &Stack{}
}

// WithStack returns a copy of ctx carrying s.
func WithStack(ctx context.Context, s *Stack) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, stackKey, s)
}

// StackFrom returns the stack carried by ctx, or nil.
func StackFrom(ctx context.Context) *Stack {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(stackKey).(*Stack)
	return s
}

// Fork returns a copy of ctx with a fresh stack for use on another goroutine.
// The current ambient span becomes the new stack's base: it is ambient there but
// cannot be closed from the new goroutine.
func Fork(ctx context.Context) context.Context {
	s := NewStack()
	s.base = Current(ctx)
	return WithStack(ctx, s)
}

// Current returns the ambient span of the stack carried by ctx, or nil.
func Current(ctx context.Context) Span {
	if s := StackFrom(ctx); s != nil {
		return s.Active()
	}
	return nil
}

// Activate makes span the ambient span until the returned Scope is closed.
// When finishOnClose is set, closing the scope also finishes span.
func (s *Stack) Activate(span Span, finishOnClose bool) (*Scope, error) {
	if s == nil {
		return nil, ErrNoStack
	}
	if isNilSpan(span) {
		return nil, ErrNilSpan
	}
	scope := &Scope{
		stack:         s,
		span:          span,
		finishOnClose: finishOnClose,
	}
	s.frames = append(s.frames, scope)
	return scope, nil
}

// isNilSpan reports whether span is nil or an interface wrapping a nil pointer.
func isNilSpan(span Span) bool {
	if span == nil {
		return true
	}
	v := reflect.ValueOf(span)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// Active returns the ambient span, or nil.
func (s *Stack) Active() Span {
	if s == nil {
		return nil
	}
	if n := len(s.frames); n > 0 {
		return s.frames[n-1].span
	}
	return s.base
}

// Depth returns the number of open scopes.
func (s *Stack) Depth() int {
	if s == nil {
		return 0
	}
	return len(s.frames)
}

func (s *Stack) remove(scope *Scope) error {
	n := len(s.frames)
	if n > 0 && s.frames[n-1] == scope {
		s.frames[n-1] = nil
		s.frames = s.frames[:n-1]
		return nil
	}
	for i := n - 2; i >= 0; i-- {
		if s.frames[i] == scope {
			copy(s.frames[i:], s.frames[i+1:])
			s.frames[n-1] = nil
			s.frames = s.frames[:n-1]
			return ErrScopeOrder
		}
	}
	return nil
}

// Scope marks a span as ambient on a Stack until closed.
// A nil *Scope is the absent scope: Close is a no-op and Span returns nil.
type Scope struct {
	stack         *Stack
	span          Span
	finishOnClose bool
	closed        bool
}

// Span returns the span this scope activated.
func (sc *Scope) Span() Span {
	if sc == nil {
		return nil
	}
	return sc.span
}

// Close deactivates the span and restores the previously ambient one.
// Closing twice is a no-op. Closing while inner scopes are still open removes
// only this scope and returns ErrScopeOrder.
func (sc *Scope) Close() error {
	if sc == nil || sc.closed {
		return nil
	}
	sc.closed = true
	err := sc.stack.remove(sc)
	if sc.finishOnClose {
		sc.span.FinishWithError(nil)
	}
	return err
}
