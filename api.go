// Package scopez carries an existing span across a reactive subscription call.
//
// A span attached to a pipeline's execution-context carrier at construction time
// becomes the ambient span while the pipeline's Subscribe call runs, and is
// deactivated again when the call returns or fails. scopez never starts spans on
// its own. It only makes an existing one ambient.
//
// Core Components:
//   - Carrier: immutable, ordered key-value context that travels with a Subscriber.
//   - Stack: per-goroutine LIFO of ambient spans. Activate returns a Scope.
//   - Advice: the OnEnter/OnExit hook pair run around a Subscribe call.
//   - Tracer, ActiveSpan, Collector: a small span API used to create, finish and
//     collect spans.
//
// Basic Usage:
//
//	tracer := scopez.New()
//	defer tracer.Close()
//
//	ctx := scopez.WithStack(context.Background(), scopez.NewStack())
//	_, span := tracer.StartSpan(ctx, "checkout")
//
//	pipeline := scopez.WithPublisherSpan(
//		scopez.Instrument(scopez.Just(1, 2, 3), scopez.NewAdvice()),
//		span,
//	)
//	err := pipeline.Subscribe(ctx, scopez.NewSink())
//
// While Subscribe runs, scopez.Current(ctx) returns span. Afterward the previous
// ambient span (or none) is restored. If Subscribe returns an error, span is
// finished with that error and the error is returned unchanged.
//
// Thread Safety:
//
// A Stack belongs to exactly one goroutine and is not locked. Use Fork to give a new
// goroutine its own stack seeded with the current ambient span. Carrier values are
// immutable and safe to share. ActiveSpan and Collector are safe for concurrent use.
//
// Failure Handling:
//
// Advice is fail-open. Internal failures during OnEnter produce an Enter with no
// Scope and a non-nil Err wrapping ErrSuppressed. Failures during OnExit are ignored
// unless a panic hook is installed. The subscription's own error or panic is never
// altered.
package scopez

// Key represents a span operation name.
type Key = string

// Tag represents a span tag key.
type Tag = string

// Standard tags written when a span finishes with an error.
const (
	ErrorTag        Tag = "error"
	ErrorMessageTag Tag = "error.msg"
)
