package shared

// Disposition says what a caller must do with a failure.
type Disposition int

const (
	// Ignorable failures are logged and dropped. Only advisory work
	// (reward evaluation after a learning action, event publishing) may
	// produce them.
	Ignorable Disposition = iota
	// MustPropagate failures are returned to the caller unchanged.
	MustPropagate
)

// String returns the disposition name.
func (d Disposition) String() string {
	if d == Ignorable {
		return "ignorable"
	}
	return "must_propagate"
}

// Result carries the outcome of a step together with how its failure
// has to be treated.
type Result[T any] struct {
	Value       T
	Err         error
	Disposition Disposition
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Advisory wraps a failure that must not fail the triggering action. v is
// whatever the step completed before it failed.
func Advisory[T any](v T, err error) Result[T] {
	return Result[T]{Value: v, Err: err, Disposition: Ignorable}
}

// Fatal wraps a failure that must reach the caller.
func Fatal[T any](err error) Result[T] {
	return Result[T]{Err: err, Disposition: MustPropagate}
}

// Failed reports whether the step failed.
func (r Result[T]) Failed() bool { return r.Err != nil }

// Propagate returns the error only when it must reach the caller.
func (r Result[T]) Propagate() error {
	if r.Err != nil && r.Disposition == MustPropagate {
		return r.Err
	}
	return nil
}
