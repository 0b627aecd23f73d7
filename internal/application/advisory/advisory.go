// Package advisory runs follow-up work whose failure must not fail the
// action that triggered it: reward evaluation after a learning action and
// event publishing after a commit.
package advisory

import (
	"context"
	"time"

	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/pkg/logger"
	"github.com/linguaquest/progression/pkg/retry"
)

// Runner retries transient failures once and turns every remaining failure
// into an ignorable Result.
type Runner struct {
	retrier *retry.Retrier
	bus     shared.EventPublisher
	log     *logger.Logger
}

// New creates a Runner. A nil bus drops events, a nil log discards output.
func New(bus shared.EventPublisher, log *logger.Logger) *Runner {
	if bus == nil {
		bus = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Runner{bus: bus, log: log.With(logger.Component("advisory"))}
	r.retrier = retry.AdvisoryRetrier(shared.IsTransient, func(attempt int, err error, delay time.Duration) {
		r.log.Debug("retrying advisory step",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})
	return r
}

// Run executes fn and reports its outcome as an ignorable Result. The value
// of the last attempt is kept even when it failed.
func Run[T any](ctx context.Context, r *Runner, op string, fn func(ctx context.Context) (T, error)) shared.Result[T] {
	var out T
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return finish(r, op, out, err)
}

// Collect is Run for steps that commit items one by one, such as reward
// grants. Items committed by a failed attempt are not produced again by the
// retry, so every attempt's items are kept.
func Collect[E any](ctx context.Context, r *Runner, op string, fn func(ctx context.Context) ([]E, error)) shared.Result[[]E] {
	var out []E
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = append(out, v...)
		return err
	})
	return finish(r, op, out, err)
}

func finish[T any](r *Runner, op string, v T, err error) shared.Result[T] {
	if err == nil {
		return shared.Ok(v)
	}
	r.log.Warn("advisory step failed",
		logger.Operation(op),
		logger.String("kind", kindName(err)),
		logger.Err(err),
	)
	return shared.Advisory(v, err)
}

// Publish sends event to the bus. Failures are logged only.
func (r *Runner) Publish(event shared.Event) {
	if event == nil {
		return
	}
	if err := r.bus.Publish(event); err != nil {
		r.log.Warn("event publish failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}

func kindName(err error) string {
	switch shared.KindOf(err) {
	case shared.ErrValidation:
		return "validation"
	case shared.ErrNotFound:
		return "not_found"
	case shared.ErrConflict:
		return "conflict"
	case shared.ErrTransientStore:
		return "transient"
	default:
		return "unknown"
	}
}
