package advisory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linguaquest/progression/internal/domain/shared"
)

type recordingBus struct {
	events []shared.Event
	err    error
}

func (b *recordingBus) Publish(e shared.Event) error {
	b.events = append(b.events, e)
	return b.err
}

func TestRun_RetriesTransientOnce(t *testing.T) {
	r := New(nil, nil)
	calls := 0

	res := Run(context.Background(), r, "test", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, shared.Transient("test", "op", errors.New("timeout"))
		}
		return 42, nil
	})

	assert.False(t, res.Failed())
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 2, calls)
}

func TestRun_FailureIsIgnorable(t *testing.T) {
	r := New(nil, nil)
	calls := 0

	res := Run(context.Background(), r, "test", func(context.Context) (int, error) {
		calls++
		return 0, shared.Transient("test", "op", errors.New("down"))
	})

	assert.True(t, res.Failed())
	assert.Equal(t, shared.Ignorable, res.Disposition)
	assert.NoError(t, res.Propagate())
	assert.Equal(t, 2, calls)
}

func TestRun_KeepsPartialValueOnFailure(t *testing.T) {
	r := New(nil, nil)

	res := Run(context.Background(), r, "test", func(context.Context) (string, error) {
		return "half", shared.Validation("test", "op", "bad")
	})

	assert.True(t, res.Failed())
	assert.Equal(t, "half", res.Value)
}

func TestCollect_KeepsItemsCommittedBeforeTransientFailure(t *testing.T) {
	r := New(nil, nil)
	granted := map[string]bool{}
	calls := 0

	// Grants "a" then fails on "b"; the retry skips "a" because it is
	// already granted and fails on "b" again.
	res := Collect(context.Background(), r, "test", func(context.Context) ([]string, error) {
		calls++
		var out []string
		if !granted["a"] {
			granted["a"] = true
			out = append(out, "a")
		}
		return out, shared.Transient("test", "grant", errors.New("timeout"))
	})

	assert.Equal(t, 2, calls)
	assert.True(t, res.Failed())
	assert.Equal(t, shared.Ignorable, res.Disposition)
	assert.Equal(t, []string{"a"}, res.Value)
}

func TestCollect_MergesAttempts(t *testing.T) {
	r := New(nil, nil)
	calls := 0

	res := Collect(context.Background(), r, "test", func(context.Context) ([]int, error) {
		calls++
		if calls == 1 {
			return []int{1}, shared.Transient("test", "grant", errors.New("timeout"))
		}
		return []int{2, 3}, nil
	})

	assert.False(t, res.Failed())
	assert.Equal(t, []int{1, 2, 3}, res.Value)
}

func TestRun_ValidationIsNotRetried(t *testing.T) {
	r := New(nil, nil)
	calls := 0

	res := Run(context.Background(), r, "test", func(context.Context) (string, error) {
		calls++
		return "", shared.Validation("test", "op", "bad")
	})

	assert.True(t, res.Failed())
	assert.Equal(t, 1, calls)
}

func TestPublish_SwallowsBusErrors(t *testing.T) {
	bus := &recordingBus{err: errors.New("closed")}
	r := New(bus, nil)

	r.Publish(shared.StreakEvent{UserID: "u1"})
	r.Publish(nil)

	assert.Len(t, bus.events, 1)
}
