package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaquest/progression/internal/domain/shared"
)

var testTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func grantedEvent(user string) shared.RewardGrantedEvent {
	return shared.RewardGrantedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventRewardGranted, user, testTime),
		UserID:    user,
		Key:       "first_review",
		Category:  "review",
		Target:    1,
		Coins:     5,
	}
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventRewardGranted, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return errors.New("subscriber failed")
	}))

	require.NoError(t, bus.Publish(grantedEvent("alice")))
	require.NoError(t, bus.Publish(shared.StreakEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventStreakAdvanced, "alice", testTime),
	}))

	assert.Equal(t, []shared.EventType{shared.EventRewardGranted}, typed)
	assert.Equal(t, []shared.EventType{shared.EventRewardGranted, shared.EventStreakAdvanced}, all)

	stats := bus.Stats()
	assert.Equal(t, int64(2), stats.TotalPublished)
	assert.Equal(t, int64(1), stats.Published[shared.EventStreakAdvanced])
	assert.Equal(t, int64(3), stats.HandlerRuns)
	assert.Equal(t, int64(2), stats.HandlerFailures)
}

func TestInMemoryEventBus_AsyncCloseWaitsForHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 4})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(grantedEvent("alice")))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(4), handled.Load())
	assert.ErrorIs(t, bus.Publish(grantedEvent("alice")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	defer bus.Close()

	called := false
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		called = true
		return nil
	}))

	assert.NoError(t, bus.Publish(grantedEvent("alice")))
	assert.True(t, called)
	assert.Equal(t, int64(1), bus.Stats().HandlerFailures)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventMatchSettled, nil))
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	messages []interface{}
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message)
	return p.err
}

func TestRedisRelay_PublishesEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	relay := NewRedisRelay(pub, 0)

	require.NoError(t, relay.Handle(grantedEvent("alice")))

	require.Len(t, pub.channels, 1)
	assert.Equal(t, "pubsub:reward.granted", pub.channels[0])

	env, ok := pub.messages[0].(Envelope)
	require.True(t, ok)
	assert.Equal(t, relay.InstanceID(), env.InstanceID)
	assert.Equal(t, shared.EventRewardGranted, env.EventType)
	assert.Equal(t, "alice", env.AggregateID)
	assert.Equal(t, "first_review", env.Payload["key"])
	assert.True(t, testTime.Equal(env.OccurredAt))
}

func TestRedisRelay_FailureStaysOnTheBus(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(NewRedisRelay(pub, time.Second).Handle))
	require.NoError(t, bus.SubscribeAll(LogEvents(nil)))

	assert.NoError(t, bus.Publish(grantedEvent("alice")))
	assert.Len(t, pub.channels, 1)
}
