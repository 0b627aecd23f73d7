package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/infrastructure/persistence/redis"
	"github.com/linguaquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT ENVELOPE (for serialization)
// ══════════════════════════════════════════════════════════════════════════════

// Envelope is the wire form of a domain event on Redis pub/sub.
type Envelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// NewEnvelope wraps event for instanceID.
func NewEnvelope(instanceID string, event shared.Event) Envelope {
	return Envelope{
		InstanceID:  instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS RELAY
// ══════════════════════════════════════════════════════════════════════════════

// ChannelPublisher publishes a JSON message on a channel. *redis.Cache
// implements it.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

var _ ChannelPublisher = (*redis.Cache)(nil)

// RedisRelay forwards every bus event to redis.PubSubChannel(eventType) so
// that other services (notifications, analytics) can follow progression.
type RedisRelay struct {
	pub        ChannelPublisher
	instanceID string
	timeout    time.Duration
}

// NewRedisRelay creates a relay. A non-positive timeout defaults to one second.
func NewRedisRelay(pub ChannelPublisher, timeout time.Duration) *RedisRelay {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RedisRelay{
		pub:        pub,
		instanceID: "instance-" + uuid.NewString(),
		timeout:    timeout,
	}
}

// Handle is a shared.EventHandler.
func (r *RedisRelay) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	return r.pub.Publish(ctx, redis.PubSubChannel(string(event.EventType())), NewEnvelope(r.instanceID, event))
}

// InstanceID identifies this process in relayed envelopes.
func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING SUBSCRIBER
// ══════════════════════════════════════════════════════════════════════════════

// LogEvents returns a handler that writes every event to log at info level.
func LogEvents(log *logger.Logger) shared.EventHandler {
	if log == nil {
		log = logger.Nop()
	}
	return func(event shared.Event) error {
		fields := []logger.Field{
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Time("occurred_at", event.OccurredAt()),
		}
		for k, v := range event.Payload() {
			fields = append(fields, logger.Any(k, v))
		}
		log.Info("domain event", fields...)
		return nil
	}
}
