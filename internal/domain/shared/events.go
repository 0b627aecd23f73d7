package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. They are published after the owning transaction
// commits; subscribers never take part in the transaction.
const (
	// Reward events
	EventRewardGranted EventType = "reward.granted"

	// Streak events
	EventStreakAdvanced EventType = "streak.advanced"
	EventStreakBroken   EventType = "streak.broken"

	// Match events
	EventMatchCreated   EventType = "match.created"
	EventMatchJoined    EventType = "match.joined"
	EventMatchSettled   EventType = "match.settled"
	EventMatchCancelled EventType = "match.cancelled"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Reward Events
// ═══════════════════════════════════════════════════════════════════════════

// RewardGrantedEvent is emitted once per granted reward key.
type RewardGrantedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Key      string `json:"key"`
	Category string `json:"category"`
	Target   int    `json:"target"`
	Coins    int64  `json:"coins"`
}

// Payload implements Event interface.
func (e RewardGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"key":      e.Key,
		"category": e.Category,
		"target":   e.Target,
		"coins":    e.Coins,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakEvent is emitted when a daily streak advances, is held by a freeze,
// or restarts after a gap.
type StreakEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	Count      int    `json:"count"`
	Previous   int    `json:"previous"`
	FreezeUsed bool   `json:"freeze_used"`
}

// Payload implements Event interface.
func (e StreakEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"count":       e.Count,
		"previous":    e.Previous,
		"freeze_used": e.FreezeUsed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Match Events
// ═══════════════════════════════════════════════════════════════════════════

// MatchEvent is emitted on every match status transition.
type MatchEvent struct {
	BaseEvent
	CreatorID    string  `json:"creator_id"`
	ChallengerID string  `json:"challenger_id,omitempty"`
	BetAmount    int64   `json:"bet_amount"`
	WinnerID     *string `json:"winner_id,omitempty"`
}

// Payload implements Event interface.
func (e MatchEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"match_id":      e.AggregateId,
		"creator_id":    e.CreatorID,
		"challenger_id": e.ChallengerID,
		"bet_amount":    e.BetAmount,
	}
	if e.WinnerID != nil {
		p["winner_id"] = *e.WinnerID
	}
	return p
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
