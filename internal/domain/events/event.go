// Package events provides domain event handling capabilities for communicating
// state changes and important activities across system boundaries in a
// decoupled way.
package events

import "time"

// EventType represents a domain event category, enabling type-safe event
// routing and handling. It allows the system to distinguish between different
// kinds of activity records like task transitions and callback resolutions.
type EventType string

// DomainEvent is implemented by all domain event payloads. It exposes the
// event's category and when it occurred so publishers can route and order
// events without knowing their concrete types.
type DomainEvent interface {
	// EventType returns the category of this event.
	EventType() EventType

	// OccurredAt returns when the event was created.
	OccurredAt() time.Time
}

// EventEnvelope wraps a domain event payload with the metadata needed to
// transport it through a messaging system.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business
	// identifier like a correlation id that events can be partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}
