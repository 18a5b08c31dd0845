package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the
// system about important domain changes. It provides a technology-agnostic
// interface to decouple event producers from the underlying messaging
// infrastructure.
//
// The fulfillment engine treats this as its Event Sink: an append-only
// activity feed. Implementations are expected to be fire-and-forget from the
// caller's perspective; callers that must never fail on audit problems wrap
// the publisher so errors are logged and swallowed.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The
	// provided context controls cancellation and deadlines. Optional
	// PublishOptions configure routing behavior.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// PublishOption is a function type that modifies PublishParams. It enables
// flexible configuration of event publishing behavior through functional
// options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing domain events.
type PublishParams struct {
	// Key is used as a partition key to control event routing and ordering.
	Key string
	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string
}

// WithKey returns a PublishOption that sets the partition key for event
// routing. The key ensures related events are processed in order by the same
// consumer.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders returns a PublishOption that attaches metadata headers to an
// event.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}
