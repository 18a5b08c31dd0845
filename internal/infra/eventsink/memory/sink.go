// Package memory provides an in-memory activity event sink for testing and
// development.
package memory

import (
	"context"
	"sync"

	"github.com/complykit/dsr-engine/internal/domain/events"
)

var _ events.DomainEventPublisher = (*EventSink)(nil)

// EventSink collects published events in memory.
type EventSink struct {
	mu        sync.Mutex
	envelopes []events.EventEnvelope
}

// NewEventSink creates an empty in-memory sink.
func NewEventSink() *EventSink { return &EventSink{} }

// PublishDomainEvent appends the event to the in-memory feed.
func (s *EventSink) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, events.EventEnvelope{
		Type:      event.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: event.OccurredAt(),
		Payload:   event,
	})
	return nil
}

// Events returns a copy of everything published so far.
func (s *EventSink) Events() []events.EventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.EventEnvelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out
}

// EventsOfType returns published envelopes matching the given type.
func (s *EventSink) EventsOfType(t events.EventType) []events.EventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.EventEnvelope
	for _, e := range s.envelopes {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
