package events

import "storechain/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a wire-friendly representation
// for indexers and stream subscribers.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Envelope adapts a raw typed event into the Emitter contract.
type Envelope struct {
	Evt *types.Event
}

// Wrap converts a raw event payload into the emitter-friendly envelope.
func Wrap(evt *types.Event) Event { return Envelope{Evt: evt} }

// EventType implements Event.
func (e Envelope) EventType() string {
	if e.Evt == nil {
		return ""
	}
	return e.Evt.Type
}

// Event implements Payload.
func (e Envelope) Event() *types.Event { return e.Evt }

// ToTyped extracts the wire payload from an emitted event when available.
func ToTyped(evt Event) *types.Event {
	if p, ok := evt.(Payload); ok {
		return p.Event()
	}
	if evt == nil {
		return nil
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
