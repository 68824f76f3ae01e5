package events

import "fluxrisk/core/types"

// Event represents a structured state change emitted by the risk engines.
type Event interface {
	EventType() string
}

// Typed is implemented by events that can render themselves as attribute maps
// for downstream subscribers (websocket stream, audit journal).
type Typed interface {
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

// Multi fans a single event out to several emitters in order. Nil entries are
// skipped.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(evt)
	}
}

// Render converts an event into its attribute form. Events that do not
// implement Typed render with their type only.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if typed, ok := evt.(Typed); ok {
		if rendered := typed.Event(); rendered != nil {
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
