// Package greetings maps event types to content-generation strategies.
// The registry is an explicit immutable map constructed once at startup and
// passed by reference to the delivery worker; adding an event type means
// registering one new Strategy implementation and nothing else.
package greetings

import (
	"daymark/internal/types"
)

// Content is the rendered delivery payload for one greeting.
type Content struct {
	Subject string
	Body    string
}

// Strategy renders delivery content for a user and event. Implementations
// must be stateless after construction; one instance is shared by all
// delivery workers in the process.
type Strategy interface {
	// EventType returns the event this strategy renders.
	EventType() types.EventType

	// Render produces the delivery content for the given user and calendar
	// year. Year is the scheduling year, not the event's origin year, so
	// strategies can compute ages and milestones.
	Render(user *types.User, year int) (Content, error)
}

// Registry is the immutable event-type to strategy lookup.
type Registry struct {
	strategies map[types.EventType]Strategy
}

// NewRegistry builds a Registry from the given strategies. Duplicate event
// types keep the last registration; callers control ordering.
func NewRegistry(strategies ...Strategy) *Registry {
	m := make(map[types.EventType]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.EventType()] = s
	}
	return &Registry{strategies: m}
}

// Default returns the registry with the built-in birthday and anniversary
// strategies.
func Default() *Registry {
	return NewRegistry(BirthdayStrategy{}, AnniversaryStrategy{})
}

// Resolve returns the strategy for the event type. An unknown event type is
// a hard data error; the delivery worker dead-letters the message rather
// than guessing at content.
func (r *Registry) Resolve(event types.EventType) (Strategy, error) {
	s, ok := r.strategies[event]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeUnknownEventType,
			"no strategy registered for event type "+string(event), nil)
	}
	return s, nil
}

// EventTypes returns the registered event types. Used by discovery to skip
// events no strategy can render.
func (r *Registry) EventTypes() []types.EventType {
	out := make([]types.EventType, 0, len(r.strategies))
	for et := range r.strategies {
		out = append(out, et)
	}
	return out
}
