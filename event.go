package planfsm

import (
	"fmt"
	"strings"
	"time"
)

// EventType identifies the kind of an event delivered to a plan state
type EventType int

const (
	// EventSimulationStart marks the beginning of an agent's plan execution
	EventSimulationStart EventType = iota
	// EventActivityEnd fires when the current activity episode is over
	EventActivityEnd
	// EventDeparture fires when the agent leaves for the next trip
	EventDeparture
	// EventArrival fires when the agent reaches the trip destination
	EventArrival
	// EventModeChange fires when the agent switches travel mode mid-trip
	EventModeChange
	// EventPlanEnd fires when the agent's plan has no more episodes
	EventPlanEnd

	// NumEventTypes is the number of event types, used to size handler tables
	NumEventTypes int = iota
)

var eventTypeNames = [NumEventTypes]string{
	EventSimulationStart: "SIMULATION_START",
	EventActivityEnd:     "ACTIVITY_END",
	EventDeparture:       "DEPARTURE",
	EventArrival:         "ARRIVAL",
	EventModeChange:      "MODE_CHANGE",
	EventPlanEnd:         "PLAN_END",
}

// Valid reports whether t is one of the declared event types
func (t EventType) Valid() bool {
	return t >= 0 && int(t) < NumEventTypes
}

// String returns the event type name
func (t EventType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

// ParseEventType resolves an event type from its name, ignoring case
func ParseEventType(name string) (EventType, error) {
	for i, n := range eventTypeNames {
		if strings.EqualFold(n, name) {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// Event is a discrete occurrence delivered to the active state
type Event struct {
	Type      EventType
	Payload   any
	Timestamp time.Time
}

// NewEvent creates an event with the given type and payload
func NewEvent(eventType EventType, payload any) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// String returns a short description of the event
func (e Event) String() string {
	if e.Payload == nil {
		return e.Type.String()
	}
	return fmt.Sprintf("%s(%v)", e.Type, e.Payload)
}
