package pipeline

import "fmt"

// State of the per-document retry machine.
type State int

const (
	StateAttempting State = iota
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "Attempting"
	case StateSucceeded:
		return "Succeeded"
	case StateExhausted:
		return "Exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is the outcome of one attempt.
type Event int

const (
	EventValidatorOK Event = iota
	EventParseFailed
	EventSchemaInvalid
	EventBackendUnavailable
	EventCanceled
)

func (e Event) String() string {
	switch e {
	case EventValidatorOK:
		return "ParsedOk"
	case EventParseFailed:
		return "ParseFailed"
	case EventSchemaInvalid:
		return "SchemaInvalid"
	case EventBackendUnavailable:
		return "BackendUnavailable"
	case EventCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

type transitionKey struct {
	from       State
	event      Event
	budgetLeft bool // attempt < maxAttempts
}

// transitions is the whole retry policy. Content and transport failures
// share one attempt budget.
var transitions = map[transitionKey]State{
	{StateAttempting, EventValidatorOK, true}:         StateSucceeded,
	{StateAttempting, EventValidatorOK, false}:        StateSucceeded,
	{StateAttempting, EventParseFailed, true}:         StateAttempting,
	{StateAttempting, EventParseFailed, false}:        StateExhausted,
	{StateAttempting, EventSchemaInvalid, true}:       StateAttempting,
	{StateAttempting, EventSchemaInvalid, false}:      StateExhausted,
	{StateAttempting, EventBackendUnavailable, true}:  StateAttempting,
	{StateAttempting, EventBackendUnavailable, false}: StateExhausted,
	{StateAttempting, EventCanceled, true}:            StateExhausted,
	{StateAttempting, EventCanceled, false}:           StateExhausted,
}

// Next returns the state reached from s on e after attempt n of max.
func Next(s State, e Event, n, max int) (State, error) {
	to, ok := transitions[transitionKey{from: s, event: e, budgetLeft: n < max}]
	if !ok {
		return s, fmt.Errorf("no transition from %s on %s", s, e)
	}
	return to, nil
}
