package record

// Event names a record lifecycle event emitted by a remote collection.
type Event string

const (
	EventNone    Event = ""
	EventCreated Event = "created"
	EventUpdated Event = "updated"
	EventPatched Event = "patched"
	EventRemoved Event = "removed"
)

// Events lists the four lifecycle events in the order listeners are attached.
var Events = []Event{EventCreated, EventUpdated, EventPatched, EventRemoved}

// Valid reports whether e is one of the four lifecycle events.
func (e Event) Valid() bool {
	switch e {
	case EventCreated, EventUpdated, EventPatched, EventRemoved:
		return true
	}
	return false
}

func (e Event) String() string {
	if e == EventNone {
		return "none"
	}
	return string(e)
}
