package lock

import (
	"time"
	"xmlstore/pkg/primitives"
)

// Action is what happened to a lock in an Event.
type Action int

const (
	ActionAttempt Action = iota
	ActionAttemptFailed
	ActionAcquired
	ActionReleased
)

func (a Action) String() string {
	switch a {
	case ActionAttempt:
		return "Attempt"
	case ActionAttemptFailed:
		return "AttemptFailed"
	case ActionAcquired:
		return "Acquired"
	case ActionReleased:
		return "Released"
	default:
		return "Unknown"
	}
}

// Event is one immutable entry of the lock audit stream.
type Event struct {
	Action    Action
	ID        string
	Type      Type
	Mode      Mode
	Owner     string
	Count     int
	Timestamp time.Time
	Reason    string
}

// EventSink receives lock events. Implementations must not block: Record is
// called on the locking path, sometimes while a lock latch is held.
type EventSink interface {
	Record(ev Event)
}

type noopSink struct{}

func (noopSink) Record(Event) {}

func newEvent(action Action, id string, typ Type, mode Mode, owner primitives.OwnerID, count int) Event {
	return Event{
		Action:    action,
		ID:        id,
		Type:      typ,
		Mode:      mode,
		Owner:     owner.String(),
		Count:     count,
		Timestamp: time.Now(),
	}
}
