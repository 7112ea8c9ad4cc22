package session

import (
	"fmt"
	"time"
)

type State int

const (
	// Idle: no join processed on the current connection.
	Idle State = iota
	// AwaitingArm: joined, watching for the arming conditions.
	AwaitingArm
	// Active: armed; tracking the queue position and answering trivia.
	Active
	// Ended: the session finished; nothing re-arms until the next join.
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingArm:
		return "awaiting_arm"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Coord is a block position (x, y, z).
type Coord [3]int

// Below is the block directly underneath c.
func (c Coord) Below() Coord { return Coord{c[0], c[1] - 1, c[2]} }

func (c Coord) String() string { return fmt.Sprintf("(%d,%d,%d)", c[0], c[1], c[2]) }

// ArmTrigger selects when the arming conditions are evaluated.
type ArmTrigger string

const (
	// ArmOnPositionMessage evaluates the conditions whenever a position update arrives.
	ArmOnPositionMessage ArmTrigger = "position_message"
	// ArmOnLocation evaluates the conditions on join and on every tick.
	ArmOnLocation ArmTrigger = "location"
)

// EndReason says why an active session ended.
type EndReason string

const (
	EndThreshold    EndReason = "threshold"
	EndLeftPosition EndReason = "left_position"
	EndLeftMarker   EndReason = "left_marker"
)

// QueueSnapshot is the last known queue position.
type QueueSnapshot struct {
	Raw         string
	Position    int
	HasPosition bool
	CheckedAt   time.Time
}

// PendingAnswer is the single answer slot; the newest resolution wins.
type PendingAnswer struct {
	Letter string
	Key    string
	Prompt string
}

func (p PendingAnswer) Empty() bool { return p.Letter == "" }

// Stats describes one armed session.
type Stats struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Answered  int
}

func (s Stats) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Session is the whole mutable state of the machine.
type Session struct {
	State   State
	Queue   QueueSnapshot
	Pending PendingAnswer
	Stats   Stats

	welcomed        bool
	startupNotified bool
	reported        bool
}
