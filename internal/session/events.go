package session

import "time"

// Event is an input delivered by the host, strictly serialized.
type Event interface{ isEvent() }

// Joined: a new connection to the world was established.
type Joined struct {
	Server string
	At     time.Time
}

// Lost: the connection went away.
type Lost struct {
	At time.Time
}

// Text: one incoming chat line, in arrival order.
type Text struct {
	Raw string
	At  time.Time
}

// Tick: the host's per-tick callback.
type Tick struct {
	At time.Time
}

func (Joined) isEvent() {}
func (Lost) isEvent()   {}
func (Text) isEvent()   {}
func (Tick) isEvent()   {}

// Effect is a side effect the host applies after Handle returns.
type Effect interface{ isEffect() }

// Send writes text to the outbound chat channel.
type Send struct {
	Text string
}

type NoticeKind int

const (
	NoticeWelcome NoticeKind = iota + 1
	NoticeStartup
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeWelcome:
		return "welcome"
	case NoticeStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// Notice asks the host to show a local notification.
type Notice struct {
	Kind NoticeKind
	At   time.Time
}

// Report is emitted exactly once when an active session ends.
type Report struct {
	Stats         Stats
	Reason        EndReason
	FinalPosition string
}

// Answered accompanies the Send of a dispatched answer.
type Answered struct {
	SessionID string
	Seq       int
	Key       string
	Letter    string
	Prompt    string
	At        time.Time
}

func (Send) isEffect()     {}
func (Notice) isEffect()   {}
func (Report) isEffect()   {}
func (Answered) isEffect() {}

// Env is the host's synchronous environment query surface.
type Env interface {
	// Location reports the avatar's block position; ok is false when there
	// is no avatar yet.
	Location() (c Coord, ok bool)
	// MaterialBelow names the block under c; ok is false when the host
	// cannot tell (no world data yet, undecodable frame).
	MaterialBelow(c Coord) (material string, ok bool)
}
