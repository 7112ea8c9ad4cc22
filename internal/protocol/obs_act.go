package protocol

import "strings"

// OBS (server -> client). Only the parts the queue bot reads.
type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	Self   SelfObs   `json:"self"`
	Voxels VoxelsObs `json:"voxels"`
	Events []Event   `json:"events"`
}

type SelfObs struct {
	Pos    [3]int   `json:"pos"`
	HP     int      `json:"hp"`
	Status []string `json:"status"`
}

// Voxel encodings.
const (
	EncodingRLE   = "RLE"
	EncodingDelta = "DELTA"
)

type VoxelsObs struct {
	Center   [3]int         `json:"center"`
	Radius   int            `json:"radius"`
	Encoding string         `json:"encoding"`
	Data     string         `json:"data,omitempty"`
	Ops      []VoxelDeltaOp `json:"ops,omitempty"`
}

type VoxelDeltaOp struct {
	D [3]int `json:"d"` // delta from center (dx,dy,dz)
	B uint16 `json:"b"` // block palette id
}

// Event is a loosely typed world event ("CHAT", "SYSTEM", "ACTION_RESULT", ...).
type Event map[string]interface{}

func (e Event) Type() string { return e.str("type") }

// Text returns the human-readable line carried by chat-like events.
func (e Event) Text() string {
	if t := e.str("text"); t != "" {
		return t
	}
	return e.str("message")
}

// IsChat reports whether the event carries a line for the text stream.
func (e Event) IsChat() bool {
	switch strings.ToUpper(e.Type()) {
	case "CHAT", "SYSTEM":
		return true
	}
	return false
}

func (e Event) str(k string) string {
	s, _ := e[k].(string)
	return s
}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
}

type InstantReq struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
}

// SayIDPrefix starts the instant id of every SAY this client sends.
const SayIDPrefix = "I_say_"

// NewSay builds an ACT carrying a single SAY instant.
func NewSay(agentID string, tick uint64, id, channel, text string) ActMsg {
	return ActMsg{
		Type:            TypeAct,
		ProtocolVersion: Version,
		Tick:            tick,
		AgentID:         agentID,
		Instants: []InstantReq{
			{ID: id, Type: "SAY", Channel: channel, Text: text},
		},
	}
}
