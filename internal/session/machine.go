// Package session is the queue quiz state machine. It consumes host events
// (join, loss, chat lines, ticks) and returns the side effects the host must
// apply; it never talks to the host directly.
//
// All methods must be called from one goroutine.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"queuequiz.ai/internal/debuglog"
	"queuequiz.ai/internal/quiz/classify"
	"queuequiz.ai/internal/quiz/knowledge"
)

// Defaults from the queue server's behaviour.
const (
	DefaultMarker       = "BARRIER"
	DefaultThreshold    = 2
	DefaultPollInterval = 10 * time.Second
)

// DefaultTrigger is the block the avatar stands on while queued.
var DefaultTrigger = Coord{8, 5, 8}

type Config struct {
	Trigger      Coord
	Marker       string
	ArmOn        ArmTrigger
	Threshold    int
	PollInterval time.Duration
	// WelcomeFilter limits the welcome notice to servers whose address
	// contains it. Empty welcomes everywhere.
	WelcomeFilter string
	// NewID names sessions; uuid.NewString when nil.
	NewID func() string
}

func DefaultConfig() Config {
	return Config{
		Trigger:      DefaultTrigger,
		Marker:       DefaultMarker,
		ArmOn:        ArmOnPositionMessage,
		Threshold:    DefaultThreshold,
		PollInterval: DefaultPollInterval,
	}
}

// Resolver answers trivia prompts.
type Resolver interface {
	Resolve(prompt string) (knowledge.Match, bool)
}

type Machine struct {
	cfg Config
	kb  Resolver
	log *zap.Logger

	s Session
}

func New(cfg Config, kb Resolver, logger *zap.Logger) *Machine {
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.ArmOn == "" {
		cfg.ArmOn = ArmOnPositionMessage
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Machine{cfg: cfg, kb: kb, log: debuglog.OrNop(logger)}
}

func (m *Machine) State() State { return m.s.State }

// Snapshot returns a copy of the current session.
func (m *Machine) Snapshot() Session { return m.s }

// Handle applies one event and returns the effects to carry out, in order.
func (m *Machine) Handle(ev Event, env Env) []Effect {
	switch e := ev.(type) {
	case Joined:
		return m.onJoined(e, env)
	case Lost:
		m.s = Session{}
		m.log.Info("connection lost, all state reset")
		return nil
	case Text:
		return m.onText(e, env)
	case Tick:
		return m.onTick(e, env)
	default:
		return nil
	}
}

func (m *Machine) onJoined(e Joined, env Env) []Effect {
	// A join without an intervening loss keeps the welcome guard.
	welcomed := m.s.welcomed
	m.s = Session{State: AwaitingArm, welcomed: welcomed}
	var out []Effect
	if !welcomed && (m.cfg.WelcomeFilter == "" || strings.Contains(e.Server, m.cfg.WelcomeFilter)) {
		m.s.welcomed = true
		out = append(out, Notice{Kind: NoticeWelcome, At: e.At})
	}
	m.log.Info("player joined, waiting for arming conditions",
		zap.String("server", e.Server),
		zap.String("arm_on", string(m.cfg.ArmOn)),
		zap.Stringer("trigger", m.cfg.Trigger))
	if m.cfg.ArmOn == ArmOnLocation {
		out = append(out, m.tryArm(env, e.At)...)
	}
	return out
}

func (m *Machine) onText(e Text, env Env) []Effect {
	if m.s.State == Idle {
		return nil
	}
	msg := classify.Classify(e.Raw, m.s.State == Active)
	switch msg.Kind {
	case classify.PositionUpdate:
		return m.onPosition(msg, env, e.At)
	case classify.TriviaPrompt:
		m.onPrompt(msg)
	}
	return nil
}

func (m *Machine) onPosition(msg classify.Message, env Env, now time.Time) []Effect {
	m.log.Debug("received position message", zap.String("text", msg.Text))
	var out []Effect
	if m.s.State == AwaitingArm && m.cfg.ArmOn == ArmOnPositionMessage {
		out = m.tryArm(env, now)
	}
	if msg.HasPayload && msg.Payload != m.s.Queue.Raw {
		m.s.Queue.Raw = msg.Payload
		if n, err := classify.ParsePosition(msg.Payload); err == nil {
			m.s.Queue.Position = n
			m.s.Queue.HasPosition = true
		} else {
			m.log.Warn("queue position is not numeric", zap.String("raw", msg.Payload), zap.Error(err))
		}
		m.log.Info("queue position updated", zap.String("position", msg.Payload))
	}
	return out
}

func (m *Machine) onPrompt(msg classify.Message) {
	m.log.Info("detected question message", zap.String("text", msg.Text))
	match, ok := m.kb.Resolve(msg.Payload)
	if !ok {
		m.log.Warn("no answer for question", zap.String("text", msg.Text))
		return
	}
	if !m.s.Pending.Empty() {
		m.log.Warn("replacing unsent answer", zap.String("old", m.s.Pending.Letter), zap.String("new", match.Letter))
	}
	m.s.Pending = PendingAnswer{Letter: match.Letter, Key: match.Entry.Key, Prompt: msg.Payload}
	m.log.Info("answer stored for sending", zap.String("option", match.Letter), zap.String("key", match.Entry.Key))
}

// tryArm moves AwaitingArm to Active when the avatar stands on the marker at
// the trigger coordinate.
func (m *Machine) tryArm(env Env, now time.Time) []Effect {
	if m.s.State != AwaitingArm {
		return nil
	}
	loc, ok := env.Location()
	if !ok || loc != m.cfg.Trigger {
		return nil
	}
	if got, known := env.MaterialBelow(loc); !known || got != m.cfg.Marker {
		m.log.Debug("at trigger coordinate but not on marker", zap.String("below", got), zap.Bool("known", known))
		return nil
	}

	m.s.State = Active
	m.s.Stats = Stats{ID: m.cfg.NewID(), StartedAt: now}
	m.s.Queue.CheckedAt = time.Time{}
	m.s.Pending = PendingAnswer{}
	m.log.Info("session armed",
		zap.String("session", m.s.Stats.ID),
		zap.Stringer("trigger", m.cfg.Trigger),
		zap.String("marker", m.cfg.Marker))

	if m.s.startupNotified {
		return nil
	}
	m.s.startupNotified = true
	return []Effect{Notice{Kind: NoticeStartup, At: now}}
}

func (m *Machine) onTick(e Tick, env Env) []Effect {
	var out []Effect
	if m.s.State == AwaitingArm && m.cfg.ArmOn == ArmOnLocation {
		out = append(out, m.tryArm(env, e.At)...)
	}
	if m.s.State != Active {
		return out
	}

	if loc, ok := env.Location(); ok {
		if loc != m.cfg.Trigger {
			m.log.Info("player moved away from queue coordinates", zap.Stringer("pos", loc))
			return append(out, m.end(EndLeftPosition, e.At)...)
		}
		// An unknown material is an absent environment, not a departure.
		if below, known := env.MaterialBelow(loc); known && below != m.cfg.Marker {
			m.log.Info("player no longer standing on marker", zap.String("below", below))
			return append(out, m.end(EndLeftMarker, e.At)...)
		}
	}

	last := m.s.Queue.CheckedAt
	if last.IsZero() || e.At.Sub(last) >= m.cfg.PollInterval {
		m.s.Queue.CheckedAt = e.At
		if eff := m.checkThreshold(e.At); eff != nil {
			return append(out, eff...)
		}
	}

	if !m.s.Pending.Empty() {
		p := m.s.Pending
		m.s.Pending = PendingAnswer{}
		m.s.Stats.Answered++
		m.log.Info("sent answer", zap.String("option", p.Letter), zap.Int("answered", m.s.Stats.Answered))
		out = append(out,
			Send{Text: p.Letter},
			Answered{
				SessionID: m.s.Stats.ID,
				Seq:       m.s.Stats.Answered,
				Key:       p.Key,
				Letter:    p.Letter,
				Prompt:    p.Prompt,
				At:        e.At,
			})
	}
	return out
}

func (m *Machine) checkThreshold(now time.Time) []Effect {
	n, err := classify.ParsePosition(m.s.Queue.Raw)
	if err != nil {
		m.log.Error("failed to parse queue position", zap.String("raw", m.s.Queue.Raw), zap.Error(err))
		return nil
	}
	m.s.Queue.Position = n
	m.s.Queue.HasPosition = true
	m.log.Debug("checking queue position", zap.Int("position", n), zap.Int("threshold", m.cfg.Threshold))
	if n > m.cfg.Threshold {
		return nil
	}
	m.log.Info("queue position reached threshold", zap.Int("position", n), zap.Int("threshold", m.cfg.Threshold))
	return m.end(EndThreshold, now)
}

// end reports once and resets everything but the Ended marker.
func (m *Machine) end(reason EndReason, now time.Time) []Effect {
	if m.s.State != Active || m.s.reported {
		return nil
	}
	stats := m.s.Stats
	stats.EndedAt = now
	rep := Report{Stats: stats, Reason: reason, FinalPosition: m.s.Queue.Raw}

	m.s = Session{
		State:    Ended,
		welcomed: m.s.welcomed,
		reported: true,
	}
	m.log.Info("session ended",
		zap.String("session", stats.ID),
		zap.String("reason", string(reason)),
		zap.Duration("duration", stats.Duration()),
		zap.Int("answered", stats.Answered))
	return []Effect{rep}
}
