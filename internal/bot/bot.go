// Package bot wires the quiz state machine to a world connection: it turns
// WELCOME/OBS traffic into session events and carries out the effects.
package bot

import (
	"io"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"

	"queuequiz.ai/internal/debuglog"
	"queuequiz.ai/internal/notice"
	"queuequiz.ai/internal/persistence/archive"
	"queuequiz.ai/internal/persistence/indexdb"
	"queuequiz.ai/internal/protocol"
	"queuequiz.ai/internal/session"
	"queuequiz.ai/internal/worldview"
)

// Sayer sends chat text to the world.
type Sayer interface {
	Say(channel, text string) error
}

// SayerFunc adapts a function to Sayer.
type SayerFunc func(channel, text string) error

func (f SayerFunc) Say(channel, text string) error { return f(channel, text) }

type Notifier interface {
	Print(lines []notice.Line) error
}

type SessionArchive interface {
	WriteSession(r archive.SessionRecord) error
}

type SessionIndex interface {
	RecordSession(r archive.SessionRecord)
	RecordAnswer(a indexdb.AnswerRow)
}

type Options struct {
	Session  session.Config
	Resolver session.Resolver
	Channel  string
	Lang     notice.Lang
	// PlayerName is shown in reports; empty prints the placeholder.
	PlayerName string

	Out      Sayer
	Terminal Notifier
	Archive  SessionArchive
	Index    SessionIndex

	Log     *zap.Logger
	Console *log.Logger
	Now     func() time.Time
}

// Bot implements ws.Handler. Its methods must be called from one goroutine.
type Bot struct {
	opts Options
	log  *zap.Logger
	con  *log.Logger

	m    *session.Machine
	view *worldview.View

	agentID string
}

func New(opts Options) *Bot {
	if opts.Channel == "" {
		opts.Channel = "LOCAL"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	con := opts.Console
	if con == nil {
		con = log.New(io.Discard, "", 0)
	}
	zl := debuglog.OrNop(opts.Log)
	return &Bot{
		opts: opts,
		log:  zl,
		con:  con,
		m:    session.New(opts.Session, opts.Resolver, zl.Named("state")),
		view: worldview.New(),
	}
}

func (b *Bot) State() session.State { return b.m.State() }

func (b *Bot) OnWelcome(w protocol.WelcomeMsg, server string) {
	b.agentID = w.AgentID
	b.apply(b.m.Handle(session.Joined{Server: server, At: b.opts.Now()}, b.view))
}

func (b *Bot) OnCatalog(c protocol.CatalogMsg) {
	if err := b.view.ApplyCatalog(c); err != nil {
		b.log.Warn("bad catalog", zap.String("name", c.Name), zap.Error(err))
	}
}

// OnObs delivers the chat lines of one observation in order, then ticks.
func (b *Bot) OnObs(obs *protocol.ObsMsg) {
	if err := b.view.Observe(obs); err != nil {
		b.log.Debug("voxels not usable", zap.Uint64("tick", obs.Tick), zap.Error(err))
	}
	for _, ev := range obs.Events {
		if r, ok := ev.ActionResult(); ok {
			if !r.OK && strings.HasPrefix(r.Ref, protocol.SayIDPrefix) {
				b.log.Warn("answer rejected by server", zap.String("ref", r.Ref), zap.String("code", r.Code), zap.String("message", r.Message))
			}
			continue
		}
		if !ev.IsChat() {
			continue
		}
		b.apply(b.m.Handle(session.Text{Raw: ev.Text(), At: b.opts.Now()}, b.view))
	}
	b.apply(b.m.Handle(session.Tick{At: b.opts.Now()}, b.view))
}

func (b *Bot) OnLost(err error) {
	if err != nil {
		b.log.Info("connection closed", zap.Error(err))
	}
	b.apply(b.m.Handle(session.Lost{At: b.opts.Now()}, b.view))
	b.view.Reset()
	b.agentID = ""
}

// apply carries out effects in order. Sink failures are logged only.
func (b *Bot) apply(effs []session.Effect) {
	for _, eff := range effs {
		switch e := eff.(type) {
		case session.Send:
			if b.opts.Out == nil {
				continue
			}
			if err := b.opts.Out.Say(b.opts.Channel, e.Text); err != nil {
				b.log.Error("failed to send answer", zap.String("text", e.Text), zap.Error(err))
			}

		case session.Answered:
			b.con.Printf("answered %q with %s (session %s #%d)", e.Key, e.Letter, e.SessionID, e.Seq)
			if b.opts.Index != nil {
				b.opts.Index.RecordAnswer(indexdb.AnswerRow{
					SessionID:  e.SessionID,
					Seq:        e.Seq,
					Key:        e.Key,
					Letter:     e.Letter,
					Prompt:     e.Prompt,
					AnsweredAt: e.At,
				})
			}

		case session.Notice:
			var lines []notice.Line
			switch e.Kind {
			case session.NoticeWelcome:
				lines = notice.Welcome(b.opts.Lang)
			case session.NoticeStartup:
				lines = notice.Startup(b.opts.Lang)
			}
			b.notify(lines)

		case session.Report:
			b.report(e)
		}
	}
}

func (b *Bot) report(e session.Report) {
	rec := archive.SessionRecord{
		ID:            e.Stats.ID,
		Agent:         b.agentID,
		StartedAt:     e.Stats.StartedAt,
		EndedAt:       e.Stats.EndedAt,
		DurationMS:    e.Stats.Duration().Milliseconds(),
		Answered:      e.Stats.Answered,
		Reason:        string(e.Reason),
		FinalPosition: e.FinalPosition,
	}
	if b.opts.Archive != nil {
		if err := b.opts.Archive.WriteSession(rec); err != nil {
			b.log.Error("failed to archive session", zap.String("session", rec.ID), zap.Error(err))
		}
	}
	if b.opts.Index != nil {
		b.opts.Index.RecordSession(rec)
	}
	b.con.Printf("session %s ended: reason=%s answered=%d duration=%s", rec.ID, rec.Reason, rec.Answered, e.Stats.Duration().Round(time.Second))

	// No agent means there is nobody to show the report to.
	if b.agentID == "" {
		return
	}
	b.notify(notice.SessionReport(b.opts.Lang, b.opts.PlayerName, e.Stats))
}

func (b *Bot) notify(lines []notice.Line) {
	if len(lines) == 0 {
		return
	}
	b.log.Info(notice.Plain(lines))
	if b.opts.Terminal == nil {
		return
	}
	if err := b.opts.Terminal.Print(lines); err != nil {
		b.log.Warn("failed to print notice", zap.Error(err))
	}
}
