package session

import (
	"fmt"
	"testing"
	"time"

	"queuequiz.ai/internal/quiz/knowledge"
)

type fakeEnv struct {
	pos     Coord
	hasPos  bool
	below   string
	queries int
}

func (f *fakeEnv) Location() (Coord, bool) { return f.pos, f.hasPos }

// An empty below means the material is unknown.
func (f *fakeEnv) MaterialBelow(c Coord) (string, bool) {
	f.queries++
	if c != f.pos || f.below == "" {
		return "", false
	}
	return f.below, true
}

func queuedEnv() *fakeEnv {
	return &fakeEnv{pos: DefaultTrigger, hasPos: true, below: DefaultMarker}
}

type countingResolver struct {
	kb    *knowledge.Base
	calls int
}

func (c *countingResolver) Resolve(prompt string) (knowledge.Match, bool) {
	c.calls++
	return c.kb.Resolve(prompt)
}

func newResolver(t *testing.T) *countingResolver {
	t.Helper()
	kb, err := knowledge.New([]knowledge.Entry{
		{Key: "红石火把", Answer: "15"},
		{Key: "小箱子能", Answer: "27"},
		{Key: "南瓜的生长是否需要水?", Answer: "不需要", Mode: knowledge.ModeExact},
	})
	if err != nil {
		t.Fatalf("knowledge: %v", err)
	}
	return &countingResolver{kb: kb}
}

type harness struct {
	t   *testing.T
	m   *Machine
	env *fakeEnv
	kb  *countingResolver
	now time.Time
	ids int
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		env: queuedEnv(),
		kb:  newResolver(t),
		now: time.Date(2026, 10, 17, 9, 30, 0, 0, time.Local),
	}
	cfg := DefaultConfig()
	cfg.NewID = func() string {
		h.ids++
		return fmt.Sprintf("S%d", h.ids)
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.m = New(cfg, h.kb, nil)
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) join() []Effect { return h.m.Handle(Joined{Server: "play.example.net", At: h.now}, h.env) }
func (h *harness) text(s string) []Effect {
	return h.m.Handle(Text{Raw: s, At: h.now}, h.env)
}
func (h *harness) tick() []Effect { return h.m.Handle(Tick{At: h.now}, h.env) }

func count[T Effect](effects []Effect) int {
	n := 0
	for _, e := range effects {
		if _, ok := e.(T); ok {
			n++
		}
	}
	return n
}

func notices(effects []Effect, kind NoticeKind) int {
	n := 0
	for _, e := range effects {
		if nt, ok := e.(Notice); ok && nt.Kind == kind {
			n++
		}
	}
	return n
}

func TestPositionUpdate_SetsNumericPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.env.pos = Coord{0, 64, 0} // not queued, so nothing arms
	h.join()
	h.text("§6Position in queue: 7")

	s := h.m.Snapshot()
	if s.State != AwaitingArm {
		t.Fatalf("state=%v", s.State)
	}
	if s.Queue.Raw != "7" || !s.Queue.HasPosition || s.Queue.Position != 7 {
		t.Fatalf("queue=%+v", s.Queue)
	}
}

func TestPositionUpdate_ParseFailureKeepsNumber(t *testing.T) {
	h := newHarness(t, nil)
	h.env.pos = Coord{0, 64, 0}
	h.join()
	h.text("Position in queue: 7")
	h.text("Position in queue: soon")

	s := h.m.Snapshot()
	if s.Queue.Raw != "soon" || s.Queue.Position != 7 || !s.Queue.HasPosition {
		t.Fatalf("queue=%+v", s.Queue)
	}
}

func TestTextBeforeJoinIgnored(t *testing.T) {
	h := newHarness(t, nil)
	if eff := h.text("Position in queue: 3"); len(eff) != 0 {
		t.Fatalf("effects=%v", eff)
	}
	if s := h.m.Snapshot(); s.State != Idle || s.Queue.Raw != "" {
		t.Fatalf("session=%+v", s)
	}
}

func TestTriviaIgnoredUnlessActive(t *testing.T) {
	h := newHarness(t, nil)
	h.env.below = "STONE"
	h.join()
	h.text("Position in queue: 9") // at trigger but wrong marker: stays unarmed
	if h.m.State() != AwaitingArm {
		t.Fatalf("state=%v", h.m.State())
	}
	h.text("丨红石火把能提供多少信号? A.15 B.16 C.14")
	if h.kb.calls != 0 {
		t.Fatalf("resolver called %d times", h.kb.calls)
	}
	if !h.m.Snapshot().Pending.Empty() {
		t.Fatalf("pending set while unarmed")
	}
	if eff := h.tick(); count[Send](eff) != 0 {
		t.Fatalf("unexpected send: %v", eff)
	}
}

func TestArm_StartupNoticeOnce(t *testing.T) {
	h := newHarness(t, nil)
	eff := h.join()
	if notices(eff, NoticeWelcome) != 1 {
		t.Fatalf("welcome effects=%v", eff)
	}

	total := 0
	for i := 0; i < 5; i++ {
		total += notices(h.text(fmt.Sprintf("Position in queue: %d", 20-i)), NoticeStartup)
		total += notices(h.tick(), NoticeStartup)
		h.advance(time.Second)
	}
	if total != 1 {
		t.Fatalf("startup notices=%d want 1", total)
	}
	s := h.m.Snapshot()
	if s.State != Active || s.Stats.ID != "S1" || s.Stats.Answered != 0 {
		t.Fatalf("session=%+v", s)
	}
}

func TestArm_RequiresTriggerAndMarker(t *testing.T) {
	cases := []struct {
		name  string
		pos   Coord
		has   bool
		below string
		want  State
	}{
		{"armed", DefaultTrigger, true, DefaultMarker, Active},
		{"wrong coordinate", Coord{8, 5, 9}, true, DefaultMarker, AwaitingArm},
		{"wrong material", DefaultTrigger, true, "GRASS", AwaitingArm},
		{"no avatar", DefaultTrigger, false, DefaultMarker, AwaitingArm},
	}
	for _, tc := range cases {
		h := newHarness(t, nil)
		h.env.pos, h.env.hasPos, h.env.below = tc.pos, tc.has, tc.below
		h.join()
		h.text("Position in queue: 40")
		if got := h.m.State(); got != tc.want {
			t.Fatalf("%s: state=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestThreshold(t *testing.T) {
	for _, tc := range []struct {
		pos   int
		ended bool
	}{{2, true}, {3, false}, {0, true}} {
		h := newHarness(t, nil)
		h.join()
		h.text(fmt.Sprintf("Position in queue: %d", tc.pos))
		eff := h.tick()
		ended := h.m.State() == Ended
		if ended != tc.ended || (count[Report](eff) == 1) != tc.ended {
			t.Fatalf("pos=%d ended=%v effects=%v", tc.pos, ended, eff)
		}
	}
}

func TestThreshold_Configurable(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Threshold = 5 })
	h.join()
	h.text("Position in queue: 5")
	h.tick()
	if h.m.State() != Ended {
		t.Fatalf("state=%v", h.m.State())
	}
}

func TestThreshold_PollInterval(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 10")
	h.tick() // first check right after arming
	h.text("Position in queue: 1")

	h.advance(9 * time.Second)
	h.tick()
	if h.m.State() != Active {
		t.Fatalf("checked before the poll interval")
	}
	h.advance(time.Second)
	eff := h.tick()
	if h.m.State() != Ended || count[Report](eff) != 1 {
		t.Fatalf("state=%v effects=%v", h.m.State(), eff)
	}
}

func TestThreshold_ClockBackwards(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 10")
	h.tick()
	h.text("Position in queue: 1")
	h.advance(-time.Hour)
	h.tick()
	if h.m.State() != Active {
		t.Fatalf("state=%v", h.m.State())
	}
}

func TestThreshold_ParseFailureKeepsActive(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: unknown")
	h.tick()
	if h.m.State() != Active {
		t.Fatalf("state=%v", h.m.State())
	}
	if s := h.m.Snapshot(); s.Queue.CheckedAt != h.now {
		t.Fatalf("poll timer not reset: %v", s.Queue.CheckedAt)
	}
}

func TestPendingAnswer_LastQuestionWins(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 30")
	h.tick()

	h.text("丨红石火把能提供多少信号? A.15 B.16 C.14")
	h.text("丨小箱子能装多少组? A.54 B.27 C.36")
	eff := h.tick()
	if count[Send](eff) != 1 {
		t.Fatalf("effects=%v", eff)
	}
	for _, e := range eff {
		if s, ok := e.(Send); ok && s.Text != "b" {
			t.Fatalf("sent %q want b", s.Text)
		}
	}
	if eff := h.tick(); count[Send](eff) != 0 {
		t.Fatalf("answer sent twice: %v", eff)
	}
	if got := h.m.Snapshot().Stats.Answered; got != 1 {
		t.Fatalf("answered=%d", got)
	}
}

func TestPendingAnswer_UnknownQuestion(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 30")
	h.text("丨末影龙有多少血量? A.200 B.100")
	if !h.m.Snapshot().Pending.Empty() {
		t.Fatalf("pending set for unknown question")
	}
	if h.kb.calls != 1 {
		t.Fatalf("resolver calls=%d", h.kb.calls)
	}
}

func TestValidity_LeavingEndsOnce(t *testing.T) {
	for _, tc := range []struct {
		name   string
		move   func(*fakeEnv)
		reason EndReason
	}{
		{"moved", func(e *fakeEnv) { e.pos = Coord{8, 5, 9} }, EndLeftPosition},
		{"marker gone", func(e *fakeEnv) { e.below = "AIR" }, EndLeftMarker},
	} {
		h := newHarness(t, nil)
		h.join()
		h.text("Position in queue: 30")
		h.tick()
		h.advance(90 * time.Second)
		tc.move(h.env)

		eff := h.tick()
		if count[Report](eff) != 1 {
			t.Fatalf("%s: effects=%v", tc.name, eff)
		}
		rep := eff[0].(Report)
		if rep.Reason != tc.reason || rep.Stats.Duration() != 90*time.Second || rep.FinalPosition != "30" {
			t.Fatalf("%s: report=%+v", tc.name, rep)
		}
		for i := 0; i < 3; i++ {
			h.advance(10 * time.Second)
			if eff := h.tick(); len(eff) != 0 {
				t.Fatalf("%s: effects after end: %v", tc.name, eff)
			}
		}
	}
}

func TestValidity_NoAvatarIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 30")
	h.env.hasPos = false
	h.tick()
	if h.m.State() != Active {
		t.Fatalf("state=%v", h.m.State())
	}
}

func TestValidity_UnknownMaterialIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 30")
	h.tick()
	h.env.below = ""
	for i := 0; i < 3; i++ {
		h.advance(10 * time.Second)
		if eff := h.tick(); len(eff) != 0 {
			t.Fatalf("effects with unknown material: %v", eff)
		}
	}
	if h.m.State() != Active {
		t.Fatalf("state=%v", h.m.State())
	}
	// Once the world data is back the marker check applies again.
	h.env.below = "AIR"
	h.advance(time.Second)
	if eff := h.tick(); count[Report](eff) != 1 || eff[0].(Report).Reason != EndLeftMarker {
		t.Fatalf("effects=%v", eff)
	}
}

func TestArm_UnknownMaterialDoesNotArm(t *testing.T) {
	h := newHarness(t, nil)
	h.env.below = ""
	h.join()
	h.text("Position in queue: 40")
	if h.m.State() != AwaitingArm {
		t.Fatalf("state=%v", h.m.State())
	}
}

func TestEnded_PositionUpdatesSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 1")
	h.tick()
	if h.m.State() != Ended {
		t.Fatalf("state=%v", h.m.State())
	}
	if eff := h.text("Position in queue: 12"); len(eff) != 0 {
		t.Fatalf("effects=%v", eff)
	}
	q := h.m.Snapshot().Queue
	if q.Raw != "12" || !q.HasPosition || q.Position != 12 {
		t.Fatalf("queue=%+v", q)
	}
	if h.m.State() != Ended {
		t.Fatalf("state=%v", h.m.State())
	}
}

func TestEnded_NoRearmUntilJoin(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 1")
	h.tick()
	if h.m.State() != Ended {
		t.Fatalf("state=%v", h.m.State())
	}

	eff := h.text("Position in queue: 50")
	eff = append(eff, h.tick()...)
	eff = append(eff, h.text("丨红石火把能提供多少信号? A.15 B.16 C.14")...)
	eff = append(eff, h.tick()...)
	if len(eff) != 0 || h.m.State() != Ended {
		t.Fatalf("state=%v effects=%v", h.m.State(), eff)
	}
	// Position still tracks after the end; trivia does not.
	if s := h.m.Snapshot(); s.Queue.Raw != "50" || !s.Pending.Empty() || s.Stats != (Stats{}) {
		t.Fatalf("snapshot after end: %+v", s)
	}

	// Join without a loss: state resets, welcome is not repeated.
	eff = h.join()
	if notices(eff, NoticeWelcome) != 0 {
		t.Fatalf("welcome repeated: %v", eff)
	}
	eff = h.text("Position in queue: 50")
	if notices(eff, NoticeStartup) != 1 || h.m.State() != Active {
		t.Fatalf("state=%v effects=%v", h.m.State(), eff)
	}
	if got := h.m.Snapshot().Stats.ID; got != "S2" {
		t.Fatalf("session id=%q", got)
	}
}

func TestLost_ResetsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	h.text("Position in queue: 30")
	h.m.Handle(Lost{At: h.now}, h.env)
	if s := h.m.Snapshot(); s.State != Idle || s.Queue.Raw != "" {
		t.Fatalf("session=%+v", s)
	}
	if eff := h.join(); notices(eff, NoticeWelcome) != 1 {
		t.Fatalf("welcome not re-sent after loss: %v", eff)
	}
}

func TestWelcomeFilter(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.WelcomeFilter = "2b2t.xin" })
	if eff := h.join(); notices(eff, NoticeWelcome) != 0 {
		t.Fatalf("welcome on unmatched server: %v", eff)
	}
	h.m.Handle(Lost{}, h.env)
	eff := h.m.Handle(Joined{Server: "ws://2b2t.xin:8080/v1/ws"}, h.env)
	if notices(eff, NoticeWelcome) != 1 {
		t.Fatalf("welcome missing: %v", eff)
	}
}

func TestArmOnLocation(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ArmOn = ArmOnLocation })
	h.env.pos = Coord{0, 64, 0}
	h.join()
	h.text("Position in queue: 12") // does not arm in location mode
	if h.m.State() != AwaitingArm {
		t.Fatalf("state=%v", h.m.State())
	}
	h.env.pos = DefaultTrigger
	eff := h.tick()
	if h.m.State() != Active || notices(eff, NoticeStartup) != 1 {
		t.Fatalf("state=%v effects=%v", h.m.State(), eff)
	}
	if h.m.Snapshot().Queue.Raw != "12" {
		t.Fatalf("position lost: %+v", h.m.Snapshot().Queue)
	}

	// Arms immediately on join when already queued.
	h2 := newHarness(t, func(c *Config) { c.ArmOn = ArmOnLocation })
	if eff := h2.join(); notices(eff, NoticeStartup) != 1 || h2.m.State() != Active {
		t.Fatalf("state=%v effects=%v", h2.m.State(), eff)
	}
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	start := h.now
	h.join()

	eff := h.text("§e...Position in queue: 10")
	if h.m.State() != Active || notices(eff, NoticeStartup) != 1 {
		t.Fatalf("arm: state=%v effects=%v", h.m.State(), eff)
	}

	h.advance(50 * time.Millisecond)
	eff = h.tick() // first poll: 10 > 2
	if len(eff) != 0 {
		t.Fatalf("unexpected effects %v", eff)
	}

	h.text("§b[问答]丨小箱子能装多少组物品? A.54 B.27 C.36")
	h.advance(50 * time.Millisecond)
	eff = h.tick()
	if len(eff) != 2 {
		t.Fatalf("dispatch effects=%v", eff)
	}
	if s, ok := eff[0].(Send); !ok || s.Text != "b" {
		t.Fatalf("send=%v", eff[0])
	}
	if a, ok := eff[1].(Answered); !ok || a.Seq != 1 || a.SessionID != "S1" || a.Key != "小箱子能" {
		t.Fatalf("answered=%+v", eff[1])
	}
	if got := h.m.Snapshot().Stats.Answered; got != 1 {
		t.Fatalf("answered=%d", got)
	}

	h.text("Position in queue: 1")
	h.advance(10 * time.Second)
	eff = h.tick()
	if h.m.State() != Ended || count[Report](eff) != 1 {
		t.Fatalf("end: state=%v effects=%v", h.m.State(), eff)
	}
	rep := eff[0].(Report)
	if rep.Stats.Answered != 1 || rep.Reason != EndThreshold || !rep.Stats.StartedAt.Equal(start) || !rep.Stats.EndedAt.Equal(h.now) {
		t.Fatalf("report=%+v", rep)
	}

	reports := 0
	for i := 0; i < 5; i++ {
		h.advance(10 * time.Second)
		reports += count[Report](h.tick())
	}
	if reports != 0 {
		t.Fatalf("report emitted %d more times", reports)
	}
}
