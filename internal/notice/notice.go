// Package notice builds the local notifications shown to the player: the
// welcome banner, the startup line and the end-of-session report.
package notice

import (
	"fmt"
	"time"

	"queuequiz.ai/internal/session"
)

type Color int

const (
	Green Color = iota
	Aqua
	Yellow
)

type Line struct {
	Text  string
	Color Color
}

const clockLayout = "15:04:05"

func Welcome(l Lang) []Line {
	t := For(l)
	out := make([]Line, 0, len(t.Welcome))
	for _, s := range t.Welcome {
		out = append(out, Line{Text: s, Color: Aqua})
	}
	return out
}

func Startup(l Lang) []Line {
	return []Line{{Text: For(l).Startup, Color: Green}}
}

// SessionReport renders an ended session. An empty player name is shown as
// the language's placeholder.
func SessionReport(l Lang, player string, st session.Stats) []Line {
	t := For(l)
	if player == "" {
		player = t.UnknownPlayer
	}
	return []Line{
		{Text: t.ReportHeader, Color: Green},
		{Text: fmt.Sprintf(t.ReportPlayer, player), Color: Aqua},
		{Text: fmt.Sprintf(t.ReportDuration, FormatDuration(l, st.Duration())), Color: Yellow},
		{Text: fmt.Sprintf(t.ReportStart, clock(st.StartedAt)), Color: Green},
		{Text: fmt.Sprintf(t.ReportEnd, clock(st.EndedAt)), Color: Green},
		{Text: fmt.Sprintf(t.ReportAnswered, st.Answered), Color: Green},
		{Text: t.ReportFooter, Color: Green},
		{Text: t.ReportClosing, Color: Yellow},
	}
}

// FormatDuration prints whole minutes and remaining seconds ("3m7s", "3分7秒").
// Negative durations print as zero.
func FormatDuration(l Lang, d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	t := For(l)
	return fmt.Sprintf("%d%s%d%s", secs/60, t.Minutes, secs%60, t.Seconds)
}

func clock(ts time.Time) string {
	if ts.IsZero() {
		return "--:--:--"
	}
	return ts.Local().Format(clockLayout)
}
