package notice

import (
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Prefix starts every notification line.
const Prefix = "[Queue Quiz]"

// Terminal writes styled notifications. Colors are dropped automatically
// when w is not a terminal.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	prefix lipgloss.Style
	colors map[Color]lipgloss.Style
}

func NewTerminal(w io.Writer) *Terminal {
	r := lipgloss.NewRenderer(w)
	return &Terminal{
		w:      w,
		prefix: r.NewStyle().Foreground(lipgloss.Color("#00BFFF")),
		colors: map[Color]lipgloss.Style{
			Green:  r.NewStyle().Foreground(lipgloss.Color("10")),
			Aqua:   r.NewStyle().Foreground(lipgloss.Color("14")),
			Yellow: r.NewStyle().Foreground(lipgloss.Color("11")),
		},
	}
}

func (t *Terminal) Print(lines []Line) error {
	var b strings.Builder
	for _, ln := range lines {
		b.WriteString(t.prefix.Render(Prefix))
		b.WriteByte(' ')
		b.WriteString(t.colors[ln.Color].Render(ln.Text))
		b.WriteByte('\n')
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, b.String())
	return err
}

// Plain joins lines without styling, for log files.
func Plain(lines []Line) string {
	parts := make([]string, len(lines))
	for i, ln := range lines {
		parts[i] = ln.Text
	}
	return strings.Join(parts, " | ")
}
