// Package render prints console, insights and loader views to a terminal
// stream.
//
// The output is append-only: the console is printed incrementally, and a
// full reprint (under a session header) happens only when the displayed
// transcript no longer extends what was already printed.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ChuLiYu/jobwatch/internal/bootstrap"
	"github.com/ChuLiYu/jobwatch/internal/console"
	"github.com/ChuLiYu/jobwatch/internal/insights"
)

const progressWidth = 30

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#81c784"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#f57c00", Dark: "#ffb74d"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#64b5f6"}
)

// Terminal renders views as styled text. It is safe for concurrent use.
type Terminal struct {
	w io.Writer

	header  lipgloss.Style
	muted   lipgloss.Style
	classes map[console.Class]lipgloss.Style
	badges  map[string]lipgloss.Style
	code    lipgloss.Style

	mu           sync.Mutex
	session      uint64
	printed      []console.Line
	lastInsights string
	lastLoader   bootstrap.State
}

// NewTerminal creates a renderer writing to w.
func NewTerminal(w io.Writer) *Terminal {
	r := lipgloss.NewRenderer(w)

	return &Terminal{
		w:      w,
		header: r.NewStyle().Bold(true).Foreground(colorAccent),
		muted:  r.NewStyle().Foreground(colorMuted),
		classes: map[console.Class]lipgloss.Style{
			console.ClassInfo:    r.NewStyle(),
			console.ClassSuccess: r.NewStyle().Foreground(colorSuccess),
			console.ClassError:   r.NewStyle().Foreground(colorError),
			console.ClassWarning: r.NewStyle().Foreground(colorWarning),
			console.ClassLoading: r.NewStyle().Italic(true).Foreground(colorMuted),
		},
		badges: map[string]lipgloss.Style{
			"status-pending":    r.NewStyle().Foreground(colorMuted),
			"status-running":    r.NewStyle().Foreground(colorWarning),
			"status-completed":  r.NewStyle().Foreground(colorSuccess),
			insights.ErrorBadge: r.NewStyle().Bold(true).Foreground(colorError),
		},
		code: r.NewStyle().PaddingLeft(4).Foreground(colorAccent),
	}
}

// RenderConsole prints the lines of view not yet on screen.
func (t *Terminal) RenderConsole(view console.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	if view.Session != t.session || !extends(view.Lines, t.printed) {
		if view.Session != t.session {
			b.WriteString(t.header.Render(fmt.Sprintf("── session %d ──", view.Session)))
		} else {
			b.WriteString(t.muted.Render("── console updated ──"))
		}
		b.WriteByte('\n')
		t.session = view.Session
		t.printed = nil
	}

	for _, l := range view.Lines[len(t.printed):] {
		b.WriteString(t.line(l))
		b.WriteByte('\n')
	}
	t.printed = append(t.printed[:0:0], view.Lines...)

	io.WriteString(t.w, b.String())
}

// RenderInsights prints the timeline when it differs from the last one.
func (t *Terminal) RenderInsights(view insights.View) {
	out := t.FormatInsights(view)

	t.mu.Lock()
	defer t.mu.Unlock()
	if out == t.lastInsights {
		return
	}
	t.lastInsights = out
	if out != "" {
		io.WriteString(t.w, out)
	}
}

// FormatInsights returns the styled phase timeline and insight list.
func (t *Terminal) FormatInsights(view insights.View) string {
	if len(view.Phases) == 0 && len(view.Insights) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(t.header.Render("Phases"))
	b.WriteByte('\n')
	for _, p := range view.Phases {
		fmt.Fprintf(&b, "  %-12s %s  %s\n", p.Name, t.badge(p), t.muted.Render(p.Description))
		if p.HasResult {
			style := t.classes[console.ClassInfo]
			if p.IsError {
				style = t.classes[console.ClassError]
			}
			fmt.Fprintf(&b, "  %-12s → %s\n", "", style.Render(p.Result))
		}
	}

	if len(view.Insights) > 0 {
		b.WriteString(t.header.Render("Insights"))
		b.WriteByte('\n')
		for _, in := range view.Insights {
			fmt.Fprintf(&b, "  • %s\n", in.Title)
			if in.HasCode {
				for _, line := range strings.Split(in.Code, "\n") {
					b.WriteString(t.code.Render(line))
					b.WriteByte('\n')
				}
			}
			fmt.Fprintf(&b, "    %s\n", in.Explanation)
		}
	}
	return b.String()
}

// RenderLoader prints a progress line for each loader state change.
func (t *Terminal) RenderLoader(state bootstrap.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state == t.lastLoader {
		return
	}
	t.lastLoader = state

	var line string
	switch state.Phase {
	case bootstrap.PhaseErrored:
		line = t.classes[console.ClassError].Render("✖ " + state.Error)
	case bootstrap.PhaseRedirecting:
		line = t.classes[console.ClassSuccess].Render(fmt.Sprintf("%s %s → %s", bar(state.Progress), state.Message, state.Redirect))
	default:
		msg := state.Message
		if state.Notice != "" {
			msg = t.classes[console.ClassWarning].Render(state.Notice)
		}
		line = fmt.Sprintf("%s %3d%% %s", bar(state.Progress), state.Progress, msg)
	}
	fmt.Fprintln(t.w, line)
}

func (t *Terminal) line(l console.Line) string {
	style, ok := t.classes[l.Class]
	if !ok {
		style = t.classes[console.ClassInfo]
	}
	return style.Render(l.Text)
}

func (t *Terminal) badge(p insights.PhaseView) string {
	parts := make([]string, 0, len(p.Badges))
	for _, cls := range p.Badges {
		style, ok := t.badges[cls]
		if !ok {
			style = t.muted
		}
		label := strings.TrimPrefix(cls, "status-")
		parts = append(parts, style.Render("["+label+"]"))
	}
	return strings.Join(parts, " ")
}

// extends reports whether printed is a prefix of lines.
func extends(lines, printed []console.Line) bool {
	if len(printed) > len(lines) {
		return false
	}
	for i := range printed {
		if lines[i] != printed[i] {
			return false
		}
	}
	return true
}

func bar(progress int) string {
	filled := progress * progressWidth / 100
	if filled < 0 {
		filled = 0
	}
	if filled > progressWidth {
		filled = progressWidth
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", progressWidth-filled) + "]"
}
