// Package console reconciles the server's console transcript into a display
// model.
//
// The server always returns the full transcript accumulated for the current
// job, so an update replaces what is shown. An empty transcript means
// "nothing to report yet" and leaves the display untouched.
package console

import (
	"errors"
	"sync"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ErrStaleSession is returned when an update belongs to a superseded session.
var ErrStaleSession = errors.New("console update from a stale session")

// Class is the display class of a line.
type Class string

const (
	ClassInfo    Class = "info"
	ClassSuccess Class = "success"
	ClassError   Class = "error"
	ClassWarning Class = "warning"
	ClassLoading Class = "loading"
)

// Line is one displayed console line.
type Line struct {
	Text  string
	Class Class
}

// View is an immutable copy of the displayed console.
type View struct {
	Session     uint64
	Lines       []Line
	ScrollToEnd bool
}

// ClassFor maps a wire severity to a display class. Unknown severities
// display as info.
func ClassFor(sev types.Severity) Class {
	switch sev {
	case types.SeveritySuccess:
		return ClassSuccess
	case types.SeverityError:
		return ClassError
	case types.SeverityWarning:
		return ClassWarning
	default:
		return ClassInfo
	}
}

// Reconciler holds the displayed transcript for one session at a time.
type Reconciler struct {
	mu      sync.Mutex
	session uint64
	lines   []Line
	scroll  bool
}

// New creates an empty reconciler bound to session 0.
func New() *Reconciler {
	return &Reconciler{}
}

// Reset starts session token: the transcript is cleared and, when
// placeholder is non-empty, replaced by a single loading line.
func (r *Reconciler) Reset(token uint64, placeholder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = token
	r.lines = nil
	r.scroll = false
	if placeholder != "" {
		r.lines = []Line{{Text: placeholder, Class: ClassLoading}}
	}
}

// Apply replaces the transcript with lines. It reports whether the display
// changed: an empty slice is a no-op.
func (r *Reconciler) Apply(token uint64, lines []types.ConsoleLine) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token != r.session {
		return false, ErrStaleSession
	}
	if len(lines) == 0 {
		return false, nil
	}

	next := make([]Line, len(lines))
	for i, l := range lines {
		next[i] = Line{Text: l.Text, Class: ClassFor(l.Type)}
	}
	r.lines = next
	r.scroll = true
	return true, nil
}

// Append adds a client-generated status line, e.g. a submission failure.
func (r *Reconciler) Append(token uint64, text string, class Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token != r.session {
		return ErrStaleSession
	}
	r.lines = append(r.lines, Line{Text: text, Class: class})
	return nil
}

// Session returns the token of the session currently displayed.
func (r *Reconciler) Session() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// View returns a copy of the displayed transcript.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	return View{
		Session:     r.session,
		Lines:       append([]Line(nil), r.lines...),
		ScrollToEnd: r.scroll,
	}
}
