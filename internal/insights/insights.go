// Package insights reconciles the phase timeline and insight list into a
// display model.
//
// Unlike the console, every snapshot is authoritative: an empty list clears
// whatever was shown before.
package insights

import (
	"errors"
	"sync"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ErrStaleSession is returned when a snapshot belongs to a superseded session.
var ErrStaleSession = errors.New("insights update from a stale session")

// ErrorBadge is added to the badge classes of a phase flagged as an error.
const ErrorBadge = "status-error"

// PhaseView is the display model of one phase.
type PhaseView struct {
	Name        string
	Status      string
	Badges      []string
	Description string
	Result      string
	HasResult   bool
	IsError     bool
}

// InsightView is the display model of one insight.
type InsightView struct {
	Title       string
	Code        string
	HasCode     bool
	Explanation string
}

// View is the combined display model.
type View struct {
	Session  uint64
	Phases   []PhaseView
	Insights []InsightView
}

// BuildView converts a snapshot into a display model, preserving server
// order. It is a pure function of its input.
func BuildView(snapshot types.InsightsSnapshot) View {
	v := View{
		Phases:   make([]PhaseView, 0, len(snapshot.Phases)),
		Insights: make([]InsightView, 0, len(snapshot.Insights)),
	}

	for _, p := range snapshot.Phases {
		pv := PhaseView{
			Name:        p.Name,
			Status:      p.Status,
			Badges:      []string{"status-" + p.Status},
			Description: p.Description,
			IsError:     p.IsError,
		}
		if p.IsError {
			pv.Badges = append(pv.Badges, ErrorBadge)
		}
		if p.Result != nil && *p.Result != "" {
			pv.Result = *p.Result
			pv.HasResult = true
		}
		v.Phases = append(v.Phases, pv)
	}

	for _, in := range snapshot.Insights {
		iv := InsightView{
			Title:       in.Title,
			Explanation: in.Explanation,
		}
		if in.Code != nil && *in.Code != "" {
			iv.Code = *in.Code
			iv.HasCode = true
		}
		v.Insights = append(v.Insights, iv)
	}

	return v
}

// Reconciler holds the displayed timeline for one session at a time.
type Reconciler struct {
	mu      sync.Mutex
	session uint64
	view    View
}

// New creates an empty reconciler bound to session 0.
func New() *Reconciler {
	return &Reconciler{view: BuildView(types.InsightsSnapshot{})}
}

// Reset starts session token with an empty timeline.
func (r *Reconciler) Reset(token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = token
	r.view = BuildView(types.InsightsSnapshot{})
	r.view.Session = token
}

// Apply replaces the displayed phases and insights with snapshot.
func (r *Reconciler) Apply(token uint64, snapshot types.InsightsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token != r.session {
		return ErrStaleSession
	}
	r.view = BuildView(snapshot)
	r.view.Session = token
	return nil
}

// View returns a copy of the displayed timeline.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := View{
		Session:  r.view.Session,
		Phases:   make([]PhaseView, len(r.view.Phases)),
		Insights: append([]InsightView(nil), r.view.Insights...),
	}
	for i, p := range r.view.Phases {
		p.Badges = append([]string(nil), p.Badges...)
		out.Phases[i] = p
	}
	if out.Insights == nil {
		out.Insights = []InsightView{}
	}
	return out
}
