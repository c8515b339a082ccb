// Package types defines the wire model shared by the jobwatch server and client.
package types

// Severity classifies a console line.
type Severity string

// Severity values used on the wire. The server also emits "normal" for
// plain output, which displays the same as info.
const (
	SeverityInfo    Severity = "info"
	SeverityNormal  Severity = "normal"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Submission acknowledgement statuses.
const (
	SubmitStarted = "started"
	SubmitError   = "error"
)

// Save statuses.
const (
	SaveSaved = "saved"
	SaveError = "error"
)

// Phase statuses emitted by the server.
const (
	PhasePending   = "pending"
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
)

// ConsoleLine is one line of compiler output. Immutable once received.
type ConsoleLine struct {
	Text string   `json:"text"`
	Type Severity `json:"type"`
}

// Phase is a named stage of the server-side pipeline.
type Phase struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Description string  `json:"description"`
	Result      *string `json:"result,omitempty"`
	IsError     bool    `json:"is_error"`
}

// Insight is an explanatory annotation about a job.
type Insight struct {
	Title       string  `json:"title"`
	Code        *string `json:"code"`
	Explanation string  `json:"explanation"`
}

// CompileRequest is the body of a submit-compile request.
type CompileRequest struct {
	Content string `json:"content"`
}

// SubmitAck is the server's answer to a compile submission.
type SubmitAck struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Started reports whether the server accepted the submission.
func (a SubmitAck) Started() bool {
	return a.Status == SubmitStarted
}

// ConsoleSnapshot is the full transcript known to the server.
type ConsoleSnapshot struct {
	Output []ConsoleLine `json:"output"`
}

// InsightsSnapshot is the full phase timeline and insight list.
type InsightsSnapshot struct {
	Phases   []Phase   `json:"phases"`
	Insights []Insight `json:"insights"`
}

// EditorContent is the initial editor buffer served on page load.
type EditorContent struct {
	Content string  `json:"content"`
	File    *string `json:"file"`
}

// SaveRequest asks the server to persist content under a name.
type SaveRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

// SaveResponse is the result of a save.
type SaveResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StartupStatus is the progress payload of the bootstrap status endpoint.
type StartupStatus struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
	Complete bool   `json:"complete,omitempty"`
}

// StatusResponse is the body of the bootstrap status endpoint.
type StatusResponse struct {
	Status   string         `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
	Data     *StartupStatus `json:"data,omitempty"`
	Redirect string         `json:"redirect,omitempty"`
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}

// JobStatus is the server-side lifecycle state of a compile job.
type JobStatus string

// Job lifecycle: Pending → Running → Completed | Failed.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one compile attempt known to the server.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Source    string    `json:"-"`
	Error     string    `json:"error,omitempty"`
	CreatedAt int64     `json:"created_at"` // unix millis
	UpdatedAt int64     `json:"updated_at"`
}
