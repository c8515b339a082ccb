// Package editor holds the client-side source document: its text, the name
// it is saved under, and whether it has unsaved changes.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

const (
	// Untitled is the title of a document without a name
	Untitled = "Untitled"
	// DefaultFilename is suggested by the save prompt
	DefaultFilename = "untitled.apbl"

	discardPrompt  = "Discard changes?"
	filenamePrompt = "Enter file name:"
)

// OpenExtensions lists the file types Open accepts.
var OpenExtensions = []string{".apbl", ".py", ".txt"}

var (
	// ErrSaveCancelled is returned when the filename prompt was dismissed
	ErrSaveCancelled = errors.New("save cancelled")
	// ErrSaveFailed is returned when the server did not save the file
	ErrSaveFailed = errors.New("save failed")
	// ErrDiscardDeclined is returned when the user kept unsaved changes
	ErrDiscardDeclined = errors.New("unsaved changes kept")
	// ErrUnsupportedFile is returned by Open for unknown extensions
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// Remote is the server side of the document.
type Remote interface {
	Content(ctx context.Context) (types.EditorContent, error)
	Save(ctx context.Context, req types.SaveRequest) (types.SaveResponse, error)
}

// Prompter asks the user for decisions. Each call blocks until answered.
type Prompter interface {
	// PromptFilename returns the chosen name, or ok=false when cancelled
	PromptFilename(ctx context.Context, message, suggested string) (name string, ok bool)
	Confirm(ctx context.Context, message string) bool
	Alert(ctx context.Context, message string)
}

// Document is one editor buffer.
type Document struct {
	remote   Remote
	prompter Prompter
	metrics  *metrics.Collector

	mu       sync.Mutex
	content  string
	filename string
	modified bool
}

// NewDocument creates an empty, unmodified document.
func NewDocument(remote Remote, prompter Prompter, m *metrics.Collector) *Document {
	return &Document{
		remote:   remote,
		prompter: prompter,
		metrics:  m,
	}
}

// Load replaces the buffer with the server's initial content.
func (d *Document) Load(ctx context.Context) error {
	content, err := d.remote.Content(ctx)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = content.Content
	d.filename = ""
	if content.File != nil {
		d.filename = *content.File
	}
	d.modified = false
	return nil
}

// New clears the buffer, asking first when there are unsaved changes.
func (d *Document) New(ctx context.Context) error {
	if !d.confirmDiscard(ctx) {
		return ErrDiscardDeclined
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = ""
	d.filename = ""
	d.modified = false
	return nil
}

// Open reads a local file into the buffer. No request is made.
func (d *Document) Open(ctx context.Context, path string) error {
	if !supported(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}
	if !d.confirmDiscard(ctx) {
		return ErrDiscardDeclined
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = string(data)
	d.filename = filepath.Base(path)
	d.modified = false
	return nil
}

// SetContent replaces the buffer text and marks it modified.
func (d *Document) SetContent(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = content
	d.modified = true
}

// Save stores the buffer under its current name, prompting for one when
// the document is untitled.
func (d *Document) Save(ctx context.Context) error {
	d.mu.Lock()
	name := d.filename
	d.mu.Unlock()

	if name == "" {
		return d.SaveAs(ctx)
	}
	return d.save(ctx, name)
}

// SaveAs always prompts for a name. Cancelling makes no request.
func (d *Document) SaveAs(ctx context.Context) error {
	d.mu.Lock()
	suggested := d.filename
	d.mu.Unlock()
	if suggested == "" {
		suggested = DefaultFilename
	}

	name, ok := d.prompter.PromptFilename(ctx, filenamePrompt, suggested)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		d.metrics.RecordSave("cancelled")
		return ErrSaveCancelled
	}
	return d.save(ctx, name)
}

func (d *Document) save(ctx context.Context, name string) error {
	d.mu.Lock()
	content := d.content
	d.mu.Unlock()

	resp, err := d.remote.Save(ctx, types.SaveRequest{Content: content, Filename: name})
	if err != nil {
		d.metrics.RecordSave("error")
		d.prompter.Alert(ctx, "Save failed: "+err.Error())
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	if resp.Status != types.SaveSaved {
		reason := resp.Error
		if reason == "" {
			reason = "Unknown error"
		}
		d.metrics.RecordSave("error")
		d.prompter.Alert(ctx, "Save failed: "+reason)
		return fmt.Errorf("%w: %s", ErrSaveFailed, reason)
	}

	d.mu.Lock()
	d.filename = name
	// edits made while the request was in flight stay unsaved
	d.modified = d.content != content
	d.mu.Unlock()

	d.metrics.RecordSave("saved")
	log.Info("File saved", "filename", name, "bytes", len(content))
	return nil
}

// Title returns the name shown in the toolbar, suffixed with "*" when
// modified.
func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	title := d.filename
	if title == "" {
		title = Untitled
	}
	if d.modified {
		title += "*"
	}
	return title
}

// Content returns the buffer text.
func (d *Document) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

// Filename returns the current name, empty when untitled.
func (d *Document) Filename() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filename
}

// Modified reports unsaved changes.
func (d *Document) Modified() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modified
}

func (d *Document) confirmDiscard(ctx context.Context) bool {
	if !d.Modified() {
		return true
	}
	return d.prompter.Confirm(ctx, discardPrompt)
}

func supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range OpenExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
