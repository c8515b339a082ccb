package filestore

// ============================================================================
// Responsibilities:
// 1. Serialize the workspace editor state to a JSON file
// 2. Write atomically (temp file + rename) so a crash never corrupts it
// 3. Check the schema version on load
// ============================================================================

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// StateFileName is the state file kept inside the workspace directory.
const StateFileName = ".jobwatch-state.json"

// StateSchemaVersion is the only schema Load accepts.
const StateSchemaVersion = 1

var (
	ErrCorruptedState      = errors.New("state file is corrupted")
	ErrIncompatibleVersion = errors.New("state schema version is incompatible")
)

// WorkspaceState is the persisted editor buffer.
type WorkspaceState struct {
	SchemaVer int       `json:"schema_ver"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	SavedAt   time.Time `json:"saved_at"`
}

// StateManager reads and writes the workspace state file
type StateManager struct {
	path string
	mu   sync.Mutex
}

// NewStateManager stores state at dir/StateFileName.
func NewStateManager(dir string) *StateManager {
	return &StateManager{path: filepath.Join(dir, StateFileName)}
}

// Write persists state atomically
func (m *StateManager) Write(state WorkspaceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state.SchemaVer = StateSchemaVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmpPath := m.path + tmpSuffix
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp state: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state: %w", err)
	}
	return nil
}

// Load reads the state file
//
// A missing file is a first start and yields an empty state with ok=false.
func (m *StateManager) Load() (state WorkspaceState, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return WorkspaceState{SchemaVer: StateSchemaVersion}, false, nil
		}
		return state, false, fmt.Errorf("failed to read state: %w", err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return WorkspaceState{}, false, fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}
	if state.SchemaVer != StateSchemaVersion {
		return WorkspaceState{}, false, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, state.SchemaVer, StateSchemaVersion)
	}
	return state, true, nil
}

// Path returns the state file path.
func (m *StateManager) Path() string {
	return m.path
}
