// Package sidecar persists the head coordinator's version counter and
// per-workspace head map to a single JSON file, written atomically on every
// transition so that a crash between writes never leaves a torn file behind.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

const fileName = "heads.json"

// State is the on-disk shape of the sidecar file.
type State struct {
	Version int64                       `json:"version"`
	Heads   tandemtypes.WorkspaceHeads `json:"workspace_heads"`
}

// Store reads and writes the sidecar file under a data directory.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a Store rooted at dataDir, creating the directory if
// necessary. It does not itself create the sidecar file; Load returns the
// zero State until the first Save.
func Open(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "tandem")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sidecar: mkdir: %w", err)
	}
	return &Store{path: filepath.Join(dir, fileName)}, nil
}

// Load reads the current state. A missing file is not an error: it reports
// the zero State, which the coordinator treats as "version 0, no heads".
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{Heads: tandemtypes.WorkspaceHeads{}}, nil
		}
		return State{}, fmt.Errorf("sidecar: read: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("sidecar: unmarshal: %w", err)
	}
	if st.Heads == nil {
		st.Heads = tandemtypes.WorkspaceHeads{}
	}
	return st, nil
}

// Save writes state to disk atomically: write-temp, sync, close, rename.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sidecar: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".heads-tmp-*")
	if err != nil {
		return fmt.Errorf("sidecar: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sidecar: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sidecar: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sidecar: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sidecar: rename into place: %w", err)
	}
	return nil
}
