// Package opheads maintains the op-heads ref set: the set of operation ids
// currently considered "latest". Each head is one ref file named by the
// operation's hex id, written atomically, mirroring how a branch ref is
// one file per branch name — except these refs are keyed by id, not name,
// since op-heads has no notion of a branch label.
package opheads

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

// Set tracks the current op-heads on disk under refsDir.
type Set struct {
	mu      sync.Mutex
	refsDir string
}

// New creates a Set rooted at refsDir, creating it if necessary, and
// seeds it with rootID if the set is empty (a fresh repository's only
// head is its root operation).
func New(refsDir string, rootID tandemtypes.Hash) (*Set, error) {
	if err := os.MkdirAll(refsDir, 0o755); err != nil {
		return nil, fmt.Errorf("opheads: mkdir: %w", err)
	}
	s := &Set{refsDir: refsDir}

	heads, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(heads) == 0 {
		if err := s.writeRef(rootID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) refPath(id tandemtypes.Hash) string {
	return filepath.Join(s.refsDir, id.String())
}

func (s *Set) writeRef(id tandemtypes.Hash) error {
	path := s.refPath(id)
	tmp, err := os.CreateTemp(s.refsDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("opheads: create temp ref: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("opheads: close temp ref: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("opheads: rename ref into place: %w", err)
	}
	return nil
}

// List returns the current heads in sorted hex-id order for deterministic
// output.
func (s *Set) List() ([]tandemtypes.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Set) listLocked() ([]tandemtypes.Hash, error) {
	entries, err := os.ReadDir(s.refsDir)
	if err != nil {
		return nil, fmt.Errorf("opheads: read dir: %w", err)
	}
	var heads []tandemtypes.Hash
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) == 0 || e.Name()[0] == '.' {
			continue
		}
		id, err := tandemtypes.ParseHash(e.Name())
		if err != nil {
			continue
		}
		heads = append(heads, id)
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].String() < heads[j].String() })
	return heads, nil
}

// Replace removes the oldIds refs and adds newId, atomically from the
// caller's point of view (the coordinator already holds the server lock
// for the duration of a transition; this method does not itself need to
// be safe against concurrent Replace calls beyond that).
func (s *Set) Replace(oldIds []tandemtypes.Hash, newID tandemtypes.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeRef(newID); err != nil {
		return err
	}
	for _, old := range oldIds {
		if old == newID {
			continue
		}
		if err := os.Remove(s.refPath(old)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("opheads: remove old ref %s: %w", old.Short(), err)
		}
	}
	return nil
}

// Restore undoes a Replace(removed, added) call: it re-adds every id in
// removed and removes added. Used by the coordinator to roll back the
// library-level transition when a later step (persisting the sidecar)
// fails, so the on-disk head set and the sidecar version stay consistent.
func (s *Set) Restore(removed []tandemtypes.Hash, added tandemtypes.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range removed {
		if id == added {
			continue
		}
		if err := s.writeRef(id); err != nil {
			return err
		}
	}
	if err := os.Remove(s.refPath(added)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("opheads: remove ref %s: %w", added.Short(), err)
	}
	return nil
}
