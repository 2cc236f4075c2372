// Package objectstore implements the content-addressed blob store backing
// commits, trees, files, symlinks, and copies. Every accepted write is
// idempotent: the id is the SHA-256 hash of the bytes, and writing the
// same bytes twice is a no-op that returns the same id.
package objectstore

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

// ErrNotFound is returned by Read when no object exists under the given
// hash within the given kind.
var ErrNotFound = fmt.Errorf("objectstore: object not found")

// Store is a SHA-256 content-addressed blob store with one subdirectory
// tree per ObjectKind and a two-level hex fan-out, mirroring the layout a
// git-like object database uses to keep any one directory small.
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) objectPath(kind tandemtypes.ObjectKind, hash tandemtypes.Hash) string {
	hex := hash.String()
	return filepath.Join(s.baseDir, string(kind), hex[:2], hex[2:])
}

// Hash computes the id that Write will return for the given bytes,
// without touching storage.
func Hash(data []byte) tandemtypes.Hash {
	return tandemtypes.Hash(sha256.Sum256(data))
}

// Write stores data under its content hash and returns the hash. Writing
// identical bytes twice is a no-op: the existing file is left untouched
// and the same hash is returned (invariant: id = H(bytes)).
func (s *Store) Write(kind tandemtypes.ObjectKind, data []byte) (tandemtypes.Hash, error) {
	hash := Hash(data)
	path := s.objectPath(kind, hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tandemtypes.Hash{}, fmt.Errorf("objectstore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return tandemtypes.Hash{}, fmt.Errorf("objectstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tandemtypes.Hash{}, fmt.Errorf("objectstore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tandemtypes.Hash{}, fmt.Errorf("objectstore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return tandemtypes.Hash{}, fmt.Errorf("objectstore: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return tandemtypes.Hash{}, fmt.Errorf("objectstore: rename into place: %w", err)
	}

	return hash, nil
}

// Read retrieves the bytes stored under hash within kind.
func (s *Store) Read(kind tandemtypes.ObjectKind, hash tandemtypes.Hash) ([]byte, error) {
	path := s.objectPath(kind, hash)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: read: %w", err)
	}
	return data, nil
}

// Exists reports whether hash is present within kind.
func (s *Store) Exists(kind tandemtypes.ObjectKind, hash tandemtypes.Hash) bool {
	_, err := os.Stat(s.objectPath(kind, hash))
	return err == nil
}

// ReadStream opens the bytes under hash as a stream, avoiding a full
// buffer copy when the caller only needs to drain the result into an
// io.Writer.
func (s *Store) ReadStream(kind tandemtypes.ObjectKind, hash tandemtypes.Hash) (io.ReadCloser, error) {
	f, err := os.Open(s.objectPath(kind, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: open: %w", err)
	}
	return f, nil
}
