// Package opindex keeps an ordered index of every accepted operation id so
// that resolveOperationIdPrefix can answer by a bounded cursor scan instead
// of a directory walk. It is a rebuildable secondary index, never the
// source of truth for which operations exist — oplog.Store is.
package opindex

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

var bucketOperationIDs = []byte("operation_ids")

// Index is a BoltDB-backed ordered set of operation ids.
type Index struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the index database under dataDir.
func Open(dataDir string) (*Index, error) {
	path := filepath.Join(dataDir, "opindex.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opindex: open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOperationIDs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opindex: create bucket: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Add records id as known. Idempotent.
func (idx *Index) Add(id tandemtypes.Hash) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperationIDs)
		return b.Put(id[:], nil)
	})
}

// Resolve answers resolveOperationIdPrefix for a hex prefix string.
func (idx *Index) Resolve(hexPrefix string) (tandemtypes.PrefixResolution, tandemtypes.Hash, error) {
	hexPrefix = strings.ToLower(hexPrefix)
	prefixBytes, err := decodeEvenPrefix(hexPrefix)
	if err != nil {
		return tandemtypes.ResolutionNoMatch, tandemtypes.Hash{}, nil
	}

	var (
		resolution = tandemtypes.ResolutionNoMatch
		match      tandemtypes.Hash
	)

	err = idx.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOperationIDs).Cursor()
		count := 0
		for k, _ := c.Seek(prefixBytes); k != nil; k, _ = c.Next() {
			if !hasHexPrefix(k, hexPrefix) {
				break
			}
			count++
			if count == 1 {
				copy(match[:], k)
			}
			if count > 1 {
				break
			}
		}
		switch count {
		case 0:
			resolution = tandemtypes.ResolutionNoMatch
		case 1:
			resolution = tandemtypes.ResolutionSingleMatch
		default:
			resolution = tandemtypes.ResolutionAmbiguous
		}
		return nil
	})
	if err != nil {
		return tandemtypes.ResolutionNoMatch, tandemtypes.Hash{}, fmt.Errorf("opindex: resolve: %w", err)
	}
	return resolution, match, nil
}

// hasHexPrefix reports whether key's hex encoding starts with prefix.
func hasHexPrefix(key []byte, prefix string) bool {
	keyHex := hex.EncodeToString(key)
	return strings.HasPrefix(keyHex, prefix)
}

// decodeEvenPrefix decodes a hex prefix into the bytes to seek from. An
// odd-length prefix is padded with a trailing zero nibble for the seek
// key; the cursor scan above re-checks the full hex prefix on every
// candidate, so the padding never produces a false match.
func decodeEvenPrefix(hexPrefix string) ([]byte, error) {
	padded := hexPrefix
	if len(padded)%2 != 0 {
		padded += "0"
	}
	return hex.DecodeString(padded)
}
