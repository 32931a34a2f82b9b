package storagenode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dfstore/helper"
)

// DiskStore persists chunks as flat files named by chunk id.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir %s: %w", root, err)
	}
	return &DiskStore{root: root}, nil
}

// Store writes the chunk, replacing any previous bytes under the same id.
func (d *DiskStore) Store(chunkID string, data []byte) error {
	path, err := d.chunkPath(chunkID)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Retrieve returns the chunk bytes, or ErrChunkNotFound.
func (d *DiskStore) Retrieve(chunkID string) ([]byte, error) {
	path, err := d.chunkPath(chunkID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, helper.ErrChunkNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// chunkPath validates the id before touching the filesystem so a
// crafted id cannot escape the chunk dir.
func (d *DiskStore) chunkPath(chunkID string) (string, error) {
	if chunkID == "" || strings.ContainsAny(chunkID, `/\`) || strings.Contains(chunkID, "..") {
		return "", fmt.Errorf("%w: %q", helper.ErrInvalidChunkID, chunkID)
	}
	return filepath.Join(d.root, chunkID), nil
}
