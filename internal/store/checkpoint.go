package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// CompletedFile records one file the current Prime has already
// embedded and upserted, keyed by content hash so a resumed Prime can
// tell a since-modified file from one it can skip re-embedding.
type CompletedFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Checkpoint is the durable record a Prime writes after every N files,
// matching the wire format's literal shape so the file can be
// inspected or hand-edited if a resume ever needs to be forced.
type Checkpoint struct {
	Collection     string          `json:"collection"`
	CompletedFiles []CompletedFile `json:"completed_files"`
	RetryQueue     []string        `json:"retry_queue"`
}

// CheckpointStore persists a single Checkpoint to a JSON file via
// temp-file-plus-rename, guarded by an advisory file lock, the same
// atomic-write discipline internal/vectorstore/memory uses for its
// snapshot file.
type CheckpointStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// NewCheckpointStore returns a CheckpointStore backed by the file at path.
func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path, lock: flock.New(path + ".lock")}
}

// Save atomically writes cp to the checkpoint file.
func (c *CheckpointStore) Save(cp Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create checkpoint directory: %w", err)
		}
	}

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("store: lock checkpoint file: %w", err)
	}
	defer func() { _ = c.lock.Unlock() }()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("store: marshal checkpoint: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: rename checkpoint into place: %w", err)
	}
	return nil
}

// Load reads the checkpoint file. It returns (Checkpoint{}, false, nil)
// if no checkpoint file exists yet — a fresh Prime, not an error.
func (c *CheckpointStore) Load() (Checkpoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.lock.Lock(); err != nil {
		return Checkpoint{}, false, fmt.Errorf("store: lock checkpoint file: %w", err)
	}
	defer func() { _ = c.lock.Unlock() }()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("store: read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("store: decode checkpoint: %w", err)
	}
	return cp, true, nil
}

// Clear removes the checkpoint file, signaling a completed Prime.
func (c *CheckpointStore) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("store: lock checkpoint file: %w", err)
	}
	defer func() { _ = c.lock.Unlock() }()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove checkpoint file: %w", err)
	}
	return nil
}
