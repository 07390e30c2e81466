// Package store provides the persistence collaborators: a JSON file store
// for durable checkpoints and an in-memory store for tests. Both implement
// core.Store.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/logging"
)

// FileStore persists each conversation as one JSON file under a base
// directory. Writes go through a temp file and rename so a crash mid-write
// never leaves a truncated checkpoint; a per-file lock serializes writers.
type FileStore struct {
	baseDir   string
	logger    logging.Logger
	fileLocks sync.Map // path -> *sync.RWMutex
}

// FileStoreOptions configure a FileStore.
type FileStoreOptions struct {
	Logger logging.Logger
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string, optFns ...func(o *FileStoreOptions)) (*FileStore, error) {
	opts := FileStoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create base directory: %w", err)
	}
	return &FileStore{baseDir: baseDir, logger: opts.Logger}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *FileStore) lockFor(path string) *sync.RWMutex {
	value, _ := s.fileLocks.LoadOrStore(path, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// Save writes a snapshot of the conversation atomically.
func (s *FileStore) Save(conv *core.Conversation) error {
	snapshot := conv.Clone()
	content, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal conversation %s: %w", snapshot.ID, err)
	}

	path := s.path(snapshot.ID)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0o644); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			s.logger.Warn("temp file cleanup failed", "path", tempPath, "error", removeErr)
		}
		return fmt.Errorf("store: commit %s: %w", path, err)
	}
	return nil
}

// Load reads the conversation with the given id.
func (s *FileStore) Load(id string) (*core.Conversation, error) {
	path := s.path(id)
	lock := s.lockFor(path)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	var conv core.Conversation
	if err := json.Unmarshal(content, &conv); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return &conv, nil
}

// Delete removes the conversation file. Unknown ids are not an error.
func (s *FileStore) Delete(id string) error {
	path := s.path(id)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete %s: %w", path, err)
	}
	return nil
}

// List returns every persisted conversation. Unreadable files are skipped
// with a warning so one corrupt checkpoint does not hide the rest.
func (s *FileStore) List() ([]*core.Conversation, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("store: read base directory: %w", err)
	}

	out := make([]*core.Conversation, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		conv, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable conversation file", "file", name, "error", err)
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}
