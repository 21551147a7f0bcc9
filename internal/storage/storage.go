// Package storage provides the author-side JSON key-value store.
//
// Values live as pretty-printed JSON files under a base directory, one
// file per key, where a key is a slash-separated path such as
// session/info/ses_xyz. Writes go to a temp file and are renamed into
// place, so readers never observe a partially written value, and every
// successful write emits a storage.write event on the injected bus
// strictly after the rename. The publisher pipeline is driven entirely
// by those events.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/opencode-ai/sharesync/internal/event"
)

var (
	// ErrNotFound indicates the key has no stored value.
	ErrNotFound = errors.New("not found")
	// ErrInvalidKey indicates a key that would escape the storage tree.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Storage provides file-based JSON storage rooted at one directory.
type Storage struct {
	basePath string
	bus      *event.Bus

	mu    sync.Mutex
	locks map[string]*FileLock
}

// New opens (and if needed creates) a store at basePath and brings it
// up to the current layout by running any outstanding migrations.
// Write events are published on bus; a nil bus disables them.
func New(basePath string, bus *event.Bus) (*Storage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &Storage{
		basePath: basePath,
		bus:      bus,
		locks:    make(map[string]*FileLock),
	}

	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// BasePath returns the root directory of the store.
func (s *Storage) BasePath() string {
	return s.basePath
}

// cleanKey validates a key and returns its canonical form.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	clean := path.Clean(key)
	if clean != key || strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// keyToFile maps a key to its backing file.
func (s *Storage) keyToFile(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)+".json"), nil
}

// keyToDir maps a key prefix to its backing directory.
func (s *Storage) keyToDir(prefix string) (string, error) {
	clean, err := cleanKey(prefix)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

// fileToKey maps a backing file back to its key.
func (s *Storage) fileToKey(filePath string) (string, error) {
	rel, err := filepath.Rel(s.basePath, filePath)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), ".json"), nil
}

// Get retrieves a value from storage.
func (s *Storage) Get(ctx context.Context, key string, v any) error {
	filePath, err := s.keyToFile(key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}

	return nil
}

// Put stores a value. The write is atomic: the value is written to a
// temp file and renamed over the final path, under a per-key file lock
// held across processes. The storage.write event fires after the rename
// and before the lock is released, so per-key event order matches disk
// order. Event subscribers must not write back into storage from the
// callback.
func (s *Storage) Put(ctx context.Context, key string, v any) error {
	filePath, err := s.keyToFile(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	if s.bus != nil {
		event.StorageWrite.Publish(s.bus, event.StorageWriteProperties{
			Key:     key,
			Content: json.RawMessage(data),
		})
	}

	return nil
}

// Delete removes a value. Deleting an absent key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	filePath, err := s.keyToFile(key)
	if err != nil {
		return err
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// DeleteDir removes every key under prefix.
func (s *Storage) DeleteDir(ctx context.Context, prefix string) error {
	dirPath, err := s.keyToDir(prefix)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dirPath); err != nil {
		return fmt.Errorf("failed to delete directory: %w", err)
	}

	return nil
}

// List returns every key under prefix in ascending lexicographic order,
// which for ascending-id keyspaces equals creation order.
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	dirPath, err := s.keyToDir(prefix)
	if err != nil {
		return nil, err
	}

	keys := []string{}
	err = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		key, err := s.fileToKey(p)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Scan iterates over every key under prefix, passing the raw stored
// bytes. Iteration order matches List.
func (s *Storage) Scan(ctx context.Context, prefix string, fn func(key string, data json.RawMessage) error) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		filePath, err := s.keyToFile(key)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			// Deleted between listing and reading
			continue
		}
		if err := fn(key, json.RawMessage(data)); err != nil {
			return err
		}
	}

	return nil
}

// Exists checks whether a key has a stored value.
func (s *Storage) Exists(ctx context.Context, key string) bool {
	filePath, err := s.keyToFile(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(filePath)
	return err == nil
}

// getLock returns the file lock for a path.
func (s *Storage) getLock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}

	return lock
}
