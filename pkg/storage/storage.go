package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"xswap/pkg/logger"
)

const (
	DefaultDirName = ".xswap"
	fileExt        = ".json"
	lockExt        = ".lock"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")
)

// Store persists a namespace of records keyed by string id to <dir>/<namespace>.json.
// Every mutation rewrites the whole file through a temp file and rename, so readers
// on disk never observe a partial write.
//
// Several processes may open the same namespace. Mutations hold an exclusive lock
// on <dir>/<namespace>.lock and re-read the file before applying the change, and
// reads reload the file whenever another process replaced it.
type Store[V any] struct {
	namespace string
	filePath  string
	lock      *flock.Flock
	mu        sync.Mutex
	records   map[string]V
	// stamp identifies the file version records were loaded from.
	stamp os.FileInfo
}

// fileLayout is the JSON structure written to disk
type fileLayout[V any] struct {
	Namespace string       `json:"namespace"`
	Records   map[string]V `json:"records"`
}

// DefaultDir returns ~/.xswap
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Open loads the namespace from dir, creating an empty store when the file does not exist yet.
func Open[V any](dir, namespace string) (*Store[V], error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	s := &Store[V]{
		namespace: namespace,
		filePath:  filepath.Join(dir, namespace+fileExt),
		lock:      flock.New(filepath.Join(dir, namespace+lockExt)),
		records:   make(map[string]V),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", namespace, err)
	}
	return s, nil
}

// refresh reloads the records when the file on disk is not the version they were
// loaded from. A missing file means an empty namespace. Must be called with mu held.
func (s *Store[V]) refresh() error {
	info, err := os.Stat(s.filePath)
	if os.IsNotExist(err) {
		s.records = make(map[string]V)
		s.stamp = nil
		return nil
	}
	if err != nil {
		return err
	}
	if s.stamp != nil && os.SameFile(s.stamp, info) &&
		s.stamp.ModTime().Equal(info.ModTime()) && s.stamp.Size() == info.Size() {
		return nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = make(map[string]V)
			s.stamp = nil
			return nil
		}
		return err
	}

	var layout fileLayout[V]
	if err := json.Unmarshal(data, &layout); err != nil {
		return fmt.Errorf("failed to unmarshal records: %w", err)
	}

	s.records = layout.Records
	if s.records == nil {
		s.records = make(map[string]V)
	}
	s.stamp = info
	return nil
}

// read runs fn over the current records.
func (s *Store[V]) read(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		// keep serving the last good version
		logger.Warn("storage %s: reload failed: %v", s.namespace, err)
	}
	fn()
}

// mutate runs fn over the current records under the file lock. When fn reports
// a change the records are written back; on any failure the in-memory copy is
// dropped so that the next call reloads it from disk.
func (s *Store[V]) mutate(fn func() (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", s.namespace, err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			logger.Warn("storage %s: unlock failed: %v", s.namespace, err)
		}
	}()

	if err := s.refresh(); err != nil {
		return fmt.Errorf("failed to load %s: %w", s.namespace, err)
	}
	changed, err := fn()
	if err == nil && changed {
		err = s.save()
	}
	if err != nil {
		s.stamp = nil
		if rerr := s.refresh(); rerr != nil {
			logger.Warn("storage %s: reload failed: %v", s.namespace, rerr)
		}
		return err
	}
	return nil
}

// save must be called with the file lock held.
func (s *Store[V]) save() error {
	data, err := json.MarshalIndent(fileLayout[V]{Namespace: s.namespace, Records: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", s.namespace, err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.namespace, err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	info, err := os.Stat(s.filePath)
	if err != nil {
		return err
	}
	s.stamp = info
	return nil
}

// Insert adds a record, failing with ErrExists if the key is taken.
func (s *Store[V]) Insert(key string, v V) error {
	return s.mutate(func() (bool, error) {
		if _, exists := s.records[key]; exists {
			return false, fmt.Errorf("%s %q: %w", s.namespace, key, ErrExists)
		}
		s.records[key] = v
		return true, nil
	})
}

// Put replaces the record stored under key.
func (s *Store[V]) Put(key string, v V) error {
	return s.mutate(func() (bool, error) {
		s.records[key] = v
		return true, nil
	})
}

// Update replaces the record under key with the result of fn. The read, fn and the
// write happen under one lock. If fn returns an error nothing is written.
func (s *Store[V]) Update(key string, fn func(V) (V, error)) (V, error) {
	var out V
	err := s.mutate(func() (bool, error) {
		cur, exists := s.records[key]
		if !exists {
			return false, fmt.Errorf("%s %q: %w", s.namespace, key, ErrNotFound)
		}
		out = cur
		next, err := fn(cur)
		if err != nil {
			return false, err
		}
		s.records[key] = next
		out = next
		return true, nil
	})
	return out, err
}

// Upsert is Update for keys that may not exist yet. fn reports whether the
// record should be written; when it does not, nothing is stored.
func (s *Store[V]) Upsert(key string, fn func(cur V, exists bool) (V, bool)) (V, bool, error) {
	var (
		out     V
		written bool
	)
	err := s.mutate(func() (bool, error) {
		cur, exists := s.records[key]
		next, write := fn(cur, exists)
		if !write {
			out = cur
			return false, nil
		}
		s.records[key] = next
		out, written = next, true
		return true, nil
	})
	if err != nil {
		return out, false, err
	}
	return out, written, nil
}

func (s *Store[V]) Get(key string) (V, bool) {
	var (
		v  V
		ok bool
	)
	s.read(func() { v, ok = s.records[key] })
	return v, ok
}

// Delete removes the given keys; missing keys are ignored.
func (s *Store[V]) Delete(keys ...string) error {
	return s.mutate(func() (bool, error) {
		removed := false
		for _, k := range keys {
			if _, ok := s.records[k]; ok {
				delete(s.records, k)
				removed = true
			}
		}
		return removed, nil
	})
}

// Keys returns all keys in sorted order.
func (s *Store[V]) Keys() []string {
	var keys []string
	s.read(func() { keys = s.sortedKeys() })
	return keys
}

func (s *Store[V]) sortedKeys() []string {
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List returns all records ordered by key.
func (s *Store[V]) List() []V {
	return s.Filter(nil)
}

// Filter returns the records accepted by keep, ordered by key. A nil keep accepts all.
func (s *Store[V]) Filter(keep func(V) bool) []V {
	var out []V
	s.read(func() {
		keys := s.sortedKeys()
		out = make([]V, 0, len(keys))
		for _, k := range keys {
			v := s.records[k]
			if keep == nil || keep(v) {
				out = append(out, v)
			}
		}
	})
	return out
}

func (s *Store[V]) Count() int {
	var n int
	s.read(func() { n = len(s.records) })
	return n
}

// Wipe removes every record and the backing file.
func (s *Store[V]) Wipe() error {
	return s.mutate(func() (bool, error) {
		s.records = make(map[string]V)
		s.stamp = nil
		if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to remove %s: %w", s.filePath, err)
		}
		return false, nil
	})
}

func (s *Store[V]) Namespace() string {
	return s.namespace
}

// FilePath returns the storage file path
func (s *Store[V]) FilePath() string {
	return s.filePath
}
