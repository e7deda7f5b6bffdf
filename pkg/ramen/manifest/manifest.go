package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for unknown run ids.
var ErrNotFound = errors.New("run not found")

const lockName = ".lock"

// Manifest manages run records in a directory. Writers in other processes
// are excluded with a lock file next to the records.
type Manifest struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// New creates a new Manifest with the given directory.
// The directory is not created until EnsureDir is called.
func New(dir string) (*Manifest, error) {
	if dir == "" {
		return nil, errors.New("manifest directory cannot be empty")
	}
	return &Manifest{dir: dir, lock: flock.New(filepath.Join(dir, lockName))}, nil
}

// Dir returns the manifest directory.
func (m *Manifest) Dir() string { return m.dir }

// EnsureDir creates the manifest directory if it does not exist.
func (m *Manifest) EnsureDir() error {
	return os.MkdirAll(m.dir, 0o755)
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

// Record persists e, assigning an id and start time when missing.
func (m *Manifest) Record(e *Entry) error {
	if e.ID == "" {
		e.ID = NewRunID()
	} else if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", e.ID, err)
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	e.Summarize()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.EnsureDir(); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := m.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock manifest directory: %w", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	if err := m.writeEntry(e); err != nil {
		return fmt.Errorf("failed to write manifest entry: %w", err)
	}
	return nil
}

// writeEntry writes an entry to a JSON file in the manifest directory.
func (m *Manifest) writeEntry(e *Entry) error {
	filePath := filepath.Join(m.dir, e.ID+".json")

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	// Write atomically using a temp file and rename
	tmp, err := os.CreateTemp(m.dir, e.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// List returns all runs sorted by start time descending (newest first).
// If limit is 0 or negative, all entries are returned.
func (m *Manifest) List(limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}

		e, err := m.readEntryFile(f.Name())
		if err != nil {
			// Skip files that can't be parsed
			continue
		}
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get retrieves a run by id. A unique id prefix is accepted.
func (m *Manifest) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("run id cannot be empty")
	}

	entries, err := m.List(0)
	if err != nil {
		return nil, err
	}

	var match *Entry
	for i := range entries {
		e := &entries[i]
		if e.ID == id {
			return e, nil
		}
		if strings.HasPrefix(e.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
			}
			match = e
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

// readEntryFile reads and parses a manifest entry from a JSON file.
func (m *Manifest) readEntryFile(filename string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &e, nil
}

// Cleanup removes runs that started more than retention ago and returns
// how many were removed.
func (m *Manifest) Cleanup(retention time.Duration) (int, error) {
	entries, err := m.List(0)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.dir); os.IsNotExist(err) {
		return 0, nil
	}
	if err := m.lock.Lock(); err != nil {
		return 0, fmt.Errorf("failed to lock manifest directory: %w", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if !e.StartedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.ID+".json")); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}
