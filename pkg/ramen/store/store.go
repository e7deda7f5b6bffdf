// Package store provides Badger DB-backed storage for crawled entries.
//
// Entries are grouped into subtrees, one per (host, product) pair. Writes
// are upserts, so a rescan merges on top of what is already stored.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
)

// Key prefixes for different data types
const (
	prefixEntry   = "e:" // e:<host>\x00<product>\x00<path> -> Record
	prefixSubtree = "t:" // t:<host>\x00<product> -> SubtreeInfo
	prefixMeta    = "m:" // schema and other metadata
)

const sep = "\x00"

var (
	// ErrUnavailable wraps failures of the underlying database.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned by Get for unknown paths.
	ErrNotFound = errors.New("entry not found")
)

// SubtreeInfo describes one (host, product) tree.
type SubtreeInfo struct {
	Host       string    `json:"host"`
	Product    string    `json:"product"`
	CreatedAt  time.Time `json:"created_at"`
	LastRun    string    `json:"last_run,omitempty"`
	LastCommit time.Time `json:"last_commit,omitempty"`
}

// Store is the entry storage backed by Badger DB.
type Store struct {
	db  *badger.DB
	log *logging.Logger

	mu       sync.Mutex
	subtrees map[string]*Subtree

	// pidPath is empty for in-memory stores.
	pidPath  string
	inMemory bool
}

// Open opens or creates a store at the given path. The store is claimed
// for this process until Close; a store owned by another live process
// returns ErrInUse.
func Open(path string) (*Store, error) {
	if err := claim(path); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable logging

	s, err := open(opts)
	if err != nil {
		return nil, err
	}
	s.pidPath = filepath.Join(path, pidFile)
	if err := writePID(s.pidPath); err != nil {
		s.log.Warn("failed to record store owner", "error", err)
	}
	return s, nil
}

// OpenInMemory opens a store that lives only in memory.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	s, err := open(opts)
	if err != nil {
		return nil, err
	}
	s.inMemory = true
	return s, nil
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &Store{
		db:       db,
		log:      logging.Get("store"),
		subtrees: make(map[string]*Subtree),
	}
	if err := s.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store. Pending subtree writes that were never committed
// are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, st := range s.subtrees {
		st.Discard()
	}
	s.subtrees = nil
	s.mu.Unlock()

	if s.pidPath != "" {
		_ = os.Remove(s.pidPath)
	}
	return s.db.Close()
}

func entryKey(host, product, p string) []byte {
	return []byte(prefixEntry + host + sep + product + sep + p)
}

func entryPrefix(host, product string) []byte {
	return []byte(prefixEntry + host + sep + product + sep)
}

func subtreeKey(host, product string) []byte {
	return []byte(prefixSubtree + host + sep + product)
}

// GetOrCreateSubtree returns the writer for (host, product), registering the
// subtree on first use. Concurrent callers receive the same writer.
func (s *Store) GetOrCreateSubtree(host, product string) (*Subtree, error) {
	if host == "" || product == "" {
		return nil, fmt.Errorf("subtree needs a host and a product")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subtrees == nil {
		return nil, fmt.Errorf("%w: closed", ErrUnavailable)
	}
	key := host + sep + product
	if st, ok := s.subtrees[key]; ok {
		return st, nil
	}

	info, err := s.subtreeInfo(host, product)
	if errors.Is(err, ErrNotFound) {
		info = &SubtreeInfo{Host: host, Product: product, CreatedAt: time.Now().UTC()}
		if err := s.putJSON(subtreeKey(host, product), info); err != nil {
			return nil, err
		}
		s.log.Debug("subtree created", "host", host, "product", product)
	} else if err != nil {
		return nil, err
	}

	st := &Subtree{store: s, info: *info}
	s.subtrees[key] = st
	return st, nil
}

func (s *Store) subtreeInfo(host, product string) (*SubtreeInfo, error) {
	var info SubtreeInfo
	if err := s.getJSON(subtreeKey(host, product), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Get returns the record stored for path.
func (s *Store) Get(host, product, p string) (*entry.Record, error) {
	var rec entry.Record
	if err := s.getJSON(entryKey(host, product, entry.Clean(p)), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List calls fn for every record at or below prefix, in path order. An
// empty prefix lists the whole subtree. Returning an error from fn stops
// the iteration and returns that error.
func (s *Store) List(host, product, prefix string, fn func(*entry.Record) error) error {
	base := entryPrefix(host, product)
	seek := base
	under := ""
	if prefix != "" && entry.Clean(prefix) != "/" {
		under = entry.Clean(prefix)
		seek = append(append([]byte(nil), base...), under...)
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(seek); it.Next() {
			p := string(it.Item().Key()[len(base):])
			if under != "" && p != under && !strings.HasPrefix(p, under+"/") {
				continue
			}

			var rec entry.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", p, err)
			}
			if err := fn(&rec); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// Count returns the number of records in a subtree.
func (s *Store) Count(host, product string) (int, error) {
	prefix := entryPrefix(host, product)
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Hosts returns every host with at least one subtree, sorted.
func (s *Store) Hosts() ([]string, error) {
	seen := make(map[string]bool)
	prefix := []byte(prefixSubtree)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()[len(prefix):]
			if i := bytes.IndexByte(key, 0); i > 0 {
				seen[string(key[:i])] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts, nil
}

// Subtrees returns the subtrees registered for host, ordered by product.
func (s *Store) Subtrees(host string) ([]SubtreeInfo, error) {
	var out []SubtreeInfo
	prefix := []byte(prefixSubtree + host + sep)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var info SubtreeInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// PruneStale deletes records of a subtree whose run id differs from runID
// and returns how many were removed.
func (s *Store) PruneStale(host, product, runID string) (int, error) {
	var stale [][]byte
	prefix := entryPrefix(host, product)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec entry.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				// Undecodable entries are stale by definition.
				stale = append(stale, item.KeyCopy(nil))
				continue
			}
			if rec.RunID != runID {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.log.Info("pruned stale entries", "host", host, "product", product, "count", len(stale))
	return len(stale), nil
}

func (s *Store) getJSON(key []byte, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
