package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jamesainslie/ramen/pkg/ramen/entry"
)

// Subtree buffers writes for one (host, product) tree until Commit.
type Subtree struct {
	store *Store

	mu      sync.Mutex
	info    SubtreeInfo
	batch   *badger.WriteBatch
	pending int
}

// Info returns the subtree descriptor as of the last commit.
func (t *Subtree) Info() SubtreeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// Write upserts rec. The write becomes durable on the next Commit.
func (t *Subtree) Write(rec *entry.Record) error {
	if rec.Host != t.info.Host || rec.Product != t.info.Product {
		return fmt.Errorf("record %s/%s written to subtree %s/%s",
			rec.Host, rec.Product, t.info.Host, t.info.Product)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch == nil {
		t.batch = t.store.db.NewWriteBatch()
	}
	if err := t.batch.Set(entryKey(rec.Host, rec.Product, entry.Clean(rec.Path)), data); err != nil {
		t.batch.Cancel()
		t.batch = nil
		t.pending = 0
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	t.pending++
	if rec.RunID != "" {
		t.info.LastRun = rec.RunID
	}
	return nil
}

// Pending returns the number of writes since the last commit.
func (t *Subtree) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Commit flushes pending writes and syncs them to disk (in-memory stores
// have no log to sync). It may be called
// any number of times; the subtree accepts writes afterwards.
func (t *Subtree) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch != nil {
		wb := t.batch
		t.batch = nil
		n := t.pending
		t.pending = 0
		if err := wb.Flush(); err != nil {
			return fmt.Errorf("%w: commit %s/%s: %v", ErrUnavailable, t.info.Host, t.info.Product, err)
		}
		t.store.log.Debug("subtree committed", "host", t.info.Host, "product", t.info.Product, "entries", n)
	}

	t.info.LastCommit = time.Now().UTC()
	if err := t.store.putJSON(subtreeKey(t.info.Host, t.info.Product), t.info); err != nil {
		return err
	}
	if t.store.inMemory {
		return nil
	}
	if err := t.store.db.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrUnavailable, err)
	}
	return nil
}

// Discard drops writes since the last commit.
func (t *Subtree) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.batch != nil {
		t.batch.Cancel()
		t.batch = nil
	}
	t.pending = 0
}
