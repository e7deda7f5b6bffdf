package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
// 1 - Initial version (entries, subtree descriptors)
const CurrentSchemaVersion = 1

const schemaKey = prefixMeta + "__schema__"

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the current schema version, or nil if not set.
func (s *Store) GetSchema() *Schema {
	var schema *Schema

	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})

	return schema
}

// SetSchema stores the schema version.
func (s *Store) SetSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// checkSchema stamps a fresh database and refuses one written by a newer
// release.
func (s *Store) checkSchema() error {
	schema := s.GetSchema()
	switch {
	case schema == nil:
		if s.hasAnyEntries() {
			return fmt.Errorf("%w: database has data but no schema", ErrUnavailable)
		}
		if err := s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	case schema.Version > CurrentSchemaVersion:
		return fmt.Errorf("%w: %w", ErrUnavailable, ErrNewerSchema)
	}
	return nil
}

// ErrNewerSchema is reported when the database was written by a newer release.
var ErrNewerSchema = errors.New("database schema is newer than this build")

// hasAnyEntries checks if the store has any keys besides the schema.
func (s *Store) hasAnyEntries() bool {
	var found bool
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if string(it.Item().Key()) != schemaKey {
				found = true
				return nil
			}
		}
		return nil
	})
	return found
}
