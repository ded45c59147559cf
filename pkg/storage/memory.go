package storage

import (
	"fmt"
	"sync/atomic"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableEntries = "entries"
	indexID      = "id"
	indexTable   = "table"
)

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableEntries: {
			Name: tableEntries,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:   indexID,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Table"},
							&memdb.StringFieldIndex{Field: "Key"},
						},
					},
				},
				indexTable: {
					Name:    indexTable,
					Indexer: &memdb.StringFieldIndex{Field: "Table"},
				},
			},
		},
	},
}

// MemoryStore is an in-memory Store on go-memdb. Read views are memdb read
// transactions, so they never block writers.
type MemoryStore struct {
	db       *memdb.MemDB
	revision atomic.Uint64
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		// static schema
		panic(err)
	}
	return &MemoryStore{db: db}
}

// Begin starts a transaction
func (s *MemoryStore) Begin() Tx {
	return NewTx(s)
}

// Revision returns the revision of the last applied commit
func (s *MemoryStore) Revision() uint64 {
	return s.revision.Load()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// Snapshot opens a read view
func (s *MemoryStore) Snapshot() (Snapshot, error) {
	return &memorySnapshot{tx: s.db.Txn(false)}, nil
}

// Apply validates and applies a commit in one memdb write transaction
func (s *MemoryStore) Apply(c *Commit) error {
	tx := s.db.Txn(true)
	defer tx.Abort()

	for _, r := range c.Reads {
		e, err := first(tx, r.Table, r.Key)
		if err != nil {
			return err
		}
		var version uint64
		if e != nil {
			version = e.Version
		}
		if version != r.Version {
			return ErrConflict
		}
	}

	rev := s.revision.Load() + 1
	for _, w := range c.Writes {
		if w.Delete {
			if _, err := tx.DeleteAll(tableEntries, indexID, w.Table, w.Key); err != nil {
				return fmt.Errorf("failed to delete %s/%s: %w", w.Table, w.Key, err)
			}
			continue
		}
		e := &Entry{Table: w.Table, Key: w.Key, Value: w.Value, Version: rev}
		if err := tx.Insert(tableEntries, e); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", w.Table, w.Key, err)
		}
	}

	s.revision.Store(rev)
	tx.Commit()
	return nil
}

func first(tx *memdb.Txn, table, key string) (*Entry, error) {
	raw, err := tx.First(tableEntries, indexID, table, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", table, key, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*Entry), nil
}

type memorySnapshot struct {
	tx *memdb.Txn
}

func (s *memorySnapshot) Get(table, key string) (Entry, bool, error) {
	e, err := first(s.tx, table, key)
	if err != nil || e == nil {
		return Entry{}, false, err
	}
	return *e, true, nil
}

func (s *memorySnapshot) Scan(table string, fn func(Entry) error) error {
	it, err := s.tx.Get(tableEntries, indexTable, table)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", table, err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		if err := fn(*raw.(*Entry)); err != nil {
			return err
		}
	}
	return nil
}

func (s *memorySnapshot) Release() {
	s.tx.Abort()
}
