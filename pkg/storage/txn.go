package storage

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

type entryKey struct {
	table string
	key   string
}

type pending struct {
	value  []byte
	delete bool
}

// txn is the Tx shared by every backend
type txn struct {
	id      string
	backend Backend
	snap    Snapshot
	reads   map[entryKey]uint64
	writes  map[entryKey]pending
	order   []entryKey
	done    bool
}

// NewTx starts an optimistic transaction against backend
func NewTx(backend Backend) Tx {
	return &txn{
		id:      uuid.New().String(),
		backend: backend,
		reads:   make(map[entryKey]uint64),
		writes:  make(map[entryKey]pending),
	}
}

func (t *txn) ID() string {
	return t.id
}

func (t *txn) view() (Snapshot, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if t.snap == nil {
		snap, err := t.backend.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		t.snap = snap
	}
	return t.snap, nil
}

// get returns the transaction-local value, recording the version of keys
// read from the snapshot
func (t *txn) get(table, key string) ([]byte, bool, error) {
	k := entryKey{table, key}
	if w, ok := t.writes[k]; ok {
		if w.delete {
			return nil, false, nil
		}
		return w.value, true, nil
	}

	snap, err := t.view()
	if err != nil {
		return nil, false, err
	}
	e, ok, err := snap.Get(table, key)
	if err != nil {
		return nil, false, err
	}
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = e.Version
	}
	if !ok {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (t *txn) put(table, key string, w pending) {
	k := entryKey{table, key}
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = w
}

func (t *txn) Get(table, key string) ([]byte, bool, error) {
	return t.get(table, key)
}

func (t *txn) PutIfAbsent(table, key string, value []byte) ([]byte, bool, error) {
	cur, ok, err := t.get(table, key)
	if err != nil || ok {
		return cur, ok, err
	}
	t.put(table, key, pending{value: value})
	return nil, false, nil
}

func (t *txn) Replace(table, key string, expected, value []byte) (bool, error) {
	cur, ok, err := t.get(table, key)
	if err != nil {
		return false, err
	}
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	t.put(table, key, pending{value: value})
	return true, nil
}

func (t *txn) Remove(table, key string, expected []byte) (bool, error) {
	cur, ok, err := t.get(table, key)
	if err != nil {
		return false, err
	}
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	t.put(table, key, pending{delete: true})
	return true, nil
}

func (t *txn) Scan(table string, fn func(key string, value []byte) error) error {
	snap, err := t.view()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	err = snap.Scan(table, func(e Entry) error {
		seen[e.Key] = struct{}{}
		if w, ok := t.writes[entryKey{table, e.Key}]; ok {
			if w.delete {
				return nil
			}
			return fn(e.Key, w.value)
		}
		return fn(e.Key, e.Value)
	})
	if err != nil {
		return err
	}

	var added []string
	for _, k := range t.order {
		if _, ok := seen[k.key]; ok || k.table != table || t.writes[k].delete {
			continue
		}
		added = append(added, k.key)
	}
	sort.Strings(added)
	for _, key := range added {
		if err := fn(key, t.writes[entryKey{table, key}].value); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.finish()

	if len(t.order) == 0 {
		return nil
	}

	c := &Commit{TxID: t.id, Writes: make([]Write, 0, len(t.order))}
	for k, v := range t.reads {
		c.Reads = append(c.Reads, Read{Table: k.table, Key: k.key, Version: v})
	}
	sort.Slice(c.Reads, func(i, j int) bool {
		if c.Reads[i].Table != c.Reads[j].Table {
			return c.Reads[i].Table < c.Reads[j].Table
		}
		return c.Reads[i].Key < c.Reads[j].Key
	})
	for _, k := range t.order {
		w := t.writes[k]
		c.Writes = append(c.Writes, Write{Table: k.table, Key: k.key, Value: w.value, Delete: w.delete})
	}
	return t.backend.Apply(c)
}

func (t *txn) Abort() {
	t.finish()
}

// finish releases the snapshot before anything is applied: bolt cannot remap
// its file for a write while a read transaction is open.
func (t *txn) finish() {
	t.done = true
	if t.snap != nil {
		t.snap.Release()
		t.snap = nil
	}
}
