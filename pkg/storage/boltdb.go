package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta  = []byte("_meta")
	keyRevision = []byte("revision")
)

// versionSize is the length of the version prefix of every stored value
const versionSize = 8

// BoltStore is a Store persisted in a single bbolt file. Each table is a
// bucket; values are stored as an 8-byte big-endian version followed by the
// payload.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates <dataDir>/ledger.db
func NewBoltStore(dataDir string) (*BoltStore, error) {
	return OpenBoltStore(filepath.Join(dataDir, "ledger.db"))
}

// OpenBoltStore opens the bolt file at path
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: time.Second,
		// Open transactions pin the current mapping, so map generously
		// up front to keep commits from waiting on a remap.
		InitialMmapSize: 64 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Begin starts a transaction
func (s *BoltStore) Begin() Tx {
	return NewTx(s)
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Revision returns the revision of the last applied commit
func (s *BoltStore) Revision() (uint64, error) {
	var rev uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		rev = revision(tx)
		return nil
	})
	return rev, err
}

// Snapshot opens a bolt read transaction
func (s *BoltStore) Snapshot() (Snapshot, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	return &boltSnapshot{tx: tx}, nil
}

// Apply validates and applies a commit in one bolt update
func (s *BoltStore) Apply(c *Commit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, r := range c.Reads {
			e, ok, err := get(tx, r.Table, r.Key)
			if err != nil {
				return err
			}
			var version uint64
			if ok {
				version = e.Version
			}
			if version != r.Version {
				return ErrConflict
			}
		}

		rev := revision(tx) + 1
		for _, w := range c.Writes {
			if err := put(tx, w, rev); err != nil {
				return err
			}
		}
		return setRevision(tx, rev)
	})
}

// Dump returns every entry and the current revision
func (s *BoltStore) Dump() ([]Entry, uint64, error) {
	var (
		entries []Entry
		rev     uint64
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		rev = revision(tx)
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if string(name) == string(bucketMeta) {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				e, err := decodeEntry(string(name), k, v)
				if err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
		})
	})
	return entries, rev, err
}

// Restore replaces the whole content of the store
func (s *BoltStore) Restore(entries []Entry, rev uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var names [][]byte
		err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if string(name) != string(bucketMeta) {
				names = append(names, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to drop bucket %s: %w", name, err)
			}
		}

		for _, e := range entries {
			b, err := tx.CreateBucketIfNotExists([]byte(e.Table))
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", e.Table, err)
			}
			if err := b.Put([]byte(e.Key), encodeValue(e.Version, e.Value)); err != nil {
				return err
			}
		}
		return setRevision(tx, rev)
	})
}

func revision(tx *bolt.Tx) uint64 {
	v := tx.Bucket(bucketMeta).Get(keyRevision)
	if len(v) != versionSize {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func setRevision(tx *bolt.Tx, rev uint64) error {
	v := make([]byte, versionSize)
	binary.BigEndian.PutUint64(v, rev)
	return tx.Bucket(bucketMeta).Put(keyRevision, v)
}

func get(tx *bolt.Tx, table, key string) (Entry, bool, error) {
	b := tx.Bucket([]byte(table))
	if b == nil {
		return Entry{}, false, nil
	}
	v := b.Get([]byte(key))
	if v == nil {
		return Entry{}, false, nil
	}
	e, err := decodeEntry(table, []byte(key), v)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func put(tx *bolt.Tx, w Write, rev uint64) error {
	if w.Table == string(bucketMeta) {
		return fmt.Errorf("table name %s is reserved", w.Table)
	}
	if w.Delete {
		b := tx.Bucket([]byte(w.Table))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(w.Key))
	}
	b, err := tx.CreateBucketIfNotExists([]byte(w.Table))
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", w.Table, err)
	}
	return b.Put([]byte(w.Key), encodeValue(rev, w.Value))
}

func encodeValue(version uint64, value []byte) []byte {
	buf := make([]byte, versionSize+len(value))
	binary.BigEndian.PutUint64(buf, version)
	copy(buf[versionSize:], value)
	return buf
}

// decodeEntry copies v since bolt memory is only valid inside the transaction
func decodeEntry(table string, k, v []byte) (Entry, error) {
	if len(v) < versionSize {
		return Entry{}, fmt.Errorf("corrupt value for %s/%s", table, k)
	}
	return Entry{
		Table:   table,
		Key:     string(k),
		Value:   append([]byte(nil), v[versionSize:]...),
		Version: binary.BigEndian.Uint64(v[:versionSize]),
	}, nil
}

type boltSnapshot struct {
	tx *bolt.Tx
}

func (s *boltSnapshot) Get(table, key string) (Entry, bool, error) {
	return get(s.tx, table, key)
}

func (s *boltSnapshot) Scan(table string, fn func(Entry) error) error {
	b := s.tx.Bucket([]byte(table))
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		e, err := decodeEntry(table, k, v)
		if err != nil {
			return err
		}
		return fn(e)
	})
}

func (s *boltSnapshot) Release() {
	_ = s.tx.Rollback()
}
