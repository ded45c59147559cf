package storage

import (
	"errors"
)

var (
	// ErrConflict is returned by Commit when a key read by the transaction
	// was changed by another transaction that committed first
	ErrConflict = errors.New("transaction conflict")

	// ErrTxDone is returned when a finished transaction is used again
	ErrTxDone = errors.New("transaction already committed or aborted")

	// ErrReadOnly is wrapped by backends that can serve reads but cannot
	// accept commits on this node, such as a raft follower
	ErrReadOnly = errors.New("store is read-only on this node")
)

// Store is a transactional key-value substrate. Keys live in named tables and
// values are opaque byte slices compared byte-for-byte.
type Store interface {
	// Begin starts a transaction. Nothing is visible to other transactions
	// until Commit succeeds.
	Begin() Tx

	// Close releases the underlying resources
	Close() error
}

// Tx is one optimistic transaction. Reads are served from a consistent view
// taken at the first read; writes are buffered and validated on Commit.
// A Tx is not safe for concurrent use.
type Tx interface {
	// ID returns the transaction id used in logs
	ID() string

	// Get returns the value stored under key
	Get(table, key string) ([]byte, bool, error)

	// PutIfAbsent stores value unless the key already exists. When it does,
	// the existing value is returned with true and nothing is written.
	PutIfAbsent(table, key string, value []byte) ([]byte, bool, error)

	// Replace stores value only if the key currently holds expected
	Replace(table, key string, expected, value []byte) (bool, error)

	// Remove deletes the key only if it currently holds expected
	Remove(table, key string, expected []byte) (bool, error)

	// Scan calls fn for every key of table, including the transaction's own
	// pending writes. Scanned keys are not checked for conflicts: read the
	// keys an operation depends on with Get.
	Scan(table string, fn func(key string, value []byte) error) error

	// Commit applies every buffered write atomically, or nothing and
	// returns ErrConflict
	Commit() error

	// Abort discards the transaction. It is safe to call after Commit.
	Abort()
}

// Read records the version of a key observed by a transaction. Version 0
// means the key did not exist.
type Read struct {
	Table   string `json:"table"`
	Key     string `json:"key"`
	Version uint64 `json:"version"`
}

// Write is one buffered mutation
type Write struct {
	Table  string `json:"table"`
	Key    string `json:"key"`
	Value  []byte `json:"value,omitempty"`
	Delete bool   `json:"delete,omitempty"`
}

// Commit is the validated unit a backend applies. It is a plain value so it
// can be shipped through a replicated log.
type Commit struct {
	TxID   string  `json:"tx_id"`
	Reads  []Read  `json:"reads,omitempty"`
	Writes []Write `json:"writes"`
}

// Entry is one stored key with its version
type Entry struct {
	Table   string `json:"table"`
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version"`
}

// Snapshot is a consistent read view of a backend
type Snapshot interface {
	Get(table, key string) (Entry, bool, error)
	Scan(table string, fn func(Entry) error) error
	Release()
}

// Backend is what transactions run against. Apply must check every read
// version and apply every write in a single atomic step.
type Backend interface {
	Snapshot() (Snapshot, error)
	Apply(c *Commit) error
}
