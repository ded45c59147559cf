/*
Package storage provides the transactional key-value substrate the ledger
runs on.

Every ledger operation executes inside one optimistic transaction. A
transaction reads from a consistent snapshot, buffers its writes, and on
Commit hands a Commit value to the backend, which re-checks the version of
every key the transaction read and applies all writes in one atomic step. If
any of those keys changed in the meantime, nothing is written and Commit
returns ErrConflict.

# Architecture

	┌──────────────────── TRANSACTION SUBSTRATE ────────────────────┐
	│                                                                 │
	│  ┌──────────────────────────────────────────┐                  │
	│  │                   Tx                       │                  │
	│  │  - Get / PutIfAbsent / Replace / Remove    │                  │
	│  │  - Scan (includes pending writes)          │                  │
	│  │  - read versions recorded per key          │                  │
	│  └──────────────────┬───────────────────────┘                  │
	│                     │ Commit{TxID, Reads, Writes}               │
	│  ┌──────────────────▼───────────────────────┐                  │
	│  │                 Backend                    │                  │
	│  │  - Snapshot(): consistent read view        │                  │
	│  │  - Apply(): validate versions + write      │                  │
	│  └───────┬──────────────────┬───────────────┘                  │
	│          │                  │                                    │
	│  ┌───────▼───────┐  ┌───────▼────────┐  ┌────────────────────┐  │
	│  │  MemoryStore  │  │   BoltStore    │  │  manager.Manager   │  │
	│  │  go-memdb     │  │   bbolt file   │  │  raft log → bolt   │  │
	│  └───────────────┘  └────────────────┘  └────────────────────┘  │
	└─────────────────────────────────────────────────────────────────┘

# Core Components

Tx (txn.go):
  - Shared by every backend, built with NewTx(backend)
  - Opens its snapshot lazily on the first read
  - Records the version of every key it reads, including missing keys
  - Buffers writes in order; later writes to a key replace earlier ones
  - Reads its own pending writes (a removed key reads as missing)

Backend:
  - Snapshot returns a consistent read view released with Release
  - Apply validates a Commit and writes it in one atomic step
  - Implemented by MemoryStore, BoltStore and manager.Manager

Commit:
  - Plain JSON value: TxID, Reads (table, key, version), Writes
  - Reads are sorted so equal commits encode to equal bytes
  - Replicated as-is through the raft log by the manager package

MemoryStore:
  - One memdb table of entries with a unique (table, key) index
  - Per-table index used by Scan
  - Revision kept in an atomic counter, bumped by Apply
  - Used by tests and by embedders that need no persistence

BoltStore:
  - One bbolt file, <dataDir>/ledger.db
  - One bucket per table, created on first write
  - _meta bucket holding the revision
  - Dump and Restore export and reload every entry with the revision

# Operations

Get:
  - Returns the transaction-local value
  - Records the version read from the snapshot the first time a key is seen

PutIfAbsent:
  - Writes only when the key is missing in the transaction's view
  - Returns the existing value otherwise; nothing is buffered
  - Two transactions inserting the same key both read version 0, so the
    second commit conflicts

Replace / Remove:
  - Compare-and-swap on the transaction's view of the key
  - false when the key is missing or holds other bytes
  - The version read is validated again on Commit

Scan:
  - Visits every key of a table in key order, then the table's new pending
    keys in key order
  - Does not record versions: a key created by another transaction after
    the snapshot is neither seen nor conflicted on. Operations that must
    notice concurrent changes read the keys they depend on with Get.

Commit:
  - A transaction without writes commits trivially
  - Releases the snapshot, then calls Backend.Apply
  - Returns ErrConflict, ErrReadOnly (wrapped) or a backend error
  - The transaction is finished whatever the outcome; Abort after Commit is
    a no-op

# Versions

Each backend keeps a revision counter incremented by every applied commit.
A written key takes the new revision as its version; a missing key has
version 0. Because a deleted and re-created key always gets a fresh version,
a transaction can never mistake a recreated key for the one it read.

BoltStore layout:

	_meta/revision     8-byte big-endian revision
	<table>/<key>      8-byte big-endian version + payload

# Compare-and-swap

Replace and Remove compare the expected bytes against the transaction's own
view of the key. Callers therefore must produce canonical bytes for equal
values; the resource serializer does.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	tx := store.Begin()
	defer tx.Abort()

	if _, exists, err := tx.PutIfAbsent("discrete.children", "/", empty); err != nil {
		return err
	} else if exists {
		return nil
	}
	if err := tx.Commit(); errors.Is(err, storage.ErrConflict) {
		// someone else won, re-run the whole request
	}

# Integration Points

This package integrates with:

  - pkg/ledger: every ledger operation is one Tx; the four ledger tables
    (discrete.children, discrete.consumers, continuous.children,
    continuous.consumers) are plain tables here
  - pkg/manager: Manager is a Backend whose Apply goes through raft, and
    LedgerFSM applies replicated commits to a BoltStore
  - cmd/netledger: dump opens a stopped node's ledger.db with
    OpenBoltStore and exports it with Dump

# Design Patterns

Read, then conditional write:

	raw, ok, err := tx.Get(table, key)
	// decode, compute the next value
	if ok {
		replaced, err := tx.Replace(table, key, raw, next)
		// !replaced: the view changed under us, give up
	} else {
		_, exists, err := tx.PutIfAbsent(table, key, next)
	}

Lose, then re-run:

	err := tx.Commit()
	if errors.Is(err, storage.ErrConflict) {
		// nothing was written; re-read and decide again
	}

Read-only views:

	tx := store.Begin()
	defer tx.Abort()
	// Get / Scan only, never committed

# Performance Characteristics

Reads:
  - MemoryStore: radix tree lookup, no locks
  - BoltStore: B+tree lookup in the mmap, no locks
  - One snapshot per transaction, opened on first read

Commits:
  - MemoryStore: one memdb write transaction, serialized
  - BoltStore: one bolt update with fsync, serialized
  - Validation cost grows with the number of keys read

Scan:
  - MemoryStore walks the table index
  - BoltStore walks the table bucket with a cursor

# Troubleshooting

Many ErrConflict results:
  - Several callers contend for the same parent container or quantity
  - Expected under load; the ledger reports them as refusals
  - Callers re-issue requests, possibly with other resources

Commit waiting on a bolt remap:
  - A long-lived read transaction pins the current mapping
  - Abort read-only transactions as soon as the reads are done

Database locked on open:
  - Another process holds ledger.db (Timeout is one second)
  - Stop the node before running netledger dump

# Bolt and open transactions

A transaction holds a bolt read transaction from its first read until it
commits or aborts. bbolt cannot grow its memory map while read transactions
are open, so BoltStore maps 64MB up front and transactions release their
snapshot before their commit is applied.
*/
package storage
