/*
 * Copyright (c) 2026 PatientDB Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package storage implements the embedded transactional key-value store
backing PatientDB.

Store Overview:
===============

The Store keeps all records in an in-memory map for fast reads, with a
Write-Ahead Log (WAL) for durability. Every mutation goes through a
Txn: writes are buffered, then committed as one atomic WAL batch. A
batch is a single WAL record, so a torn write at the tail of the log
never resurrects half a transaction on replay.

	┌───────────────────────────────────────────────┐
	│                    Store                      │
	│  ┌─────────────────────────────────────────┐  │
	│  │        In-memory map[string][]byte      │  │
	│  │        protected by sync.RWMutex        │  │
	│  └─────────────────────────────────────────┘  │
	│                      │                        │
	│  ┌─────────────────────────────────────────┐  │
	│  │   WAL (append-only, batch-framed,       │  │
	│  │   optionally AES-256-GCM encrypted)     │  │
	│  └─────────────────────────────────────────┘  │
	└───────────────────────────────────────────────┘

Write Path:
===========

 1. Buffer operations in a Txn
 2. Commit: append one WAL batch record (sync to disk)
 3. Apply all buffered operations to the in-memory map under one lock

If step 2 fails, nothing reaches the map: the transaction is atomic.

System Keys:
============

The store owns two system keys used by every writer:

	sys:nextid      8-byte big-endian counter minting all record ids
	sys:lastupdate  8-byte big-endian unix timestamp of the last write

The timestamp is only ever advanced inside a transaction, so no reader
observes a timestamp newer than the data it accompanies. The id counter
is backed by a store-level cursor: reservations advance the cursor
immediately, so no two transactions receive overlapping id ranges even
when their commits interleave, and every commit that reserved ids
persists the cursor position.

Thread Safety:
==============

All Store methods are safe for concurrent use. A Txn must stay on one
goroutine. Commits serialize on the store's write lock.
*/
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("key not found")

// System key names.
const (
	// KeyNextID holds the next unissued record id.
	KeyNextID = "sys:nextid"

	// KeyLastUpdated holds the unix timestamp of the most recent write
	// that advanced the system clock.
	KeyLastUpdated = "sys:lastupdate"
)

// WALFileName is the name of the WAL file inside the data directory.
const WALFileName = "patientdb.wal"

// FirstID is the first id ever minted by a fresh store.
const FirstID uint64 = 1

// Store is the embedded transactional key-value store.
type Store struct {
	// data is the in-memory map holding all key-value pairs.
	data map[string][]byte

	// mu protects data. Commits take the write lock for the whole
	// apply phase, so readers never observe a partial batch.
	mu sync.RWMutex

	// wal provides durability.
	wal *WAL

	// idMu serializes id reservation. nextID is the store-level id
	// cursor; it only ever moves forward.
	idMu   sync.Mutex
	nextID uint64
}

// Open opens (or creates) a store in the given directory.
func Open(dir string) (*Store, error) {
	return OpenWithEncryption(dir, EncryptionConfig{})
}

// OpenWithEncryption opens a store whose WAL is encrypted at rest.
// Replay rebuilds the in-memory map from the log.
func OpenWithEncryption(dir string, enc EncryptionConfig) (*Store, error) {
	wal, err := OpenWAL(filepath.Join(dir, WALFileName), enc)
	if err != nil {
		return nil, err
	}

	s := &Store{
		data: make(map[string][]byte),
		wal:  wal,
	}

	err = wal.Replay(func(ops []Op) {
		for _, op := range ops {
			if op.Kind == OpPut {
				s.data[op.Key] = op.Value
			} else {
				delete(s.data, op.Key)
			}
		}
	})
	if err != nil {
		wal.Close()
		return nil, err
	}

	s.nextID = FirstID
	if raw, ok := s.data[KeyNextID]; ok {
		v, ok := decodeU64(raw)
		if !ok {
			wal.Close()
			return nil, fmt.Errorf("corrupt id counter: %d bytes", len(raw))
		}
		s.nextID = v
	}

	return s, nil
}

// Close closes the underlying WAL. No other methods may be called after.
func (s *Store) Close() error {
	return s.wal.Close()
}

// IsEncrypted reports whether the WAL is encrypted at rest.
func (s *Store) IsEncrypted() bool {
	return s.wal.IsEncrypted()
}

// Get retrieves a committed value by key.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

// Scan returns all committed pairs whose key starts with prefix.
func (s *Store) Scan(prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]byte)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			result[k] = v
		}
	}
	return result, nil
}

// Begin starts a new transaction against the store.
func (s *Store) Begin() *Txn {
	return newTxn(s)
}

// commit applies a transaction's buffered operations: one WAL batch
// record, then the in-memory map, all under the write lock.
func (s *Store) commit(ops []Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.WriteBatch(ops); err != nil {
		return err
	}
	for _, op := range ops {
		if op.Kind == OpPut {
			s.data[op.Key] = op.Value
			if op.Key == KeyNextID {
				if v, ok := decodeU64(op.Value); ok {
					s.syncIDCursor(v)
				}
			}
		} else {
			delete(s.data, op.Key)
		}
	}
	return nil
}

// reserveIDs advances the store-level id cursor by n and returns the
// first id of the range. Reservations serialize on idMu, so ranges
// handed to concurrent transactions never overlap.
func (s *Store) reserveIDs(n uint64) uint64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	first := s.nextID
	s.nextID += n
	return first
}

// idCursor returns the current cursor position.
func (s *Store) idCursor() uint64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.nextID
}

// syncIDCursor raises the cursor to at least v. Committed puts of the
// counter key (manual seeds) flow through here so the cursor never
// falls behind persisted state.
func (s *Store) syncIDCursor(v uint64) {
	s.idMu.Lock()
	if v > s.nextID {
		s.nextID = v
	}
	s.idMu.Unlock()
}

// encodeU64 renders a counter or timestamp as its stored form.
func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// decodeU64 parses a stored counter or timestamp.
func decodeU64(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}
