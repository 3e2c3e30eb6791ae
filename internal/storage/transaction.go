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

package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"patientdb/internal/errors"
)

// TxnState tracks the lifecycle of a transaction.
type TxnState int

const (
	// TxnActive accepts reads and buffered writes.
	TxnActive TxnState = iota

	// TxnCommitted means Commit succeeded; the Txn is finished.
	TxnCommitted

	// TxnRolledBack means Rollback was called; the Txn is finished.
	TxnRolledBack
)

// ErrTxnFinished is returned when a committed or rolled-back
// transaction is used again.
var ErrTxnFinished = fmt.Errorf("transaction already finished")

// Txn is a buffered transaction. Reads see the transaction's own
// uncommitted writes layered over the store's committed state; nothing
// reaches the store (or the WAL) until Commit. A Txn must stay on one
// goroutine.
type Txn struct {
	store *Store
	state TxnState

	// writes buffers Put values, keyed by key. A key present in
	// deletes is absent here and vice versa.
	writes map[string][]byte

	// deletes holds keys deleted inside this transaction.
	deletes map[string]struct{}

	// order remembers the sequence of first writes so the committed
	// batch replays deterministically.
	order []string

	// reserved is set once ReserveIDs has advanced the store cursor;
	// Commit then persists the cursor position with the batch.
	reserved bool
}

func newTxn(s *Store) *Txn {
	return &Txn{
		store:   s,
		state:   TxnActive,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (t *Txn) State() TxnState {
	return t.state
}

// Get reads a key, observing this transaction's own writes first.
func (t *Txn) Get(key string) ([]byte, error) {
	if t.state != TxnActive {
		return nil, ErrTxnFinished
	}
	if _, dead := t.deletes[key]; dead {
		return nil, ErrNotFound
	}
	if val, ok := t.writes[key]; ok {
		return val, nil
	}
	return t.store.Get(key)
}

// Put buffers a write. The value is copied, so callers may reuse the
// slice.
func (t *Txn) Put(key string, value []byte) error {
	if t.state != TxnActive {
		return ErrTxnFinished
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	t.touch(key)
	delete(t.deletes, key)
	t.writes[key] = cp
	return nil
}

// Delete buffers a deletion. Deleting an absent key is not an error.
func (t *Txn) Delete(key string) error {
	if t.state != TxnActive {
		return ErrTxnFinished
	}
	t.touch(key)
	delete(t.writes, key)
	t.deletes[key] = struct{}{}
	return nil
}

// Scan returns all pairs whose key starts with prefix, merging the
// transaction's buffered writes over the committed state.
func (t *Txn) Scan(prefix string) (map[string][]byte, error) {
	if t.state != TxnActive {
		return nil, ErrTxnFinished
	}
	result, err := t.store.Scan(prefix)
	if err != nil {
		return nil, err
	}
	for key := range t.deletes {
		if strings.HasPrefix(key, prefix) {
			delete(result, key)
		}
	}
	for key, val := range t.writes {
		if strings.HasPrefix(key, prefix) {
			result[key] = val
		}
	}
	return result, nil
}

// ScanKeys returns the sorted keys matching prefix.
func (t *Txn) ScanKeys(prefix string) ([]string, error) {
	pairs, err := t.Scan(prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ReserveIDs allocates n consecutive record ids and returns the first.
// The reservation advances a store-level cursor shared by all
// transactions, so concurrent reservations never hand out overlapping
// ranges. Commit persists the cursor position with the batch. A
// rolled-back reservation leaves a gap in the id space; the persisted
// counter is always at or past every committed id, so a gap is never
// reissued. Reserving 3 ids from a counter at 100 yields 100..102 and
// leaves the counter at 103.
func (t *Txn) ReserveIDs(n uint64) (uint64, error) {
	if t.state != TxnActive {
		return 0, ErrTxnFinished
	}
	if n == 0 {
		return 0, fmt.Errorf("cannot reserve zero ids")
	}
	first := t.store.reserveIDs(n)
	t.reserved = true
	return first, nil
}

// GetLastUpdated returns the store's last-update timestamp, or the
// zero time when no write has ever advanced it.
func (t *Txn) GetLastUpdated() (time.Time, error) {
	raw, err := t.Get(KeyLastUpdated)
	if err == ErrNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	v, ok := decodeU64(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("corrupt last-update timestamp: %d bytes", len(raw))
	}
	return time.Unix(int64(v), 0).UTC(), nil
}

// SetLastUpdated advances the last-update timestamp. The timestamp is
// monotone: a value older than the stored one is rejected so readers
// can trust "updated since" comparisons across reconnects.
func (t *Txn) SetLastUpdated(ts time.Time) error {
	prev, err := t.GetLastUpdated()
	if err != nil {
		return err
	}
	if ts.Before(prev) {
		return errors.ClockSkew(prev.Unix(), ts.Unix())
	}
	return t.Put(KeyLastUpdated, encodeU64(uint64(ts.Unix())))
}

// Commit writes all buffered operations as one atomic WAL batch and
// applies them to the store. A transaction with no writes commits
// without touching the WAL.
func (t *Txn) Commit() error {
	if t.state != TxnActive {
		return ErrTxnFinished
	}

	ops := make([]Op, 0, len(t.order)+1)
	for _, key := range t.order {
		if _, dead := t.deletes[key]; dead {
			ops = append(ops, Op{Kind: OpDelete, Key: key})
		} else if val, ok := t.writes[key]; ok {
			ops = append(ops, Op{Kind: OpPut, Key: key, Value: val})
		}
	}
	if t.reserved {
		// Persist the cursor as it stands now, not as it stood at
		// reservation time, so the stored counter never regresses
		// below a range handed to another transaction. An explicit
		// counter write in the same transaction wins.
		if _, manual := t.writes[KeyNextID]; !manual {
			ops = append(ops, Op{Kind: OpPut, Key: KeyNextID, Value: encodeU64(t.store.idCursor())})
		}
	}

	if len(ops) > 0 {
		if err := t.store.commit(ops); err != nil {
			return err
		}
	}
	t.state = TxnCommitted
	return nil
}

// Rollback discards all buffered operations.
func (t *Txn) Rollback() error {
	if t.state != TxnActive {
		return ErrTxnFinished
	}
	t.state = TxnRolledBack
	t.writes = nil
	t.deletes = nil
	t.order = nil
	return nil
}

// touch records the first time a key is written in this transaction.
func (t *Txn) touch(key string) {
	if _, w := t.writes[key]; w {
		return
	}
	if _, d := t.deletes[key]; d {
		return
	}
	t.order = append(t.order, key)
}
