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
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// setupStore creates a store in a temp directory and registers cleanup.
func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func mustCommit(t *testing.T, txn *Txn) {
	t.Helper()
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := setupStore(t)

	txn := s.Begin()
	if err := txn.Put("patient:00000000000000000007", []byte("alpha")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	mustCommit(t, txn)

	val, err := s.Get("patient:00000000000000000007")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "alpha" {
		t.Errorf("expected alpha, got %q", val)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, _ := setupStore(t)

	if _, err := s.Get("no:such:key"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTxnReadsOwnWrites(t *testing.T) {
	s, _ := setupStore(t)

	txn := s.Begin()
	txn.Put("k1", []byte("v1"))

	val, err := txn.Get("k1")
	if err != nil {
		t.Fatalf("Get inside txn failed: %v", err)
	}
	if string(val) != "v1" {
		t.Errorf("expected v1, got %q", val)
	}

	// Uncommitted writes must not be visible outside the transaction.
	if _, err := s.Get("k1"); err != ErrNotFound {
		t.Errorf("uncommitted write visible in store: %v", err)
	}
	mustCommit(t, txn)
}

func TestTxnDeleteShadowsCommitted(t *testing.T) {
	s, _ := setupStore(t)

	txn := s.Begin()
	txn.Put("k1", []byte("v1"))
	mustCommit(t, txn)

	txn = s.Begin()
	txn.Delete("k1")
	if _, err := txn.Get("k1"); err != ErrNotFound {
		t.Errorf("deleted key still readable in txn: %v", err)
	}
	mustCommit(t, txn)

	if _, err := s.Get("k1"); err != ErrNotFound {
		t.Errorf("deleted key survived commit: %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s, _ := setupStore(t)

	txn := s.Begin()
	txn.Put("k1", []byte("v1"))
	txn.Delete("k2")
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, err := s.Get("k1"); err != ErrNotFound {
		t.Errorf("rolled-back write reached the store")
	}
	if err := txn.Put("k3", nil); err != ErrTxnFinished {
		t.Errorf("expected ErrTxnFinished after rollback, got %v", err)
	}
}

func TestFinishedTxnRejected(t *testing.T) {
	s, _ := setupStore(t)

	txn := s.Begin()
	mustCommit(t, txn)

	if err := txn.Commit(); err != ErrTxnFinished {
		t.Errorf("double commit not rejected: %v", err)
	}
	if _, err := txn.Get("k"); err != ErrTxnFinished {
		t.Errorf("read after commit not rejected: %v", err)
	}
}

func TestScanMergesBufferedWrites(t *testing.T) {
	s, _ := setupStore(t)

	txn := s.Begin()
	txn.Put("value:00000000000000000001:00000000000000000010", []byte("a"))
	txn.Put("value:00000000000000000001:00000000000000000011", []byte("b"))
	txn.Put("session:00000000000000000001:00000000000000000002", []byte("s"))
	mustCommit(t, txn)

	txn = s.Begin()
	txn.Put("value:00000000000000000001:00000000000000000012", []byte("c"))
	txn.Delete("value:00000000000000000001:00000000000000000010")

	pairs, err := txn.Scan("value:00000000000000000001:")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if string(pairs["value:00000000000000000001:00000000000000000012"]) != "c" {
		t.Errorf("buffered write missing from scan")
	}
	if _, ok := pairs["value:00000000000000000001:00000000000000000010"]; ok {
		t.Errorf("buffered delete still present in scan")
	}
	txn.Rollback()
}

func TestReserveIDsSequential(t *testing.T) {
	s, _ := setupStore(t)

	// Seed the counter at 100.
	txn := s.Begin()
	txn.Put(KeyNextID, encodeU64(100))
	mustCommit(t, txn)

	txn = s.Begin()
	first, err := txn.ReserveIDs(3)
	if err != nil {
		t.Fatalf("ReserveIDs failed: %v", err)
	}
	if first != 100 {
		t.Errorf("expected first id 100, got %d", first)
	}
	mustCommit(t, txn)

	txn = s.Begin()
	first, err = txn.ReserveIDs(2)
	if err != nil {
		t.Fatalf("second ReserveIDs failed: %v", err)
	}
	if first != 103 {
		t.Errorf("expected first id 103, got %d", first)
	}
	mustCommit(t, txn)
}

func TestReserveIDsFreshStore(t *testing.T) {
	s, _ := setupStore(t)

	txn := s.Begin()
	first, err := txn.ReserveIDs(1)
	if err != nil {
		t.Fatalf("ReserveIDs failed: %v", err)
	}
	if first != FirstID {
		t.Errorf("expected first id %d, got %d", FirstID, first)
	}
	txn.Rollback()

	// A rolled-back reservation burns its ids: the next reservation
	// starts past the abandoned range, never inside it.
	txn = s.Begin()
	first, err = txn.ReserveIDs(1)
	if err != nil {
		t.Fatalf("ReserveIDs after rollback failed: %v", err)
	}
	if first <= FirstID {
		t.Errorf("reservation reused an abandoned id: got %d", first)
	}
	mustCommit(t, txn)
}

func TestReserveIDsInterleavedTransactions(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Two transactions reserve while both are still open. Their
	// ranges must not overlap regardless of commit order.
	t1 := s.Begin()
	t2 := s.Begin()

	f1, err := t1.ReserveIDs(3)
	if err != nil {
		t.Fatalf("t1 ReserveIDs failed: %v", err)
	}
	f2, err := t2.ReserveIDs(2)
	if err != nil {
		t.Fatalf("t2 ReserveIDs failed: %v", err)
	}

	if f1 == f2 {
		t.Fatalf("both transactions got first id %d", f1)
	}
	if f1 < f2 && f1+3 > f2 {
		t.Fatalf("ranges overlap: %d..%d and %d..%d", f1, f1+2, f2, f2+1)
	}
	if f2 < f1 && f2+2 > f1 {
		t.Fatalf("ranges overlap: %d..%d and %d..%d", f2, f2+1, f1, f1+2)
	}

	mustCommit(t, t2)
	mustCommit(t, t1)

	// The persisted counter sits past both ranges, even though the
	// later commit reserved first.
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	txn := s.Begin()
	next, err := txn.ReserveIDs(1)
	if err != nil {
		t.Fatalf("ReserveIDs after reopen failed: %v", err)
	}
	if next < FirstID+5 {
		t.Errorf("persisted counter regressed: next id %d reissues a committed id", next)
	}
	mustCommit(t, txn)
}

func TestReserveIDsConcurrent(t *testing.T) {
	s, _ := setupStore(t)

	const workers = 8
	const perWorker = 5

	firsts := make([]uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn := s.Begin()
			first, err := txn.ReserveIDs(perWorker)
			if err != nil {
				t.Errorf("ReserveIDs failed: %v", err)
				return
			}
			firsts[i] = first
			if err := txn.Commit(); err != nil {
				t.Errorf("Commit failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]int)
	for i, first := range firsts {
		for id := first; id < first+perWorker; id++ {
			if prev, dup := seen[id]; dup {
				t.Fatalf("id %d handed to both worker %d and worker %d", id, prev, i)
			}
			seen[id] = i
		}
	}
}

func TestLastUpdatedMonotone(t *testing.T) {
	s, _ := setupStore(t)

	now := time.Now().Truncate(time.Second)

	txn := s.Begin()
	if err := txn.SetLastUpdated(now); err != nil {
		t.Fatalf("SetLastUpdated failed: %v", err)
	}
	mustCommit(t, txn)

	txn = s.Begin()
	got, err := txn.GetLastUpdated()
	if err != nil {
		t.Fatalf("GetLastUpdated failed: %v", err)
	}
	if !got.Equal(now.UTC()) {
		t.Errorf("expected %v, got %v", now.UTC(), got)
	}

	if err := txn.SetLastUpdated(now.Add(-time.Hour)); err == nil {
		t.Errorf("backwards timestamp accepted")
	}
	txn.Rollback()
}

func TestReplayRebuildsState(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	txn := s.Begin()
	txn.Put("k1", []byte("v1"))
	txn.Put("k2", []byte("v2"))
	mustCommit(t, txn)

	txn = s.Begin()
	txn.Delete("k1")
	txn.Put("k3", []byte("v3"))
	mustCommit(t, txn)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Get("k1"); err != ErrNotFound {
		t.Errorf("deleted key resurrected by replay")
	}
	for key, want := range map[string]string{"k2": "v2", "k3": "v3"} {
		val, err := s.Get(key)
		if err != nil {
			t.Fatalf("Get %s after replay failed: %v", key, err)
		}
		if string(val) != want {
			t.Errorf("key %s: expected %q, got %q", key, want, val)
		}
	}
}

func TestReplayRestoresLargeValues(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Large and repetitive, the shape of an image score payload; this
	// record crosses the compression threshold.
	big := bytes.Repeat([]byte("scanline"), 4096)

	txn := s.Begin()
	txn.Put("value:00000000000000000042", big)
	txn.Put("value:00000000000000000043", []byte("tiny"))
	mustCommit(t, txn)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	val, err := s.Get("value:00000000000000000042")
	if err != nil {
		t.Fatalf("Get after replay failed: %v", err)
	}
	if !bytes.Equal(val, big) {
		t.Errorf("large value corrupted by replay: %d bytes, want %d", len(val), len(big))
	}
	if val, err = s.Get("value:00000000000000000043"); err != nil || string(val) != "tiny" {
		t.Errorf("small value after replay: %q, %v", val, err)
	}
}

func TestReplayToleratesTornTail(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	txn := s.Begin()
	txn.Put("k1", []byte("v1"))
	mustCommit(t, txn)
	s.Close()

	// Simulate a crash mid-write: append a length prefix promising
	// more bytes than the file holds.
	path := filepath.Join(dir, WALFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open WAL for corruption: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x00, 0x10, 0x00, 0xde, 0xad}); err != nil {
		t.Fatalf("append torn record: %v", err)
	}
	f.Close()

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen with torn tail failed: %v", err)
	}
	defer s.Close()

	val, err := s.Get("k1")
	if err != nil || string(val) != "v1" {
		t.Errorf("committed data lost after torn tail: %v %q", err, val)
	}
}

func TestCommitIsAtomicAcrossReplay(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	txn := s.Begin()
	for _, k := range []string{"a", "b", "c"} {
		txn.Put("batch:"+k, []byte(k))
	}
	mustCommit(t, txn)
	s.Close()

	// Truncate the WAL one byte short of the last batch record. The
	// whole batch must disappear together on replay.
	path := filepath.Join(dir, WALFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat WAL: %v", err)
	}
	if err := os.Truncate(path, info.Size()-1); err != nil {
		t.Fatalf("truncate WAL: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen after truncation failed: %v", err)
	}
	defer s.Close()

	pairs, err := s.Scan("batch:")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("partial batch survived replay: %d keys", len(pairs))
	}
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	enc := EncryptionConfig{Enabled: true, Passphrase: "correct horse battery staple"}

	s, err := OpenWithEncryption(dir, enc)
	if err != nil {
		t.Fatalf("OpenWithEncryption failed: %v", err)
	}
	if !s.IsEncrypted() {
		t.Errorf("store not marked encrypted")
	}
	txn := s.Begin()
	txn.Put("secret", []byte("patient data"))
	mustCommit(t, txn)
	s.Close()

	// Plaintext must not appear on disk.
	raw, err := os.ReadFile(filepath.Join(dir, WALFileName))
	if err != nil {
		t.Fatalf("read WAL file: %v", err)
	}
	if bytes.Contains(raw, []byte("patient data")) {
		t.Errorf("plaintext found in encrypted WAL")
	}

	s, err = OpenWithEncryption(dir, enc)
	if err != nil {
		t.Fatalf("encrypted reopen failed: %v", err)
	}
	defer s.Close()

	val, err := s.Get("secret")
	if err != nil || string(val) != "patient data" {
		t.Errorf("encrypted replay lost data: %v %q", err, val)
	}
}

func TestEncryptionFlagMismatch(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenWithEncryption(dir, EncryptionConfig{Enabled: true, Passphrase: "pw"})
	if err != nil {
		t.Fatalf("OpenWithEncryption failed: %v", err)
	}
	s.Close()

	if _, err := Open(dir); err == nil {
		t.Errorf("plaintext open of encrypted store accepted")
	}
}
