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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"patientdb/internal/compression"
)

// Op kinds recorded in WAL batches.
const (
	// OpPut records a key-value write.
	OpPut byte = 1

	// OpDelete records a key removal.
	OpDelete byte = 2
)

// WAL file header constants.
const (
	// walMagic identifies PatientDB WAL files: "PDBW" in ASCII.
	walMagic uint32 = 0x50444257

	// walVersion is the current WAL format version. Version 2 added
	// the per-record compression tag.
	walVersion byte = 2

	// walHeaderSize is Magic (4) + Version (1) + Flags (1) + Reserved (2).
	walHeaderSize = 8

	// walFlagEncrypted marks a log written with at-rest encryption.
	walFlagEncrypted byte = 0x01
)

// ErrInvalidWALFile is returned when the WAL header is malformed.
var ErrInvalidWALFile = errors.New("invalid WAL file format")

// ErrEncryptionMismatch is returned when the log's encryption flag does
// not match the supplied configuration.
var ErrEncryptionMismatch = errors.New("encryption configuration mismatch")

// Op is a single operation inside a WAL batch.
type Op struct {
	Kind  byte // OpPut or OpDelete
	Key   string
	Value []byte
}

// WAL is the append-only write-ahead log providing durability.
//
// Record format (after the file header):
//
//	┌──────────────┬──────────────────────────────────────────────┐
//	│ Length (4B)  │ Batch body (encrypted when enabled)          │
//	└──────────────┴──────────────────────────────────────────────┘
//
// Before encryption the body passes through compression.Wrap, which
// prefixes an algorithm tag and gzips large records. The wrapped
// payload is:
//
//	count u32, then per op: kind u8, keyLen u32, key, valLen u32, value
//
// One committed transaction is exactly one record, so replay applies
// transactions all-or-nothing. A truncated record at the tail of the
// file (torn write) ends replay; everything before it is intact.
//
// Thread Safety: all methods are safe for concurrent use.
type WAL struct {
	file       *os.File
	mu         sync.Mutex
	encryptor  *Encryptor
	compressor *compression.Compressor
}

// OpenWAL opens or creates the WAL at path, validating the header
// against the encryption configuration.
func OpenWAL(path string, enc EncryptionConfig) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %q: %w", dir, err)
		}
	}

	encryptor, err := NewEncryptor(enc)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL %q: %w", path, err)
	}

	w := &WAL{
		file:       file,
		encryptor:  encryptor,
		compressor: compression.NewCompressor(compression.Config{}),
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		return w, nil
	}

	if err := w.checkHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// writeHeader writes the file header to a fresh log.
func (w *WAL) writeHeader() error {
	var hdr [walHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], walMagic)
	hdr[4] = walVersion
	if w.encryptor != nil {
		hdr[5] = walFlagEncrypted
	}
	if _, err := w.file.Write(hdr[:]); err != nil {
		return err
	}
	return w.file.Sync()
}

// checkHeader validates an existing log's header.
func (w *WAL) checkHeader() error {
	var hdr [walHeaderSize]byte
	if _, err := w.file.ReadAt(hdr[:], 0); err != nil {
		return ErrInvalidWALFile
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != walMagic {
		return ErrInvalidWALFile
	}
	if hdr[4] != walVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidWALFile, hdr[4])
	}
	logEncrypted := hdr[5]&walFlagEncrypted != 0
	if logEncrypted != (w.encryptor != nil) {
		return ErrEncryptionMismatch
	}
	return nil
}

// IsEncrypted reports whether the log is encrypted at rest.
func (w *WAL) IsEncrypted() bool {
	return w.encryptor != nil
}

// WriteBatch appends one batch record and syncs it to disk.
// The batch becomes durable as a unit: replay either sees all of it
// or none of it.
func (w *WAL) WriteBatch(ops []Op) error {
	body, err := w.compressor.Wrap(encodeBatch(ops))
	if err != nil {
		return err
	}

	if w.encryptor != nil {
		sealed, err := w.encryptor.Seal(body)
		if err != nil {
			return err
		}
		body = sealed
	}

	record := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(record[0:4], uint32(len(body)))
	copy(record[4:], body)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("WAL is closed")
	}
	if _, err := w.file.Write(record); err != nil {
		return err
	}
	return w.file.Sync()
}

// Replay invokes apply for every intact batch in log order.
// A truncated record at the tail ends the replay without error;
// corruption before the tail is reported.
func (w *WAL) Replay(apply func(ops []Op)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(walHeaderSize, io.SeekStart); err != nil {
		return err
	}

	var lenBuf [4]byte
	for {
		_, err := io.ReadFull(w.file, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			// Torn length prefix at the tail.
			break
		}
		if err != nil {
			return err
		}

		bodyLen := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(w.file, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// Torn record at the tail.
				break
			}
			return err
		}

		if w.encryptor != nil {
			body, err = w.encryptor.Open(body)
			if err != nil {
				return fmt.Errorf("failed to decrypt WAL record: %w", err)
			}
		}

		body, err = w.compressor.Unwrap(body)
		if err != nil {
			return fmt.Errorf("failed to unwrap WAL record: %w", err)
		}

		ops, err := decodeBatch(body)
		if err != nil {
			return err
		}
		apply(ops)
	}

	// Position the write cursor at the end of the last intact record.
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// Close closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// encodeBatch renders ops as a batch body.
func encodeBatch(ops []Op) []byte {
	size := 4
	for _, op := range ops {
		size += 1 + 4 + len(op.Key) + 4 + len(op.Value)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(ops)))
	off := 4
	for _, op := range ops {
		buf[off] = op.Kind
		off++
		binary.BigEndian.PutUint32(buf[off:], uint32(len(op.Key)))
		off += 4
		copy(buf[off:], op.Key)
		off += len(op.Key)
		binary.BigEndian.PutUint32(buf[off:], uint32(len(op.Value)))
		off += 4
		copy(buf[off:], op.Value)
		off += len(op.Value)
	}
	return buf
}

// decodeBatch parses a batch body back into ops.
func decodeBatch(body []byte) ([]Op, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: short batch body", ErrInvalidWALFile)
	}
	count := binary.BigEndian.Uint32(body[0:4])
	off := 4
	ops := make([]Op, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+5 > len(body) {
			return nil, fmt.Errorf("%w: truncated op header", ErrInvalidWALFile)
		}
		kind := body[off]
		off++
		keyLen := int(binary.BigEndian.Uint32(body[off:]))
		off += 4
		if off+keyLen+4 > len(body) {
			return nil, fmt.Errorf("%w: truncated key", ErrInvalidWALFile)
		}
		key := string(body[off : off+keyLen])
		off += keyLen
		valLen := int(binary.BigEndian.Uint32(body[off:]))
		off += 4
		if off+valLen > len(body) {
			return nil, fmt.Errorf("%w: truncated value", ErrInvalidWALFile)
		}
		var val []byte
		if valLen > 0 {
			val = make([]byte, valLen)
			copy(val, body[off:off+valLen])
		}
		off += valLen
		ops = append(ops, Op{Kind: kind, Key: key, Value: val})
	}
	return ops, nil
}
