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
Package codec serializes PatientDB records to and from byte buffers.

Format rules, identical in storage and on the wire:

  - fixed-width integers in network byte order
  - floats as IEEE-754 bits of the same width
  - variable-length strings null-terminated
  - aggregates as plain concatenations of self-describing records,
    with no outer length prefix (the wire layer announces the total
    byte length separately)

Decoding is cursor-based with a bounds check on every read: a
truncated or malformed buffer yields a tagged corrupt-record error
and never reads past the supplied buffer. Encoding never fails except
when a legacy text encoding cannot represent a string.

Text defaults to UTF-8. Latin-1 mode transcodes every string field
through ISO 8859-1 for legacy desktop clients.
*/
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"patientdb/internal/errors"
)

// TextEncoding selects how string fields are represented in encoded
// records.
type TextEncoding int

const (
	// EncodingUTF8 passes Go strings through unchanged.
	EncodingUTF8 TextEncoding = iota

	// EncodingLatin1 transcodes strings to and from ISO 8859-1.
	EncodingLatin1
)

// Name returns the encoding name.
func (e TextEncoding) Name() string {
	if e == EncodingLatin1 {
		return "LATIN1"
	}
	return "UTF8"
}

// encodeText converts a Go string to its encoded bytes.
func encodeText(enc TextEncoding, s string) ([]byte, error) {
	switch enc {
	case EncodingLatin1:
		for _, r := range s {
			if r > 255 {
				return nil, errors.CorruptRecord(errors.CodeBadTextEncoding,
					fmt.Sprintf("character U+%04X is not representable in Latin-1", r))
			}
		}
		return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	default:
		if !utf8.ValidString(s) {
			return nil, errors.CorruptRecord(errors.CodeBadTextEncoding,
				"string contains invalid UTF-8 sequences")
		}
		return []byte(s), nil
	}
}

// decodeText converts encoded bytes back to a Go string.
func decodeText(enc TextEncoding, b []byte) (string, error) {
	switch enc {
	case EncodingLatin1:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		if err != nil {
			return "", errors.CorruptRecord(errors.CodeBadTextEncoding, err.Error())
		}
		return string(out), nil
	default:
		if !utf8.Valid(b) {
			return "", errors.CorruptRecord(errors.CodeBadTextEncoding,
				"buffer contains invalid UTF-8 sequences")
		}
		return string(b), nil
	}
}

// Writer appends encoded fields to a growing buffer.
type Writer struct {
	buf []byte
	enc TextEncoding
}

// NewWriter creates a Writer using the given text encoding.
func NewWriter(enc TextEncoding) *Writer {
	return &Writer{enc: enc}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// U8 appends one byte.
func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

// U32 appends a 32-bit integer in network byte order.
func (w *Writer) U32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// U64 appends a 64-bit integer in network byte order.
func (w *Writer) U64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// I64 appends a signed 64-bit integer in network byte order.
func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

// F64 appends a float as its IEEE-754 bits.
func (w *Writer) F64(v float64) {
	w.U64(math.Float64bits(v))
}

// Bool appends a flag byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

// CStr appends a null-terminated string in the writer's text
// encoding.
func (w *Writer) CStr(s string) error {
	b, err := encodeText(w.enc, s)
	if err != nil {
		return err
	}
	w.buf = append(w.buf, b...)
	w.buf = append(w.buf, 0)
	return nil
}

// Raw appends bytes verbatim.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reader walks an encoded buffer with a cursor, bounds-checking every
// read.
type Reader struct {
	buf []byte
	off int
	enc TextEncoding
}

// NewReader creates a Reader over buf using the given text encoding.
func NewReader(buf []byte, enc TextEncoding) *Reader {
	return &Reader{buf: buf, enc: enc}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Offset returns the cursor position.
func (r *Reader) Offset() int {
	return r.off
}

// need checks that n more bytes are available.
func (r *Reader) need(n int, field string) error {
	if r.Remaining() < n {
		return errors.CorruptRecord(errors.CodeTruncatedField,
			fmt.Sprintf("%s needs %d bytes, %d remain at offset %d", field, n, r.Remaining(), r.off))
	}
	return nil
}

// U8 reads one byte.
func (r *Reader) U8(field string) (uint8, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

// U32 reads a 32-bit integer in network byte order.
func (r *Reader) U32(field string) (uint32, error) {
	if err := r.need(4, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// U64 reads a 64-bit integer in network byte order.
func (r *Reader) U64(field string) (uint64, error) {
	if err := r.need(8, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// I64 reads a signed 64-bit integer.
func (r *Reader) I64(field string) (int64, error) {
	v, err := r.U64(field)
	return int64(v), err
}

// F64 reads an IEEE-754 float.
func (r *Reader) F64(field string) (float64, error) {
	v, err := r.U64(field)
	return math.Float64frombits(v), err
}

// Bool reads a flag byte.
func (r *Reader) Bool(field string) (bool, error) {
	v, err := r.U8(field)
	return v != 0, err
}

// CStr reads a null-terminated string.
func (r *Reader) CStr(field string) (string, error) {
	end := r.off
	for end < len(r.buf) && r.buf[end] != 0 {
		end++
	}
	if end == len(r.buf) {
		return "", errors.CorruptRecord(errors.CodeUnterminatedString,
			fmt.Sprintf("%s has no terminator before end of buffer", field))
	}
	s, err := decodeText(r.enc, r.buf[r.off:end])
	if err != nil {
		return "", err
	}
	r.off = end + 1
	return s, nil
}

// Take reads exactly n raw bytes. The returned slice is a copy.
func (r *Reader) Take(n int, field string) ([]byte, error) {
	if n < 0 {
		return nil, errors.CorruptRecord(errors.CodePayloadOverrun,
			fmt.Sprintf("%s declares negative length %d", field, n))
	}
	if r.Remaining() < n {
		return nil, errors.CorruptRecord(errors.CodePayloadOverrun,
			fmt.Sprintf("%s declares %d bytes, %d remain", field, n, r.Remaining()))
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}
