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
Package compression provides transparent record compression for the
write-ahead log.

A wrapped record carries a one-byte algorithm tag so small or
incompressible records can be stored raw. Image and volume score
values dominate WAL volume in practice and compress well; metadata
records stay below the size threshold and skip the gzip pass.

Compression happens before at-rest encryption: encrypted bytes do not
compress.
*/
package compression

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Algorithm tags stored in the leading record byte.
type Algorithm byte

const (
	AlgorithmNone Algorithm = 0
	AlgorithmGzip Algorithm = 1
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGzip:
		return "gzip"
	}
	return "unknown"
}

// DefaultMinSize is the smallest record worth a gzip pass. Below it
// the header overhead tends to outweigh the savings.
const DefaultMinSize = 256

// ErrInvalidRecord is returned when a wrapped record is malformed.
var ErrInvalidRecord = errors.New("invalid compressed record")

// Config holds compression settings.
type Config struct {
	// MinSize is the minimum record size to attempt compression.
	// Zero means DefaultMinSize.
	MinSize int

	// Level is the gzip level. Zero means gzip.DefaultCompression.
	Level int
}

// Compressor wraps and unwraps records. Safe for concurrent use.
type Compressor struct {
	config     Config
	gzipPool   sync.Pool
	bufferPool sync.Pool
}

// NewCompressor creates a compressor.
func NewCompressor(config Config) *Compressor {
	if config.MinSize <= 0 {
		config.MinSize = DefaultMinSize
	}
	level := config.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	config.Level = level
	return &Compressor{
		config: config,
		gzipPool: sync.Pool{
			New: func() interface{} {
				w, _ := gzip.NewWriterLevel(nil, level)
				return w
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Wrap returns data prefixed with an algorithm tag, gzip-compressed
// when the record is large enough and compression actually shrinks it.
func (c *Compressor) Wrap(data []byte) ([]byte, error) {
	if len(data) < c.config.MinSize {
		return c.raw(data), nil
	}

	compressed, err := c.compress(data)
	if err != nil {
		return nil, err
	}
	if len(compressed) >= len(data) {
		return c.raw(data), nil
	}

	out := make([]byte, 1+len(compressed))
	out[0] = byte(AlgorithmGzip)
	copy(out[1:], compressed)
	return out, nil
}

// Unwrap reverses Wrap.
func (c *Compressor) Unwrap(record []byte) ([]byte, error) {
	if len(record) < 1 {
		return nil, ErrInvalidRecord
	}
	switch Algorithm(record[0]) {
	case AlgorithmNone:
		return record[1:], nil
	case AlgorithmGzip:
		return c.decompress(record[1:])
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrInvalidRecord, record[0])
	}
}

func (c *Compressor) raw(data []byte) []byte {
	out := make([]byte, 1+len(data))
	out[0] = byte(AlgorithmNone)
	copy(out[1:], data)
	return out
}

func (c *Compressor) compress(data []byte) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	w := c.gzipPool.Get().(*gzip.Writer)
	w.Reset(buf)
	defer c.gzipPool.Put(w)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func (c *Compressor) decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	defer r.Close()

	return io.ReadAll(r)
}
