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

package secure

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameType tags one raw frame on the TCP stream.
type frameType uint8

const (
	// Handshake frames, in exchange order.
	frameClientHello     frameType = 0x01
	frameServerChallenge frameType = 0x02
	frameClientProof     frameType = 0x03
	frameServerProof     frameType = 0x04
	frameReject          frameType = 0x05

	// frameData carries one sealed record after the handshake.
	frameData frameType = 0x10
)

// frameHeaderSize is one type byte plus a 4-byte length.
const frameHeaderSize = 5

// maxFrameBody bounds a frame body. Handshake credentials for a
// 2048-bit group and sealed 4 KiB records both fit with room to
// spare; anything larger is a broken or hostile peer.
const maxFrameBody = 64 * 1024

// writeFrame sends one frame: type, big-endian body length, body.
func writeFrame(w io.Writer, t frameType, body []byte) error {
	if len(body) > maxFrameBody {
		return fmt.Errorf("frame body %d exceeds limit %d", len(body), maxFrameBody)
	}
	var hdr [frameHeaderSize]byte
	hdr[0] = byte(t)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame receives one frame.
func readFrame(r io.Reader) (frameType, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxFrameBody {
		return 0, nil, fmt.Errorf("frame body %d exceeds limit %d", n, maxFrameBody)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return frameType(hdr[0]), body, nil
}
