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
Package secure provides the authenticated, encrypted record channel
both ends of the wire protocol speak over.

The handshake is SRP-6a: the client proves knowledge of the password,
the server proves possession of the stored verifier, neither the
password nor anything derived from it alone crosses the wire, and both
sides end up with the same session key. Authentication and key
agreement are one step, so there is no separate login message. The SRP
mathematics comes from github.com/opencoff/go-srp; this package owns
the message sequencing and error mapping around it.

Frame sequence on a fresh TCP connection:

	client                          server
	  client-hello (identity, A) ->
	                              <- server-challenge (salt, B)
	                                 or reject
	  client-proof (M)           ->
	                              <- server-proof or reject

After mutual proof every frame is a data frame carrying one
AES-256-GCM sealed record, keyed by the SHA-256 of the SRP session
key. A record holds at most MaxRecord plaintext bytes; the wire layer
above splits larger payloads.
*/
package secure

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/opencoff/go-srp"

	"patientdb/internal/errors"
)

// MaxRecord is the largest plaintext one sealed record may carry.
const MaxRecord = 4096

// SRPBits is the prime-field size for client-side SRP sessions. It
// must cover the field size verifiers were generated with.
const SRPBits = 2048

// ServerSessionFunc looks up an identity's verifier and begins the
// server side of an SRP exchange against the client's credentials.
// auth.Registry.ServerSession satisfies this.
type ServerSessionFunc func(identity, clientCreds string) (*srp.Server, error)

// Channel is an authenticated, encrypted record stream. Send and Recv
// each move exactly one record. A Channel is not safe for concurrent
// Sends or concurrent Recvs.
type Channel struct {
	conn     io.ReadWriteCloser
	gcm      cipher.AEAD
	identity string
}

// Identity returns the authenticated identity name the channel speaks
// for.
func (c *Channel) Identity() string {
	return c.identity
}

// Close closes the underlying transport.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// sealKey derives the record key from the SRP session key.
func sealKey(raw []byte) [32]byte {
	return sha256.Sum256(raw)
}

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	key := sealKey(rawKey)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ClientHandshake authenticates to a server over conn. On success the
// returned channel is ready for data records. The three failure modes
// stay distinct: unknown identity and key-exchange mismatch arrive as
// tagged rejects, anything transport-level is a handshake I/O error.
func ClientHandshake(conn io.ReadWriteCloser, identity, password string) (*Channel, error) {
	s, err := srp.New(SRPBits)
	if err != nil {
		return nil, errors.KeyExchangeFailed().WithCause(err)
	}
	client, err := s.NewClient([]byte(identity), []byte(password))
	if err != nil {
		return nil, errors.KeyExchangeFailed().WithCause(err)
	}

	// identity and credentials, null-separated.
	var hello bytes.Buffer
	hello.WriteString(identity)
	hello.WriteByte(0)
	hello.WriteString(client.Credentials())
	if err := writeFrame(conn, frameClientHello, hello.Bytes()); err != nil {
		return nil, errors.HandshakeIO(err)
	}

	t, body, err := readFrame(conn)
	if err != nil {
		return nil, errors.HandshakeIO(err)
	}
	if t == frameReject {
		return nil, errors.ParseWire(string(body))
	}
	if t != frameServerChallenge {
		return nil, errors.KeyExchangeFailed().WithDetail("unexpected frame during challenge")
	}

	proof, err := client.Generate(string(body))
	if err != nil {
		return nil, errors.KeyExchangeFailed().WithCause(err)
	}
	if err := writeFrame(conn, frameClientProof, []byte(proof)); err != nil {
		return nil, errors.HandshakeIO(err)
	}

	t, body, err = readFrame(conn)
	if err != nil {
		return nil, errors.HandshakeIO(err)
	}
	if t == frameReject {
		return nil, errors.ParseWire(string(body))
	}
	if t != frameServerProof {
		return nil, errors.KeyExchangeFailed().WithDetail("unexpected frame during proof")
	}
	if !client.ServerOk(string(body)) {
		return nil, errors.KeyExchangeFailed().WithDetail("server proof does not verify")
	}

	gcm, err := newGCM(client.RawKey())
	if err != nil {
		return nil, errors.KeyExchangeFailed().WithCause(err)
	}
	return &Channel{conn: conn, gcm: gcm, identity: identity}, nil
}

// ServerHandshake runs the server side of the handshake. A failed
// handshake sends one reject frame carrying the tagged error and
// returns that error; the caller drops the connection.
func ServerHandshake(conn io.ReadWriteCloser, session ServerSessionFunc) (*Channel, error) {
	t, body, err := readFrame(conn)
	if err != nil {
		return nil, errors.HandshakeIO(err)
	}
	if t != frameClientHello {
		return nil, reject(conn, errors.KeyExchangeFailed().WithDetail("expected client hello"))
	}
	sep := bytes.IndexByte(body, 0)
	if sep < 1 {
		return nil, reject(conn, errors.KeyExchangeFailed().WithDetail("malformed client hello"))
	}
	identity := string(body[:sep])
	creds := string(body[sep+1:])

	srv, err := session(identity, creds)
	if err != nil {
		return nil, reject(conn, err)
	}
	if err := writeFrame(conn, frameServerChallenge, []byte(srv.Credentials())); err != nil {
		return nil, errors.HandshakeIO(err)
	}

	t, body, err = readFrame(conn)
	if err != nil {
		return nil, errors.HandshakeIO(err)
	}
	if t != frameClientProof {
		return nil, reject(conn, errors.KeyExchangeFailed().WithDetail("expected client proof"))
	}
	proof, ok := srv.ClientOk(string(body))
	if !ok {
		return nil, reject(conn, errors.KeyExchangeFailed())
	}
	if err := writeFrame(conn, frameServerProof, []byte(proof)); err != nil {
		return nil, errors.HandshakeIO(err)
	}

	gcm, err := newGCM(srv.RawKey())
	if err != nil {
		return nil, errors.KeyExchangeFailed().WithCause(err)
	}
	return &Channel{conn: conn, gcm: gcm, identity: identity}, nil
}

// reject sends one reject frame and returns the original error. A
// send failure is secondary, the handshake already failed.
func reject(conn io.Writer, cause error) error {
	_ = writeFrame(conn, frameReject, []byte(errors.Wire(cause)))
	return cause
}

// Send seals and transmits one record.
func (c *Channel) Send(plaintext []byte) error {
	if len(plaintext) > MaxRecord {
		return errors.New(errors.CodeBadArgument, errors.CategoryProtocol,
			"record exceeds maximum record size")
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return errors.ConnectionLost(err)
	}
	sealed := c.gcm.Seal(nonce, nonce, plaintext, nil)
	if err := writeFrame(c.conn, frameData, sealed); err != nil {
		return errors.ConnectionLost(err)
	}
	return nil
}

// Recv receives and opens one record.
func (c *Channel) Recv() ([]byte, error) {
	t, body, err := readFrame(c.conn)
	if err != nil {
		return nil, errors.ConnectionLost(err)
	}
	if t != frameData {
		return nil, errors.ConnectionLost(nil).WithDetail("unexpected frame type on established channel")
	}
	ns := c.gcm.NonceSize()
	if len(body) < ns {
		return nil, errors.ConnectionLost(nil).WithDetail("sealed record shorter than nonce")
	}
	plaintext, err := c.gcm.Open(nil, body[:ns], body[ns:], nil)
	if err != nil {
		return nil, errors.ConnectionLost(err).WithDetail("record authentication failed")
	}
	return plaintext, nil
}
