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
Package pool provides a session pool for PatientDB clients.

A session is a logged-in remote facade: a TCP connection, a completed
key exchange, and the server-side permission set loaded for one
identity. Establishing one costs two SRP round trips, so batch tools
that fan work out over goroutines reuse sessions instead of logging in
per request.

All sessions in a pool share one identity. Tools acting for several
identities hold one pool per identity.

Usage Example:

	p, err := pool.New(pool.Config{
		Address:  "localhost:7431",
		Identity: "importer",
		Password: password,
		MaxConns: 8,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	sess, err := p.Get()
	if err != nil {
		log.Fatal(err)
	}
	defer sess.Release()

	record, err := sess.Client().ReqOnePatient(id)
*/
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"patientdb/internal/client"
)

// Config holds the configuration for a session pool.
type Config struct {
	// Address is the PatientDB server address (e.g., "localhost:7431").
	Address string

	// Identity and Password authenticate every pooled session.
	Identity string
	Password string

	// MinConns is the number of sessions established up front.
	MinConns int

	// MaxConns is the maximum number of sessions allowed. Get blocks
	// when all sessions are in use.
	MaxConns int

	// IdleTimeout is how long a session may sit idle before it is
	// closed. Zero disables idle cleanup.
	IdleTimeout time.Duration

	// AcquireTimeout bounds how long Get waits for a free session.
	AcquireTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(address, identity, password string) Config {
	return Config{
		Address:        address,
		Identity:       identity,
		Password:       password,
		MinConns:       1,
		MaxConns:       8,
		IdleTimeout:    5 * time.Minute,
		AcquireTimeout: 10 * time.Second,
	}
}

// Session is one pooled logged-in facade.
type Session struct {
	remote   *client.Remote
	lastUsed time.Time
	pool     *Pool
	inUse    bool
}

// Client returns the facade for issuing requests. The session owner
// must not call Exit on it; Release returns the session instead.
func (s *Session) Client() *client.Remote {
	return s.remote
}

// healthy probes the session with the cheapest protocol request.
func (s *Session) healthy() bool {
	_, err := s.remote.ReqTime()
	return err == nil
}

// Release returns the session to the pool.
func (s *Session) Release() {
	s.pool.put(s)
}

// Pool manages logged-in sessions against one server for one identity.
type Pool struct {
	config Config

	mu sync.Mutex

	// idle holds sessions ready for use.
	idle []*Session

	// numOpen is the total number of open sessions (idle + in use).
	numOpen int

	closed bool

	// waiters signals goroutines blocked in Get.
	waiters chan struct{}
}

// New creates a session pool and establishes the minimum sessions.
func New(config Config) (*Pool, error) {
	if config.MaxConns <= 0 {
		config.MaxConns = 8
	}
	if config.MinConns < 0 {
		config.MinConns = 0
	}
	if config.MinConns > config.MaxConns {
		config.MinConns = config.MaxConns
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 10 * time.Second
	}

	p := &Pool{
		config:  config,
		idle:    make([]*Session, 0, config.MaxConns),
		waiters: make(chan struct{}, config.MaxConns),
	}

	for i := 0; i < config.MinConns; i++ {
		sess, err := p.connect()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to establish initial session: %w", err)
		}
		p.idle = append(p.idle, sess)
	}

	if config.IdleTimeout > 0 {
		go p.cleanupIdle()
	}

	return p, nil
}

// connect dials and logs in one session. Caller holds no lock or the
// pool lock; numOpen is adjusted under the lock by the caller paths.
func (p *Pool) connect() (*Session, error) {
	remote := client.NewRemote(p.config.Address)
	if err := remote.Login(p.config.Identity, p.config.Password); err != nil {
		return nil, err
	}
	p.numOpen++
	return &Session{
		remote:   remote,
		lastUsed: time.Now(),
		pool:     p,
	}, nil
}

// Get acquires a session. When the pool is at capacity it blocks until
// a session is released or AcquireTimeout passes.
func (p *Pool) Get() (*Session, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("pool is closed")
	}

	// Prefer an idle session; LIFO keeps the working set warm.
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		sess := p.idle[n]
		p.idle = p.idle[:n]

		if !sess.healthy() {
			sess.remote.Exit()
			p.numOpen--
			continue
		}

		sess.inUse = true
		sess.lastUsed = time.Now()
		p.mu.Unlock()
		return sess, nil
	}

	if p.numOpen < p.config.MaxConns {
		sess, err := p.connect()
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		sess.inUse = true
		p.mu.Unlock()
		return sess, nil
	}

	p.mu.Unlock()

	select {
	case <-p.waiters:
		return p.Get()
	case <-time.After(p.config.AcquireTimeout):
		return nil, errors.New("timeout waiting for session")
	}
}

// put returns a session to the pool.
func (p *Pool) put(sess *Session) {
	if sess == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sess.inUse = false
	sess.lastUsed = time.Now()

	if p.closed {
		sess.remote.Exit()
		p.numOpen--
		return
	}

	p.idle = append(p.idle, sess)

	select {
	case p.waiters <- struct{}{}:
	default:
	}
}

// Close ends all idle sessions and prevents new acquisitions. Sessions
// currently in use are ended as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, sess := range p.idle {
		sess.remote.Exit()
	}
	p.numOpen -= len(p.idle)
	p.idle = nil

	close(p.waiters)
	return nil
}

// Stats holds current pool statistics.
type Stats struct {
	OpenSessions  int
	IdleSessions  int
	InUseSessions int
	MaxSessions   int
}

// Stats returns the current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := len(p.idle)
	return Stats{
		OpenSessions:  p.numOpen,
		IdleSessions:  idle,
		InUseSessions: p.numOpen - idle,
		MaxSessions:   p.config.MaxConns,
	}
}

// cleanupIdle periodically ends sessions idle past the timeout,
// keeping at least MinConns.
func (p *Pool) cleanupIdle() {
	ticker := time.NewTicker(p.config.IdleTimeout / 2)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()

		if p.closed {
			p.mu.Unlock()
			return
		}

		now := time.Now()
		kept := make([]*Session, 0, len(p.idle))
		for _, sess := range p.idle {
			if now.Sub(sess.lastUsed) < p.config.IdleTimeout || len(kept) < p.config.MinConns {
				kept = append(kept, sess)
			} else {
				sess.remote.Exit()
				p.numOpen--
			}
		}
		p.idle = kept

		p.mu.Unlock()
	}
}
