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
Package server implements the PatientDB TCP server.

Connection Lifecycle:
=====================

 1. Client connects via TCP
 2. Server runs the SRP handshake synchronously; a handshake failure
    discards the connection before it ever enters service
 3. Group memberships and permission entries are resolved for the
    authenticated identity; a resolution failure also discards the
    connection
 4. The session enters service in its own goroutine: one request at a
    time, each write request inside its own transaction
 5. The connection closes on exit, transport failure, or shutdown

All traffic after the handshake rides the encrypted channel from
internal/secure; the plaintext of each record is a protocol line or a
binary payload chunk per internal/wire.

Thread Safety:
==============

Each session's state is owned by its session goroutine. Sessions share
only the storage engine (internally synchronized) and the identity
registry. The accept loop and Stop coordinate through stopCh and the
listener.
*/
package server

import (
	"net"
	"sync"

	"patientdb/internal/auth"
	"patientdb/internal/config"
	"patientdb/internal/discovery"
	"patientdb/internal/logging"
	"patientdb/internal/metrics"
	"patientdb/internal/secure"
	"patientdb/internal/storage"
)

// Package-level logger for the server component.
var log = logging.NewLogger("server")

// Server accepts client connections and runs one session per
// authenticated client.
type Server struct {
	// addr is the TCP address to listen on (e.g., ":7420").
	addr string

	// store is the underlying storage engine, shared by all sessions.
	store *storage.Store

	// registry resolves identities, SRP verifiers, and permissions.
	registry *auth.Registry

	// metrics collects request and session counters.
	metrics *metrics.Metrics

	// announcer advertises the server over mDNS when discovery is
	// enabled. Nil when disabled.
	announcer *discovery.Announcer

	// listener is the accept socket, tracked for graceful shutdown.
	listener net.Listener

	// listenerMu protects listener and stopped.
	listenerMu sync.Mutex

	// stopCh signals the accept loop and sessions to stop.
	stopCh chan struct{}

	// stopped indicates the server has been stopped.
	stopped bool

	// wg tracks live session goroutines for Stop to wait on.
	wg sync.WaitGroup
}

// New creates a server for the given configuration and storage engine.
func New(cfg *config.Config, store *storage.Store) *Server {
	srv := &Server{
		addr:     cfg.ListenAddr(),
		store:    store,
		registry: auth.NewRegistry(store),
		metrics:  metrics.Get(),
		stopCh:   make(chan struct{}),
	}
	if cfg.Discovery {
		srv.announcer = discovery.NewAnnouncer("", cfg.Port)
	}
	return srv
}

// Registry exposes the identity registry, used by bootstrap tooling
// sharing the server's store.
func (s *Server) Registry() *auth.Registry {
	return s.registry
}

// DiscoveryRunning reports whether the mDNS announcement is active.
func (s *Server) DiscoveryRunning() bool {
	return s.announcer != nil && s.announcer.IsRunning()
}

// Addr returns the bound listen address. Empty until Start has created
// the listener; useful when listening on port 0.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and serves until Stop is called. It blocks in the
// accept loop, so callers usually run it in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Error("Failed to start listener", "address", s.addr, "error", err)
		return err
	}

	s.listenerMu.Lock()
	if s.stopped {
		s.listenerMu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.listenerMu.Unlock()

	log.Info("Listening", "address", ln.Addr().String())

	if s.announcer != nil {
		if err := s.announcer.Start(); err != nil {
			// Discovery is advisory; the server serves without it.
			log.Warn("Discovery announcement failed", "error", err)
		}
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				log.Info("Server stopped, exiting accept loop")
				return nil
			default:
			}
			// Usually transient (e.g., too many open files).
			log.Warn("Accept error", "error", err)
			continue
		}

		log.Debug("New connection accepted", "remote_addr", conn.RemoteAddr().String())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Stop closes the listener, waits for live sessions to finish their
// current request, and withdraws the discovery announcement.
func (s *Server) Stop() error {
	s.listenerMu.Lock()
	if s.stopped {
		s.listenerMu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	ln := s.listener
	s.listenerMu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if s.announcer != nil {
		s.announcer.Stop()
	}

	s.wg.Wait()
	log.Info("Server stopped")
	return err
}

// handleConnection runs the handshake and, on success, the session
// service loop. The handshake is synchronous: the connection never
// enters service half-authenticated.
func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	ch, err := secure.ServerHandshake(conn, s.registry.ServerSession)
	if err != nil {
		s.metrics.HandshakeFailed()
		log.Warn("Handshake failed", "remote_addr", remoteAddr, "error", err)
		conn.Close()
		return
	}

	ident, err := s.registry.Lookup(ch.Identity())
	if err != nil {
		log.Error("Identity vanished after handshake", "identity", ch.Identity(), "error", err)
		ch.Close()
		return
	}

	perms, err := s.registry.PermissionsFor(ident)
	if err != nil {
		// A half-resolved session is worse than no session.
		log.Error("Permission resolution failed", "identity", ident.Name, "error", err)
		ch.Close()
		return
	}

	sess := newSession(ch, remoteAddr, ident, perms, s.store, s.registry, s.metrics)
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	log.Info("Session active", "identity", ident.Name, "remote_addr", remoteAddr,
		"permissions", perms.Size())

	// Shutdown closes the channel so a session blocked in Recv
	// unwinds instead of outliving Stop.
	done := make(chan struct{})
	go func() {
		select {
		case <-s.stopCh:
			ch.Close()
		case <-done:
		}
	}()

	sess.serve(s.stopCh)
	close(done)
}
