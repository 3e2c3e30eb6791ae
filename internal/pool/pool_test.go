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

package pool

import (
	"sync"
	"testing"
	"time"

	"patientdb/internal/auth"
	"patientdb/internal/client"
	"patientdb/internal/config"
	"patientdb/internal/perm"
	"patientdb/internal/record"
	"patientdb/internal/server"
	"patientdb/internal/storage"
)

const (
	testUser     = "pooler"
	testPassword = "long metal spoon"
)

// startServer boots a server over a store holding one provisioned
// identity with a wildcard readwrite grant, and returns its address.
func startServer(t *testing.T) string {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sys := client.NewSystemLocal(store)
	verifier, err := auth.NewVerifier(testUser, testPassword)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if err := sys.PutNewUser(&record.UserInfo{Name: testUser, RealName: "Pool Tester"}, verifier); err != nil {
		t.Fatalf("bootstrap user: %v", err)
	}
	ident, err := sys.ReqUser(testUser)
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if err := sys.Grant(perm.Entry{
		Subject:  perm.FormatSubject(ident.ID),
		Resource: perm.Wildcard,
		Level:    perm.ReadWrite,
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	srv := server.New(&config.Config{Port: 0, DataDir: t.TempDir()}, store)
	go srv.Start()
	t.Cleanup(func() { _ = srv.Stop() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv.Addr()
}

func TestPoolGetAndRelease(t *testing.T) {
	addr := startServer(t)

	p, err := New(Config{
		Address:  addr,
		Identity: testUser,
		Password: testPassword,
		MinConns: 1,
		MaxConns: 4,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer p.Close()

	sess, err := p.Get()
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if _, err := sess.Client().ReqTime(); err != nil {
		t.Fatalf("request over pooled session: %v", err)
	}
	sess.Release()

	stats := p.Stats()
	if stats.InUseSessions != 0 {
		t.Errorf("in use after release = %d, want 0", stats.InUseSessions)
	}
	if stats.IdleSessions < 1 {
		t.Errorf("idle after release = %d, want >= 1", stats.IdleSessions)
	}
}

func TestPoolReusesSessions(t *testing.T) {
	addr := startServer(t)

	p, err := New(Config{
		Address:  addr,
		Identity: testUser,
		Password: testPassword,
		MaxConns: 2,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer p.Close()

	for i := 0; i < 10; i++ {
		sess, err := p.Get()
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if _, err := sess.Client().ReqTime(); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		sess.Release()
	}

	stats := p.Stats()
	if stats.OpenSessions > 2 {
		t.Errorf("open sessions = %d, want <= 2", stats.OpenSessions)
	}
}

func TestPoolConcurrentAcquire(t *testing.T) {
	addr := startServer(t)

	p, err := New(Config{
		Address:  addr,
		Identity: testUser,
		Password: testPassword,
		MaxConns: 4,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer p.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := p.Get()
			if err != nil {
				errs <- err
				return
			}
			defer sess.Release()
			if _, err := sess.Client().ReqTime(); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("worker: %v", err)
	}

	stats := p.Stats()
	if stats.OpenSessions > 4 {
		t.Errorf("open sessions = %d, want <= 4", stats.OpenSessions)
	}
}

func TestPoolBadCredentials(t *testing.T) {
	addr := startServer(t)

	_, err := New(Config{
		Address:  addr,
		Identity: testUser,
		Password: "wrong",
		MinConns: 1,
		MaxConns: 2,
	})
	if err == nil {
		t.Fatal("expected initial session to fail with bad credentials")
	}
}

func TestPoolClosedRefusesGet(t *testing.T) {
	addr := startServer(t)

	p, err := New(Config{
		Address:  addr,
		Identity: testUser,
		Password: testPassword,
		MaxConns: 2,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	p.Close()

	if _, err := p.Get(); err == nil {
		t.Fatal("expected get on closed pool to fail")
	}
}
