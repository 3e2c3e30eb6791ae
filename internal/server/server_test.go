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

package server

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"patientdb/internal/auth"
	"patientdb/internal/client"
	"patientdb/internal/codec"
	"patientdb/internal/config"
	"patientdb/internal/errors"
	"patientdb/internal/perm"
	"patientdb/internal/record"
	"patientdb/internal/search"
	"patientdb/internal/secure"
	"patientdb/internal/storage"
	"patientdb/internal/wire"
)

const (
	testUser     = "alice"
	testPassword = "correct horse"
)

// setupServer starts a server on a random port with one provisioned
// identity holding a wildcard readwrite grant, and the id counter
// seeded to 100.
func setupServer(t *testing.T) (*Server, string, *storage.Store) {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	reg := auth.NewRegistry(store)
	ident := createTestUser(t, reg, store, testUser, testPassword)
	grant(t, reg, store, perm.Entry{
		Subject:  perm.FormatSubject(ident.ID),
		Resource: perm.Wildcard,
		Level:    perm.ReadWrite,
	})
	seedNextID(t, store, 100)

	cfg := &config.Config{Port: 0, DataDir: t.TempDir()}
	srv := New(cfg, store)
	go srv.Start()

	addr := waitForAddr(t, srv)
	t.Cleanup(func() {
		srv.Stop()
		store.Close()
	})
	return srv, addr, store
}

func createTestUser(t *testing.T, reg *auth.Registry, store *storage.Store, name, password string) *auth.Identity {
	t.Helper()
	verifier, err := auth.NewVerifier(name, password)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	txn := store.Begin()
	ident, err := reg.CreateUser(txn, name, "Test User", verifier, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit user: %v", err)
	}
	return ident
}

func grant(t *testing.T, reg *auth.Registry, store *storage.Store, e perm.Entry) {
	t.Helper()
	txn := store.Begin()
	if err := reg.Grant(txn, e); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit grant: %v", err)
	}
}

func seedNextID(t *testing.T, store *storage.Store, next uint64) {
	t.Helper()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	txn := store.Begin()
	if err := txn.Put(storage.KeyNextID, buf); err != nil {
		t.Fatalf("seed next id: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit seed: %v", err)
	}
}

func waitForAddr(t *testing.T, srv *Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := srv.Addr(); addr != "" {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never bound a listener")
	return ""
}

func login(t *testing.T, addr string) *client.Remote {
	t.Helper()
	c := client.NewRemote(addr)
	if err := c.Login(testUser, testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	return c
}

func stringValue(id, patient, session uint64, scoreName, s string) *record.ScoreValue {
	return &record.ScoreValue{
		ID:        id,
		Patient:   patient,
		SessionID: session,
		ScoreName: scoreName,
		Kind:      record.KindString,
		StringVal: s,
		Modified:  time.Now().Unix(),
	}
}

func TestConsecutiveIDReservations(t *testing.T) {
	_, addr, _ := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	first, err := c.ReqID(3)
	if err != nil {
		t.Fatalf("ReqID(3): %v", err)
	}
	if first != 100 {
		t.Errorf("first reservation = %d, want 100", first)
	}

	second, err := c.ReqID(2)
	if err != nil {
		t.Fatalf("ReqID(2): %v", err)
	}
	if second != 103 {
		t.Errorf("second reservation = %d, want 103", second)
	}
}

func TestWrongPasswordNeverReachesActive(t *testing.T) {
	_, addr, _ := setupServer(t)

	c := client.NewRemote(addr)
	err := c.Login(testUser, "wrong password")
	if err == nil {
		t.Fatal("login with wrong password succeeded")
	}
	if errors.GetCode(err) != errors.CodeKeyExchangeFailed {
		t.Errorf("error code = %d, want %d", errors.GetCode(err), errors.CodeKeyExchangeFailed)
	}

	// The facade must stay unauthenticated.
	if _, err := c.ReqTime(); errors.GetCode(err) != errors.CodeNotAuthenticated {
		t.Errorf("ReqTime after failed login = %v, want not-authenticated", err)
	}
}

func TestUnknownIdentityRejected(t *testing.T) {
	_, addr, _ := setupServer(t)

	c := client.NewRemote(addr)
	err := c.Login("mallory", "whatever")
	if err == nil {
		t.Fatal("login for unknown identity succeeded")
	}
	if errors.GetCode(err) != errors.CodeUnknownIdentity {
		t.Errorf("error code = %d, want %d", errors.GetCode(err), errors.CodeUnknownIdentity)
	}
}

func TestPutPatientRoundTrip(t *testing.T) {
	_, addr, _ := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	patient := &record.PatientInfo{ID: record.Placeholder(-1), Code: "P-0001", Author: 1}
	session := &record.SessionRecord{
		ID:       record.Placeholder(-2),
		Patient:  record.Placeholder(-1),
		Examiner: 1,
		Date:     time.Now().Unix(),
		Public:   true,
	}
	value := stringValue(record.Placeholder(-3), record.Placeholder(-1),
		record.Placeholder(-2), "demographics:firstname", "Ann")

	if _, err := c.PutNewPatient(patient, []*record.SessionRecord{session},
		[]*record.ScoreValue{value}); err != nil {
		t.Fatalf("PutNewPatient: %v", err)
	}

	// Remap assigned 100..102 in creation order.
	if patient.ID != 100 || session.ID != 101 || value.ID != 102 {
		t.Fatalf("remapped ids = %d,%d,%d, want 100,101,102",
			patient.ID, session.ID, value.ID)
	}

	pr, err := c.ReqOnePatient(patient.ID)
	if err != nil {
		t.Fatalf("ReqOnePatient: %v", err)
	}
	if pr.Info.Code != "P-0001" {
		t.Errorf("patient code = %q, want P-0001", pr.Info.Code)
	}
	if len(pr.Sessions) != 1 {
		t.Fatalf("session count = %d, want 1", len(pr.Sessions))
	}
	if len(pr.Values) != 1 {
		t.Fatalf("value count = %d, want 1", len(pr.Values))
	}
	got := pr.Values[value.ID]
	if got.StringVal != "Ann" || got.SessionID != session.ID || got.Patient != patient.ID {
		t.Errorf("stored value = %+v", got)
	}
}

func TestSearchCaseInsensitivePreservesStoredCase(t *testing.T) {
	_, addr, _ := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	patient := &record.PatientInfo{ID: record.Placeholder(-1), Code: "P-0002"}
	value := stringValue(record.Placeholder(-2), record.Placeholder(-1), 0,
		"demographics:firstname", "Ann")
	if _, err := c.PutNewPatient(patient, nil, []*record.ScoreValue{value}); err != nil {
		t.Fatalf("PutNewPatient: %v", err)
	}

	crit := &search.Criteria{
		CaseSensitive: false,
		ScoreName:     "demographics:firstname",
		Mode:          search.ModeEqual,
		Pattern:       "ann",
	}
	matches, err := c.ReqSearchPatient(crit)
	if err != nil {
		t.Fatalf("ReqSearchPatient: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("match count = %d, want 1", len(matches))
	}
	if matches[0].Patient != patient.ID {
		t.Errorf("matched patient = %d, want %d", matches[0].Patient, patient.ID)
	}
	if len(matches[0].Fields) != 1 || matches[0].Fields[0].Value != "Ann" {
		t.Errorf("match fields = %+v, want stored case Ann", matches[0].Fields)
	}
}

func TestSoftDeletedValueSkippedBySearchButFetchable(t *testing.T) {
	_, addr, _ := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	patient := &record.PatientInfo{ID: record.Placeholder(-1), Code: "P-0003"}
	value := stringValue(record.Placeholder(-2), record.Placeholder(-1), 0,
		"demographics:firstname", "Bob")
	if _, err := c.PutNewPatient(patient, nil, []*record.ScoreValue{value}); err != nil {
		t.Fatalf("PutNewPatient: %v", err)
	}

	value.Deleted = true
	if _, err := c.PutScoreValues([]*record.ScoreValue{value}); err != nil {
		t.Fatalf("PutScoreValues: %v", err)
	}

	crit := &search.Criteria{Mode: search.ModeEqual, Pattern: "Bob", CaseSensitive: true}
	matches, err := c.ReqSearchPatient(crit)
	if err != nil {
		t.Fatalf("ReqSearchPatient: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("search returned %d matches for soft-deleted value", len(matches))
	}

	pr, err := c.ReqOnePatient(patient.ID)
	if err != nil {
		t.Fatalf("ReqOnePatient: %v", err)
	}
	got, ok := pr.Values[value.ID]
	if !ok {
		t.Fatal("soft-deleted value not fetchable by id")
	}
	if !got.Deleted {
		t.Error("refetched value lost its deleted flag")
	}
}

func TestZeroPermissionsRefused(t *testing.T) {
	srv, addr, store := setupServer(t)

	// A second identity with no grants at all.
	createTestUser(t, srv.Registry(), store, "bob", "hunter2")

	c := client.NewRemote(addr)
	if err := c.Login("bob", "hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}
	defer c.Exit()

	_, err := c.ReqUser(testUser)
	if errors.GetCode(err) != errors.CodeNoPermissions {
		t.Errorf("ReqUser = %v, want no-permissions refusal", err)
	}
	_, err = c.ReqSearchPatient(&search.Criteria{Mode: search.ModeEqual, Pattern: "x"})
	if errors.GetCode(err) != errors.CodeNoPermissions {
		t.Errorf("ReqSearchPatient = %v, want no-permissions refusal", err)
	}
	if _, err := c.ReqTime(); errors.GetCode(err) != errors.CodeNoPermissions {
		t.Errorf("ReqTime = %v, want no-permissions refusal", err)
	}
	if _, err := c.ReqID(1); errors.GetCode(err) != errors.CodeNoPermissions {
		t.Errorf("ReqID = %v, want no-permissions refusal", err)
	}
}

func TestExplicitBlockFiltersValue(t *testing.T) {
	srv, addr, store := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	patient := &record.PatientInfo{ID: record.Placeholder(-1), Code: "P-0004"}
	visible := stringValue(record.Placeholder(-2), record.Placeholder(-1), 0,
		"demographics:firstname", "Carol")
	blocked := stringValue(record.Placeholder(-3), record.Placeholder(-1), 0,
		"demographics:diagnosis", "confidential")
	if _, err := c.PutNewPatient(patient, nil,
		[]*record.ScoreValue{visible, blocked}); err != nil {
		t.Fatalf("PutNewPatient: %v", err)
	}

	// Reader identity: wildcard read, explicit block on one value.
	ident := createTestUser(t, srv.Registry(), store, "carol", "pw")
	grant(t, srv.Registry(), store, perm.Entry{
		Subject:  perm.FormatSubject(ident.ID),
		Resource: perm.Wildcard,
		Level:    perm.Read,
	})
	grant(t, srv.Registry(), store, perm.Entry{
		Subject:  perm.FormatSubject(ident.ID),
		Resource: strconv.FormatUint(blocked.ID, 10),
		Level:    perm.None,
	})

	reader := client.NewRemote(addr)
	if err := reader.Login("carol", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	defer reader.Exit()

	pr, err := reader.ReqOnePatient(patient.ID)
	if err != nil {
		t.Fatalf("ReqOnePatient: %v", err)
	}
	if _, ok := pr.Values[visible.ID]; !ok {
		t.Error("readable value missing from stream")
	}
	if _, ok := pr.Values[blocked.ID]; ok {
		t.Error("explicitly blocked value leaked into stream")
	}

	// Read-only identity cannot write.
	_, err = reader.PutScoreValues([]*record.ScoreValue{visible})
	if errors.GetCode(err) != errors.CodeAccessDenied {
		t.Errorf("PutScoreValues as reader = %v, want access denied", err)
	}
}

// A wildcard Read grant opens every record for reading and none for
// writing: each write verb resolves the engine per record and refuses
// below ReadWrite.
func TestReadOnlyIdentityCannotReplaceRecords(t *testing.T) {
	srv, addr, store := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	patient := &record.PatientInfo{ID: record.Placeholder(-1), Code: "P-0005"}
	session := &record.SessionRecord{
		ID:      record.Placeholder(-2),
		Patient: record.Placeholder(-1),
		Notes:   "baseline",
	}
	if _, err := c.PutNewPatient(patient, []*record.SessionRecord{session}, nil); err != nil {
		t.Fatalf("PutNewPatient: %v", err)
	}

	ident := createTestUser(t, srv.Registry(), store, "dave", "pw")
	grant(t, srv.Registry(), store, perm.Entry{
		Subject:  perm.FormatSubject(ident.ID),
		Resource: perm.Wildcard,
		Level:    perm.Read,
	})
	reader := client.NewRemote(addr)
	if err := reader.Login("dave", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	defer reader.Exit()

	forged := *session
	forged.Notes = "forged"
	if _, err := reader.PutNewSession([]*record.SessionRecord{&forged}); errors.GetCode(err) != errors.CodeAccessDenied {
		t.Errorf("PutNewSession as reader = %v, want access denied", err)
	}
	raw, err := store.Get(record.SessionKey(session.Patient, session.ID))
	if err != nil {
		t.Fatalf("read stored session: %v", err)
	}
	stored, err := codec.DecodeSessions(raw, codec.EncodingUTF8)
	if err != nil {
		t.Fatalf("decode stored session: %v", err)
	}
	if len(stored) != 1 || stored[0].Notes != "baseline" {
		t.Errorf("stored session overwritten by read-only identity: %+v", stored)
	}

	overwrite := &record.PatientInfo{ID: patient.ID, Code: "FORGED"}
	if _, err := reader.PutNewPatient(overwrite, nil, nil); errors.GetCode(err) != errors.CodeAccessDenied {
		t.Errorf("PutNewPatient as reader = %v, want access denied", err)
	}
	defs := []*record.ScoreDefinition{{Name: "exam:forged", Kind: record.KindString}}
	if _, err := reader.PutNewScoreName(defs); errors.GetCode(err) != errors.CodeAccessDenied {
		t.Errorf("PutNewScoreName as reader = %v, want access denied", err)
	}
	list := &record.PatientList{ID: 900, Name: "forged cohort"}
	if _, err := reader.PutPatientList(list, false); errors.GetCode(err) != errors.CodeAccessDenied {
		t.Errorf("PutPatientList as reader = %v, want access denied", err)
	}
	verifier, err := auth.NewVerifier("eve", "pw")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if err := reader.PutNewUser(&record.UserInfo{Name: "eve"}, verifier); errors.GetCode(err) != errors.CodeAccessDenied {
		t.Errorf("PutNewUser as reader = %v, want access denied", err)
	}
}

// A grant on one patient opens nothing else: fetching another patient
// answers not-found, indistinguishable from an absent record.
func TestUnrelatedGrantCannotFetchPatient(t *testing.T) {
	srv, addr, store := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	patient := &record.PatientInfo{ID: record.Placeholder(-1), Code: "P-0006"}
	if _, err := c.PutNewPatient(patient, nil, nil); err != nil {
		t.Fatalf("PutNewPatient: %v", err)
	}

	ident := createTestUser(t, srv.Registry(), store, "erin", "pw")
	grant(t, srv.Registry(), store, perm.Entry{
		Subject:  perm.FormatSubject(ident.ID),
		Resource: "9999",
		Level:    perm.Read,
	})
	erin := client.NewRemote(addr)
	if err := erin.Login("erin", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	defer erin.Exit()

	if _, err := erin.ReqOnePatient(patient.ID); errors.GetCode(err) != errors.CodeNotFound {
		t.Errorf("ReqOnePatient outside grant = %v, want not found", err)
	}
}

func TestPatientListLifecycle(t *testing.T) {
	_, addr, _ := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	first, err := c.ReqID(1)
	if err != nil {
		t.Fatalf("ReqID: %v", err)
	}
	list := &record.PatientList{
		ID:       first,
		Name:     "study cohort",
		Author:   1,
		Patients: []uint64{5, 6},
	}
	if _, err := c.PutPatientList(list, false); err != nil {
		t.Fatalf("create list: %v", err)
	}

	// Creating again is a duplicate.
	if _, err := c.PutPatientList(list, false); errors.GetCode(err) != errors.CodeDuplicate {
		t.Errorf("duplicate create = %v, want duplicate error", err)
	}

	list.Patients = append(list.Patients, 7)
	if _, err := c.PutPatientList(list, true); err != nil {
		t.Fatalf("modify list: %v", err)
	}

	// Modifying an absent list yields the no_patientlist sentinel.
	missing := &record.PatientList{ID: first + 1000, Name: "ghost"}
	_, err = c.PutPatientList(missing, true)
	if errors.GetCode(err) != errors.CodeNotFound {
		t.Errorf("modify missing list = %v, want not found", err)
	}
}

func TestReqUserProfile(t *testing.T) {
	_, addr, _ := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	info, err := c.ReqUser(testUser)
	if err != nil {
		t.Fatalf("ReqUser: %v", err)
	}
	if info.Name != testUser || info.RealName != "Test User" {
		t.Errorf("profile = %+v", info)
	}
}

func TestReqTimeAdvancesAfterWrite(t *testing.T) {
	_, addr, _ := setupServer(t)
	c := login(t, addr)
	defer c.Exit()

	before, err := c.ReqTime()
	if err != nil {
		t.Fatalf("ReqTime: %v", err)
	}
	if !before.IsZero() {
		t.Errorf("fresh store time = %v, want zero", before)
	}

	defs := []*record.ScoreDefinition{{
		Name: "demographics:firstname",
		Kind: record.KindString,
		Leaf: true,
	}}
	updated, err := c.PutNewScoreName(defs)
	if err != nil {
		t.Fatalf("PutNewScoreName: %v", err)
	}
	if updated.IsZero() {
		t.Error("write returned zero timestamp")
	}

	after, err := c.ReqTime()
	if err != nil {
		t.Fatalf("ReqTime: %v", err)
	}
	if after.Unix() != updated.Unix() {
		t.Errorf("ReqTime = %v, want %v", after, updated)
	}
}

// TestPutPatientSizeMismatchCommitsNothing sends a put_patient whose
// announced patient byte length disagrees with the bytes actually
// sent. The server must refuse with a size error, reserve no ids, and
// commit nothing.
func TestPutPatientSizeMismatchCommitsNothing(t *testing.T) {
	_, addr, store := setupServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ch, err := secure.ClientHandshake(conn, testUser, testPassword)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	defer ch.Close()

	enc := codec.EncodingUTF8
	patientBuf, err := codec.EncodePatientInfo(&record.PatientInfo{ID: 500, Code: "P-BAD"}, enc)
	if err != nil {
		t.Fatalf("encode patient: %v", err)
	}
	sessionBuf, err := codec.EncodeSessions([]*record.SessionRecord{{ID: 501, Patient: 500}}, enc)
	if err != nil {
		t.Fatalf("encode sessions: %v", err)
	}

	// Announce one byte more than the patient payload holds. The
	// session record then overruns the announced length.
	line := fmt.Sprintf("%s %d %d 0", wire.VerbPutPatient, len(patientBuf)+1, len(sessionBuf))
	if err := wire.SendLine(ch, line); err != nil {
		t.Fatalf("send line: %v", err)
	}
	if err := wire.SendPayload(ch, patientBuf); err != nil {
		t.Fatalf("send patient: %v", err)
	}
	if err := wire.SendPayload(ch, sessionBuf); err != nil {
		t.Fatalf("send sessions: %v", err)
	}

	resp, err := wire.RecvLine(ch)
	if err != nil {
		t.Fatalf("recv response: %v", err)
	}
	serverErr, ok := wire.ParseError(resp)
	if !ok {
		t.Fatalf("response = %q, want no_data error line", resp)
	}
	if errors.GetCode(serverErr) != errors.CodeSizeMismatch {
		t.Errorf("error code = %d, want %d", errors.GetCode(serverErr), errors.CodeSizeMismatch)
	}

	// Nothing committed, no ids minted.
	if _, err := store.Get(record.PatientKey(500)); err != storage.ErrNotFound {
		t.Errorf("patient record visible after refused put: %v", err)
	}
	raw, err := store.Get(storage.KeyNextID)
	if err != nil {
		t.Fatalf("read id counter: %v", err)
	}
	if next := binary.BigEndian.Uint64(raw); next != 100 {
		t.Errorf("id counter = %d, want untouched 100", next)
	}
}

func TestUnknownVerbKeepsSessionAlive(t *testing.T) {
	_, addr, _ := setupServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ch, err := secure.ClientHandshake(conn, testUser, testPassword)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	defer ch.Close()

	if err := wire.SendLine(ch, "frobnicate: 12"); err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := wire.RecvLine(ch)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if _, ok := wire.ParseError(resp); !ok {
		t.Fatalf("response = %q, want error line", resp)
	}

	// Protocol errors leave the connection open.
	if err := wire.SendLine(ch, wire.VerbReqTime); err != nil {
		t.Fatalf("send after error: %v", err)
	}
	resp, err = wire.RecvLine(ch)
	if err != nil {
		t.Fatalf("recv after error: %v", err)
	}
	if _, ok := wire.ParseUpdated(resp); !ok {
		t.Errorf("req_time after protocol error = %q", resp)
	}
}
