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

package client

import (
	"sort"
	"time"

	"github.com/opencoff/go-srp"

	"patientdb/internal/auth"
	"patientdb/internal/codec"
	"patientdb/internal/errors"
	"patientdb/internal/perm"
	"patientdb/internal/record"
	"patientdb/internal/search"
	"patientdb/internal/storage"
)

// Local is the in-process facade. It runs each operation against the
// storage engine directly, inside the same transaction boundaries the
// server uses for the matching request.
type Local struct {
	store    *storage.Store
	registry *auth.Registry
	encoding codec.TextEncoding

	// system bypasses login and permission checks. Bootstrap tooling
	// needs to create the first identity before any identity exists.
	system bool

	identity *auth.Identity
	perms    *perm.Set
	subjects []string
}

// NewLocal creates an unauthenticated local facade. Login verifies the
// password against the stored SRP verifier exactly like the server
// does, just without a transport in between.
func NewLocal(store *storage.Store) *Local {
	return &Local{
		store:    store,
		registry: auth.NewRegistry(store),
		encoding: codec.EncodingUTF8,
	}
}

// NewSystemLocal creates a local facade with permission checks
// disabled. Only bootstrap tooling on the server host uses this; it
// never crosses a network.
func NewSystemLocal(store *storage.Store) *Local {
	l := NewLocal(store)
	l.system = true
	return l
}

// Login authenticates against the stored verifier via an in-process
// SRP exchange and resolves the identity's permissions.
func (l *Local) Login(identity, password string) error {
	env, err := srp.New(auth.SRPBits)
	if err != nil {
		return errors.KeyExchangeFailed().WithCause(err)
	}
	c, err := env.NewClient([]byte(identity), []byte(password))
	if err != nil {
		return errors.KeyExchangeFailed().WithCause(err)
	}

	srv, err := l.registry.ServerSession(identity, c.Credentials())
	if err != nil {
		return err
	}
	m, err := c.Generate(srv.Credentials())
	if err != nil {
		return errors.KeyExchangeFailed().WithCause(err)
	}
	if _, ok := srv.ClientOk(m); !ok {
		return errors.KeyExchangeFailed()
	}

	ident, err := l.registry.Lookup(identity)
	if err != nil {
		return err
	}
	perms, err := l.registry.PermissionsFor(ident)
	if err != nil {
		return err
	}

	l.identity = ident
	l.perms = perms
	l.subjects = perm.Subjects(ident.ID, ident.Groups)
	return nil
}

// Exit releases nothing for the local facade but completes the
// interface contract.
func (l *Local) Exit() error {
	l.identity = nil
	l.perms = nil
	l.subjects = nil
	return nil
}

func (l *Local) requireAuth() error {
	if l.system {
		return nil
	}
	if l.identity == nil {
		return errors.NotAuthenticated()
	}
	return nil
}

func (l *Local) requirePermissions() error {
	if err := l.requireAuth(); err != nil {
		return err
	}
	if l.system {
		return nil
	}
	if l.perms.Size() == 0 {
		return errors.NoPermissions()
	}
	return nil
}

// level resolves the facade's permission level for one score value.
// System mode sees everything.
func (l *Local) level(v *record.ScoreValue) perm.Level {
	if l.system {
		return perm.ReadWrite
	}
	return l.perms.Resolve(l.subjects,
		perm.Candidates(v.ID, v.Patient, v.ScoreName, v.SessionID))
}

func (l *Local) readable(v *record.ScoreValue) bool {
	return l.level(v) >= perm.Read
}

// sessionLevel resolves the facade's permission level for a session
// record.
func (l *Local) sessionLevel(s *record.SessionRecord) perm.Level {
	if l.system {
		return perm.ReadWrite
	}
	return l.perms.Resolve(l.subjects,
		perm.Candidates(s.ID, s.Patient, "", s.ID))
}

// patientLevel resolves the facade's permission level for a patient
// record.
func (l *Local) patientLevel(pid uint64) perm.Level {
	if l.system {
		return perm.ReadWrite
	}
	return l.perms.Resolve(l.subjects,
		[]string{perm.Wildcard, perm.FormatSubject(pid)})
}

// resourceLevel resolves the level for a named resource (a schema
// node, a patient list id, or an administrative action).
func (l *Local) resourceLevel(resource string) perm.Level {
	if l.system {
		return perm.ReadWrite
	}
	return l.perms.Resolve(l.subjects, []string{perm.Wildcard, resource})
}

// PutNewUser creates an identity in its own transaction.
func (l *Local) PutNewUser(info *record.UserInfo, verifier string) error {
	if err := l.requirePermissions(); err != nil {
		return err
	}
	if l.resourceLevel(record.UserKey(info.Name)) < perm.ReadWrite {
		return errors.AccessDenied(record.UserKey(info.Name))
	}
	txn := l.store.Begin()
	if _, err := l.registry.CreateUser(txn, info.Name, info.RealName, verifier, info.Groups); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.Commit(); err != nil {
		return errors.TxnCommit(err)
	}
	return nil
}

// Grant stores a permission entry. Bootstrap-only surface; the wire
// protocol has no grant operation.
func (l *Local) Grant(e perm.Entry) error {
	if err := l.requirePermissions(); err != nil {
		return err
	}
	txn := l.store.Begin()
	if err := l.registry.Grant(txn, e); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.Commit(); err != nil {
		return errors.TxnCommit(err)
	}
	return nil
}

// PutNewScoreName upserts schema nodes in one transaction.
func (l *Local) PutNewScoreName(defs []*record.ScoreDefinition) (time.Time, error) {
	if err := l.requirePermissions(); err != nil {
		return time.Time{}, err
	}
	for _, d := range defs {
		if d.Name == "" {
			return time.Time{}, errors.MissingField("scorename")
		}
		if l.resourceLevel(d.Name) < perm.ReadWrite {
			return time.Time{}, errors.AccessDenied(record.ScoreNameKey(d.Name))
		}
	}

	now := time.Now().UTC()
	txn := l.store.Begin()
	for _, d := range defs {
		buf, err := codec.EncodeScoreDefinitions([]*record.ScoreDefinition{d}, l.encoding)
		if err != nil {
			txn.Rollback()
			return time.Time{}, err
		}
		if err := txn.Put(record.ScoreNameKey(d.Name), buf); err != nil {
			txn.Rollback()
			return time.Time{}, errors.TxnAborted("put_scorename", err)
		}
	}
	return l.commitUpdated(txn, now)
}

// PutNewPatient remaps placeholders through one reservation, then
// stores patient, sessions, and values in one transaction.
func (l *Local) PutNewPatient(patient *record.PatientInfo, sessions []*record.SessionRecord,
	values []*record.ScoreValue) (time.Time, error) {
	if err := l.requirePermissions(); err != nil {
		return time.Time{}, err
	}
	if patient == nil {
		return time.Time{}, errors.MissingField("patient")
	}

	if m := countPlaceholders(patient, sessions, values); m > 0 {
		first, err := l.ReqID(m)
		if err != nil {
			return time.Time{}, err
		}
		if _, err := record.Remap(first, uint64(m), patient, sessions, values); err != nil {
			return time.Time{}, err
		}
	}

	// ReadWrite on every record in the batch; one refusal aborts the
	// whole request before anything commits.
	if l.patientLevel(patient.ID) < perm.ReadWrite {
		return time.Time{}, errors.AccessDenied(record.PatientKey(patient.ID))
	}
	for _, s := range sessions {
		if s.Patient == 0 {
			s.Patient = patient.ID
		}
		if l.sessionLevel(s) < perm.ReadWrite {
			return time.Time{}, errors.AccessDenied(record.SessionKey(s.Patient, s.ID))
		}
	}
	for _, v := range values {
		if v.Patient == 0 {
			v.Patient = patient.ID
		}
		if l.level(v) < perm.ReadWrite {
			return time.Time{}, errors.AccessDenied(record.ValueKey(v.Patient, v.ID))
		}
	}

	now := time.Now().UTC()
	txn := l.store.Begin()
	buf, err := codec.EncodePatientInfo(patient, l.encoding)
	if err != nil {
		txn.Rollback()
		return time.Time{}, err
	}
	if err := txn.Put(record.PatientKey(patient.ID), buf); err != nil {
		txn.Rollback()
		return time.Time{}, errors.TxnAborted("put_patient", err)
	}
	for _, s := range sessions {
		buf, err := codec.EncodeSessions([]*record.SessionRecord{s}, l.encoding)
		if err != nil {
			txn.Rollback()
			return time.Time{}, err
		}
		if err := txn.Put(record.SessionKey(s.Patient, s.ID), buf); err != nil {
			txn.Rollback()
			return time.Time{}, errors.TxnAborted("put_patient", err)
		}
	}
	for _, v := range values {
		buf, err := codec.EncodeScoreValue(v, l.encoding)
		if err != nil {
			txn.Rollback()
			return time.Time{}, err
		}
		if err := txn.Put(record.ValueKey(v.Patient, v.ID), buf); err != nil {
			txn.Rollback()
			return time.Time{}, errors.TxnAborted("put_patient", err)
		}
	}
	return l.commitUpdated(txn, now)
}

// PutNewSession upserts sessions in one transaction, requiring
// ReadWrite per session.
func (l *Local) PutNewSession(sessions []*record.SessionRecord) (time.Time, error) {
	if err := l.requirePermissions(); err != nil {
		return time.Time{}, err
	}
	for _, s := range sessions {
		if record.IsPlaceholder(s.ID) || s.ID == 0 {
			return time.Time{}, errors.BadPlaceholder(int64(s.ID))
		}
		if l.sessionLevel(s) < perm.ReadWrite {
			return time.Time{}, errors.AccessDenied(record.SessionKey(s.Patient, s.ID))
		}
	}

	now := time.Now().UTC()
	txn := l.store.Begin()
	for _, s := range sessions {
		buf, err := codec.EncodeSessions([]*record.SessionRecord{s}, l.encoding)
		if err != nil {
			txn.Rollback()
			return time.Time{}, err
		}
		if err := txn.Put(record.SessionKey(s.Patient, s.ID), buf); err != nil {
			txn.Rollback()
			return time.Time{}, errors.TxnAborted("put_session", err)
		}
	}
	return l.commitUpdated(txn, now)
}

// PutScoreValues upserts values in one transaction, requiring
// ReadWrite per value.
func (l *Local) PutScoreValues(values []*record.ScoreValue) (time.Time, error) {
	if err := l.requirePermissions(); err != nil {
		return time.Time{}, err
	}
	for _, v := range values {
		if record.IsPlaceholder(v.ID) || v.ID == 0 {
			return time.Time{}, errors.BadPlaceholder(int64(v.ID))
		}
		if l.level(v) < perm.ReadWrite {
			return time.Time{}, errors.AccessDenied(record.ValueKey(v.Patient, v.ID))
		}
	}

	now := time.Now().UTC()
	txn := l.store.Begin()
	for _, v := range values {
		buf, err := codec.EncodeScoreValue(v, l.encoding)
		if err != nil {
			txn.Rollback()
			return time.Time{}, err
		}
		if err := txn.Put(record.ValueKey(v.Patient, v.ID), buf); err != nil {
			txn.Rollback()
			return time.Time{}, errors.TxnAborted("put_scorevalue", err)
		}
	}
	return l.commitUpdated(txn, now)
}

// PutPatientList creates or replaces a saved patient list.
func (l *Local) PutPatientList(list *record.PatientList, modify bool) (time.Time, error) {
	if err := l.requirePermissions(); err != nil {
		return time.Time{}, err
	}
	if record.IsPlaceholder(list.ID) || list.ID == 0 {
		return time.Time{}, errors.BadPlaceholder(int64(list.ID))
	}
	if l.resourceLevel(perm.FormatSubject(list.ID)) < perm.ReadWrite {
		return time.Time{}, errors.AccessDenied(record.PatientListKey(list.ID))
	}

	key := record.PatientListKey(list.ID)
	now := time.Now().UTC()
	txn := l.store.Begin()

	// The existence check runs inside the writing transaction so a
	// concurrent commit cannot slip between check and write.
	_, getErr := txn.Get(key)
	exists := getErr == nil
	if getErr != nil && getErr != storage.ErrNotFound {
		txn.Rollback()
		return time.Time{}, errors.IO(getErr)
	}
	if modify && !exists {
		txn.Rollback()
		return time.Time{}, errors.NotFound("patientlist")
	}
	if !modify && exists {
		txn.Rollback()
		return time.Time{}, errors.Duplicate("patientlist " + record.FormatID(list.ID))
	}

	buf, err := codec.EncodePatientList(list, l.encoding)
	if err != nil {
		txn.Rollback()
		return time.Time{}, err
	}
	if err := txn.Put(key, buf); err != nil {
		txn.Rollback()
		return time.Time{}, errors.TxnAborted("put_patientlist", err)
	}
	return l.commitUpdated(txn, now)
}

// ReqID reserves a contiguous id range in its own transaction.
func (l *Local) ReqID(count int) (uint64, error) {
	if err := l.requirePermissions(); err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, errors.BadArgument("req_id:", "count must be positive")
	}
	txn := l.store.Begin()
	first, err := txn.ReserveIDs(uint64(count))
	if err != nil {
		txn.Rollback()
		return 0, errors.IDReservation(count, 0).WithCause(err)
	}
	if err := txn.Commit(); err != nil {
		return 0, errors.TxnCommit(err)
	}
	return first, nil
}

// ReqTime returns the store's last-update timestamp.
func (l *Local) ReqTime() (time.Time, error) {
	if err := l.requirePermissions(); err != nil {
		return time.Time{}, err
	}
	txn := l.store.Begin()
	ts, err := txn.GetLastUpdated()
	txn.Rollback()
	if err != nil {
		return time.Time{}, errors.IO(err)
	}
	return ts, nil
}

// ReqUser returns one identity's profile.
func (l *Local) ReqUser(name string) (*record.UserInfo, error) {
	if err := l.requirePermissions(); err != nil {
		return nil, err
	}
	ident, err := l.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return ident.UserInfo(), nil
}

// ReqSearchPatient runs a search across all stored score values.
func (l *Local) ReqSearchPatient(c *search.Criteria) ([]*record.SearchMatch, error) {
	if err := l.requirePermissions(); err != nil {
		return nil, err
	}
	values, err := l.loadValues(record.PrefixValue)
	if err != nil {
		return nil, err
	}
	return search.Run(c, values, l.readable), nil
}

// ReqOnePatient assembles one patient with every readable session and
// score value.
func (l *Local) ReqOnePatient(id uint64) (*record.PatientRecord, error) {
	if err := l.requirePermissions(); err != nil {
		return nil, err
	}

	// A patient the requester cannot read is indistinguishable from
	// one that does not exist.
	if l.patientLevel(id) < perm.Read {
		return nil, errors.NotFound("patient")
	}

	raw, err := l.store.Get(record.PatientKey(id))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.NotFound("patient")
		}
		return nil, errors.IO(err)
	}
	info, err := codec.DecodePatientInfo(raw, l.encoding)
	if err != nil {
		return nil, err
	}

	pr := record.NewPatientRecord(*info)

	sessRaw, err := l.store.Scan(record.SessionPrefix(id))
	if err != nil {
		return nil, errors.IO(err)
	}
	sessKeys := sortedKeys(sessRaw)
	for _, k := range sessKeys {
		decoded, err := codec.DecodeSessions(sessRaw[k], l.encoding)
		if err != nil {
			return nil, err
		}
		for _, s := range decoded {
			if !l.system {
				level := l.perms.Resolve(l.subjects, perm.Candidates(s.ID, id, "", s.ID))
				if level < perm.Read {
					continue
				}
			}
			pr.AddSession(s)
		}
	}

	values, err := l.loadValues(record.ValuePrefix(id))
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		level := l.level(v)
		if level < perm.Read {
			continue
		}
		v.Perm = uint8(level)
		pr.AddValue(v)
	}
	pr.RebuildIndexes()
	return pr, nil
}

func (l *Local) commitUpdated(txn *storage.Txn, now time.Time) (time.Time, error) {
	if err := txn.SetLastUpdated(now); err != nil {
		txn.Rollback()
		return time.Time{}, err
	}
	if err := txn.Commit(); err != nil {
		return time.Time{}, errors.TxnCommit(err)
	}
	return now, nil
}

func (l *Local) loadValues(prefix string) ([]*record.ScoreValue, error) {
	raw, err := l.store.Scan(prefix)
	if err != nil {
		return nil, errors.IO(err)
	}
	values := make([]*record.ScoreValue, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		v, err := codec.DecodeScoreValue(raw[k], l.encoding)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
