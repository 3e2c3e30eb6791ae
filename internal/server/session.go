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
	"sort"
	"time"

	"patientdb/internal/auth"
	"patientdb/internal/codec"
	"patientdb/internal/errors"
	"patientdb/internal/metrics"
	"patientdb/internal/perm"
	"patientdb/internal/record"
	"patientdb/internal/search"
	"patientdb/internal/secure"
	"patientdb/internal/storage"
	"patientdb/internal/wire"
)

// Session serves one authenticated client. All its state is owned by
// its goroutine; only the store and registry are shared.
type Session struct {
	ch       *secure.Channel
	remote   string
	identity *auth.Identity
	perms    *perm.Set
	subjects []string
	store    *storage.Store
	registry *auth.Registry
	metrics  *metrics.Metrics
	encoding codec.TextEncoding
}

// handler processes one request. The command line has been received;
// the handler consumes any payload and sends the full response. A
// returned error of category Protocol, Authorization, Storage,
// Consistency, or Validation is reported to the client and the session
// continues; a Connection error tears the session down.
type handler func(*Session, wire.Command) error

// dispatch maps request verbs to handlers.
var dispatch = map[string]handler{
	wire.VerbReqID:          (*Session).reqID,
	wire.VerbReqTime:        (*Session).reqTime,
	wire.VerbReqUserInfo:    (*Session).reqUserInfo,
	wire.VerbSearchPatient:  (*Session).searchPatient,
	wire.VerbReqPatient:     (*Session).reqPatient,
	wire.VerbPutNewUser:     (*Session).putNewUser,
	wire.VerbPutScoreName:   (*Session).putScoreName,
	wire.VerbPutPatient:     (*Session).putPatient,
	wire.VerbPutSession:     (*Session).putSession,
	wire.VerbPutScoreValue:  (*Session).putScoreValue,
	wire.VerbPutPatientList: (*Session).putPatientList,
	wire.VerbModPatientList: (*Session).modPatientList,
}

func newSession(ch *secure.Channel, remote string, ident *auth.Identity,
	perms *perm.Set, store *storage.Store, reg *auth.Registry, m *metrics.Metrics) *Session {
	return &Session{
		ch:       ch,
		remote:   remote,
		identity: ident,
		perms:    perms,
		subjects: perm.Subjects(ident.ID, ident.Groups),
		store:    store,
		registry: reg,
		metrics:  m,
		encoding: codec.EncodingUTF8,
	}
}

// serve processes requests until exit, transport failure, or shutdown.
// Each request completes (including its transaction) before the next
// one is read.
func (s *Session) serve(stopCh <-chan struct{}) {
	defer s.ch.Close()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		line, err := wire.RecvLine(s.ch)
		if err != nil {
			log.Debug("Session read ended", "identity", s.identity.Name, "error", err)
			return
		}

		cmd, err := wire.ParseCommand(line)
		if err != nil {
			if s.report(cmd.Verb, err) != nil {
				return
			}
			continue
		}

		if cmd.Verb == wire.VerbExit {
			wire.SendLine(s.ch, wire.RespSuccess)
			log.Info("Session closed by client", "identity", s.identity.Name)
			return
		}

		h, ok := dispatch[cmd.Verb]
		if !ok {
			if s.report(cmd.Verb, errors.UnknownCommand(cmd.Verb)) != nil {
				return
			}
			continue
		}

		start := time.Now()
		err = h(s, cmd)
		s.metrics.RecordRequest(cmd.Verb, time.Since(start), err != nil)

		if err == nil {
			continue
		}
		if errors.GetCategory(err) == errors.CategoryConnection {
			log.Warn("Session transport failure", "identity", s.identity.Name, "error", err)
			return
		}
		if errors.IsAuthz(err) {
			s.metrics.PermissionRefused.Add(1)
		}
		if s.report(cmd.Verb, err) != nil {
			return
		}
	}
}

// report sends an error line to the client. Its own failure is a
// transport failure.
func (s *Session) report(verb string, err error) error {
	log.Debug("Request refused", "identity", s.identity.Name, "verb", verb, "error", err)
	return wire.SendLine(s.ch, wire.FormatError(err))
}

// level resolves the session's permission level for one score value.
func (s *Session) level(v *record.ScoreValue) perm.Level {
	return s.perms.Resolve(s.subjects,
		perm.Candidates(v.ID, v.Patient, v.ScoreName, v.SessionID))
}

// sessionLevel resolves the session's permission level for a session
// record, using the same candidate order loadSessions filters with.
func (s *Session) sessionLevel(sess *record.SessionRecord) perm.Level {
	return s.perms.Resolve(s.subjects,
		perm.Candidates(sess.ID, sess.Patient, "", sess.ID))
}

// patientLevel resolves the session's permission level for a patient
// record. A patient has no value, schema, or session facet, only the
// wildcard and its own id.
func (s *Session) patientLevel(pid uint64) perm.Level {
	return s.perms.Resolve(s.subjects,
		[]string{perm.Wildcard, perm.FormatSubject(pid)})
}

// resourceLevel resolves the level for a named resource (a schema
// node, a patient list id, or an administrative action).
func (s *Session) resourceLevel(resource string) perm.Level {
	return s.perms.Resolve(s.subjects, []string{perm.Wildcard, resource})
}

// readable reports whether the session may see a score value.
func (s *Session) readable(v *record.ScoreValue) bool {
	if s.level(v) >= perm.Read {
		return true
	}
	s.metrics.RecordsFiltered.Add(1)
	return false
}

// requirePermissions refuses sessions that resolved zero permission
// entries. Authenticated but unprovisioned identities get nothing.
func (s *Session) requirePermissions() error {
	if s.perms.Size() == 0 {
		return errors.NoPermissions()
	}
	return nil
}

// reqID reserves a contiguous id range and returns its first id as an
// 8-byte payload.
func (s *Session) reqID(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	count, err := cmd.IntArg(0)
	if err != nil {
		return err
	}
	if count <= 0 {
		return errors.BadArgument(cmd.Verb, "count must be positive")
	}

	txn := s.store.Begin()
	first, err := txn.ReserveIDs(uint64(count))
	if err != nil {
		txn.Rollback()
		s.metrics.TransactionsAborted.Add(1)
		return errors.IDReservation(count, 0).WithCause(err)
	}
	if err := txn.Commit(); err != nil {
		s.metrics.TransactionsAborted.Add(1)
		return errors.TxnCommit(err)
	}
	s.metrics.TransactionsCommitted.Add(1)

	w := codec.NewWriter(s.encoding)
	w.U64(first)
	return wire.SendSized(s.ch, wire.TagServerDataSize, w.Bytes())
}

// reqTime reports the store's last-update timestamp.
func (s *Session) reqTime(wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	txn := s.store.Begin()
	ts, err := txn.GetLastUpdated()
	txn.Rollback()
	if err != nil {
		return errors.IO(err)
	}
	var unix int64
	if !ts.IsZero() {
		unix = ts.Unix()
	}
	return wire.SendLine(s.ch, wire.FormatUpdated(unix))
}

// reqUserInfo returns one identity's profile.
func (s *Session) reqUserInfo(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	if len(cmd.Args) != 1 {
		return errors.BadTokenCount(cmd.Verb, 1, len(cmd.Args))
	}

	ident, err := s.registry.Lookup(cmd.Args[0])
	if err != nil {
		return err
	}
	payload, err := codec.EncodeUserInfo(ident.UserInfo(), s.encoding)
	if err != nil {
		return err
	}
	return wire.SendSized(s.ch, wire.TagServerDataSize, payload)
}

// searchPatient runs a score value search and returns the per-patient
// projections.
func (s *Session) searchPatient(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	crit, err := search.ParseArgs(cmd.Verb, cmd.Args)
	if err != nil {
		return err
	}

	values, err := s.loadValues(record.PrefixValue)
	if err != nil {
		return err
	}

	matches := search.Run(&crit, values, s.readable)
	payload, err := codec.EncodeSearchMatches(matches, s.encoding)
	if err != nil {
		return err
	}
	return wire.SendSized(s.ch, wire.TagServerDataSize, payload)
}

// reqPatient streams one patient: the stored patient stub as a sized
// payload, then the readable sessions as one sized payload (or
// no_session when there are none), then one announcement+payload
// cycle per readable score value, terminated by no_scorevalue.
func (s *Session) reqPatient(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	pid, err := cmd.UintArg(0)
	if err != nil {
		return err
	}

	// A patient the requester cannot read is indistinguishable from
	// one that does not exist.
	if s.patientLevel(pid) < perm.Read {
		s.metrics.RecordsFiltered.Add(1)
		return errors.NotFound("patient")
	}

	raw, err := s.store.Get(record.PatientKey(pid))
	if err != nil {
		if err == storage.ErrNotFound {
			return errors.NotFound("patient")
		}
		return errors.IO(err)
	}
	if err := wire.SendSized(s.ch, wire.TagServerDataSize, raw); err != nil {
		return err
	}

	sessions, err := s.loadSessions(pid)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		if err := wire.SendLine(s.ch, wire.RespNoSession); err != nil {
			return err
		}
	} else {
		payload, err := codec.EncodeSessions(sessions, s.encoding)
		if err != nil {
			return err
		}
		if err := wire.SendSized(s.ch, wire.TagServerDataSize, payload); err != nil {
			return err
		}
	}

	values, err := s.loadValues(record.ValuePrefix(pid))
	if err != nil {
		return err
	}
	for _, v := range values {
		level := s.level(v)
		if level < perm.Read {
			s.metrics.RecordsFiltered.Add(1)
			continue
		}
		payload, err := codec.EncodeScoreValue(v, s.encoding)
		if err != nil {
			return err
		}
		header := wire.FormatScoreValueHeader(len(payload), level.String())
		if err := wire.SendLine(s.ch, header); err != nil {
			return err
		}
		if err := wire.SendPayload(s.ch, payload); err != nil {
			return err
		}
	}

	return wire.SendLine(s.ch, wire.RespNoScoreValue)
}

// putNewUser creates an identity. Payload: UserInfo followed by the
// SRP verifier string.
func (s *Session) putNewUser(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	payload, err := s.recvSizedArg(cmd)
	if err != nil {
		return err
	}

	r := codec.NewReader(payload, s.encoding)
	info, err := codec.ReadUserInfo(r)
	if err != nil {
		return err
	}
	verifier, err := r.CStr("verifier")
	if err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return errors.SizeMismatch(cmd.Verb, len(payload), len(payload)-r.Remaining())
	}
	if s.resourceLevel(record.UserKey(info.Name)) < perm.ReadWrite {
		return errors.AccessDenied(record.UserKey(info.Name))
	}

	txn := s.store.Begin()
	if _, err := s.registry.CreateUser(txn, info.Name, info.RealName, verifier, info.Groups); err != nil {
		txn.Rollback()
		s.metrics.TransactionsAborted.Add(1)
		return err
	}
	if err := txn.Commit(); err != nil {
		s.metrics.TransactionsAborted.Add(1)
		return errors.TxnCommit(err)
	}
	s.metrics.TransactionsCommitted.Add(1)

	log.Info("Identity created", "name", info.Name, "by", s.identity.Name)
	return wire.SendLine(s.ch, wire.RespSuccess)
}

// putScoreName upserts schema nodes.
func (s *Session) putScoreName(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	payload, err := s.recvSizedArg(cmd)
	if err != nil {
		return err
	}
	defs, err := codec.DecodeScoreDefinitions(payload, s.encoding)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if d.Name == "" {
			return errors.MissingField("scorename")
		}
		if s.resourceLevel(d.Name) < perm.ReadWrite {
			return errors.AccessDenied(record.ScoreNameKey(d.Name))
		}
	}

	now := time.Now().UTC()
	txn := s.store.Begin()
	for _, d := range defs {
		buf, err := codec.EncodeScoreDefinitions([]*record.ScoreDefinition{d}, s.encoding)
		if err != nil {
			txn.Rollback()
			s.metrics.TransactionsAborted.Add(1)
			return err
		}
		if err := txn.Put(record.ScoreNameKey(d.Name), buf); err != nil {
			txn.Rollback()
			s.metrics.TransactionsAborted.Add(1)
			return errors.TxnAborted(cmd.Verb, err)
		}
	}
	return s.commitUpdated(txn, cmd.Verb, now)
}

// putPatient creates one patient with its sessions and score values.
// All payloads are received and decoded before the transaction opens,
// so a size mismatch commits nothing and mints no ids.
func (s *Session) putPatient(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	if len(cmd.Args) != 3 {
		return errors.BadTokenCount(cmd.Verb, 3, len(cmd.Args))
	}
	patientLen, err := cmd.IntArg(0)
	if err != nil {
		return err
	}
	sessionLen, err := cmd.IntArg(1)
	if err != nil {
		return err
	}
	valueCount, err := cmd.IntArg(2)
	if err != nil {
		return err
	}
	if valueCount < 0 {
		return errors.BadArgument(cmd.Verb, "negative value count")
	}

	patientBuf, err := wire.RecvPayload(s.ch, patientLen)
	if err != nil {
		return err
	}
	sessionBuf, err := wire.RecvPayload(s.ch, sessionLen)
	if err != nil {
		return err
	}

	pr := codec.NewReader(patientBuf, s.encoding)
	patient, err := codec.ReadPatientInfo(pr)
	if err != nil {
		return err
	}
	if pr.Remaining() != 0 {
		return errors.SizeMismatch(cmd.Verb, patientLen, patientLen-pr.Remaining())
	}
	sessions, err := codec.DecodeSessions(sessionBuf, s.encoding)
	if err != nil {
		return err
	}

	values := make([]*record.ScoreValue, 0, valueCount)
	for i := 0; i < valueCount; i++ {
		v, err := s.recvStreamedValue()
		if err != nil {
			return err
		}
		values = append(values, v)
	}

	// Placeholders must have been remapped by the client before
	// submission.
	if record.IsPlaceholder(patient.ID) || patient.ID == 0 {
		return errors.BadPlaceholder(int64(patient.ID))
	}
	for _, sess := range sessions {
		if record.IsPlaceholder(sess.ID) || sess.ID == 0 {
			return errors.BadPlaceholder(int64(sess.ID))
		}
	}
	for _, v := range values {
		if record.IsPlaceholder(v.ID) || v.ID == 0 {
			return errors.BadPlaceholder(int64(v.ID))
		}
	}

	// The writer needs ReadWrite on every record in the batch; one
	// refusal aborts the whole request before anything commits.
	if s.patientLevel(patient.ID) < perm.ReadWrite {
		return errors.AccessDenied(record.PatientKey(patient.ID))
	}
	for _, sess := range sessions {
		if s.sessionLevel(sess) < perm.ReadWrite {
			return errors.AccessDenied(record.SessionKey(sess.Patient, sess.ID))
		}
	}
	for _, v := range values {
		if s.level(v) < perm.ReadWrite {
			return errors.AccessDenied(record.ValueKey(v.Patient, v.ID))
		}
	}

	now := time.Now().UTC()
	txn := s.store.Begin()
	if err := s.storePatientBatch(txn, patient, sessions, values); err != nil {
		txn.Rollback()
		s.metrics.TransactionsAborted.Add(1)
		return err
	}
	return s.commitUpdated(txn, cmd.Verb, now)
}

// putSession upserts sessions for existing patients. The writer needs
// ReadWrite on every session in the batch.
func (s *Session) putSession(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	payload, err := s.recvSizedArg(cmd)
	if err != nil {
		return err
	}
	sessions, err := codec.DecodeSessions(payload, s.encoding)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if record.IsPlaceholder(sess.ID) || sess.ID == 0 {
			return errors.BadPlaceholder(int64(sess.ID))
		}
		if s.sessionLevel(sess) < perm.ReadWrite {
			return errors.AccessDenied(record.SessionKey(sess.Patient, sess.ID))
		}
	}

	now := time.Now().UTC()
	txn := s.store.Begin()
	for _, sess := range sessions {
		buf, err := codec.EncodeSessions([]*record.SessionRecord{sess}, s.encoding)
		if err != nil {
			txn.Rollback()
			s.metrics.TransactionsAborted.Add(1)
			return err
		}
		if err := txn.Put(record.SessionKey(sess.Patient, sess.ID), buf); err != nil {
			txn.Rollback()
			s.metrics.TransactionsAborted.Add(1)
			return errors.TxnAborted(cmd.Verb, err)
		}
	}
	return s.commitUpdated(txn, cmd.Verb, now)
}

// putScoreValue upserts streamed score values. The writer needs
// ReadWrite on every value it touches.
func (s *Session) putScoreValue(cmd wire.Command) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	count, err := cmd.IntArg(0)
	if err != nil {
		return err
	}
	if count <= 0 {
		return errors.BadArgument(cmd.Verb, "count must be positive")
	}

	values := make([]*record.ScoreValue, 0, count)
	for i := 0; i < count; i++ {
		v, err := s.recvStreamedValue()
		if err != nil {
			return err
		}
		values = append(values, v)
	}

	for _, v := range values {
		if record.IsPlaceholder(v.ID) || v.ID == 0 {
			return errors.BadPlaceholder(int64(v.ID))
		}
		if s.level(v) < perm.ReadWrite {
			return errors.AccessDenied(record.ValueKey(v.Patient, v.ID))
		}
	}

	now := time.Now().UTC()
	txn := s.store.Begin()
	for _, v := range values {
		buf, err := codec.EncodeScoreValue(v, s.encoding)
		if err != nil {
			txn.Rollback()
			s.metrics.TransactionsAborted.Add(1)
			return err
		}
		if err := txn.Put(record.ValueKey(v.Patient, v.ID), buf); err != nil {
			txn.Rollback()
			s.metrics.TransactionsAborted.Add(1)
			return errors.TxnAborted(cmd.Verb, err)
		}
	}
	return s.commitUpdated(txn, cmd.Verb, now)
}

// putPatientList creates a saved patient list.
func (s *Session) putPatientList(cmd wire.Command) error {
	return s.storePatientList(cmd, false)
}

// modPatientList replaces an existing patient list.
func (s *Session) modPatientList(cmd wire.Command) error {
	return s.storePatientList(cmd, true)
}

func (s *Session) storePatientList(cmd wire.Command, mustExist bool) error {
	if err := s.requirePermissions(); err != nil {
		return err
	}
	payload, err := s.recvSizedArg(cmd)
	if err != nil {
		return err
	}
	list, err := codec.DecodePatientList(payload, s.encoding)
	if err != nil {
		return err
	}
	if record.IsPlaceholder(list.ID) || list.ID == 0 {
		return errors.BadPlaceholder(int64(list.ID))
	}
	if s.resourceLevel(perm.FormatSubject(list.ID)) < perm.ReadWrite {
		return errors.AccessDenied(record.PatientListKey(list.ID))
	}

	key := record.PatientListKey(list.ID)
	now := time.Now().UTC()
	txn := s.store.Begin()

	// The existence check runs inside the writing transaction so a
	// concurrent commit cannot slip between check and write.
	_, getErr := txn.Get(key)
	exists := getErr == nil
	if getErr != nil && getErr != storage.ErrNotFound {
		txn.Rollback()
		return errors.IO(getErr)
	}
	if mustExist && !exists {
		txn.Rollback()
		return wire.SendLine(s.ch, wire.RespNoPatientList)
	}
	if !mustExist && exists {
		txn.Rollback()
		return errors.Duplicate("patientlist " + record.FormatID(list.ID))
	}

	buf, err := codec.EncodePatientList(list, s.encoding)
	if err != nil {
		txn.Rollback()
		s.metrics.TransactionsAborted.Add(1)
		return err
	}
	if err := txn.Put(key, buf); err != nil {
		txn.Rollback()
		s.metrics.TransactionsAborted.Add(1)
		return errors.TxnAborted(cmd.Verb, err)
	}
	return s.commitUpdated(txn, cmd.Verb, now)
}

// recvSizedArg receives the payload of a one-argument sized request.
func (s *Session) recvSizedArg(cmd wire.Command) ([]byte, error) {
	n, err := cmd.IntArg(0)
	if err != nil {
		return nil, err
	}
	return wire.RecvPayload(s.ch, n)
}

// recvStreamedValue receives one scorevalue announcement and its
// payload.
func (s *Session) recvStreamedValue() (*record.ScoreValue, error) {
	line, err := wire.RecvLine(s.ch)
	if err != nil {
		return nil, err
	}
	tag, n, _, err := wire.ParseSized(line)
	if err != nil {
		return nil, err
	}
	if tag != wire.TagScoreValue {
		return nil, errors.BadStreamCycle("expected scorevalue announcement, got " + tag)
	}
	payload, err := wire.RecvPayload(s.ch, n)
	if err != nil {
		return nil, err
	}
	return codec.DecodeScoreValue(payload, s.encoding)
}

// storePatientBatch writes one patient with its sessions and values.
func (s *Session) storePatientBatch(txn *storage.Txn, patient *record.PatientInfo,
	sessions []*record.SessionRecord, values []*record.ScoreValue) error {
	buf, err := codec.EncodePatientInfo(patient, s.encoding)
	if err != nil {
		return err
	}
	if err := txn.Put(record.PatientKey(patient.ID), buf); err != nil {
		return errors.TxnAborted("put_patient", err)
	}
	for _, sess := range sessions {
		if sess.Patient == 0 {
			sess.Patient = patient.ID
		}
		buf, err := codec.EncodeSessions([]*record.SessionRecord{sess}, s.encoding)
		if err != nil {
			return err
		}
		if err := txn.Put(record.SessionKey(sess.Patient, sess.ID), buf); err != nil {
			return errors.TxnAborted("put_patient", err)
		}
	}
	for _, v := range values {
		if v.Patient == 0 {
			v.Patient = patient.ID
		}
		buf, err := codec.EncodeScoreValue(v, s.encoding)
		if err != nil {
			return err
		}
		if err := txn.Put(record.ValueKey(v.Patient, v.ID), buf); err != nil {
			return errors.TxnAborted("put_patient", err)
		}
	}
	return nil
}

// commitUpdated advances the store timestamp, commits, and reports the
// new timestamp to the client.
func (s *Session) commitUpdated(txn *storage.Txn, verb string, now time.Time) error {
	if err := txn.SetLastUpdated(now); err != nil {
		txn.Rollback()
		s.metrics.TransactionsAborted.Add(1)
		return err
	}
	if err := txn.Commit(); err != nil {
		s.metrics.TransactionsAborted.Add(1)
		return errors.TxnCommit(err)
	}
	s.metrics.TransactionsCommitted.Add(1)
	return wire.SendLine(s.ch, wire.FormatUpdated(now.Unix()))
}

// loadValues decodes every score value under a key prefix in key
// order.
func (s *Session) loadValues(prefix string) ([]*record.ScoreValue, error) {
	raw, err := s.store.Scan(prefix)
	if err != nil {
		return nil, errors.IO(err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]*record.ScoreValue, 0, len(keys))
	for _, k := range keys {
		v, err := codec.DecodeScoreValue(raw[k], s.encoding)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// loadSessions decodes one patient's readable sessions in key order.
func (s *Session) loadSessions(pid uint64) ([]*record.SessionRecord, error) {
	raw, err := s.store.Scan(record.SessionPrefix(pid))
	if err != nil {
		return nil, errors.IO(err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sessions := make([]*record.SessionRecord, 0, len(keys))
	for _, k := range keys {
		decoded, err := codec.DecodeSessions(raw[k], s.encoding)
		if err != nil {
			return nil, err
		}
		for _, sess := range decoded {
			level := s.perms.Resolve(s.subjects,
				perm.Candidates(sess.ID, pid, "", sess.ID))
			if level < perm.Read {
				s.metrics.RecordsFiltered.Add(1)
				continue
			}
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}
