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
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"patientdb/internal/codec"
	"patientdb/internal/errors"
	"patientdb/internal/perm"
	"patientdb/internal/record"
	"patientdb/internal/search"
	"patientdb/internal/secure"
	"patientdb/internal/wire"
)

// Remote is the network facade. Login dials the server, runs the SRP
// handshake, and every subsequent call is one synchronous request on
// the encrypted channel. One request is in flight at a time.
type Remote struct {
	addr     string
	ch       *secure.Channel
	encoding codec.TextEncoding
}

// NewRemote creates a facade for the given server address. Nothing is
// dialed until Login.
func NewRemote(addr string) *Remote {
	return &Remote{addr: addr, encoding: codec.EncodingUTF8}
}

// Login dials the server and authenticates. A failed handshake leaves
// the facade unauthenticated; the caller may retry with corrected
// credentials.
func (r *Remote) Login(identity, password string) error {
	conn, err := net.Dial("tcp", r.addr)
	if err != nil {
		return errors.ConnectionLost(err)
	}
	ch, err := secure.ClientHandshake(conn, identity, password)
	if err != nil {
		conn.Close()
		return err
	}
	r.ch = ch
	return nil
}

// Exit tells the server the session is over and closes the channel.
func (r *Remote) Exit() error {
	if r.ch == nil {
		return nil
	}
	defer func() {
		r.ch.Close()
		r.ch = nil
	}()
	if err := wire.SendLine(r.ch, wire.VerbExit); err != nil {
		return errors.RequestNotSent(err)
	}
	line, err := wire.RecvLine(r.ch)
	if err != nil {
		return err
	}
	if line != wire.RespSuccess {
		return errors.MalformedResponse("exit: " + line)
	}
	return nil
}

func (r *Remote) requireAuth() error {
	if r.ch == nil {
		return errors.NotAuthenticated()
	}
	return nil
}

// sendLine transmits one request line, tagging failures as
// request-not-sent.
func (r *Remote) sendLine(line string) error {
	if err := wire.SendLine(r.ch, line); err != nil {
		return errors.RequestNotSent(err)
	}
	return nil
}

// recvStatus receives a response line, recognizing error responses.
func (r *Remote) recvStatus() (string, error) {
	line, err := wire.RecvLine(r.ch)
	if err != nil {
		return "", err
	}
	if serverErr, ok := wire.ParseError(line); ok {
		return "", serverErr
	}
	return line, nil
}

// recvSized receives a server_data_size announcement and its payload.
func (r *Remote) recvSized() ([]byte, error) {
	line, err := r.recvStatus()
	if err != nil {
		return nil, err
	}
	tag, n, _, err := wire.ParseSized(line)
	if err != nil {
		return nil, errors.MalformedResponse(line)
	}
	if tag != wire.TagServerDataSize {
		return nil, errors.MalformedResponse("unexpected tag " + tag)
	}
	return wire.RecvPayload(r.ch, n)
}

// recvUpdated receives an updated:<unix> response.
func (r *Remote) recvUpdated() (time.Time, error) {
	line, err := r.recvStatus()
	if err != nil {
		return time.Time{}, err
	}
	unix, ok := wire.ParseUpdated(line)
	if !ok {
		return time.Time{}, errors.MalformedResponse(line)
	}
	return time.Unix(unix, 0).UTC(), nil
}

// PutNewUser creates an identity on the server.
func (r *Remote) PutNewUser(info *record.UserInfo, verifier string) error {
	if err := r.requireAuth(); err != nil {
		return err
	}
	w := codec.NewWriter(r.encoding)
	if err := codec.AppendUserInfo(w, info); err != nil {
		return err
	}
	if err := w.CStr(verifier); err != nil {
		return err
	}
	payload := w.Bytes()

	if err := r.sendLine(fmt.Sprintf("%s %d", wire.VerbPutNewUser, len(payload))); err != nil {
		return err
	}
	if err := wire.SendPayload(r.ch, payload); err != nil {
		return errors.RequestNotSent(err)
	}
	line, err := r.recvStatus()
	if err != nil {
		return err
	}
	if line != wire.RespSuccess {
		return errors.MalformedResponse("put_new_user: " + line)
	}
	return nil
}

// PutNewScoreName upserts schema nodes on the server.
func (r *Remote) PutNewScoreName(defs []*record.ScoreDefinition) (time.Time, error) {
	if err := r.requireAuth(); err != nil {
		return time.Time{}, err
	}
	payload, err := codec.EncodeScoreDefinitions(defs, r.encoding)
	if err != nil {
		return time.Time{}, err
	}
	if err := r.sendSizedRequest(wire.VerbPutScoreName, payload); err != nil {
		return time.Time{}, err
	}
	return r.recvUpdated()
}

// PutNewPatient reserves ids for the batch's placeholders, remaps, and
// submits patient, sessions, and streamed values as one request. A
// failed reservation aborts before any byte of the batch is sent.
func (r *Remote) PutNewPatient(patient *record.PatientInfo, sessions []*record.SessionRecord,
	values []*record.ScoreValue) (time.Time, error) {
	if err := r.requireAuth(); err != nil {
		return time.Time{}, err
	}
	if patient == nil {
		return time.Time{}, errors.MissingField("patient")
	}

	if m := countPlaceholders(patient, sessions, values); m > 0 {
		first, err := r.ReqID(m)
		if err != nil {
			return time.Time{}, err
		}
		if _, err := record.Remap(first, uint64(m), patient, sessions, values); err != nil {
			return time.Time{}, err
		}
	}

	patientBuf, err := codec.EncodePatientInfo(patient, r.encoding)
	if err != nil {
		return time.Time{}, err
	}
	sessionBuf, err := codec.EncodeSessions(sessions, r.encoding)
	if err != nil {
		return time.Time{}, err
	}

	line := fmt.Sprintf("%s %d %d %d", wire.VerbPutPatient,
		len(patientBuf), len(sessionBuf), len(values))
	if err := r.sendLine(line); err != nil {
		return time.Time{}, err
	}
	if err := wire.SendPayload(r.ch, patientBuf); err != nil {
		return time.Time{}, errors.RequestNotSent(err)
	}
	if err := wire.SendPayload(r.ch, sessionBuf); err != nil {
		return time.Time{}, errors.RequestNotSent(err)
	}
	for _, v := range values {
		if err := r.sendStreamedValue(v); err != nil {
			return time.Time{}, err
		}
	}
	return r.recvUpdated()
}

// PutNewSession upserts sessions on the server.
func (r *Remote) PutNewSession(sessions []*record.SessionRecord) (time.Time, error) {
	if err := r.requireAuth(); err != nil {
		return time.Time{}, err
	}
	payload, err := codec.EncodeSessions(sessions, r.encoding)
	if err != nil {
		return time.Time{}, err
	}
	if err := r.sendSizedRequest(wire.VerbPutSession, payload); err != nil {
		return time.Time{}, err
	}
	return r.recvUpdated()
}

// PutScoreValues streams values to the server one announcement and
// payload pair at a time.
func (r *Remote) PutScoreValues(values []*record.ScoreValue) (time.Time, error) {
	if err := r.requireAuth(); err != nil {
		return time.Time{}, err
	}
	if len(values) == 0 {
		return time.Time{}, errors.BadArgument(wire.VerbPutScoreValue, "empty batch")
	}
	if err := r.sendLine(fmt.Sprintf("%s %d", wire.VerbPutScoreValue, len(values))); err != nil {
		return time.Time{}, err
	}
	for _, v := range values {
		if err := r.sendStreamedValue(v); err != nil {
			return time.Time{}, err
		}
	}
	return r.recvUpdated()
}

// PutPatientList creates or replaces a saved patient list on the
// server.
func (r *Remote) PutPatientList(list *record.PatientList, modify bool) (time.Time, error) {
	if err := r.requireAuth(); err != nil {
		return time.Time{}, err
	}
	payload, err := codec.EncodePatientList(list, r.encoding)
	if err != nil {
		return time.Time{}, err
	}
	verb := wire.VerbPutPatientList
	if modify {
		verb = wire.VerbModPatientList
	}
	if err := r.sendSizedRequest(verb, payload); err != nil {
		return time.Time{}, err
	}

	line, err := r.recvStatus()
	if err != nil {
		return time.Time{}, err
	}
	if line == wire.RespNoPatientList {
		return time.Time{}, errors.NotFound("patientlist")
	}
	unix, ok := wire.ParseUpdated(line)
	if !ok {
		return time.Time{}, errors.MalformedResponse(line)
	}
	return time.Unix(unix, 0).UTC(), nil
}

// ReqID reserves count consecutive server ids.
func (r *Remote) ReqID(count int) (uint64, error) {
	if err := r.requireAuth(); err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, errors.BadArgument(wire.VerbReqID, "count must be positive")
	}
	if err := r.sendLine(fmt.Sprintf("%s %d", wire.VerbReqID, count)); err != nil {
		return 0, err
	}
	payload, err := r.recvSized()
	if err != nil {
		return 0, err
	}
	rd := codec.NewReader(payload, r.encoding)
	first, err := rd.U64("first_id")
	if err != nil {
		return 0, errors.MalformedResponse("req_id payload")
	}
	return first, nil
}

// ReqTime fetches the server's last-update timestamp.
func (r *Remote) ReqTime() (time.Time, error) {
	if err := r.requireAuth(); err != nil {
		return time.Time{}, err
	}
	if err := r.sendLine(wire.VerbReqTime); err != nil {
		return time.Time{}, err
	}
	unix, err := r.recvUpdated()
	if err != nil {
		return time.Time{}, err
	}
	if unix.Unix() == 0 {
		return time.Time{}, nil
	}
	return unix, nil
}

// ReqUser fetches one identity's profile.
func (r *Remote) ReqUser(name string) (*record.UserInfo, error) {
	if err := r.requireAuth(); err != nil {
		return nil, err
	}
	if err := r.sendLine(wire.VerbReqUserInfo + " " + name); err != nil {
		return nil, err
	}
	payload, err := r.recvSized()
	if err != nil {
		return nil, err
	}
	return codec.DecodeUserInfo(payload, r.encoding)
}

// ReqSearchPatient runs a server-side search.
func (r *Remote) ReqSearchPatient(c *search.Criteria) ([]*record.SearchMatch, error) {
	if err := r.requireAuth(); err != nil {
		return nil, err
	}
	line := wire.VerbSearchPatient + " " + strings.Join(c.Args(), " ")
	if err := r.sendLine(line); err != nil {
		return nil, err
	}
	payload, err := r.recvSized()
	if err != nil {
		return nil, err
	}
	return codec.DecodeSearchMatches(payload, r.encoding)
}

// ReqOnePatient fetches one patient: the patient stub, the session
// aggregate (or no_session), then the score value stream.
func (r *Remote) ReqOnePatient(id uint64) (*record.PatientRecord, error) {
	if err := r.requireAuth(); err != nil {
		return nil, err
	}
	if err := r.sendLine(wire.VerbReqPatient + " " + strconv.FormatUint(id, 10)); err != nil {
		return nil, err
	}

	stub, err := r.recvSized()
	if err != nil {
		return nil, err
	}
	info, err := codec.DecodePatientInfo(stub, r.encoding)
	if err != nil {
		return nil, err
	}
	pr := record.NewPatientRecord(*info)

	line, err := r.recvStatus()
	if err != nil {
		return nil, err
	}
	if line != wire.RespNoSession {
		tag, n, _, perr := wire.ParseSized(line)
		if perr != nil || tag != wire.TagServerDataSize {
			return nil, errors.MalformedResponse(line)
		}
		payload, err := wire.RecvPayload(r.ch, n)
		if err != nil {
			return nil, err
		}
		sessions, err := codec.DecodeSessions(payload, r.encoding)
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			pr.AddSession(s)
		}
	}

	for {
		line, err := r.recvStatus()
		if err != nil {
			return nil, err
		}
		if line == wire.RespNoScoreValue {
			break
		}
		tag, n, extra, perr := wire.ParseSized(line)
		if perr != nil || tag != wire.TagScoreValue {
			return nil, errors.MalformedResponse(line)
		}
		payload, err := wire.RecvPayload(r.ch, n)
		if err != nil {
			return nil, err
		}
		v, err := codec.DecodeScoreValue(payload, r.encoding)
		if err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			if level, ok := perm.ParseLevel(extra[0]); ok {
				v.Perm = uint8(level)
			}
		}
		pr.AddValue(v)
	}

	pr.RebuildIndexes()
	return pr, nil
}

// sendSizedRequest sends "<verb> <len>" followed by the payload.
func (r *Remote) sendSizedRequest(verb string, payload []byte) error {
	if err := r.sendLine(fmt.Sprintf("%s %d", verb, len(payload))); err != nil {
		return err
	}
	if err := wire.SendPayload(r.ch, payload); err != nil {
		return errors.RequestNotSent(err)
	}
	return nil
}

// sendStreamedValue sends one scorevalue announcement and payload.
func (r *Remote) sendStreamedValue(v *record.ScoreValue) error {
	payload, err := codec.EncodeScoreValue(v, r.encoding)
	if err != nil {
		return err
	}
	if err := wire.SendSized(r.ch, wire.TagScoreValue, payload); err != nil {
		return errors.RequestNotSent(err)
	}
	return nil
}
