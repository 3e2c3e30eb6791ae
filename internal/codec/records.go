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

package codec

import (
	"fmt"

	"patientdb/internal/errors"
	"patientdb/internal/perm"
	"patientdb/internal/record"
)

// Record layouts. Every record is self-describing: a reader that
// knows the type can consume exactly one record from a concatenated
// buffer and leave the cursor on the next.

// AppendScoreValue encodes one score value.
//
// Layout: id u64 | patient u64 | sessionid u64 | parentid u64 |
// index u32 | deleted u8 | perm u8 | kind u8 | reserved u8 |
// modified i64 | author u64 | scorename cstr | payload.
//
// The payload variant follows the kind: string and enum labels are
// null-terminated, datetime is i64, number is the float's bits, image
// and volume payloads are length-prefixed raw bytes.
func AppendScoreValue(w *Writer, v *record.ScoreValue) error {
	w.U64(v.ID)
	w.U64(v.Patient)
	w.U64(v.SessionID)
	w.U64(v.ParentID)
	w.U32(v.Index)
	w.Bool(v.Deleted)
	w.U8(v.Perm)
	w.U8(uint8(v.Kind))
	w.U8(0) // reserved
	w.I64(v.Modified)
	w.U64(v.Author)
	if err := w.CStr(v.ScoreName); err != nil {
		return err
	}

	switch v.Kind {
	case record.KindString:
		return w.CStr(v.StringVal)
	case record.KindDateTime:
		w.I64(v.TimeVal)
	case record.KindNumber:
		w.F64(v.NumberVal)
	case record.KindEnum:
		w.U32(v.EnumIndex)
		return w.CStr(v.EnumLabel)
	case record.KindImage, record.KindVolume:
		w.U32(uint32(len(v.ImageData)))
		w.Raw(v.ImageData)
	default:
		return errors.CorruptRecord(errors.CodeUnknownDataKind,
			fmt.Sprintf("cannot encode data kind %d", v.Kind))
	}
	return nil
}

// EncodeScoreValue encodes one score value into a fresh buffer.
func EncodeScoreValue(v *record.ScoreValue, enc TextEncoding) ([]byte, error) {
	w := NewWriter(enc)
	if err := AppendScoreValue(w, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// readScoreValueHeader consumes the fixed fields and schema name.
func readScoreValueHeader(r *Reader) (*record.ScoreValue, error) {
	var v record.ScoreValue
	var err error

	if v.ID, err = r.U64("scorevalue.id"); err != nil {
		return nil, err
	}
	if v.Patient, err = r.U64("scorevalue.patient"); err != nil {
		return nil, err
	}
	if v.SessionID, err = r.U64("scorevalue.sessionid"); err != nil {
		return nil, err
	}
	if v.ParentID, err = r.U64("scorevalue.parentid"); err != nil {
		return nil, err
	}
	if v.Index, err = r.U32("scorevalue.index"); err != nil {
		return nil, err
	}
	if v.Deleted, err = r.Bool("scorevalue.deleted"); err != nil {
		return nil, err
	}
	if v.Perm, err = r.U8("scorevalue.perm"); err != nil {
		return nil, err
	}
	kind, err := r.U8("scorevalue.kind")
	if err != nil {
		return nil, err
	}
	v.Kind = record.DataKind(kind)
	if _, err = r.U8("scorevalue.reserved"); err != nil {
		return nil, err
	}
	if v.Modified, err = r.I64("scorevalue.modified"); err != nil {
		return nil, err
	}
	if v.Author, err = r.U64("scorevalue.author"); err != nil {
		return nil, err
	}
	if v.ScoreName, err = r.CStr("scorevalue.scorename"); err != nil {
		return nil, err
	}
	return &v, nil
}

// ReadScoreValueHeader decodes the header fields only, leaving the
// cursor at the payload. Filtering can decide on the header alone
// without paying for payload decode.
func ReadScoreValueHeader(r *Reader) (*record.ScoreValue, error) {
	return readScoreValueHeader(r)
}

// ReadScoreValue decodes one complete score value.
func ReadScoreValue(r *Reader) (*record.ScoreValue, error) {
	v, err := readScoreValueHeader(r)
	if err != nil {
		return nil, err
	}

	switch v.Kind {
	case record.KindString:
		if v.StringVal, err = r.CStr("scorevalue.string"); err != nil {
			return nil, err
		}
	case record.KindDateTime:
		if v.TimeVal, err = r.I64("scorevalue.datetime"); err != nil {
			return nil, err
		}
	case record.KindNumber:
		if v.NumberVal, err = r.F64("scorevalue.number"); err != nil {
			return nil, err
		}
	case record.KindEnum:
		if v.EnumIndex, err = r.U32("scorevalue.enumindex"); err != nil {
			return nil, err
		}
		if v.EnumLabel, err = r.CStr("scorevalue.enumlabel"); err != nil {
			return nil, err
		}
	case record.KindImage, record.KindVolume:
		n, err := r.U32("scorevalue.imagelen")
		if err != nil {
			return nil, err
		}
		if v.ImageData, err = r.Take(int(n), "scorevalue.imagedata"); err != nil {
			return nil, err
		}
	default:
		return nil, errors.CorruptRecord(errors.CodeUnknownDataKind,
			fmt.Sprintf("cannot decode data kind %d", v.Kind))
	}
	return v, nil
}

// DecodeScoreValue decodes exactly one score value from buf.
func DecodeScoreValue(buf []byte, enc TextEncoding) (*record.ScoreValue, error) {
	return ReadScoreValue(NewReader(buf, enc))
}

// DecodeScoreValues decodes a concatenation of score values.
func DecodeScoreValues(buf []byte, enc TextEncoding) ([]*record.ScoreValue, error) {
	r := NewReader(buf, enc)
	var out []*record.ScoreValue
	for r.Remaining() > 0 {
		v, err := ReadScoreValue(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// AppendSession encodes one session record.
//
// Layout: id u64 | patient u64 | examiner u64 | date i64 |
// public u8 | notes cstr.
func AppendSession(w *Writer, s *record.SessionRecord) error {
	w.U64(s.ID)
	w.U64(s.Patient)
	w.U64(s.Examiner)
	w.I64(s.Date)
	w.Bool(s.Public)
	return w.CStr(s.Notes)
}

// ReadSession decodes one session record.
func ReadSession(r *Reader) (*record.SessionRecord, error) {
	var s record.SessionRecord
	var err error

	if s.ID, err = r.U64("session.id"); err != nil {
		return nil, err
	}
	if s.Patient, err = r.U64("session.patient"); err != nil {
		return nil, err
	}
	if s.Examiner, err = r.U64("session.examiner"); err != nil {
		return nil, err
	}
	if s.Date, err = r.I64("session.date"); err != nil {
		return nil, err
	}
	if s.Public, err = r.Bool("session.public"); err != nil {
		return nil, err
	}
	if s.Notes, err = r.CStr("session.notes"); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodeSessions encodes a concatenation of session records.
func EncodeSessions(sessions []*record.SessionRecord, enc TextEncoding) ([]byte, error) {
	w := NewWriter(enc)
	for _, s := range sessions {
		if err := AppendSession(w, s); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeSessions decodes a concatenation of session records.
func DecodeSessions(buf []byte, enc TextEncoding) ([]*record.SessionRecord, error) {
	r := NewReader(buf, enc)
	var out []*record.SessionRecord
	for r.Remaining() > 0 {
		s, err := ReadSession(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Capability flag bits of an encoded score definition.
const (
	defFlagLeaf         = 1 << 0
	defFlagRepeating    = 1 << 1
	defFlagSearchable   = 1 << 2
	defFlagCustomizable = 1 << 3
)

// AppendScoreDefinition encodes one schema node.
//
// Layout: kind u8 | flags u8 | name cstr | default cstr.
func AppendScoreDefinition(w *Writer, d *record.ScoreDefinition) error {
	w.U8(uint8(d.Kind))
	var flags uint8
	if d.Leaf {
		flags |= defFlagLeaf
	}
	if d.Repeating {
		flags |= defFlagRepeating
	}
	if d.Searchable {
		flags |= defFlagSearchable
	}
	if d.Customizable {
		flags |= defFlagCustomizable
	}
	w.U8(flags)
	if err := w.CStr(d.Name); err != nil {
		return err
	}
	return w.CStr(d.Default)
}

// ReadScoreDefinition decodes one schema node.
func ReadScoreDefinition(r *Reader) (*record.ScoreDefinition, error) {
	var d record.ScoreDefinition

	kind, err := r.U8("scoredef.kind")
	if err != nil {
		return nil, err
	}
	d.Kind = record.DataKind(kind)
	flags, err := r.U8("scoredef.flags")
	if err != nil {
		return nil, err
	}
	d.Leaf = flags&defFlagLeaf != 0
	d.Repeating = flags&defFlagRepeating != 0
	d.Searchable = flags&defFlagSearchable != 0
	d.Customizable = flags&defFlagCustomizable != 0
	if d.Name, err = r.CStr("scoredef.name"); err != nil {
		return nil, err
	}
	if d.Default, err = r.CStr("scoredef.default"); err != nil {
		return nil, err
	}
	return &d, nil
}

// EncodeScoreDefinitions encodes a concatenation of schema nodes.
func EncodeScoreDefinitions(defs []*record.ScoreDefinition, enc TextEncoding) ([]byte, error) {
	w := NewWriter(enc)
	for _, d := range defs {
		if err := AppendScoreDefinition(w, d); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeScoreDefinitions decodes a concatenation of schema nodes.
func DecodeScoreDefinitions(buf []byte, enc TextEncoding) ([]*record.ScoreDefinition, error) {
	r := NewReader(buf, enc)
	var out []*record.ScoreDefinition
	for r.Remaining() > 0 {
		d, err := ReadScoreDefinition(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// AppendPermissionEntry encodes one permission entry.
//
// Layout: level u8 | subject cstr | resource cstr.
func AppendPermissionEntry(w *Writer, e perm.Entry) error {
	w.U8(uint8(e.Level))
	if err := w.CStr(e.Subject); err != nil {
		return err
	}
	return w.CStr(e.Resource)
}

// ReadPermissionEntry decodes one permission entry.
func ReadPermissionEntry(r *Reader) (perm.Entry, error) {
	var e perm.Entry

	level, err := r.U8("perm.level")
	if err != nil {
		return e, err
	}
	e.Level = perm.Level(level)
	if e.Subject, err = r.CStr("perm.subject"); err != nil {
		return e, err
	}
	if e.Resource, err = r.CStr("perm.resource"); err != nil {
		return e, err
	}
	return e, nil
}

// EncodePermissionEntries encodes a concatenation of permission
// entries.
func EncodePermissionEntries(entries []perm.Entry, enc TextEncoding) ([]byte, error) {
	w := NewWriter(enc)
	for _, e := range entries {
		if err := AppendPermissionEntry(w, e); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodePermissionEntries decodes a concatenation of permission
// entries.
func DecodePermissionEntries(buf []byte, enc TextEncoding) ([]perm.Entry, error) {
	r := NewReader(buf, enc)
	var out []perm.Entry
	for r.Remaining() > 0 {
		e, err := ReadPermissionEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// AppendPatientInfo encodes one patient stub.
//
// Layout: id u64 | created i64 | author u64 | code cstr.
func AppendPatientInfo(w *Writer, p *record.PatientInfo) error {
	w.U64(p.ID)
	w.I64(p.Created)
	w.U64(p.Author)
	return w.CStr(p.Code)
}

// ReadPatientInfo decodes one patient stub.
func ReadPatientInfo(r *Reader) (*record.PatientInfo, error) {
	var p record.PatientInfo
	var err error

	if p.ID, err = r.U64("patient.id"); err != nil {
		return nil, err
	}
	if p.Created, err = r.I64("patient.created"); err != nil {
		return nil, err
	}
	if p.Author, err = r.U64("patient.author"); err != nil {
		return nil, err
	}
	if p.Code, err = r.CStr("patient.code"); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodePatientInfo encodes one patient stub into a fresh buffer.
func EncodePatientInfo(p *record.PatientInfo, enc TextEncoding) ([]byte, error) {
	w := NewWriter(enc)
	if err := AppendPatientInfo(w, p); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodePatientInfo decodes exactly one patient stub from buf.
func DecodePatientInfo(buf []byte, enc TextEncoding) (*record.PatientInfo, error) {
	return ReadPatientInfo(NewReader(buf, enc))
}

// AppendUserInfo encodes one identity profile.
//
// Layout: id u64 | groupcount u32 | groups u64... | name cstr |
// realname cstr.
func AppendUserInfo(w *Writer, u *record.UserInfo) error {
	w.U64(u.ID)
	w.U32(uint32(len(u.Groups)))
	for _, g := range u.Groups {
		w.U64(g)
	}
	if err := w.CStr(u.Name); err != nil {
		return err
	}
	return w.CStr(u.RealName)
}

// ReadUserInfo decodes one identity profile.
func ReadUserInfo(r *Reader) (*record.UserInfo, error) {
	var u record.UserInfo
	var err error

	if u.ID, err = r.U64("user.id"); err != nil {
		return nil, err
	}
	n, err := r.U32("user.groupcount")
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		g, err := r.U64("user.group")
		if err != nil {
			return nil, err
		}
		u.Groups = append(u.Groups, g)
	}
	if u.Name, err = r.CStr("user.name"); err != nil {
		return nil, err
	}
	if u.RealName, err = r.CStr("user.realname"); err != nil {
		return nil, err
	}
	return &u, nil
}

// EncodeUserInfo encodes one identity profile into a fresh buffer.
func EncodeUserInfo(u *record.UserInfo, enc TextEncoding) ([]byte, error) {
	w := NewWriter(enc)
	if err := AppendUserInfo(w, u); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeUserInfo decodes exactly one identity profile from buf.
func DecodeUserInfo(buf []byte, enc TextEncoding) (*record.UserInfo, error) {
	return ReadUserInfo(NewReader(buf, enc))
}

// AppendPatientList encodes one saved patient list.
//
// Layout: id u64 | author u64 | modified i64 | count u32 |
// patients u64... | name cstr.
func AppendPatientList(w *Writer, l *record.PatientList) error {
	w.U64(l.ID)
	w.U64(l.Author)
	w.I64(l.Modified)
	w.U32(uint32(len(l.Patients)))
	for _, p := range l.Patients {
		w.U64(p)
	}
	return w.CStr(l.Name)
}

// ReadPatientList decodes one saved patient list.
func ReadPatientList(r *Reader) (*record.PatientList, error) {
	var l record.PatientList
	var err error

	if l.ID, err = r.U64("patientlist.id"); err != nil {
		return nil, err
	}
	if l.Author, err = r.U64("patientlist.author"); err != nil {
		return nil, err
	}
	if l.Modified, err = r.I64("patientlist.modified"); err != nil {
		return nil, err
	}
	n, err := r.U32("patientlist.count")
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		p, err := r.U64("patientlist.patient")
		if err != nil {
			return nil, err
		}
		l.Patients = append(l.Patients, p)
	}
	if l.Name, err = r.CStr("patientlist.name"); err != nil {
		return nil, err
	}
	return &l, nil
}

// EncodePatientList encodes one saved patient list into a fresh
// buffer.
func EncodePatientList(l *record.PatientList, enc TextEncoding) ([]byte, error) {
	w := NewWriter(enc)
	if err := AppendPatientList(w, l); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodePatientList decodes exactly one saved patient list from buf.
func DecodePatientList(buf []byte, enc TextEncoding) (*record.PatientList, error) {
	return ReadPatientList(NewReader(buf, enc))
}

// AppendSearchMatch encodes one search result projection.
//
// Layout: patient u64 | fieldcount u32 | (name cstr | value cstr)...
func AppendSearchMatch(w *Writer, m *record.SearchMatch) error {
	w.U64(m.Patient)
	w.U32(uint32(len(m.Fields)))
	for _, f := range m.Fields {
		if err := w.CStr(f.Name); err != nil {
			return err
		}
		if err := w.CStr(f.Value); err != nil {
			return err
		}
	}
	return nil
}

// ReadSearchMatch decodes one search result projection.
func ReadSearchMatch(r *Reader) (*record.SearchMatch, error) {
	var m record.SearchMatch

	patient, err := r.U64("searchmatch.patient")
	if err != nil {
		return nil, err
	}
	m.Patient = patient
	n, err := r.U32("searchmatch.fieldcount")
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.CStr("searchmatch.fieldname")
		if err != nil {
			return nil, err
		}
		value, err := r.CStr("searchmatch.fieldvalue")
		if err != nil {
			return nil, err
		}
		m.AddField(name, value)
	}
	return &m, nil
}

// EncodeSearchMatches encodes a concatenation of search results.
func EncodeSearchMatches(matches []*record.SearchMatch, enc TextEncoding) ([]byte, error) {
	w := NewWriter(enc)
	for _, m := range matches {
		if err := AppendSearchMatch(w, m); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeSearchMatches decodes a concatenation of search results.
func DecodeSearchMatches(buf []byte, enc TextEncoding) ([]*record.SearchMatch, error) {
	r := NewReader(buf, enc)
	var out []*record.SearchMatch
	for r.Remaining() > 0 {
		m, err := ReadSearchMatch(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
