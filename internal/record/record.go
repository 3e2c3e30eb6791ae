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
Package record defines the PatientDB data model: score definitions
(the hierarchical schema), score values, sessions, patients, patient
lists, and the id-remap step that turns client-side placeholder ids
into real ones.

Ids are uint64 everywhere they are persisted. A client creating new
records uses negative int64 placeholders until the server mints real
ids for the whole batch (see Remap).
*/
package record

import (
	"strconv"
	"strings"
	"time"
)

// DataKind selects the payload variant of a ScoreValue.
type DataKind uint8

const (
	KindString DataKind = iota
	KindDateTime
	KindNumber
	KindImage
	KindVolume
	KindEnum
)

// String returns the kind's schema-file spelling.
func (k DataKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindDateTime:
		return "datetime"
	case KindNumber:
		return "number"
	case KindImage:
		return "image"
	case KindVolume:
		return "volume"
	case KindEnum:
		return "enum"
	}
	return "unknown"
}

// ParseDataKind parses a schema-file kind name.
func ParseDataKind(s string) (DataKind, bool) {
	switch strings.ToLower(s) {
	case "string":
		return KindString, true
	case "datetime", "date", "time":
		return KindDateTime, true
	case "number", "numeric":
		return KindNumber, true
	case "image":
		return KindImage, true
	case "volume":
		return KindVolume, true
	case "enum", "enumerated":
		return KindEnum, true
	}
	return 0, false
}

// ScoreDefinition is one node of the hierarchical schema tree. The
// `:`-delimited Name encodes parentage: demographics:firstname is a
// child of demographics.
type ScoreDefinition struct {
	Name string
	Kind DataKind

	// Capability flags.
	Leaf         bool
	Repeating    bool
	Searchable   bool
	Customizable bool

	// Default is the optional default value, schema-file spelling.
	Default string
}

// Parent returns the name of the definition's parent node, or "" for
// a root node.
func (d *ScoreDefinition) Parent() string {
	i := strings.LastIndex(d.Name, ":")
	if i < 0 {
		return ""
	}
	return d.Name[:i]
}

// ScoreValue is one concrete instance of a schema node for one
// patient. The payload variant in use is selected by Kind; the other
// payload fields are zero. Permission is never stored with the value,
// the Perm byte only carries a resolved level on the wire.
type ScoreValue struct {
	ID        uint64
	Patient   uint64
	SessionID uint64 // 0 = not tied to a session
	ParentID  uint64 // 0 = root of the patient's value tree
	Index     uint32 // repetition index for repeating schema nodes
	Deleted   bool
	Perm      uint8 // wire-only resolved permission, 0 at rest
	Kind      DataKind
	Modified  int64 // unix seconds of last modification
	Author    uint64
	ScoreName string

	// Payload variants.
	StringVal string  // KindString
	TimeVal   int64   // KindDateTime, unix seconds
	NumberVal float64 // KindNumber
	EnumIndex uint32  // KindEnum
	EnumLabel string  // KindEnum
	ImageData []byte  // KindImage, KindVolume
}

// PayloadString renders the payload for search matching and result
// projections. Numbers render without trailing zeros, datetimes in
// RFC 3339 UTC. Image and volume payloads have no text form; see
// HasTextForm.
func (v *ScoreValue) PayloadString() string {
	switch v.Kind {
	case KindString:
		return v.StringVal
	case KindEnum:
		return v.EnumLabel
	case KindNumber:
		return strconv.FormatFloat(v.NumberVal, 'f', -1, 64)
	case KindDateTime:
		return time.Unix(v.TimeVal, 0).UTC().Format(time.RFC3339)
	}
	return ""
}

// HasTextForm reports whether the payload renders to text that pattern
// matching may compare against. Binary payloads do not; their empty
// rendering must never satisfy an empty-pattern search.
func (v *ScoreValue) HasTextForm() bool {
	switch v.Kind {
	case KindImage, KindVolume:
		return false
	}
	return true
}

// SessionRecord describes one examination session of a patient.
type SessionRecord struct {
	ID       uint64
	Patient  uint64
	Examiner uint64
	Date     int64 // unix seconds
	Public   bool
	Notes    string
}

// PatientInfo is the stored patient stub. Clinical content lives in
// score values; the stub only carries the pseudonymized code assigned
// at intake.
type PatientInfo struct {
	ID      uint64
	Code    string
	Created int64
	Author  uint64
}

// UserInfo is the profile a req_usr_info call returns. It never
// carries verifier material.
type UserInfo struct {
	ID       uint64
	Name     string
	RealName string
	Groups   []uint64
}

// PatientList is a saved search result: a named, ordered set of
// patient ids.
type PatientList struct {
	ID       uint64
	Name     string
	Author   uint64
	Modified int64
	Patients []uint64
}

// SearchField is one matched field in a SearchMatch projection.
type SearchField struct {
	Name  string
	Value string
}

// SearchMatch is the per-patient projection of a search result:
// the patient id plus the matched fields in match order.
type SearchMatch struct {
	Patient uint64
	Fields  []SearchField
}

// AddField appends a matched field to the projection.
func (m *SearchMatch) AddField(name, value string) {
	m.Fields = append(m.Fields, SearchField{Name: name, Value: value})
}
