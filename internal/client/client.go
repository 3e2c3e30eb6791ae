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
Package client provides the storage facade: one interface, two
interchangeable implementations.

Local runs straight against the storage engine, wrapping each
multi-step operation in one transaction with the same boundaries the
server uses. Remote speaks the wire protocol over the encrypted
channel. For identical stored state and identical permissions the two
produce identical observable results; callers pick an implementation
at construction time and never branch on it again.

Batches with client-side placeholder ids (negative counters) are
remapped before submission: the facade reserves the needed contiguous
id range, rewrites every cross-reference through record.Remap, and
only then writes. A failed reservation aborts the whole operation
before anything is sent or stored.
*/
package client

import (
	"time"

	"patientdb/internal/record"
	"patientdb/internal/search"
)

// DataClient is the storage facade interface shared by the Local and
// Remote implementations.
type DataClient interface {
	// Login authenticates the facade for an identity. Every other
	// method requires a prior successful Login.
	Login(identity, password string) error

	// Exit ends the session and releases the connection.
	Exit() error

	// PutNewUser creates an identity from its profile and SRP
	// verifier. The profile's id field is ignored; the store mints it.
	PutNewUser(info *record.UserInfo, verifier string) error

	// PutNewScoreName upserts schema nodes and returns the new store
	// timestamp.
	PutNewScoreName(defs []*record.ScoreDefinition) (time.Time, error)

	// PutNewPatient stores one new patient with its sessions and score
	// values. Placeholder ids are remapped through one contiguous
	// reservation before anything is written.
	PutNewPatient(patient *record.PatientInfo, sessions []*record.SessionRecord,
		values []*record.ScoreValue) (time.Time, error)

	// PutNewSession upserts sessions for existing patients.
	PutNewSession(sessions []*record.SessionRecord) (time.Time, error)

	// PutScoreValues upserts score values. Requires ReadWrite on every
	// value touched.
	PutScoreValues(values []*record.ScoreValue) (time.Time, error)

	// PutPatientList creates (modify=false) or replaces (modify=true)
	// a saved patient list.
	PutPatientList(list *record.PatientList, modify bool) (time.Time, error)

	// ReqID reserves count consecutive ids and returns the first.
	ReqID(count int) (uint64, error)

	// ReqTime returns the store's last-update timestamp.
	ReqTime() (time.Time, error)

	// ReqUser returns one identity's profile.
	ReqUser(name string) (*record.UserInfo, error)

	// ReqSearchPatient runs a score value search.
	ReqSearchPatient(c *search.Criteria) ([]*record.SearchMatch, error)

	// ReqOnePatient fetches a patient with every readable session and
	// score value.
	ReqOnePatient(id uint64) (*record.PatientRecord, error)
}

// countPlaceholders counts the distinct placeholder ids in a batch, in
// creation order. This is the M of a req_id reservation.
func countPlaceholders(patient *record.PatientInfo, sessions []*record.SessionRecord,
	values []*record.ScoreValue) int {
	seen := make(map[uint64]struct{})
	add := func(id uint64) {
		if record.IsPlaceholder(id) {
			seen[id] = struct{}{}
		}
	}
	if patient != nil {
		add(patient.ID)
	}
	for _, s := range sessions {
		add(s.ID)
	}
	for _, v := range values {
		add(v.ID)
	}
	return len(seen)
}
