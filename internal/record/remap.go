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

package record

import "patientdb/internal/errors"

// Placeholder ids are negative int64 values stored in uint64 fields.
// A client decrements from -1 for each new in-memory record; the
// server never sees a placeholder, Remap rewrites them all before the
// batch leaves the client.

// IsPlaceholder reports whether an id field holds a client-side
// placeholder rather than a real id.
func IsPlaceholder(id uint64) bool {
	return int64(id) < 0
}

// Placeholder converts a negative placeholder counter to its in-field
// representation.
func Placeholder(n int64) uint64 {
	return uint64(n)
}

// IDMap maps placeholder ids to their assigned real ids.
type IDMap map[uint64]uint64

// Remap assigns real ids from a reserved contiguous range to every
// placeholder in a batch, walking records in creation order (patient,
// then sessions, then values), and rewrites all cross-references
// (session.Patient, value.Patient, value.SessionID, value.ParentID)
// through the resulting map. Records that already carry real ids are
// left alone.
//
// The reservation must cover every distinct placeholder; running out
// of reserved ids or meeting a cross-reference to an unassigned
// placeholder fails before anything is mutated.
func Remap(firstID, count uint64, patient *PatientInfo, sessions []*SessionRecord, values []*ScoreValue) (IDMap, error) {
	if firstID == 0 || IsPlaceholder(firstID) {
		return nil, errors.IDReservation(int(count), 0)
	}

	ids := make(IDMap)
	next := firstID
	assign := func(id uint64) error {
		if !IsPlaceholder(id) {
			return nil
		}
		if _, ok := ids[id]; ok {
			return errors.BadPlaceholder(int64(id))
		}
		if next >= firstID+count {
			return errors.IDReservation(int(count), int(next-firstID))
		}
		ids[id] = next
		next++
		return nil
	}

	// First pass: assignment only, so a failure leaves the batch
	// untouched.
	if patient != nil {
		if err := assign(patient.ID); err != nil {
			return nil, err
		}
	}
	for _, s := range sessions {
		if err := assign(s.ID); err != nil {
			return nil, err
		}
	}
	for _, v := range values {
		if err := assign(v.ID); err != nil {
			return nil, err
		}
	}

	// Cross-references may only point at real ids or ids assigned
	// above.
	resolve := func(id uint64) (uint64, error) {
		if !IsPlaceholder(id) {
			return id, nil
		}
		real, ok := ids[id]
		if !ok {
			return 0, errors.BadPlaceholder(int64(id))
		}
		return real, nil
	}
	for _, s := range sessions {
		if _, err := resolve(s.Patient); err != nil {
			return nil, err
		}
	}
	for _, v := range values {
		for _, ref := range []uint64{v.Patient, v.SessionID, v.ParentID} {
			if _, err := resolve(ref); err != nil {
				return nil, err
			}
		}
	}

	// Second pass: rewrite.
	if patient != nil {
		patient.ID, _ = resolve(patient.ID)
	}
	for _, s := range sessions {
		s.ID, _ = resolve(s.ID)
		s.Patient, _ = resolve(s.Patient)
	}
	for _, v := range values {
		v.ID, _ = resolve(v.ID)
		v.Patient, _ = resolve(v.Patient)
		v.SessionID, _ = resolve(v.SessionID)
		v.ParentID, _ = resolve(v.ParentID)
	}
	return ids, nil
}
