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

import "sort"

// PatientRecord is the in-memory aggregate of one patient: the stub,
// its sessions, its values, and derived indexes. The indexes are
// rebuilt from the value map and never persisted.
type PatientRecord struct {
	Info     PatientInfo
	Sessions map[uint64]*SessionRecord
	Values   map[uint64]*ScoreValue

	// Derived, see RebuildIndexes.
	children     map[uint64][]uint64 // parent value id -> child value ids
	byScoreName  map[string][]uint64 // schema name -> value ids
	sessionRoots map[uint64][]uint64 // session id -> root value ids
}

// NewPatientRecord creates an empty aggregate for a patient stub.
func NewPatientRecord(info PatientInfo) *PatientRecord {
	return &PatientRecord{
		Info:     info,
		Sessions: make(map[uint64]*SessionRecord),
		Values:   make(map[uint64]*ScoreValue),
	}
}

// AddSession inserts or replaces a session.
func (p *PatientRecord) AddSession(s *SessionRecord) {
	p.Sessions[s.ID] = s
}

// AddValue inserts or replaces a value. Indexes are stale until the
// next RebuildIndexes call.
func (p *PatientRecord) AddValue(v *ScoreValue) {
	p.Values[v.ID] = v
	p.children = nil
	p.byScoreName = nil
	p.sessionRoots = nil
}

// RebuildIndexes recomputes the derived indexes from the value map.
func (p *PatientRecord) RebuildIndexes() {
	p.children = make(map[uint64][]uint64)
	p.byScoreName = make(map[string][]uint64)
	p.sessionRoots = make(map[uint64][]uint64)

	for id, v := range p.Values {
		if v.ParentID != 0 {
			p.children[v.ParentID] = append(p.children[v.ParentID], id)
		}
		p.byScoreName[v.ScoreName] = append(p.byScoreName[v.ScoreName], id)
		if v.ParentID == 0 {
			p.sessionRoots[v.SessionID] = append(p.sessionRoots[v.SessionID], id)
		}
	}
	for _, idx := range []map[uint64][]uint64{p.children, p.sessionRoots} {
		for _, ids := range idx {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		}
	}
	for _, ids := range p.byScoreName {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
}

func (p *PatientRecord) ensureIndexes() {
	if p.children == nil {
		p.RebuildIndexes()
	}
}

// Children returns the ids of a value's direct children, in id order.
func (p *PatientRecord) Children(parent uint64) []uint64 {
	p.ensureIndexes()
	return p.children[parent]
}

// ValuesByScoreName returns the ids of all values of one schema node,
// in id order.
func (p *PatientRecord) ValuesByScoreName(name string) []uint64 {
	p.ensureIndexes()
	return p.byScoreName[name]
}

// SessionRootValues returns the root value ids of one session (0 for
// values outside any session), in id order.
func (p *PatientRecord) SessionRootValues(session uint64) []uint64 {
	p.ensureIndexes()
	return p.sessionRoots[session]
}

// SortedValueIDs returns all value ids in ascending order, the order
// values are streamed to clients.
func (p *PatientRecord) SortedValueIDs() []uint64 {
	ids := make([]uint64, 0, len(p.Values))
	for id := range p.Values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SortedSessionIDs returns all session ids in ascending order.
func (p *PatientRecord) SortedSessionIDs() []uint64 {
	ids := make([]uint64, 0, len(p.Sessions))
	for id := range p.Sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
