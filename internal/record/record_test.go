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

import (
	"testing"

	"patientdb/internal/errors"
)

func TestPlaceholderDetection(t *testing.T) {
	if IsPlaceholder(0) {
		t.Errorf("zero id treated as placeholder")
	}
	if IsPlaceholder(42) {
		t.Errorf("real id treated as placeholder")
	}
	if !IsPlaceholder(Placeholder(-1)) {
		t.Errorf("placeholder -1 not detected")
	}
	if !IsPlaceholder(Placeholder(-9000)) {
		t.Errorf("placeholder -9000 not detected")
	}
}

func TestRemapAssignsContiguousRange(t *testing.T) {
	patient := &PatientInfo{ID: Placeholder(-1), Code: "P-001"}
	sessions := []*SessionRecord{
		{ID: Placeholder(-2), Patient: Placeholder(-1)},
	}
	values := []*ScoreValue{
		{ID: Placeholder(-3), Patient: Placeholder(-1), SessionID: Placeholder(-2)},
		{ID: Placeholder(-4), Patient: Placeholder(-1), SessionID: Placeholder(-2), ParentID: Placeholder(-3)},
	}

	ids, err := Remap(100, 4, patient, sessions, values)
	if err != nil {
		t.Fatalf("Remap failed: %v", err)
	}
	if len(ids) != 4 {
		t.Fatalf("expected 4 assignments, got %d", len(ids))
	}

	if patient.ID != 100 {
		t.Errorf("patient id: expected 100, got %d", patient.ID)
	}
	if sessions[0].ID != 101 || sessions[0].Patient != 100 {
		t.Errorf("session not remapped: id=%d patient=%d", sessions[0].ID, sessions[0].Patient)
	}
	if values[0].ID != 102 || values[0].Patient != 100 || values[0].SessionID != 101 {
		t.Errorf("first value not remapped: %+v", values[0])
	}
	if values[1].ID != 103 || values[1].ParentID != 102 {
		t.Errorf("cross-reference to sibling not remapped: %+v", values[1])
	}

	// No two records share an id.
	seen := map[uint64]bool{}
	for _, id := range []uint64{patient.ID, sessions[0].ID, values[0].ID, values[1].ID} {
		if seen[id] {
			t.Errorf("duplicate id %d after remap", id)
		}
		seen[id] = true
		if id < 100 || id > 103 {
			t.Errorf("id %d outside reserved range", id)
		}
	}
}

func TestRemapKeepsRealIDs(t *testing.T) {
	values := []*ScoreValue{
		{ID: Placeholder(-1), Patient: 7, SessionID: 0, ParentID: 55},
	}
	if _, err := Remap(200, 1, nil, nil, values); err != nil {
		t.Fatalf("Remap failed: %v", err)
	}
	if values[0].ID != 200 {
		t.Errorf("placeholder not assigned: %d", values[0].ID)
	}
	if values[0].Patient != 7 || values[0].ParentID != 55 {
		t.Errorf("real cross-references rewritten: %+v", values[0])
	}
}

func TestRemapRejectsShortReservation(t *testing.T) {
	values := []*ScoreValue{
		{ID: Placeholder(-1)},
		{ID: Placeholder(-2)},
	}
	_, err := Remap(100, 1, nil, nil, values)
	if errors.GetCode(err) != errors.CodeIDReservation {
		t.Errorf("expected id reservation error, got %v", err)
	}
	// First pass failure must not mutate the batch.
	if values[0].ID != Placeholder(-1) {
		t.Errorf("batch mutated on failed remap")
	}
}

func TestRemapRejectsDanglingReference(t *testing.T) {
	values := []*ScoreValue{
		{ID: Placeholder(-1), ParentID: Placeholder(-99)},
	}
	_, err := Remap(100, 5, nil, nil, values)
	if errors.GetCode(err) != errors.CodeBadPlaceholder {
		t.Errorf("expected bad placeholder error, got %v", err)
	}
}

func TestRemapRejectsBadFirstID(t *testing.T) {
	if _, err := Remap(0, 3, nil, nil, nil); err == nil {
		t.Errorf("zero firstID accepted")
	}
}

func TestDerivedIndexes(t *testing.T) {
	p := NewPatientRecord(PatientInfo{ID: 1})
	p.AddSession(&SessionRecord{ID: 10, Patient: 1})
	p.AddValue(&ScoreValue{ID: 20, Patient: 1, SessionID: 10, ScoreName: "demographics:firstname"})
	p.AddValue(&ScoreValue{ID: 21, Patient: 1, SessionID: 10, ParentID: 20, ScoreName: "demographics:firstname:alias"})
	p.AddValue(&ScoreValue{ID: 22, Patient: 1, SessionID: 0, ScoreName: "demographics:firstname"})

	kids := p.Children(20)
	if len(kids) != 1 || kids[0] != 21 {
		t.Errorf("children index wrong: %v", kids)
	}

	byName := p.ValuesByScoreName("demographics:firstname")
	if len(byName) != 2 || byName[0] != 20 || byName[1] != 22 {
		t.Errorf("score name index wrong: %v", byName)
	}

	roots := p.SessionRootValues(10)
	if len(roots) != 1 || roots[0] != 20 {
		t.Errorf("session root index wrong: %v", roots)
	}
	standalone := p.SessionRootValues(0)
	if len(standalone) != 1 || standalone[0] != 22 {
		t.Errorf("standalone root index wrong: %v", standalone)
	}
}

func TestIndexesInvalidatedByAddValue(t *testing.T) {
	p := NewPatientRecord(PatientInfo{ID: 1})
	p.AddValue(&ScoreValue{ID: 20, ScoreName: "a"})
	if got := p.ValuesByScoreName("a"); len(got) != 1 {
		t.Fatalf("index missing first value: %v", got)
	}
	p.AddValue(&ScoreValue{ID: 21, ScoreName: "a"})
	if got := p.ValuesByScoreName("a"); len(got) != 2 {
		t.Errorf("index stale after AddValue: %v", got)
	}
}

func TestScoreDefinitionParent(t *testing.T) {
	cases := []struct{ name, parent string }{
		{"demographics:firstname", "demographics"},
		{"demographics", ""},
		{"a:b:c", "a:b"},
	}
	for _, c := range cases {
		d := ScoreDefinition{Name: c.name}
		if got := d.Parent(); got != c.parent {
			t.Errorf("Parent(%q): expected %q, got %q", c.name, c.parent, got)
		}
	}
}

func TestPayloadStringRendersScalarKinds(t *testing.T) {
	cases := []struct {
		value ScoreValue
		want  string
	}{
		{ScoreValue{Kind: KindString, StringVal: "Ann"}, "Ann"},
		{ScoreValue{Kind: KindEnum, EnumLabel: "left"}, "left"},
		{ScoreValue{Kind: KindNumber, NumberVal: 72.5}, "72.5"},
		{ScoreValue{Kind: KindNumber, NumberVal: 3}, "3"},
		{ScoreValue{Kind: KindDateTime, TimeVal: 0}, "1970-01-01T00:00:00Z"},
	}
	for _, c := range cases {
		if got := c.value.PayloadString(); got != c.want {
			t.Errorf("PayloadString(%v): expected %q, got %q", c.value.Kind, c.want, got)
		}
	}
}

func TestHasTextForm(t *testing.T) {
	if (&ScoreValue{Kind: KindImage}).HasTextForm() {
		t.Error("image payload claims a text form")
	}
	if (&ScoreValue{Kind: KindVolume}).HasTextForm() {
		t.Error("volume payload claims a text form")
	}
	if !(&ScoreValue{Kind: KindNumber}).HasTextForm() {
		t.Error("number payload denied a text form")
	}
}

func TestKeyFormatting(t *testing.T) {
	if k := ValueKey(7, 42); k != "value:00000000000000000007:00000000000000000042" {
		t.Errorf("unexpected value key: %s", k)
	}
	id, err := PatientIDFromKey(PatientKey(981))
	if err != nil || id != 981 {
		t.Errorf("patient key round trip failed: %d %v", id, err)
	}
}
