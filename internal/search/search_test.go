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

package search

import (
	"reflect"
	"testing"

	"patientdb/internal/record"
)

func TestMatchEqual(t *testing.T) {
	cases := []struct {
		value, pattern string
		caseSensitive  bool
		want           bool
	}{
		{"Ann", "Ann", true, true},
		{"Ann", "ann", true, false},
		{"Ann", "ann", false, true},
		{"Ann", "An", false, false},
		{"", "", true, true},
	}
	for _, c := range cases {
		if got := Match(c.value, c.pattern, ModeEqual, c.caseSensitive); got != c.want {
			t.Errorf("equal %q~%q sensitive=%v: got %v", c.value, c.pattern, c.caseSensitive, got)
		}
	}
}

func TestMatchInclude(t *testing.T) {
	cases := []struct {
		value, pattern string
		caseSensitive  bool
		want           bool
	}{
		{"Annika", "nik", true, true},
		{"Annika", "NIK", true, false},
		{"Annika", "NIK", false, true},
		{"Annika", "", true, true},
		{"abc", "abcd", false, false},
	}
	for _, c := range cases {
		if got := Match(c.value, c.pattern, ModeInclude, c.caseSensitive); got != c.want {
			t.Errorf("include %q~%q sensitive=%v: got %v", c.value, c.pattern, c.caseSensitive, got)
		}
	}
}

func TestMatchWildcard(t *testing.T) {
	cases := []struct {
		value, pattern string
		want           bool
	}{
		{"Annika", "Ann*", true},
		{"Annika", "*ika", true},
		{"Annika", "A*k*", true},
		{"Annika", "*", true},
		{"Annika", "Ann", false},
		{"Annika", "*x*", false},
		{"", "*", true},
		{"", "", true},
		{"abc", "a*b*c", true},
		{"aXbXcXb", "a*b", true},  // backtracking picks the last b
		{"aXbXcXd", "a*b*e", false},
		{"abcabc", "*abc", true},
	}
	for _, c := range cases {
		if got := Match(c.value, c.pattern, ModeWildcard, true); got != c.want {
			t.Errorf("wildcard %q~%q: got %v", c.value, c.pattern, got)
		}
	}
}

func testValues() []*record.ScoreValue {
	return []*record.ScoreValue{
		{ID: 1, Patient: 7, Kind: record.KindString, ScoreName: "demographics:firstname", StringVal: "Ann"},
		{ID: 2, Patient: 7, Kind: record.KindString, ScoreName: "demographics:lastname", StringVal: "Igma"},
		{ID: 3, Patient: 9, Kind: record.KindString, ScoreName: "demographics:firstname", StringVal: "Annika"},
		{ID: 4, Patient: 9, Kind: record.KindString, ScoreName: "demographics:firstname", StringVal: "Ann", Deleted: true},
		{ID: 5, Patient: 12, Kind: record.KindString, ScoreName: "demographics:firstname", StringVal: "Bert"},
		{ID: 6, Patient: 12, Kind: record.KindEnum, ScoreName: "exam:handedness", EnumIndex: 1, EnumLabel: "ann-arbor"},
	}
}

// Case-insensitive search finds the stored value and reports it in
// its original spelling.
func TestRunPreservesStoredCase(t *testing.T) {
	c := &Criteria{
		CaseSensitive: false,
		ScoreName:     "demographics:firstname",
		Mode:          ModeEqual,
		Pattern:       "ann",
	}
	got := Run(c, testValues(), nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if got[0].Patient != 7 {
		t.Errorf("wrong patient: %d", got[0].Patient)
	}
	if len(got[0].Fields) != 1 || got[0].Fields[0].Value != "Ann" {
		t.Errorf("stored case not preserved: %+v", got[0].Fields)
	}
}

func TestRunSkipsSoftDeleted(t *testing.T) {
	c := &Criteria{Mode: ModeEqual, Pattern: "Ann", CaseSensitive: true,
		ScoreName: "demographics:firstname"}
	got := Run(c, testValues(), nil)
	// Patient 9's "Ann" is soft-deleted, only patient 7 matches.
	if len(got) != 1 || got[0].Patient != 7 {
		t.Errorf("soft-deleted value surfaced: %+v", got)
	}
}

func TestRunFoldsByPatient(t *testing.T) {
	c := &Criteria{Mode: ModeWildcard, Pattern: "*", CaseSensitive: true,
		ScoreName: ""}
	got := Run(c, testValues(), nil)

	if len(got) != 3 {
		t.Fatalf("expected 3 patients, got %d", len(got))
	}
	// Patient 7 has two surviving matches folded into one projection.
	if got[0].Patient != 7 || len(got[0].Fields) != 2 {
		t.Errorf("patient 7 projection wrong: %+v", got[0])
	}
}

func TestRunHonorsPatientSet(t *testing.T) {
	c := &Criteria{Mode: ModeWildcard, Pattern: "*", CaseSensitive: true,
		Patients: []uint64{9, 12}}
	got := Run(c, testValues(), nil)
	for _, m := range got {
		if m.Patient == 7 {
			t.Errorf("patient outside restriction set surfaced")
		}
	}
	if len(got) != 2 {
		t.Errorf("expected 2 patients, got %d", len(got))
	}
}

func TestRunHonorsPermissionCallback(t *testing.T) {
	c := &Criteria{Mode: ModeWildcard, Pattern: "*", CaseSensitive: true}
	got := Run(c, testValues(), func(v *record.ScoreValue) bool {
		return v.Patient != 7
	})
	for _, m := range got {
		if m.Patient == 7 {
			t.Errorf("permission-denied record surfaced")
		}
	}
}

func TestRunMatchesEnumLabels(t *testing.T) {
	c := &Criteria{Mode: ModeInclude, Pattern: "arbor", CaseSensitive: true}
	got := Run(c, testValues(), nil)
	if len(got) != 1 || got[0].Patient != 12 {
		t.Errorf("enum label not searchable: %+v", got)
	}
}

func TestRunMatchesNumberPayloads(t *testing.T) {
	values := []*record.ScoreValue{
		{ID: 1, Patient: 3, Kind: record.KindNumber, ScoreName: "vitals:weight", NumberVal: 72.5},
	}
	c := &Criteria{Mode: ModeEqual, Pattern: "72.5", CaseSensitive: true}
	got := Run(c, values, nil)
	if len(got) != 1 || got[0].Patient != 3 {
		t.Errorf("number payload not searchable: %+v", got)
	}
}

func TestRunSkipsBinaryPayloads(t *testing.T) {
	// A binary payload has no text form, so it must not satisfy an
	// empty equal pattern the way a genuinely empty string does.
	values := []*record.ScoreValue{
		{ID: 1, Patient: 3, Kind: record.KindImage, ScoreName: "imaging:mri", ImageData: []byte{0xff, 0xd8}},
		{ID: 2, Patient: 4, Kind: record.KindVolume, ScoreName: "imaging:ct", ImageData: []byte{0x01}},
		{ID: 3, Patient: 5, Kind: record.KindString, ScoreName: "notes:free", StringVal: ""},
	}
	c := &Criteria{Mode: ModeEqual, Pattern: "", CaseSensitive: true}
	got := Run(c, values, nil)
	if len(got) != 1 || got[0].Patient != 5 {
		t.Errorf("empty pattern matched binary payloads: %+v", got)
	}
}

func TestParseArgsRoundTrip(t *testing.T) {
	in := Criteria{
		CaseSensitive: true,
		ScoreName:     "demographics:firstname",
		Mode:          ModeWildcard,
		Pattern:       "Ann*",
		Patients:      []uint64{3, 9},
	}
	got, err := ParseArgs("search_patient:", in.Args())
	if err != nil {
		t.Fatalf("ParseArgs failed: %v", err)
	}
	if !reflect.DeepEqual(in, got) {
		t.Errorf("round trip mismatch:\n want %+v\n got  %+v", in, got)
	}
}

func TestParseArgsAnyField(t *testing.T) {
	got, err := ParseArgs("search_patient:", []string{"case_insensitive", "any", "equal", "ann"})
	if err != nil {
		t.Fatalf("ParseArgs failed: %v", err)
	}
	if got.ScoreName != "" || got.CaseSensitive {
		t.Errorf("any-field parse wrong: %+v", got)
	}
}

func TestParseArgsRejectsGarbage(t *testing.T) {
	bad := [][]string{
		{},
		{"case_insensitive", "any", "equal"},
		{"sometimes", "any", "equal", "x"},
		{"case_sensitive", "any", "regex", "x"},
		{"case_sensitive", "any", "equal", "x", "between", "3"},
		{"case_sensitive", "any", "equal", "x", "among", "abc"},
	}
	for _, args := range bad {
		if _, err := ParseArgs("search_patient:", args); err == nil {
			t.Errorf("args %v accepted", args)
		}
	}
}
