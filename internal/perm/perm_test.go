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

package perm

import "testing"

func TestLevelOrdering(t *testing.T) {
	if !(None < Read && Read < ReadWrite) {
		t.Fatalf("level ordering broken")
	}
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, l := range []Level{None, Read, ReadWrite} {
		got, ok := ParseLevel(l.String())
		if !ok || got != l {
			t.Errorf("round trip failed for %v: %v %v", l, got, ok)
		}
	}
	if _, ok := ParseLevel("admin"); ok {
		t.Errorf("unknown level accepted")
	}
}

func TestWildcardGrantsAnyResource(t *testing.T) {
	s := NewSet()
	s.Add(Entry{Subject: "42", Resource: Wildcard, Level: Read})

	subjects := Subjects(42, nil)
	for _, resource := range []string{"7", "demographics:firstname", "991"} {
		got := s.Resolve(subjects, []string{Wildcard, resource})
		if got != Read {
			t.Errorf("resource %q: expected read, got %v", resource, got)
		}
	}
}

func TestNoMatchYieldsNone(t *testing.T) {
	s := NewSet()
	s.Add(Entry{Subject: "42", Resource: "7", Level: ReadWrite})

	if got := s.Resolve(Subjects(99, nil), Candidates(7, 1, "x", 0)); got != None {
		t.Errorf("unrelated subject resolved %v", got)
	}
}

func TestGroupEntriesApply(t *testing.T) {
	s := NewSet()
	s.Add(Entry{Subject: "500", Resource: Wildcard, Level: Read})

	if got := s.Resolve(Subjects(42, []uint64{500}), Candidates(7, 1, "x", 0)); got != Read {
		t.Errorf("group grant not applied: %v", got)
	}
	if got := s.Resolve(Subjects(42, nil), Candidates(7, 1, "x", 0)); got != None {
		t.Errorf("group grant leaked to non-member: %v", got)
	}
}

func TestMaxAcrossSubjectsForOneCandidate(t *testing.T) {
	s := NewSet()
	s.Add(Entry{Subject: "42", Resource: "7", Level: Read})
	s.Add(Entry{Subject: "500", Resource: "7", Level: ReadWrite})

	got := s.Resolve(Subjects(42, []uint64{500}), []string{Wildcard, "7"})
	if got != ReadWrite {
		t.Errorf("expected readwrite across subject+group, got %v", got)
	}
}

// An explicit block on the specific value survives a wildcard
// readwrite grant, since no readwrite entry targets that exact id.
func TestExplicitBlockSurvivesWildcardGrant(t *testing.T) {
	s := NewSet()
	s.Add(Entry{Subject: "42", Resource: Wildcard, Level: ReadWrite})
	s.Add(Entry{Subject: "42", Resource: "1007", Level: None})

	got := s.Resolve(Subjects(42, nil), Candidates(1007, 3, "demographics:dob", 12))
	if got != None {
		t.Errorf("explicit block overridden: %v", got)
	}
}

// Only an explicit readwrite on a later candidate overrides a block.
func TestExplicitReadWriteOverridesBlock(t *testing.T) {
	s := NewSet()
	s.Add(Entry{Subject: "42", Resource: Wildcard, Level: None})
	s.Add(Entry{Subject: "42", Resource: "demographics:dob", Level: ReadWrite})

	got := s.Resolve(Subjects(42, nil), Candidates(1007, 3, "demographics:dob", 12))
	if got != ReadWrite {
		t.Errorf("explicit readwrite did not override block: %v", got)
	}

	// A read entry does not.
	s2 := NewSet()
	s2.Add(Entry{Subject: "42", Resource: Wildcard, Level: None})
	s2.Add(Entry{Subject: "42", Resource: "demographics:dob", Level: Read})
	got = s2.Resolve(Subjects(42, nil), Candidates(1007, 3, "demographics:dob", 12))
	if got != None {
		t.Errorf("read overrode an explicit block: %v", got)
	}
}

// Resolve never returns a level more permissive than the most
// permissive entry matching one of the candidates.
func TestMonotonicity(t *testing.T) {
	s := NewSet()
	s.Add(Entry{Subject: "42", Resource: "7", Level: Read})
	s.Add(Entry{Subject: "42", Resource: "8", Level: Read})

	for _, candidates := range [][]string{
		{Wildcard, "7"},
		{Wildcard, "7", "8"},
		{Wildcard, "9"},
		{"7", "8", "9"},
	} {
		got := s.Resolve(Subjects(42, nil), candidates)
		if got > Read {
			t.Errorf("candidates %v: resolved %v above any matching entry", candidates, got)
		}
	}
}

func TestMergeOnLoad(t *testing.T) {
	s := NewSet()
	s.Add(Entry{Subject: "42", Resource: "7", Level: None})
	s.Add(Entry{Subject: "42", Resource: "7", Level: Read})
	if got := s.Resolve(Subjects(42, nil), []string{"7"}); got != None {
		t.Errorf("loaded read overrode stored block: %v", got)
	}

	s.Add(Entry{Subject: "42", Resource: "7", Level: ReadWrite})
	if got := s.Resolve(Subjects(42, nil), []string{"7"}); got != ReadWrite {
		t.Errorf("loaded readwrite did not override block: %v", got)
	}

	// Ordinary overwrite when the existing entry is not a block.
	s.Add(Entry{Subject: "42", Resource: "7", Level: Read})
	if got := s.Resolve(Subjects(42, nil), []string{"7"}); got != Read {
		t.Errorf("ordinary overwrite failed: %v", got)
	}
}

func TestSizeCountsDistinctPairs(t *testing.T) {
	s := NewSet()
	if s.Size() != 0 {
		t.Fatalf("fresh set not empty")
	}
	s.Add(Entry{Subject: "42", Resource: "7", Level: Read})
	s.Add(Entry{Subject: "42", Resource: "7", Level: ReadWrite})
	s.Add(Entry{Subject: "42", Resource: "8", Level: Read})
	if s.Size() != 2 {
		t.Errorf("expected size 2, got %d", s.Size())
	}
}
