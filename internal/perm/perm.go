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
Package perm implements the permission engine: merging per-subject
permission entries into an effective access level for a resource.

Subjects are decimal identity ids, decimal group ids, or "*". Resources
are decimal record ids, schema names, decimal session ids, or "*".

Resolution walks a fixed candidate order for a value:

	{"*", value id, patient id, schema name, session id}

For one candidate, the best entry across the requester's subjects wins
(max level). Across candidates the running level folds through the
merge rule below, so an explicit block on a specific resource is not
washed out by a broad wildcard grant.

The engine is pure: given the same set and inputs, Resolve always
returns the same level.
*/
package perm

import "strconv"

// Level is an access level. Order matters: None < Read < ReadWrite.
type Level uint8

const (
	None Level = iota
	Read
	ReadWrite
)

// String returns the level's wire spelling.
func (l Level) String() string {
	switch l {
	case Read:
		return "read"
	case ReadWrite:
		return "readwrite"
	}
	return "none"
}

// ParseLevel parses a wire spelling.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "none":
		return None, true
	case "read":
		return Read, true
	case "readwrite":
		return ReadWrite, true
	}
	return None, false
}

// Wildcard matches any subject or any resource.
const Wildcard = "*"

// Entry grants one subject one level on one resource.
type Entry struct {
	Subject  string
	Resource string
	Level    Level
}

// Merge decides whether an incoming entry for the same resource
// replaces an existing one: it does, unless the existing entry is an
// explicit block (None) and the incoming one is below ReadWrite. Only
// an explicit ReadWrite overrides an explicit block.
func Merge(existing, incoming Level) Level {
	if existing == None && incoming != ReadWrite {
		return existing
	}
	return incoming
}

// Set is a permission map: subject -> resource -> level. The zero
// value is not usable, call NewSet.
type Set struct {
	entries map[string]map[string]Level
	size    int
}

// NewSet creates an empty permission set.
func NewSet() *Set {
	return &Set{entries: make(map[string]map[string]Level)}
}

// Add loads an entry, applying Merge when the (subject, resource)
// pair already exists.
func (s *Set) Add(e Entry) {
	byResource, ok := s.entries[e.Subject]
	if !ok {
		byResource = make(map[string]Level)
		s.entries[e.Subject] = byResource
	}
	if existing, ok := byResource[e.Resource]; ok {
		byResource[e.Resource] = Merge(existing, e.Level)
		return
	}
	byResource[e.Resource] = e.Level
	s.size++
}

// Size returns the number of distinct (subject, resource) pairs. An
// authenticated session whose set is empty is refused all reads.
func (s *Set) Size() int {
	return s.size
}

// Entries returns all entries. Order is unspecified.
func (s *Set) Entries() []Entry {
	out := make([]Entry, 0, s.size)
	for subject, byResource := range s.entries {
		for resource, level := range byResource {
			out = append(out, Entry{Subject: subject, Resource: resource, Level: level})
		}
	}
	return out
}

// lookup finds the best explicit level any of the subjects holds on
// one resource.
func (s *Set) lookup(subjects []string, resource string) (Level, bool) {
	best, found := None, false
	for _, subject := range subjects {
		byResource, ok := s.entries[subject]
		if !ok {
			continue
		}
		level, ok := byResource[resource]
		if !ok {
			continue
		}
		if !found || level > best {
			best = level
		}
		found = true
	}
	return best, found
}

// Resolve computes the effective level the subjects hold over the
// candidate resources, walking candidates in the given order and
// folding explicit matches through Merge. No match at all yields None.
func (s *Set) Resolve(subjects, candidates []string) Level {
	running, found := None, false
	for _, candidate := range candidates {
		level, ok := s.lookup(subjects, candidate)
		if !ok {
			continue
		}
		if !found {
			running = level
			found = true
			continue
		}
		running = Merge(running, level)
	}
	return running
}

// Subjects builds the requester's subject list: the wildcard, the
// identity id, then every group id.
func Subjects(identity uint64, groups []uint64) []string {
	out := make([]string, 0, len(groups)+2)
	out = append(out, Wildcard, FormatSubject(identity))
	for _, g := range groups {
		out = append(out, FormatSubject(g))
	}
	return out
}

// Candidates builds the fixed candidate resource order for one score
// value.
func Candidates(valueID, patientID uint64, scoreName string, sessionID uint64) []string {
	return []string{
		Wildcard,
		FormatSubject(valueID),
		FormatSubject(patientID),
		scoreName,
		FormatSubject(sessionID),
	}
}

// FormatSubject renders a numeric subject or resource id.
func FormatSubject(id uint64) string {
	return strconv.FormatUint(id, 10)
}
