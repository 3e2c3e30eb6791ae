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
Package search evaluates pattern queries against stored score values.

Matching is deliberately simple: exact equality, substring inclusion,
or *-glob wildcards. The wildcard matcher is a single linear scan with
backtracking on the last seen star, not a regex engine. Case folding
applies to the comparison only, matched values are reported in their
stored spelling.
*/
package search

import (
	"strconv"
	"strings"

	"patientdb/internal/errors"
	"patientdb/internal/record"
)

// Mode selects how a pattern is compared against a value.
type Mode int

const (
	ModeEqual Mode = iota
	ModeInclude
	ModeWildcard
)

// String returns the mode's command-line spelling.
func (m Mode) String() string {
	switch m {
	case ModeInclude:
		return "include"
	case ModeWildcard:
		return "wildcard"
	}
	return "equal"
}

// ParseMode parses a command-line mode token.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "equal":
		return ModeEqual, true
	case "include":
		return ModeInclude, true
	case "wildcard":
		return ModeWildcard, true
	}
	return 0, false
}

// Criteria is one search query.
type Criteria struct {
	CaseSensitive bool
	ScoreName     string // empty = any field
	Mode          Mode
	Pattern       string
	Patients      []uint64 // empty = all patients
}

// Args renders the criteria as search_patient command tokens.
func (c *Criteria) Args() []string {
	sensitivity := "case_insensitive"
	if c.CaseSensitive {
		sensitivity = "case_sensitive"
	}
	field := c.ScoreName
	if field == "" {
		field = "any"
	}
	args := []string{sensitivity, field, c.Mode.String(), c.Pattern}
	if len(c.Patients) > 0 {
		args = append(args, "among")
		for _, id := range c.Patients {
			args = append(args, strconv.FormatUint(id, 10))
		}
	}
	return args
}

// ParseArgs parses the search_patient argument tokens:
//
//	case_sensitive|case_insensitive <field|any> <equal|include|wildcard>
//	<pattern> [among <id>...]
func ParseArgs(verb string, args []string) (Criteria, error) {
	var c Criteria
	if len(args) < 4 {
		return c, errors.BadTokenCount(verb, 4, len(args))
	}

	switch args[0] {
	case "case_sensitive":
		c.CaseSensitive = true
	case "case_insensitive":
		c.CaseSensitive = false
	default:
		return c, errors.BadArgument(verb, args[0])
	}

	if args[1] != "any" {
		c.ScoreName = args[1]
	}

	mode, ok := ParseMode(args[2])
	if !ok {
		return c, errors.BadArgument(verb, args[2])
	}
	c.Mode = mode
	c.Pattern = args[3]

	if len(args) > 4 {
		if args[4] != "among" {
			return c, errors.BadArgument(verb, args[4])
		}
		for _, tok := range args[5:] {
			id, err := strconv.ParseUint(tok, 10, 64)
			if err != nil {
				return c, errors.BadArgument(verb, tok)
			}
			c.Patients = append(c.Patients, id)
		}
	}
	return c, nil
}

// Match reports whether value matches pattern under the given mode.
func Match(value, pattern string, mode Mode, caseSensitive bool) bool {
	if !caseSensitive {
		value = strings.ToLower(value)
		pattern = strings.ToLower(pattern)
	}
	switch mode {
	case ModeEqual:
		return value == pattern
	case ModeInclude:
		return strings.Contains(value, pattern)
	case ModeWildcard:
		return wildcardMatch(value, pattern)
	}
	return false
}

// wildcardMatch performs *-glob matching anchored at both ends. One
// linear scan; on mismatch it backtracks to just past the last star
// and retries one position later.
func wildcardMatch(s, p string) bool {
	si, pi := 0, 0
	star, mark := -1, 0

	for si < len(s) {
		switch {
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = si
			pi++
		case pi < len(p) && p[pi] == s[si]:
			si++
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// Matches reports whether one score value satisfies the criteria,
// ignoring permissions and deletion (the scan handles those).
func (c *Criteria) Matches(v *record.ScoreValue) bool {
	if !v.HasTextForm() {
		return false
	}
	if c.ScoreName != "" && v.ScoreName != c.ScoreName {
		return false
	}
	if len(c.Patients) > 0 {
		found := false
		for _, id := range c.Patients {
			if id == v.Patient {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return Match(v.PayloadString(), c.Pattern, c.Mode, c.CaseSensitive)
}

// Run evaluates the criteria over a value scan. Soft-deleted values
// and values the readable callback refuses are skipped silently.
// Results fold by patient id: the first match for a patient creates
// its SearchMatch, later ones append fields. Values arrive in storage
// key order, so projections are deterministic.
func Run(c *Criteria, values []*record.ScoreValue, readable func(*record.ScoreValue) bool) []*record.SearchMatch {
	var out []*record.SearchMatch
	byPatient := make(map[uint64]*record.SearchMatch)

	for _, v := range values {
		if v.Deleted {
			continue
		}
		if !c.Matches(v) {
			continue
		}
		if readable != nil && !readable(v) {
			continue
		}
		m, ok := byPatient[v.Patient]
		if !ok {
			m = &record.SearchMatch{Patient: v.Patient}
			byPatient[v.Patient] = m
			out = append(out, m)
		}
		m.AddField(v.ScoreName, v.PayloadString())
	}
	return out
}
