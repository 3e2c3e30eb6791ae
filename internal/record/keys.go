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
	"fmt"
	"strconv"
	"strings"
)

// Storage key prefixes. Ids inside keys are zero-padded to 20 digits
// so lexicographic prefix scans walk records in id order.
const (
	PrefixUser        = "user:"
	PrefixPerm        = "perm:"
	PrefixScoreName   = "scorename:"
	PrefixPatient     = "patient:"
	PrefixSession     = "session:"
	PrefixValue       = "value:"
	PrefixPatientList = "patientlist:"
)

// FormatID renders an id in its in-key form.
func FormatID(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

// ParseID parses an in-key id.
func ParseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// UserKey returns the storage key for an identity record.
func UserKey(name string) string {
	return PrefixUser + name
}

// PermKey returns the storage key for a subject's permission entries.
// Subject is a concrete id, a group id, or "*".
func PermKey(subject string) string {
	return PrefixPerm + subject
}

// ScoreNameKey returns the storage key for a schema node.
func ScoreNameKey(path string) string {
	return PrefixScoreName + path
}

// PatientKey returns the storage key for a patient stub.
func PatientKey(id uint64) string {
	return PrefixPatient + FormatID(id)
}

// SessionKey returns the storage key for a session record.
func SessionKey(patient, session uint64) string {
	return PrefixSession + FormatID(patient) + ":" + FormatID(session)
}

// SessionPrefix returns the scan prefix covering a patient's sessions.
func SessionPrefix(patient uint64) string {
	return PrefixSession + FormatID(patient) + ":"
}

// ValueKey returns the storage key for a score value.
func ValueKey(patient, value uint64) string {
	return PrefixValue + FormatID(patient) + ":" + FormatID(value)
}

// ValuePrefix returns the scan prefix covering a patient's values.
func ValuePrefix(patient uint64) string {
	return PrefixValue + FormatID(patient) + ":"
}

// PatientListKey returns the storage key for a saved patient list.
func PatientListKey(id uint64) string {
	return PrefixPatientList + FormatID(id)
}

// PatientIDFromKey extracts the patient id from a patient key.
func PatientIDFromKey(key string) (uint64, error) {
	rest, ok := strings.CutPrefix(key, PrefixPatient)
	if !ok {
		return 0, fmt.Errorf("not a patient key: %q", key)
	}
	return ParseID(rest)
}
