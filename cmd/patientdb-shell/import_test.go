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

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeImportFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cohort.tsv")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write import file: %v", err)
	}
	return path
}

func TestParseImportFile(t *testing.T) {
	path := writeImportFile(t, "# study cohort\n"+
		"KI-001\tdemographics:firstname=Anna\tdemographics:lastname=Berg\n"+
		"\n"+
		"KI-002\n")

	rows, err := parseImportFile(path)
	if err != nil {
		t.Fatalf("parseImportFile: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("row count = %d, want 2", len(rows))
	}
	if rows[0].code != "KI-001" || len(rows[0].fields) != 2 {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[0].fields[1] != [2]string{"demographics:lastname", "Berg"} {
		t.Errorf("second field = %v", rows[0].fields[1])
	}
	if rows[1].code != "KI-002" || len(rows[1].fields) != 0 {
		t.Errorf("second row = %+v", rows[1])
	}
	if rows[1].line != 4 {
		t.Errorf("line number = %d, want 4", rows[1].line)
	}
}

func TestParseImportFileRejectsMalformedField(t *testing.T) {
	path := writeImportFile(t, "KI-001\tnot a pair\n")
	if _, err := parseImportFile(path); err == nil {
		t.Error("malformed field accepted")
	}
}

func TestParseImportFileRejectsEmptyCode(t *testing.T) {
	path := writeImportFile(t, "\tdemographics:firstname=Anna\n")
	if _, err := parseImportFile(path); err == nil {
		t.Error("empty patient code accepted")
	}
}
