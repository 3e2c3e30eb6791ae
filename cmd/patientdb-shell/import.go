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
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"patientdb/internal/pool"
	"patientdb/internal/record"
)

// importRow is one patient to create: a pseudonymized code and its
// initial scorename=value pairs.
type importRow struct {
	line   int
	code   string
	fields [][2]string
}

// parseImportFile reads the tab-separated import format: one patient
// per line, the code first, then scorename=value pairs. Blank lines
// and lines starting with # are skipped.
//
//	KI-2026-001	demographics:firstname=Anna	demographics:lastname=Berg
func parseImportFile(path string) ([]importRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []importRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		row := importRow{line: lineNo, code: strings.TrimSpace(parts[0])}
		if row.code == "" {
			return nil, fmt.Errorf("line %d: empty patient code", lineNo)
		}
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			name, value, ok := strings.Cut(p, "=")
			if !ok || name == "" {
				return nil, fmt.Errorf("line %d: malformed field %q, want scorename=value", lineNo, p)
			}
			row.fields = append(row.fields, [2]string{name, value})
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// runImport creates every patient in the file, distributing rows over
// a pool of authenticated sessions so large cohorts load in parallel.
func runImport(addr, identity, password, path string, jobs int) error {
	if jobs < 1 {
		jobs = 1
	}
	rows, err := parseImportFile(path)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s: nothing to import", path)
	}

	p, err := pool.New(pool.Config{
		Address:        addr,
		Identity:       identity,
		Password:       password,
		MinConns:       1,
		MaxConns:       jobs,
		AcquireTimeout: 30 * time.Second,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	work := make(chan importRow)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range work {
				if err := importOne(p, row); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					fmt.Fprintf(os.Stderr, "line %d (%s): %v\n", row.line, row.code, err)
				}
			}
		}()
	}
	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	stats := p.Stats()
	fmt.Printf("imported %d of %d patient(s) over %d session(s)\n",
		len(rows)-failed, len(rows), stats.OpenSessions)
	if failed > 0 {
		return fmt.Errorf("%d of %d rows failed", failed, len(rows))
	}
	return nil
}

// importOne creates one patient on a pooled session. Placeholder ids
// let the server mint the whole batch in one reservation.
func importOne(p *pool.Pool, row importRow) error {
	sess, err := p.Get()
	if err != nil {
		return err
	}
	defer sess.Release()

	patient := &record.PatientInfo{ID: record.Placeholder(-1), Code: row.code}
	values := make([]*record.ScoreValue, 0, len(row.fields))
	for i, f := range row.fields {
		values = append(values, &record.ScoreValue{
			ID:        record.Placeholder(int64(-2 - i)),
			Patient:   record.Placeholder(-1),
			ScoreName: f[0],
			Kind:      record.KindString,
			StringVal: f[1],
			Modified:  time.Now().Unix(),
		})
	}
	_, err = sess.Client().PutNewPatient(patient, nil, values)
	return err
}
