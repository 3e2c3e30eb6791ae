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

package wizard

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"patientdb/internal/config"
)

func TestValidPort(t *testing.T) {
	tests := []struct {
		port  int
		valid bool
	}{
		{7431, true},
		{1, true},
		{65535, true},
		{0, false},
		{-1, false},
		{65536, false},
	}
	for _, tt := range tests {
		if got := ValidPort(tt.port); got != tt.valid {
			t.Errorf("ValidPort(%d) = %v, want %v", tt.port, got, tt.valid)
		}
	}
}

func TestValidLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "INFO"} {
		if !validLogLevel(level) {
			t.Errorf("expected %q to be a valid level", level)
		}
	}
	for _, level := range []string{"", "verbose", "trace"} {
		if validLogLevel(level) {
			t.Errorf("expected %q to be rejected", level)
		}
	}
}

func TestPromptWithDefault(t *testing.T) {
	// Empty input takes the default, anything else wins over it.
	reader := bufio.NewReader(strings.NewReader("\ncustom\n"))

	if got := promptWithDefault(reader, "port", "7431"); got != "7431" {
		t.Errorf("empty input = %q, want default", got)
	}
	if got := promptWithDefault(reader, "port", "7431"); got != "custom" {
		t.Errorf("input = %q, want %q", got, "custom")
	}
}

func TestPromptPortRetriesUntilValid(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("nope\n99999\n8080\n"))

	if got := promptPort(reader, "port", 7431); got != 8080 {
		t.Errorf("port = %d, want 8080", got)
	}
}

func TestRunStepsCollectsAnswers(t *testing.T) {
	// One line per prompt: port, discovery, data dir, encryption,
	// metrics, health, log level, json.
	input := strings.Join([]string{
		"9000",
		"y",
		"/tmp/pdb",
		"n",
		":9100",
		"",
		"debug",
		"y",
	}, "\n") + "\n"

	cfg := config.Default()
	runSteps(bufio.NewReader(strings.NewReader(input)), cfg)

	if cfg.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Port)
	}
	if !cfg.Discovery {
		t.Error("expected discovery enabled")
	}
	if cfg.DataDir != "/tmp/pdb" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
	if cfg.EncryptionEnabled {
		t.Error("expected encryption disabled")
	}
	if cfg.MetricsAddr != ":9100" {
		t.Errorf("metrics addr = %q", cfg.MetricsAddr)
	}
	if cfg.LogLevel != "debug" || !cfg.LogJSON {
		t.Errorf("logging = %q json=%t", cfg.LogLevel, cfg.LogJSON)
	}
}

func TestRunStepsEncryptionWithoutPassphraseDisables(t *testing.T) {
	// Enabling encryption but entering no passphrase (and having none
	// in the environment) falls back to an unencrypted store.
	input := strings.Join([]string{
		"", "", "", "y", "", "", "", "", "",
	}, "\n") + "\n"

	t.Setenv(config.EnvEncryptionPassphrase, "")

	cfg := config.Default()
	runSteps(bufio.NewReader(strings.NewReader(input)), cfg)

	if cfg.EncryptionEnabled {
		t.Error("expected encryption to fall back to disabled without a passphrase")
	}
}

func TestSavedConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patientdb.conf")

	cfg := config.Default()
	cfg.Port = 9000
	cfg.Discovery = true
	cfg.MetricsAddr = ":9100"
	cfg.LogLevel = "debug"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Port != 9000 || !loaded.Discovery || loaded.MetricsAddr != ":9100" || loaded.LogLevel != "debug" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestSavedConfigOmitsPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patientdb.conf")

	cfg := config.Default()
	cfg.EncryptionEnabled = true
	cfg.EncryptionPassphrase = "super secret"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if strings.Contains(string(data), "super secret") {
		t.Error("passphrase must never be written to the config file")
	}
	if !strings.Contains(string(data), "encryption_enabled = true") {
		t.Error("expected encryption_enabled = true in saved file")
	}
}
