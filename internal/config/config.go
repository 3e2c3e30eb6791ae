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
Package config provides configuration management for PatientDB.

Configuration sources, in precedence order:
 1. Command-line flags (highest, applied by the cmd layer)
 2. Environment variables
 3. Configuration file
 4. Default values (lowest)

The configuration file uses a simple key = value format:

	# PatientDB configuration
	port = 7431
	data_dir = "/var/lib/patientdb"
	log_level = "info"
	log_json = false
	discovery_enabled = true
	encryption_enabled = false

Environment Variables:
  - PATIENTDB_PORT: TCP port the server listens on
  - PATIENTDB_DATA_DIR: Directory for the store's WAL file
  - PATIENTDB_LOG_LEVEL: Log level (debug, info, warn, error)
  - PATIENTDB_LOG_JSON: Enable JSON logging (true/false)
  - PATIENTDB_DISCOVERY: Enable mDNS advertisement (true/false)
  - PATIENTDB_METRICS_ADDR: Listen address for metrics exposition (empty = off)
  - PATIENTDB_HEALTH_ADDR: Listen address for health check endpoints (empty = off)
  - PATIENTDB_ENCRYPTION_ENABLED: Encrypt the WAL at rest (true/false)
  - PATIENTDB_ENCRYPTION_PASSPHRASE: Passphrase for at-rest key derivation
  - PATIENTDB_CONFIG_FILE: Path to a configuration file
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvPort                 = "PATIENTDB_PORT"
	EnvDataDir              = "PATIENTDB_DATA_DIR"
	EnvLogLevel             = "PATIENTDB_LOG_LEVEL"
	EnvLogJSON              = "PATIENTDB_LOG_JSON"
	EnvDiscovery            = "PATIENTDB_DISCOVERY"
	EnvMetricsAddr          = "PATIENTDB_METRICS_ADDR"
	EnvHealthAddr           = "PATIENTDB_HEALTH_ADDR"
	EnvEncryptionEnabled    = "PATIENTDB_ENCRYPTION_ENABLED"
	EnvEncryptionPassphrase = "PATIENTDB_ENCRYPTION_PASSPHRASE"
	EnvConfigFile           = "PATIENTDB_CONFIG_FILE"
)

// DefaultPort is the TCP port the server listens on by default.
const DefaultPort = 7431

// Default configuration file paths, searched in order.
var DefaultConfigPaths = []string{
	"/etc/patientdb/patientdb.conf",
	"$HOME/.config/patientdb/patientdb.conf",
	"./patientdb.conf",
}

// Config holds all configuration values for PatientDB.
type Config struct {
	// Server configuration.
	Port int

	// DataDir is the directory holding the store's WAL file.
	DataDir string

	// Discovery enables mDNS advertisement of the server.
	Discovery bool

	// MetricsAddr is the listen address for the metrics endpoint.
	// Empty disables exposition.
	MetricsAddr string

	// HealthAddr is the listen address for the health check
	// endpoints. Empty disables them.
	HealthAddr string

	// Encryption of the WAL at rest.
	EncryptionEnabled    bool
	EncryptionPassphrase string

	// Logging.
	LogLevel string
	LogJSON  bool

	// ConfigFile records the path of the loaded configuration file,
	// if any. Informational only.
	ConfigFile string
}

// GetDefaultDataDir returns the default directory for database storage.
// Root gets /var/lib/patientdb; other users get an XDG data directory.
func GetDefaultDataDir() string {
	if os.Getuid() == 0 {
		return "/var/lib/patientdb"
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "patientdb")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "patientdb")
	}
	return "./data"
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:      DefaultPort,
		DataDir:   GetDefaultDataDir(),
		Discovery: false,
		LogLevel:  "info",
	}
}

// Load builds a Config from defaults, an optional config file, and the
// environment, in that order. An explicit path wins over the search list;
// a missing searched file is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	} else {
		for _, candidate := range DefaultConfigPaths {
			candidate = os.ExpandEnv(candidate)
			if _, err := os.Stat(candidate); err == nil {
				if err := cfg.loadFile(candidate); err != nil {
					return nil, err
				}
				cfg.ConfigFile = candidate
				break
			}
		}
	}

	cfg.loadEnv()
	return cfg, nil
}

// loadFile parses a key = value configuration file into cfg.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	for lineno, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("%s:%d: expected key = value", path, lineno+1)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch key {
		case "port":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s:%d: bad port %q", path, lineno+1, value)
			}
			c.Port = n
		case "data_dir":
			c.DataDir = value
		case "log_level":
			c.LogLevel = value
		case "log_json":
			c.LogJSON = parseBool(value)
		case "discovery_enabled":
			c.Discovery = parseBool(value)
		case "metrics_addr":
			c.MetricsAddr = value
		case "health_addr":
			c.HealthAddr = value
		case "encryption_enabled":
			c.EncryptionEnabled = parseBool(value)
		case "encryption_passphrase":
			c.EncryptionPassphrase = value
		default:
			return fmt.Errorf("%s:%d: unknown key %q", path, lineno+1, key)
		}
	}
	return nil
}

// loadEnv overrides cfg fields from environment variables.
func (c *Config) loadEnv() {
	if v := os.Getenv(EnvPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		c.LogJSON = parseBool(v)
	}
	if v := os.Getenv(EnvDiscovery); v != "" {
		c.Discovery = parseBool(v)
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(EnvHealthAddr); v != "" {
		c.HealthAddr = v
	}
	if v := os.Getenv(EnvEncryptionEnabled); v != "" {
		c.EncryptionEnabled = parseBool(v)
	}
	if v := os.Getenv(EnvEncryptionPassphrase); v != "" {
		c.EncryptionPassphrase = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.EncryptionEnabled && c.EncryptionPassphrase == "" {
		return fmt.Errorf("encryption enabled but no passphrase set; set %s", EnvEncryptionPassphrase)
	}
	return nil
}

// ListenAddr returns the TCP listen address for the configured port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SaveToFile writes the configuration in the key = value format loadFile
// reads back. The encryption passphrase is never written; it travels via
// the environment only.
func (c *Config) SaveToFile(path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# PatientDB server configuration\n")
	fmt.Fprintf(&b, "# Generated %s\n\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "port = %d\n", c.Port)
	fmt.Fprintf(&b, "data_dir = %q\n", c.DataDir)
	fmt.Fprintf(&b, "log_level = %s\n", c.LogLevel)
	fmt.Fprintf(&b, "log_json = %t\n", c.LogJSON)
	fmt.Fprintf(&b, "discovery_enabled = %t\n", c.Discovery)
	if c.MetricsAddr != "" {
		fmt.Fprintf(&b, "metrics_addr = %q\n", c.MetricsAddr)
	}
	if c.HealthAddr != "" {
		fmt.Fprintf(&b, "health_addr = %q\n", c.HealthAddr)
	}
	fmt.Fprintf(&b, "encryption_enabled = %t\n", c.EncryptionEnabled)
	if c.EncryptionEnabled {
		fmt.Fprintf(&b, "# Set %s before starting the server.\n", EnvEncryptionPassphrase)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file %q: %w", path, err)
	}
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
