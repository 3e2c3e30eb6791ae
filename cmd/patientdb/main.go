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
Package main is the entry point for the PatientDB server.

Startup Flow:
=============

 1. Load configuration from file, environment and flags
 2. Open the store (which replays the WAL for crash recovery)
 3. Start the metrics and health endpoints if configured
 4. Create and start the TCP server to accept client connections

Command-Line Flags:
===================

  -port        : TCP port for client connections (default: 7431)
  -data-dir    : Directory for the store's WAL file
  -discovery   : Advertise the server over mDNS
  -log-level   : Log level - debug, info, warn, error (default: info)
  -log-json    : Enable JSON log output
  -config      : Path to a configuration file

Usage Examples:
===============

  First-time setup:
    ./patientdb -setup

  Start with defaults:
    ./patientdb

  Start on a custom port with discovery:
    ./patientdb -port 7500 -discovery

  Start with encrypted storage:
    PATIENTDB_ENCRYPTION_ENABLED=true \
    PATIENTDB_ENCRYPTION_PASSPHRASE=... ./patientdb
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"patientdb/internal/banner"
	"patientdb/internal/config"
	"patientdb/internal/health"
	"patientdb/internal/logging"
	"patientdb/internal/metrics"
	"patientdb/internal/server"
	"patientdb/internal/storage"
	"patientdb/internal/wizard"
)

func printUsage() {
	fmt.Println()
	fmt.Printf("%sPatientDB Server v%s%s - Patient data store for clinical research\n",
		banner.AnsiBold, banner.Version, banner.AnsiReset)
	fmt.Println()
	fmt.Println(banner.AnsiBold + "USAGE:" + banner.AnsiReset)
	fmt.Println("  patientdb [options]")
	fmt.Println()
	fmt.Println(banner.AnsiBold + "OPTIONS:" + banner.AnsiReset)
	fmt.Printf("  -port <port>        TCP port for client connections (default: %d)\n", config.DefaultPort)
	fmt.Printf("  -data-dir <path>    Directory for the store (default: %s)\n", config.GetDefaultDataDir())
	fmt.Println("  -discovery          Advertise the server over mDNS")
	fmt.Println("  -metrics-addr <a>   Listen address for /metrics (empty = off)")
	fmt.Println("  -health-addr <a>    Listen address for /health (empty = off)")
	fmt.Println("  -log-level <level>  Log level: debug, info, warn, error (default: info)")
	fmt.Println("  -log-json           Enable JSON log output")
	fmt.Println("  -config <path>      Path to configuration file")
	fmt.Println("  -setup              Run the interactive configuration wizard")
	fmt.Println("  -version            Show version information")
	fmt.Println("  -help               Show this help message")
	fmt.Println()
	fmt.Println(banner.AnsiBold + "ENVIRONMENT VARIABLES:" + banner.AnsiReset)
	fmt.Println("  PATIENTDB_PORT                   TCP port for client connections")
	fmt.Println("  PATIENTDB_DATA_DIR               Directory for the store's WAL file")
	fmt.Println("  PATIENTDB_ENCRYPTION_ENABLED     Encrypt the WAL at rest")
	fmt.Println("  PATIENTDB_ENCRYPTION_PASSPHRASE  Passphrase for at-rest key derivation")
	fmt.Println()
	fmt.Println(banner.AnsiBold + "CONNECTING:" + banner.AnsiReset)
	fmt.Println("  Use patientdb-shell to connect to the server:")
	fmt.Println("    patientdb-shell -addr localhost:7431")
	fmt.Println()
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	setup := flag.Bool("setup", false, "Run the interactive configuration wizard")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	// Flag defaults are filled in after the config file and environment
	// have been applied, so only explicitly set flags override them.
	port := flag.Int("port", 0, "TCP port for client connections")
	dataDir := flag.String("data-dir", "", "Directory for the store's WAL file")
	discovery := flag.Bool("discovery", false, "Advertise the server over mDNS")
	metricsAddr := flag.String("metrics-addr", "", "Listen address for the metrics endpoint")
	healthAddr := flag.String("health-addr", "", "Listen address for the health endpoints")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Enable JSON log output")

	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("patientdb version %s\n", banner.Version)
		os.Exit(0)
	}
	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	var cfg *config.Config
	if *setup {
		cfg = wizard.Run()
		if cfg == nil {
			os.Exit(0)
		}
	} else {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
	}

	// Command-line flags have the highest priority.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "data-dir":
			cfg.DataDir = *dataDir
		case "discovery":
			cfg.Discovery = *discovery
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "health-addr":
			cfg.HealthAddr = *healthAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-json":
			cfg.LogJSON = *logJSON
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	log := logging.NewLogger("main")

	banner.PrintServerWithConfig(cfg)

	log.Info("PatientDB server starting",
		"version", banner.Version,
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
	)

	store, err := storage.OpenWithEncryption(cfg.DataDir, storage.EncryptionConfig{
		Enabled:    cfg.EncryptionEnabled,
		Passphrase: cfg.EncryptionPassphrase,
	})
	if err != nil {
		log.Error("Failed to open store", "error", err, "data_dir", cfg.DataDir)
		if cfg.EncryptionEnabled {
			fmt.Fprintln(os.Stderr, "Failed to open the store. If encryption is enabled,")
			fmt.Fprintln(os.Stderr, "verify that "+config.EnvEncryptionPassphrase+" holds the original passphrase.")
		}
		os.Exit(1)
	}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr)
	if err := metricsSrv.Start(); err != nil {
		log.Error("Failed to start metrics server", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg, store)

	checker := health.NewChecker(banner.Version)
	checker.RegisterCheck("storage", health.StorageCheck(func() error {
		txn := store.Begin()
		defer txn.Rollback()
		_, err := txn.GetLastUpdated()
		return err
	}))
	if cfg.Discovery {
		checker.RegisterCheck("discovery", health.DiscoveryCheck(srv.DiscoveryRunning))
	}
	healthSrv := health.NewServer(cfg.HealthAddr, checker)
	if err := healthSrv.Start(); err != nil {
		log.Error("Failed to start health server", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("Received shutdown signal", "signal", sig.String())

		srv.Stop()
		healthSrv.Stop()
		metricsSrv.Stop()
		if err := store.Close(); err != nil {
			log.Error("Error closing store", "error", err)
		}
		log.Info("PatientDB server stopped")
		os.Exit(0)
	}()

	log.Info("Accepting connections", "address", cfg.ListenAddr())
	if err := srv.Start(); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}
