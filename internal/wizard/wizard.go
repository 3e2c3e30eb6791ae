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
Package wizard provides the interactive first-run configuration of a
PatientDB server.

The wizard walks an administrator through the settings a clinic install
needs (port, data directory, discovery, monitoring, at-rest encryption,
logging), shows a summary, and optionally writes a config file the
server loads on later starts. It is invoked with `patientdb -setup`.
*/
package wizard

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"patientdb/internal/banner"
	"patientdb/internal/config"
)

// UserChoice represents the user's choice when an existing config is found.
type UserChoice int

const (
	// ChoiceUseExisting uses the existing configuration as-is.
	ChoiceUseExisting UserChoice = iota
	// ChoiceModify modifies the existing configuration.
	ChoiceModify
	// ChoiceCreateNew creates a new configuration from scratch.
	ChoiceCreateNew
	// ChoiceCancelled indicates the user cancelled.
	ChoiceCancelled
)

// Run executes the interactive wizard and returns the collected
// configuration, or nil if the user cancelled.
func Run() *config.Config {
	reader := bufio.NewReader(os.Stdin)

	printHeader()

	cfg := config.Default()
	existingPath := ""

	if existing, err := config.Load(""); err == nil && existing.ConfigFile != "" {
		displayExisting(existing)
		existingPath = existing.ConfigFile

		switch promptChoice(reader) {
		case ChoiceUseExisting:
			fmt.Println()
			return existing
		case ChoiceModify:
			cfg = existing
			fmt.Println()
		case ChoiceCreateNew:
			fmt.Println()
		case ChoiceCancelled:
			fmt.Println()
			fmt.Println("Cancelled. Use 'patientdb -help' for command-line options.")
			return nil
		}
	} else {
		printWelcome()
	}

	runSteps(reader, cfg)
	printSummary(cfg)

	fmt.Println()
	confirm := promptWithDefault(reader, "  Keep this configuration? (Y/n)", "y")
	if !isYes(confirm) {
		fmt.Println()
		fmt.Println("Cancelled. Use 'patientdb -help' for command-line options.")
		return nil
	}

	save, savePath := promptSave(reader, existingPath)
	if save {
		if err := cfg.SaveToFile(savePath); err != nil {
			fmt.Printf("%sWarning:%s %v\n", banner.AnsiYellow, banner.AnsiReset, err)
		} else {
			cfg.ConfigFile = savePath
			fmt.Printf("\n%s✓%s Configuration saved to %s\n", banner.AnsiGreen, banner.AnsiReset, savePath)
		}
	}

	fmt.Println()
	return cfg
}

func printHeader() {
	banner.Print()
	fmt.Println()
	fmt.Printf("  %s%sServer Setup%s\n", banner.AnsiBold, banner.AnsiCyan, banner.AnsiReset)
	fmt.Println("  " + strings.Repeat("─", 40))
	fmt.Println()
}

func printWelcome() {
	fmt.Println("  This wizard configures a PatientDB server.")
	fmt.Println()
	fmt.Printf("  • Press %sEnter%s to accept the defaults shown in brackets\n", banner.AnsiCyan, banner.AnsiReset)
	fmt.Printf("  • Press %sCtrl+C%s to cancel\n", banner.AnsiCyan, banner.AnsiReset)
	fmt.Println()
}

// displayExisting shows the configuration found on disk.
func displayExisting(cfg *config.Config) {
	fmt.Printf("  Found existing configuration: %s%s%s\n", banner.AnsiCyan, cfg.ConfigFile, banner.AnsiReset)
	fmt.Println()
	fmt.Printf("    Port           %d\n", cfg.Port)
	fmt.Printf("    Data directory %s\n", cfg.DataDir)
	fmt.Printf("    Discovery      %s\n", onOff(cfg.Discovery))
	fmt.Printf("    Metrics        %s\n", addrOrOff(cfg.MetricsAddr))
	fmt.Printf("    Health checks  %s\n", addrOrOff(cfg.HealthAddr))
	fmt.Printf("    Encryption     %s\n", onOff(cfg.EncryptionEnabled))
	fmt.Printf("    Log level      %s\n", cfg.LogLevel)
	fmt.Println()
}

func promptChoice(reader *bufio.Reader) UserChoice {
	fmt.Printf("    %s[1]%s  Use this configuration\n", banner.AnsiGreen, banner.AnsiReset)
	fmt.Printf("    %s[2]%s  Modify settings\n", banner.AnsiCyan, banner.AnsiReset)
	fmt.Printf("    %s[3]%s  Start fresh with defaults\n", banner.AnsiCyan, banner.AnsiReset)
	fmt.Printf("    %s[4]%s  Cancel\n", banner.AnsiDim, banner.AnsiReset)
	fmt.Println()

	switch promptWithDefault(reader, "  Your choice", "1") {
	case "2":
		return ChoiceModify
	case "3":
		return ChoiceCreateNew
	case "4":
		return ChoiceCancelled
	default:
		return ChoiceUseExisting
	}
}

// runSteps walks through the configuration prompts, mutating cfg.
func runSteps(reader *bufio.Reader, cfg *config.Config) {
	printStepHeader(1, "Network")
	cfg.Port = promptPort(reader, "  Listen port", cfg.Port)
	discovery := promptWithDefault(reader, "  Advertise via mDNS so clients find the server automatically? (y/N)",
		yesNoDefault(cfg.Discovery))
	cfg.Discovery = isYes(discovery)
	fmt.Println()

	printStepHeader(2, "Storage")
	cfg.DataDir = promptWithDefault(reader, "  Data directory", cfg.DataDir)
	fmt.Println()

	printStepHeader(3, "Encryption")
	fmt.Println("  Patient data is sensitive; at-rest encryption is recommended")
	fmt.Println("  for any machine that leaves the clinic.")
	fmt.Println()
	enc := promptWithDefault(reader, "  Encrypt the store at rest? (y/N)", yesNoDefault(cfg.EncryptionEnabled))
	cfg.EncryptionEnabled = isYes(enc)
	if cfg.EncryptionEnabled && cfg.EncryptionPassphrase == "" {
		if env := os.Getenv(config.EnvEncryptionPassphrase); env != "" {
			cfg.EncryptionPassphrase = env
			fmt.Printf("  %s✓%s Passphrase loaded from %s\n", banner.AnsiGreen, banner.AnsiReset, config.EnvEncryptionPassphrase)
		} else {
			fmt.Println()
			fmt.Printf("  %sThe passphrase is never written to the config file.%s\n", banner.AnsiYellow, banner.AnsiReset)
			fmt.Printf("  Set %s before each server start, or enter one now\n", config.EnvEncryptionPassphrase)
			fmt.Println("  for this session only.")
			fmt.Println()
			cfg.EncryptionPassphrase = promptLine(reader, "  Passphrase")
			if cfg.EncryptionPassphrase == "" {
				fmt.Printf("  %sNo passphrase entered; encryption disabled.%s\n", banner.AnsiYellow, banner.AnsiReset)
				cfg.EncryptionEnabled = false
			}
		}
	}
	fmt.Println()

	printStepHeader(4, "Monitoring")
	metrics := promptWithDefault(reader, "  Metrics listen address (empty = off)", cfg.MetricsAddr)
	cfg.MetricsAddr = strings.TrimSpace(metrics)
	health := promptWithDefault(reader, "  Health check listen address (empty = off)", cfg.HealthAddr)
	cfg.HealthAddr = strings.TrimSpace(health)
	fmt.Println()

	printStepHeader(5, "Logging")
	cfg.LogLevel = promptWithValidation(reader, "  Log level (debug/info/warn/error)", cfg.LogLevel, validLogLevel)
	logJSON := promptWithDefault(reader, "  JSON log output? (y/N)", yesNoDefault(cfg.LogJSON))
	cfg.LogJSON = isYes(logJSON)
	fmt.Println()
}

func printSummary(cfg *config.Config) {
	fmt.Printf("  %s%sSummary%s\n", banner.AnsiBold, banner.AnsiCyan, banner.AnsiReset)
	fmt.Println("  " + strings.Repeat("─", 40))
	fmt.Println()
	fmt.Printf("    Port           %d\n", cfg.Port)
	fmt.Printf("    Data directory %s\n", cfg.DataDir)
	fmt.Printf("    Discovery      %s\n", onOff(cfg.Discovery))
	fmt.Printf("    Metrics        %s\n", addrOrOff(cfg.MetricsAddr))
	fmt.Printf("    Health checks  %s\n", addrOrOff(cfg.HealthAddr))
	fmt.Printf("    Encryption     %s\n", onOff(cfg.EncryptionEnabled))
	fmt.Printf("    Log level      %s (json: %t)\n", cfg.LogLevel, cfg.LogJSON)
}

// promptSave asks whether and where to write the config file.
func promptSave(reader *bufio.Reader, existingPath string) (bool, string) {
	fmt.Println()
	save := promptWithDefault(reader, "  Save to file? (Y/n)", "y")
	if !isYes(save) {
		return false, ""
	}

	defaultPath := existingPath
	if defaultPath == "" {
		defaultPath = "./patientdb.conf"
	}

	savePath := promptWithDefault(reader, "  File path", defaultPath)
	if strings.HasPrefix(savePath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			savePath = filepath.Join(home, savePath[2:])
		}
	}
	return true, savePath
}

func printStepHeader(step int, title string) {
	fmt.Printf("  %sStep %d: %s%s\n", banner.AnsiCyan, step, title, banner.AnsiReset)
	fmt.Println("  " + strings.Repeat("─", 40))
}

// promptWithDefault displays a prompt and returns user input or the default.
func promptWithDefault(reader *bufio.Reader, prompt, defaultVal string) string {
	fmt.Printf("%s [%s%s%s]: ", prompt, banner.AnsiYellow, defaultVal, banner.AnsiReset)
	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// promptLine reads one line with no default.
func promptLine(reader *bufio.Reader, prompt string) string {
	fmt.Printf("%s: ", prompt)
	input, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

func promptPort(reader *bufio.Reader, prompt string, defaultVal int) int {
	for {
		value := promptWithDefault(reader, prompt, strconv.Itoa(defaultVal))
		if n, err := strconv.Atoi(value); err == nil && ValidPort(n) {
			return n
		}
		fmt.Printf("  %sInvalid port, enter a value between 1 and 65535.%s\n", banner.AnsiRed, banner.AnsiReset)
	}
}

func promptWithValidation(reader *bufio.Reader, prompt, defaultVal string, validate func(string) bool) string {
	for {
		value := promptWithDefault(reader, prompt, defaultVal)
		if validate(value) {
			return value
		}
		fmt.Printf("  %sInvalid input, try again.%s\n", banner.AnsiRed, banner.AnsiReset)
	}
}

// ValidPort reports whether n is a usable TCP port.
func ValidPort(n int) bool {
	return n >= 1 && n <= 65535
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func yesNoDefault(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func addrOrOff(addr string) string {
	if addr == "" {
		return "disabled"
	}
	return addr
}
