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
Package banner provides the startup banner display for PatientDB.

The ASCII art logo is embedded at compile time with the //go:embed
directive, so the banner file is always available without external
dependencies. Terminal colors use plain ANSI escape sequences.

Usage:

	func main() {
	    banner.Print()
	    // ... rest of initialization
	}
*/
package banner

import (
	_ "embed" // Required for the //go:embed directive
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"patientdb/internal/config"
)

// banner contains the ASCII art logo loaded from banner.txt at
// compile time.
//
//go:embed banner.txt
var banner string

// ANSI escape codes for terminal text formatting.
const (
	AnsiRed    = "\033[31m"
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information for the PatientDB application.
const (
	Version   = "01.26.3"
	Copyright = "(c)2026 PatientDB Authors"
	License   = "Licensed under Apache 2.0"
)

// Print displays the startup banner with version and copyright
// information. Call once at application startup.
func Print() {
	fmt.Println(AnsiCyan + banner + AnsiReset)
	fmt.Println(AnsiCyan + AnsiBold + ":: PatientDB ::                 (v" + Version + ")" + AnsiReset)
	fmt.Println(AnsiGreen + AnsiBold + Copyright + AnsiReset)
	fmt.Println(AnsiGreen + AnsiBold + License + AnsiReset)
	fmt.Println()
}

// PrintLogSeparator prints a visual separator before logs start, so
// users can distinguish the configuration display from log output.
func PrintLogSeparator() {
	printLogSeparator(os.Stdout)
}

func printLogSeparator(w io.Writer) {
	const lineWidth = 78
	arrow := "v"
	text := " LOGS START HERE "
	padding := (lineWidth - len(text) - 4) / 2 // 4 for arrows on each side
	if padding < 0 {
		padding = 0
	}
	line := strings.Repeat("-", padding)
	fmt.Fprintf(w, "  %s%s %s%s%s %s%s%s\n",
		AnsiYellow, arrow+arrow+line,
		AnsiBold, text, AnsiReset+AnsiYellow,
		line+arrow+arrow, AnsiReset, "")
	fmt.Fprintln(w)
}

// PrintServerWithConfig prints the server banner with a compact
// overview of the effective configuration.
func PrintServerWithConfig(cfg *config.Config) {
	PrintServerWithConfigTo(os.Stdout, cfg)
}

// PrintServerWithConfigTo writes the server banner with configuration
// to the specified writer.
func PrintServerWithConfigTo(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+banner+AnsiReset)
	fmt.Fprintln(w, AnsiCyan+AnsiBold+":: PatientDB Server ::          (v"+Version+")"+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  Patient Data Store for Clinical Research"+AnsiReset)
	fmt.Fprintln(w)

	printConfigSource(w, cfg)
	printCompactConfig(w, cfg)

	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)

	printLogSeparator(w)
}

func printConfigSource(w io.Writer, cfg *config.Config) {
	fmt.Fprint(w, "  "+AnsiDim+"Config: "+AnsiReset)
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, AnsiYellow+cfg.ConfigFile+AnsiReset)
	} else {
		fmt.Fprintln(w, AnsiDim+"defaults + environment"+AnsiReset)
	}
	fmt.Fprintln(w)
}

func printCompactConfig(w io.Writer, cfg *config.Config) {
	const lineWidth = 78

	printSectionHeader(w, "Server", lineWidth)
	col1 := fmtKV("Port", fmt.Sprintf("%s:%d%s", AnsiGreen, cfg.Port, AnsiReset))
	col2 := fmtKV("Data", cfg.DataDir)
	col3 := fmtKV("Log", cfg.LogLevel)
	printRow3(w, col1, col2, col3)
	fmt.Fprintln(w)

	printSectionHeader(w, "Security", lineWidth)
	printSecurityInfo(w, cfg)
	fmt.Fprintln(w)

	printSectionHeader(w, "Features", lineWidth)
	printFeaturesInfo(w, cfg)
	fmt.Fprintln(w)

	printSectionHeader(w, "System", lineWidth)
	col1 = fmtKV("CPUs", fmt.Sprintf("%d", runtime.NumCPU()))
	col2 = fmtKV("GOMAXPROCS", fmt.Sprintf("%d", runtime.GOMAXPROCS(0)))
	printRow3(w, col1, col2, "")
	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string, width int) {
	titleLen := len(title) + 4 // "[ title ]"
	leftPad := 2
	rightPad := width - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s%s%s ]%s%s\n",
		AnsiDim+strings.Repeat("-", leftPad),
		AnsiReset+AnsiCyan+AnsiBold, title, AnsiReset+AnsiDim,
		strings.Repeat("-", rightPad),
		AnsiReset)
}

func fmtKV(key, value string) string {
	return fmt.Sprintf("%s%s:%s %s", AnsiDim, key, AnsiReset, value)
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func printRow2(w io.Writer, col1, col2 string) {
	fmt.Fprintf(w, "  %-40s %s\n", col1, col2)
}

func printSecurityInfo(w io.Writer, cfg *config.Config) {
	col1 := fmtKV("Authentication", AnsiGreen+"SRP-6a"+AnsiReset)
	var col2 string
	if cfg.EncryptionEnabled {
		col2 = fmtKV("At-Rest Encryption", AnsiGreen+"AES-256-GCM"+AnsiReset)
	} else {
		col2 = fmtKV("At-Rest Encryption", AnsiYellow+"off"+AnsiReset)
	}
	printRow2(w, col1, col2)
}

func printFeaturesInfo(w io.Writer, cfg *config.Config) {
	var enabled []string
	var disabled []string

	if cfg.Discovery {
		enabled = append(enabled, "mDNS Discovery")
	} else {
		disabled = append(disabled, "mDNS Discovery")
	}
	if cfg.MetricsAddr != "" {
		enabled = append(enabled, fmt.Sprintf("Metrics(%s)", cfg.MetricsAddr))
	} else {
		disabled = append(disabled, "Metrics")
	}

	if len(enabled) > 0 {
		fmt.Fprintf(w, "  %sEnabled:%s  %s%s%s\n", AnsiDim, AnsiReset, AnsiGreen, strings.Join(enabled, ", "), AnsiReset)
	}
	if len(disabled) > 0 {
		fmt.Fprintf(w, "  %sDisabled:%s %s\n", AnsiDim, AnsiReset, AnsiDim+strings.Join(disabled, ", ")+AnsiReset)
	}
}
