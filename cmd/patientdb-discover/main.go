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
patientdb-discover - PatientDB server discovery tool

This tool discovers PatientDB servers on the local network using mDNS
(Bonjour/Avahi), so clients on a clinic network can find the server
without manual configuration.

Usage:

	patientdb-discover                # Discover servers (3 second timeout)
	patientdb-discover --timeout 10   # Custom timeout in seconds
	patientdb-discover --json         # Output as JSON
	patientdb-discover --quiet        # Only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"patientdb/internal/banner"
	"patientdb/internal/discovery"
)

func main() {
	timeout := flag.Int("timeout", 3, "Discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output server addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(quiet, "q", false, "Only output server addresses (for scripting)")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Printf("patientdb-discover version %s\n", banner.Version)
		fmt.Println(banner.Copyright)
		os.Exit(0)
	}

	// The mdns library logs IPv6 socket errors that are not critical.
	stdlog.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		printBanner()
		fmt.Printf("  Scanning for PatientDB servers (timeout: %ds)...\n\n", *timeout)
	}

	servers, err := discovery.Browse(time.Duration(*timeout) * time.Second)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		}
		os.Exit(1)
	}

	if len(servers) == 0 {
		if !*quiet && !*jsonOutput {
			fmt.Println("  No PatientDB servers found on the network.")
			fmt.Println()
			fmt.Println("  Common issues:")
			fmt.Println("    - The server is not running with -discovery")
			fmt.Println("    - mDNS is blocked by a firewall (UDP port 5353)")
			fmt.Println("    - The server is on a different network segment")
			fmt.Println()
			fmt.Println("  Try: patientdb-discover --timeout 10")
			fmt.Println()
		}
		os.Exit(0)
	}

	switch {
	case *jsonOutput:
		outputJSON(servers)
	case *quiet:
		outputQuiet(servers)
	default:
		outputHuman(servers)
	}
}

func printBanner() {
	banner.Print()
	fmt.Printf("  %sPatientDB Discover%s %sv%s%s\n",
		banner.AnsiBold, banner.AnsiReset, banner.AnsiDim, banner.Version, banner.AnsiReset)
	fmt.Printf("  %sNetwork Server Discovery Tool%s\n\n", banner.AnsiDim, banner.AnsiReset)
}

func printUsage() {
	printBanner()
	fmt.Println("  Discovers PatientDB servers on the local network using mDNS.")
	fmt.Println()
	fmt.Println("  USAGE:")
	fmt.Println("    patientdb-discover [options]")
	fmt.Println()
	fmt.Println("  OPTIONS:")
	fmt.Println("    --timeout <n>     Discovery timeout in seconds (default: 3)")
	fmt.Println("    --json            Output results as JSON")
	fmt.Println("    --quiet, -q       Only output addresses (for scripting)")
	fmt.Println("    --version         Show version information")
	fmt.Println("    --help, -h        Show this help message")
	fmt.Println()
	fmt.Println("  NETWORK REQUIREMENTS:")
	fmt.Println("    - mDNS uses UDP port 5353 (multicast)")
	fmt.Println("    - Servers must be on the same network segment")
	fmt.Println()
}

func outputJSON(servers []*discovery.DiscoveredServer) {
	type serverOutput struct {
		Instance string `json:"instance"`
		Addr     string `json:"addr"`
		Version  string `json:"version,omitempty"`
	}

	output := make([]serverOutput, len(servers))
	for i, s := range servers {
		output[i] = serverOutput{
			Instance: s.Instance,
			Addr:     s.Addr,
			Version:  s.Version,
		}
	}

	data, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(servers []*discovery.DiscoveredServer) {
	addrs := make([]string, len(servers))
	for i, s := range servers {
		addrs[i] = s.Addr
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(servers []*discovery.DiscoveredServer) {
	fmt.Printf("  Found %d PatientDB server(s)\n\n", len(servers))

	for i, s := range servers {
		fmt.Printf("  %s[%d]%s %s%s%s\n",
			banner.AnsiDim, i+1, banner.AnsiReset,
			banner.AnsiBold+banner.AnsiCyan, s.Instance, banner.AnsiReset)
		fmt.Printf("      %sAddress:%s %s%s%s\n",
			banner.AnsiDim, banner.AnsiReset,
			banner.AnsiGreen, s.Addr, banner.AnsiReset)
		if s.Version != "" {
			fmt.Printf("      %sVersion:%s %s\n",
				banner.AnsiDim, banner.AnsiReset, s.Version)
		}
		fmt.Println()
	}

	fmt.Printf("  %sTip: Use --json for machine-readable output%s\n\n",
		banner.AnsiDim, banner.AnsiReset)
}
