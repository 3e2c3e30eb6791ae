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
patientdb-admin - PatientDB store administration tool

This tool operates directly on the store through the local facade in
system mode, bypassing login and permission checks. It exists for
bootstrap: creating the first identity and its grants on a store no
identity can log into yet. Run it only while the server is stopped; the
store is single-writer.

Usage:

	patientdb-admin [-data-dir <path>] adduser <name> [-realname <s>] [-groups 1,2]
	patientdb-admin [-data-dir <path>] grant <subject> <resource> <none|read|readwrite>
	patientdb-admin [-data-dir <path>] showuser <name>
	patientdb-admin [-data-dir <path>] import-scorenames <file>

The score name file holds one definition per line:

	demographics            string
	demographics:firstname  string leaf searchable
	examination:weight      number leaf repeating default=0
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"patientdb/internal/auth"
	"patientdb/internal/banner"
	"patientdb/internal/client"
	"patientdb/internal/config"
	"patientdb/internal/logging"
	"patientdb/internal/perm"
	"patientdb/internal/record"
	"patientdb/internal/storage"
)

func usage() {
	fmt.Println()
	fmt.Printf("%spatientdb-admin v%s%s - store administration tool\n",
		banner.AnsiBold, banner.Version, banner.AnsiReset)
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  patientdb-admin [-data-dir <path>] <command> [args]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  adduser <name> [-realname <s>] [-groups 1,2]   Create an identity (prompts for password)")
	fmt.Println("  grant <subject> <resource> <level>             Add a permission entry")
	fmt.Println("  showuser <name>                                Print an identity's profile")
	fmt.Println("  import-scorenames <file>                       Load schema definitions from a file")
	fmt.Println()
	fmt.Println("  <subject> and <resource> are decimal ids, schema names, or \"*\".")
	fmt.Println("  <level> is one of none, read, readwrite.")
	fmt.Println()
	fmt.Println("  Run this tool only while the server is stopped.")
	fmt.Println()
}

func main() {
	dataDir := flag.String("data-dir", config.GetDefaultDataDir(), "Directory for the store's WAL file")
	flag.Usage = usage
	flag.Parse()

	// Quiet down the ambient logging; this is an interactive tool.
	logging.SetGlobalLevel(logging.WARN)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	store, err := storage.Open(*dataDir)
	if err != nil {
		fatal("open store: %v", err)
	}
	defer store.Close()

	sys := client.NewSystemLocal(store)

	switch args[0] {
	case "adduser":
		err = cmdAddUser(sys, args[1:])
	case "grant":
		err = cmdGrant(sys, args[1:])
	case "showuser":
		err = cmdShowUser(sys, args[1:])
	case "import-scorenames":
		err = cmdImportScoreNames(sys, args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fatal("%v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "patientdb-admin: "+format+"\n", args...)
	os.Exit(1)
}

func cmdAddUser(sys *client.Local, args []string) error {
	fs := flag.NewFlagSet("adduser", flag.ExitOnError)
	realName := fs.String("realname", "", "Display name")
	groups := fs.String("groups", "", "Comma-separated group ids")
	if len(args) == 0 {
		return fmt.Errorf("adduser: identity name required")
	}
	name := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var groupIDs []uint64
	if *groups != "" {
		for _, tok := range strings.Split(*groups, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 64)
			if err != nil {
				return fmt.Errorf("adduser: bad group id %q", tok)
			}
			groupIDs = append(groupIDs, id)
		}
	}

	password, err := promptPassword("Password for " + name + ": ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Repeat password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("adduser: passwords do not match")
	}
	if password == "" {
		return fmt.Errorf("adduser: empty password")
	}

	verifier, err := auth.NewVerifier(name, password)
	if err != nil {
		return err
	}
	info := &record.UserInfo{Name: name, RealName: *realName, Groups: groupIDs}
	if err := sys.PutNewUser(info, verifier); err != nil {
		return err
	}

	created, err := sys.ReqUser(name)
	if err != nil {
		return err
	}
	fmt.Printf("created identity %q (id %d)\n", created.Name, created.ID)
	fmt.Printf("note: the identity has no permissions yet; add grants with:\n")
	fmt.Printf("  patientdb-admin grant %d '*' read\n", created.ID)
	return nil
}

func cmdGrant(sys *client.Local, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("grant: want <subject> <resource> <level>")
	}
	level, ok := perm.ParseLevel(args[2])
	if !ok {
		return fmt.Errorf("grant: bad level %q (want none, read or readwrite)", args[2])
	}
	entry := perm.Entry{Subject: args[0], Resource: args[1], Level: level}
	if err := sys.Grant(entry); err != nil {
		return err
	}
	fmt.Printf("granted %s on %q to subject %q\n", level, entry.Resource, entry.Subject)
	return nil
}

func cmdShowUser(sys *client.Local, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("showuser: want <name>")
	}
	info, err := sys.ReqUser(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("id:        %d\n", info.ID)
	fmt.Printf("name:      %s\n", info.Name)
	fmt.Printf("real name: %s\n", info.RealName)
	if len(info.Groups) > 0 {
		parts := make([]string, len(info.Groups))
		for i, g := range info.Groups {
			parts[i] = strconv.FormatUint(g, 10)
		}
		fmt.Printf("groups:    %s\n", strings.Join(parts, ", "))
	}
	return nil
}

func cmdImportScoreNames(sys *client.Local, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("import-scorenames: want <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var defs []*record.ScoreDefinition
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		def, err := parseDefinition(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %v", args[0], lineno, err)
		}
		defs = append(defs, def)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(defs) == 0 {
		return fmt.Errorf("import-scorenames: no definitions in %s", args[0])
	}

	if _, err := sys.PutNewScoreName(defs); err != nil {
		return err
	}
	fmt.Printf("imported %d score name definition(s)\n", len(defs))
	return nil
}

// parseDefinition parses one schema line: a name, a kind, then
// optional flag tokens and a default=<value> assignment.
func parseDefinition(line string) (*record.ScoreDefinition, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("want <name> <kind> [flags]")
	}
	kind, ok := record.ParseDataKind(fields[1])
	if !ok {
		return nil, fmt.Errorf("bad kind %q", fields[1])
	}
	def := &record.ScoreDefinition{Name: fields[0], Kind: kind}
	for _, tok := range fields[2:] {
		switch {
		case tok == "leaf":
			def.Leaf = true
		case tok == "repeating":
			def.Repeating = true
		case tok == "searchable":
			def.Searchable = true
		case tok == "customizable":
			def.Customizable = true
		case strings.HasPrefix(tok, "default="):
			def.Default = strings.TrimPrefix(tok, "default=")
		default:
			return nil, fmt.Errorf("unknown flag %q", tok)
		}
	}
	return def, nil
}

// promptPassword reads a password without echo when stdin is a
// terminal, falling back to a plain line read for piped input.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(password), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
