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
patientdb-shell - Interactive PatientDB client

The shell speaks the session protocol over the encrypted channel and
follows a simple synchronous request-response model: read a command,
send the request, display the response, repeat.

Commands:

	login <identity>     Authenticate (prompts for password)
	time                 Show the store's last-update timestamp
	user <name>          Show an identity's profile
	id <count>           Reserve record ids
	patient <id>         Fetch a patient with sessions and values
	search <args>        Search score values, e.g.:
	                       search case_insensitive any include anna
	help                 Show command help
	quit                 Exit the shell

Usage Examples:

	Connect to a local server:
	  patientdb-shell

	Connect to a remote server:
	  patientdb-shell -addr 192.168.1.50:7431

	Find a server via mDNS and connect:
	  patientdb-shell -discover

	Bulk-import a cohort over parallel sessions:
	  patientdb-shell -import cohort.tsv -identity alice -jobs 4
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"patientdb/internal/banner"
	"patientdb/internal/cache"
	"patientdb/internal/client"
	"patientdb/internal/config"
	"patientdb/internal/discovery"
	"patientdb/internal/logging"
	"patientdb/internal/record"
	"patientdb/internal/search"
)

// shellCommands lists the command words offered by tab completion.
var shellCommands = []string{
	"login", "time", "user", "id", "patient", "search", "help", "quit", "exit",
}

type shell struct {
	client   *client.Remote
	cache    *cache.PatientCache
	addr     string
	identity string
}

func main() {
	addr := flag.String("addr", fmt.Sprintf("localhost:%d", config.DefaultPort), "Server address (host:port)")
	discover := flag.Bool("discover", false, "Find a server via mDNS instead of -addr")
	importFile := flag.String("import", "", "Bulk-import patients from a tab-separated file and exit")
	importUser := flag.String("identity", "", "Identity for -import (prompts for password)")
	importJobs := flag.Int("jobs", 4, "Parallel sessions for -import")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("patientdb-shell version %s\n", banner.Version)
		os.Exit(0)
	}

	// Ambient logging would interleave with the prompt.
	logging.SetGlobalLevel(logging.ERROR)
	stdlog.SetOutput(io.Discard)

	target := *addr
	if *discover {
		found, err := discovery.Browse(discovery.DefaultBrowseTimeout)
		if err != nil || len(found) == 0 {
			fmt.Fprintln(os.Stderr, "No PatientDB server found via mDNS.")
			os.Exit(1)
		}
		target = found[0].Addr
		fmt.Printf("Discovered %s at %s\n", found[0].Instance, target)
	}

	if *importFile != "" {
		if *importUser == "" {
			fmt.Fprintln(os.Stderr, "-import requires -identity")
			os.Exit(1)
		}
		password, err := readPassword(nil, "Password: ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "read password: %v\n", err)
			os.Exit(1)
		}
		if err := runImport(target, *importUser, password, *importFile, *importJobs); err != nil {
			fmt.Fprintf(os.Stderr, "import: %v\n", err)
			os.Exit(1)
		}
		return
	}

	sh := &shell{
		client: client.NewRemote(target),
		cache:  cache.New(cache.DefaultConfig()),
		addr:   target,
	}

	if isTerminal() {
		sh.runReadline()
	} else {
		sh.runPiped()
	}
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".patientdb_history")
}

func newCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(shellCommands))
	for _, cmd := range shellCommands {
		items = append(items, readline.PcItem(cmd))
	}
	return readline.NewPrefixCompleter(items...)
}

func (sh *shell) prompt() string {
	if sh.identity == "" {
		return "patientdb" + banner.AnsiDim + "[not logged in]>" + banner.AnsiReset + " "
	}
	return "patientdb" + banner.AnsiDim + ":" + banner.AnsiReset + sh.identity +
		banner.AnsiDim + ">" + banner.AnsiReset + " "
}

// runReadline runs the interactive loop with history and completion.
func (sh *shell) runReadline() {
	banner.Print()
	fmt.Printf("Connected target: %s\n", sh.addr)
	fmt.Println("Type 'help' for commands, 'quit' to exit.")
	fmt.Println()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            sh.prompt(),
		HistoryFile:       historyFilePath(),
		AutoComplete:      newCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(sh.prompt())
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println("(use 'quit' or Ctrl+D to exit)")
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if sh.dispatch(strings.TrimSpace(line), rl) {
			break
		}
	}
	sh.client.Exit()
	fmt.Println("Goodbye.")
}

// runPiped reads commands from stdin without readline, for scripting.
func (sh *shell) runPiped() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if sh.dispatch(strings.TrimSpace(scanner.Text()), nil) {
			break
		}
	}
	sh.client.Exit()
}

// dispatch executes one command line. It returns true when the shell
// should exit.
func (sh *shell) dispatch(line string, rl *readline.Instance) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "quit", "exit", "\\q":
		return true
	case "help", "\\h":
		printHelp()
	case "login":
		err = sh.cmdLogin(args, rl)
	case "time":
		err = sh.cmdTime()
	case "user":
		err = sh.cmdUser(args)
	case "id":
		err = sh.cmdID(args)
	case "patient":
		err = sh.cmdPatient(args)
	case "search":
		err = sh.cmdSearch(args)
	default:
		err = fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
	if err != nil {
		fmt.Printf("%serror:%s %v\n", banner.AnsiRed, banner.AnsiReset, err)
	}
	return false
}

func printHelp() {
	fmt.Println("  login <identity>   Authenticate (prompts for password)")
	fmt.Println("  time               Show the store's last-update timestamp")
	fmt.Println("  user <name>        Show an identity's profile")
	fmt.Println("  id <count>         Reserve record ids")
	fmt.Println("  patient <id>       Fetch a patient with sessions and values")
	fmt.Println("  search <sensitivity> <field|any> <mode> <pattern> [among <ids>]")
	fmt.Println("                     e.g. search case_insensitive any include anna")
	fmt.Println("  quit               Exit the shell")
}

func (sh *shell) cmdLogin(args []string, rl *readline.Instance) error {
	var password string
	switch len(args) {
	case 1:
		var err error
		password, err = readPassword(rl, "Password: ")
		if err != nil {
			return err
		}
	case 2:
		// Inline password, for piped scripts.
		password = args[1]
	default:
		return fmt.Errorf("want: login <identity>")
	}
	if err := sh.client.Login(args[0], password); err != nil {
		return err
	}
	sh.identity = args[0]
	fmt.Printf("Logged in as %s.\n", args[0])
	return nil
}

func (sh *shell) cmdTime() error {
	ts, err := sh.client.ReqTime()
	if err != nil {
		return err
	}
	if ts.IsZero() {
		fmt.Println("store has never been written")
		return nil
	}
	fmt.Println(ts.UTC().Format(time.RFC3339))
	return nil
}

func (sh *shell) cmdUser(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("want: user <name>")
	}
	info, err := sh.client.ReqUser(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("id %d  name %q  real name %q\n", info.ID, info.Name, info.RealName)
	return nil
}

func (sh *shell) cmdID(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("want: id <count>")
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		return fmt.Errorf("bad count %q", args[0])
	}
	first, err := sh.client.ReqID(count)
	if err != nil {
		return err
	}
	if count == 1 {
		fmt.Printf("reserved id %d\n", first)
	} else {
		fmt.Printf("reserved ids %d..%d\n", first, first+uint64(count)-1)
	}
	return nil
}

func (sh *shell) cmdPatient(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("want: patient <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad patient id %q", args[0])
	}
	// Records are refetched only when the store timestamp moved.
	stamp, err := sh.client.ReqTime()
	if err != nil {
		return err
	}
	pr, ok := sh.cache.Get(id, stamp)
	if !ok {
		pr, err = sh.client.ReqOnePatient(id)
		if err != nil {
			return err
		}
		sh.cache.Set(pr, stamp)
	}
	printPatient(pr)
	return nil
}

func (sh *shell) cmdSearch(args []string) error {
	crit, err := search.ParseArgs("search", args)
	if err != nil {
		return err
	}
	matches, err := sh.client.ReqSearchPatient(&crit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("patient %d\n", m.Patient)
		for _, f := range m.Fields {
			fmt.Printf("    %-32s %s\n", f.Name, f.Value)
		}
	}
	fmt.Printf("%d match(es)\n", len(matches))
	return nil
}

func printPatient(pr *record.PatientRecord) {
	fmt.Printf("patient %d  code %q\n", pr.Info.ID, pr.Info.Code)
	if len(pr.Sessions) > 0 {
		fmt.Printf("  sessions (%d):\n", len(pr.Sessions))
		for _, s := range sortedSessions(pr) {
			date := ""
			if s.Date != 0 {
				date = time.Unix(s.Date, 0).UTC().Format("2006-01-02")
			}
			fmt.Printf("    %d  %s  %s\n", s.ID, date, s.Notes)
		}
	}
	if len(pr.Values) > 0 {
		fmt.Printf("  values (%d):\n", len(pr.Values))
		for _, v := range sortedValues(pr) {
			deleted := ""
			if v.Deleted {
				deleted = "  (deleted)"
			}
			fmt.Printf("    %d  %-32s %s%s\n", v.ID, v.ScoreName, v.PayloadString(), deleted)
		}
	}
}

func sortedSessions(pr *record.PatientRecord) []*record.SessionRecord {
	out := make([]*record.SessionRecord, 0, len(pr.Sessions))
	for _, s := range pr.Sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedValues(pr *record.PatientRecord) []*record.ScoreValue {
	out := make([]*record.ScoreValue, 0, len(pr.Values))
	for _, v := range pr.Values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// readPassword reads a password without echo. With readline available
// the input is masked; otherwise it falls back to x/term.
func readPassword(rl *readline.Instance, prompt string) (string, error) {
	if rl != nil {
		rl.SetMaskRune('*')
		password, err := rl.ReadPassword(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(password)), nil
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print(prompt)
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
