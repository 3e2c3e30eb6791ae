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
Package wire frames protocol messages over the secure channel.

A message is a UTF-8 text line of at most MaxLine bytes, carried as
exactly one channel record. Two shapes exist:

	simple:  the line alone            req_time
	sized:   <tag>: <N> [extra...]     put_scorename: 812

A sized line announces exactly N raw payload bytes following it. The
payload moves in chunks of the channel's maximum record size, so both
ends loop until N bytes have passed. The req_patient response stream
repeats "scorevalue: <size> <permission>" lines each followed by one
payload, terminated by a sentinel line.
*/
package wire

import (
	"fmt"
	"strconv"
	"strings"

	"patientdb/internal/errors"
	"patientdb/internal/secure"
)

// MaxLine is the maximum byte length of one text line.
const MaxLine = 1024

// Request verbs. Sized verbs carry their byte count after the colon.
const (
	VerbReqID          = "req_id:"
	VerbReqTime        = "req_time"
	VerbReqUserInfo    = "req_usr_info:"
	VerbSearchPatient  = "search_patient:"
	VerbReqPatient     = "req_patient:"
	VerbPutNewUser     = "put_new_user:"
	VerbPutScoreName   = "put_scorename:"
	VerbPutPatient     = "put_patient:"
	VerbPutSession     = "put_session:"
	VerbPutScoreValue  = "put_scorevalue:"
	VerbPutPatientList = "put_patientlist:"
	VerbModPatientList = "mod_patientlist:"
	VerbExit           = "exit"
)

// Response lines and tags.
const (
	RespSuccess       = "success"
	RespUpdatedPrefix = "updated:"
	RespNoPatientList = "no_patientlist"
	RespNoScoreValue  = "no_scorevalue"
	RespNoSession     = "no_session"
	RespNoDataPrefix  = "no_data:"

	TagServerDataSize = "server_data_size"
	TagScoreValue     = "scorevalue"
)

// Conn is the record transport wire runs over. secure.Channel
// satisfies it.
type Conn interface {
	Send([]byte) error
	Recv() ([]byte, error)
}

// SendLine transmits one text line as one record.
func SendLine(c Conn, line string) error {
	if len(line) > MaxLine {
		return errors.LineTooLong(len(line))
	}
	if strings.ContainsAny(line, "\r\n") {
		return errors.BadArgument("line", "embedded line break")
	}
	return c.Send([]byte(line))
}

// RecvLine receives one record and interprets it as a text line.
func RecvLine(c Conn) (string, error) {
	rec, err := c.Recv()
	if err != nil {
		return "", err
	}
	if len(rec) > MaxLine {
		return "", errors.LineTooLong(len(rec))
	}
	return string(rec), nil
}

// SendPayload streams raw bytes in maximum-record-size chunks.
func SendPayload(c Conn, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > secure.MaxRecord {
			n = secure.MaxRecord
		}
		if err := c.Send(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// RecvPayload receives exactly n announced bytes, reassembling the
// chunked records. A record pushing past n means the peer and the
// announcement disagree.
func RecvPayload(c Conn, n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.BadSizeHeader(strconv.Itoa(n))
	}
	buf := make([]byte, 0, n)
	for len(buf) < n {
		rec, err := c.Recv()
		if err != nil {
			return nil, err
		}
		if len(buf)+len(rec) > n {
			return nil, errors.SizeMismatch("payload", n, len(buf)+len(rec))
		}
		buf = append(buf, rec...)
	}
	return buf, nil
}

// SendSized transmits a sized message: the announcement line, then
// the payload.
func SendSized(c Conn, tag string, data []byte) error {
	if err := SendLine(c, fmt.Sprintf("%s: %d", tag, len(data))); err != nil {
		return err
	}
	return SendPayload(c, data)
}

// Command is one tokenized request line.
type Command struct {
	Verb string
	Args []string
}

// ParseCommand tokenizes a request line. The first whitespace
// delimited token selects the operation.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.UnknownCommand("")
	}
	return Command{Verb: fields[0], Args: fields[1:]}, nil
}

// IntArg parses one numeric argument of a command.
func (c Command) IntArg(i int) (int, error) {
	if i >= len(c.Args) {
		return 0, errors.BadTokenCount(c.Verb, i+1, len(c.Args))
	}
	n, err := strconv.Atoi(c.Args[i])
	if err != nil {
		return 0, errors.BadArgument(c.Verb, c.Args[i])
	}
	return n, nil
}

// UintArg parses one id argument of a command.
func (c Command) UintArg(i int) (uint64, error) {
	if i >= len(c.Args) {
		return 0, errors.BadTokenCount(c.Verb, i+1, len(c.Args))
	}
	n, err := strconv.ParseUint(c.Args[i], 10, 64)
	if err != nil {
		return 0, errors.BadArgument(c.Verb, c.Args[i])
	}
	return n, nil
}

// ParseSized splits a sized announcement line into its tag, byte
// count, and any extra tokens (the score value stream embeds the
// permission string after the count).
func ParseSized(line string) (tag string, n int, extra []string, err error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasSuffix(fields[0], ":") {
		return "", 0, nil, errors.BadSizeHeader(line)
	}
	size, perr := strconv.Atoi(fields[1])
	if perr != nil || size < 0 {
		return "", 0, nil, errors.BadSizeHeader(line)
	}
	return strings.TrimSuffix(fields[0], ":"), size, fields[2:], nil
}

// FormatScoreValueHeader renders one streaming cycle announcement.
func FormatScoreValueHeader(size int, permission string) string {
	return fmt.Sprintf("%s: %d %s", TagScoreValue, size, permission)
}

// FormatUpdated renders the updated:<unix> response.
func FormatUpdated(unix int64) string {
	return RespUpdatedPrefix + strconv.FormatInt(unix, 10)
}

// ParseUpdated extracts the timestamp from an updated:<unix> line.
func ParseUpdated(line string) (int64, bool) {
	rest, ok := strings.CutPrefix(line, RespUpdatedPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatError renders any error as a no_data response line.
func FormatError(err error) string {
	return RespNoDataPrefix + " " + errors.Wire(err)
}

// ParseError recognizes a no_data response line and reconstructs its
// tagged error.
func ParseError(line string) (error, bool) {
	rest, ok := strings.CutPrefix(line, RespNoDataPrefix)
	if !ok {
		return nil, false
	}
	return errors.ParseWire(strings.TrimSpace(rest)), true
}
