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
Package logging provides structured logging for PatientDB.

The logging package implements a production-ready logging system with:
  - Multiple log levels (DEBUG, INFO, WARN, ERROR)
  - Structured logging with key-value fields
  - Component-based loggers for easy filtering
  - Text and JSON output modes
  - Thread-safe operation

Usage:

	logger := logging.NewLogger("server")
	logger.Info("listening", "addr", addr)
	logger.Error("session failed", "error", err, "identity", name)

Patient data never belongs in log fields; callers log record ids, never
payloads.
*/
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	// DEBUG level for detailed debugging information.
	DEBUG Level = iota
	// INFO level for general operational information.
	INFO
	// WARN level for warning conditions.
	WARN
	// ERROR level for error conditions.
	ERROR
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unrecognized strings map to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

// entry is a single log record with its metadata.
type entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger provides structured, component-scoped logging.
type Logger struct {
	component string
}

// globalConfig holds process-wide logger settings, adjusted once at startup
// from the configuration layer.
var (
	globalMu     sync.RWMutex
	globalLevel  = INFO
	globalOutput = io.Writer(os.Stdout)
	globalJSON   = false
)

// SetGlobalLevel sets the minimum level emitted by all loggers.
func SetGlobalLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLevel = level
}

// SetGlobalOutput redirects all loggers to w.
func SetGlobalOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalOutput = w
}

// SetJSONMode switches all loggers between text and JSON output.
func SetJSONMode(enabled bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalJSON = enabled
}

// NewLogger creates a Logger for the named component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// log writes one entry at the given level.
func (l *Logger) log(level Level, msg string, args ...interface{}) {
	globalMu.RLock()
	minLevel := globalLevel
	output := globalOutput
	jsonMode := globalJSON
	globalMu.RUnlock()

	if level < minLevel {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
	}

	if len(args) > 0 {
		e.Fields = make(map[string]interface{}, len(args)/2)
		for i := 0; i+1 < len(args); i += 2 {
			key, ok := args[i].(string)
			if !ok {
				key = fmt.Sprintf("arg%d", i)
			}
			e.Fields[key] = args[i+1]
		}
		if len(args)%2 != 0 {
			e.Fields["extra"] = args[len(args)-1]
		}
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if jsonMode {
		data, err := json.Marshal(e)
		if err != nil {
			fmt.Fprintf(output, "ERROR: failed to marshal log entry: %v\n", err)
			return
		}
		fmt.Fprintln(output, string(data))
		return
	}

	line := fmt.Sprintf("%s [%-5s] [%s] %s",
		e.Timestamp.Format("2006-01-02T15:04:05.000Z"), e.Level, e.Component, e.Message)
	for k, v := range e.Fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	fmt.Fprintln(output, line)
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}

// With returns a logger that prefixes every entry with the given fields.
func (l *Logger) With(args ...interface{}) *ContextLogger {
	return &ContextLogger{logger: l, fields: args}
}

// ContextLogger is a logger with pre-set context fields.
type ContextLogger struct {
	logger *Logger
	fields []interface{}
}

// Debug logs a message at DEBUG level with context fields.
func (c *ContextLogger) Debug(msg string, args ...interface{}) {
	c.logger.log(DEBUG, msg, append(c.fields[:len(c.fields):len(c.fields)], args...)...)
}

// Info logs a message at INFO level with context fields.
func (c *ContextLogger) Info(msg string, args ...interface{}) {
	c.logger.log(INFO, msg, append(c.fields[:len(c.fields):len(c.fields)], args...)...)
}

// Warn logs a message at WARN level with context fields.
func (c *ContextLogger) Warn(msg string, args ...interface{}) {
	c.logger.log(WARN, msg, append(c.fields[:len(c.fields):len(c.fields)], args...)...)
}

// Error logs a message at ERROR level with context fields.
func (c *ContextLogger) Error(msg string, args ...interface{}) {
	c.logger.log(ERROR, msg, append(c.fields[:len(c.fields):len(c.fields)], args...)...)
}

// RequestContext tracks one protocol request for completion logging.
type RequestContext struct {
	Start    time.Time
	Remote   string
	Identity string
	Verb     string
}

// NewRequestContext starts tracking a request. The verb is the first token
// of the command line; arguments are not recorded.
func NewRequestContext(remote, identity, verb string) *RequestContext {
	return &RequestContext{Start: time.Now(), Remote: remote, Identity: identity, Verb: verb}
}

// LogComplete logs a successfully completed request.
func (r *RequestContext) LogComplete(logger *Logger) {
	logger.Debug("request completed",
		"remote", r.Remote,
		"identity", r.Identity,
		"verb", r.Verb,
		"duration_ms", float64(time.Since(r.Start).Microseconds())/1000.0,
	)
}

// LogError logs a failed request.
func (r *RequestContext) LogError(logger *Logger, err error) {
	logger.Warn("request failed",
		"remote", r.Remote,
		"identity", r.Identity,
		"verb", r.Verb,
		"error", err,
		"duration_ms", float64(time.Since(r.Start).Microseconds())/1000.0,
	)
}
