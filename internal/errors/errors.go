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
Package errors provides structured error handling for PatientDB.

The package implements a tagged error system with:
  - Error categories (Protocol, Codec, Auth, Authz, Storage, ...)
  - One distinct error code per failure cause
  - User-facing messages plus contextual detail for debugging
  - Error wrapping for root cause analysis

Error Categories:
  - Protocol: malformed command lines, wrong token counts, size mismatches
  - Codec: truncated or malformed binary records
  - Auth: identity lookup and key-exchange failures
  - Authz: missing or insufficient permissions
  - Storage: transaction and persistence failures
  - Consistency: system-timestamp regression (concurrent-writer clock skew)
  - Validation: input validation failures
  - Connection: client-side transport and response failures

Every failure cause keeps its own code; two causes are never collapsed into
one code. Callers that need programmatic handling switch on Code, callers
that only report switch on Category.
*/
package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Code identifies one distinct failure cause.
type Code int

const (
	// Protocol errors (1000-1999): the connection survives these.
	CodeUnknownCommand Code = 1001
	CodeBadTokenCount  Code = 1002
	CodeBadArgument    Code = 1003
	CodeSizeMismatch   Code = 1004
	CodeLineTooLong    Code = 1005
	CodeBadSizeHeader  Code = 1006
	CodeBadStreamCycle Code = 1007

	// Codec errors (2000-2999).
	CodeTruncatedField     Code = 2001
	CodeUnterminatedString Code = 2002
	CodePayloadOverrun     Code = 2003
	CodeUnknownDataKind    Code = 2004
	CodeBadTextEncoding    Code = 2005

	// Auth errors (3000-3999): the connection is torn down.
	CodeUnknownIdentity   Code = 3001
	CodeKeyExchangeFailed Code = 3002
	CodeHandshakeIO       Code = 3003
	CodeGroupResolution   Code = 3004

	// Authz errors (4000-4999): refused, never a protocol error.
	CodeNoPermissions Code = 4001
	CodeAccessDenied  Code = 4002

	// Storage errors (5000-5999).
	CodeTxnBegin      Code = 5001
	CodeTxnCommit     Code = 5002
	CodeTxnAborted    Code = 5003
	CodeNotFound      Code = 5004
	CodeIO            Code = 5005
	CodeWALCorrupted  Code = 5006
	CodeIDReservation Code = 5007
	CodeDuplicate     Code = 5008

	// Consistency errors (6000-6999).
	CodeClockSkew Code = 6001

	// Validation errors (7000-7999).
	CodeInvalidValue   Code = 7001
	CodeMissingField   Code = 7002
	CodeBadPlaceholder Code = 7003

	// Connection errors (8000-8999): client side.
	CodeNotAuthenticated  Code = 8001
	CodeRequestNotSent    Code = 8002
	CodeMalformedResponse Code = 8003
	CodeServerReported    Code = 8004
	CodeConnectionLost    Code = 8005
)

// Category groups codes for reporting.
type Category string

const (
	CategoryProtocol    Category = "PROTOCOL"
	CategoryCodec       Category = "CODEC"
	CategoryAuth        Category = "AUTH"
	CategoryAuthz       Category = "AUTHZ"
	CategoryStorage     Category = "STORAGE"
	CategoryConsistency Category = "CONSISTENCY"
	CategoryValidation  Category = "VALIDATION"
	CategoryConnection  Category = "CONNECTION"
)

// StoreError is the structured error type used across PatientDB.
type StoreError struct {
	Code     Code
	Category Category
	Message  string
	Detail   string
	Cause    error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("ERROR %d (%s): %s - %s", e.Code, e.Category, e.Message, e.Detail)
	}
	return fmt.Sprintf("ERROR %d (%s): %s", e.Code, e.Category, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WireMessage renders the error the way the server reports it to clients:
// a bracketed code followed by the message. Detail stays server-side.
func (e *StoreError) WireMessage() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// WithDetail attaches contextual detail and returns the error.
func (e *StoreError) WithDetail(detail string) *StoreError {
	e.Detail = detail
	return e
}

// WithCause attaches a wrapped cause and returns the error.
func (e *StoreError) WithCause(cause error) *StoreError {
	e.Cause = cause
	return e
}

// New creates a StoreError with an explicit code and category.
func New(code Code, category Category, message string) *StoreError {
	return &StoreError{Code: code, Category: category, Message: message}
}

// ============================================================================
// Protocol error constructors
// ============================================================================

// UnknownCommand reports an unrecognized request verb.
func UnknownCommand(verb string) *StoreError {
	return &StoreError{
		Code:     CodeUnknownCommand,
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("unknown command: %s", verb),
	}
}

// BadTokenCount reports a command line with the wrong number of tokens.
func BadTokenCount(verb string, want, got int) *StoreError {
	return &StoreError{
		Code:     CodeBadTokenCount,
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("%s expects %d argument(s), got %d", verb, want, got),
	}
}

// BadArgument reports an argument that failed to parse.
func BadArgument(verb, arg string) *StoreError {
	return &StoreError{
		Code:     CodeBadArgument,
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("%s: bad argument %q", verb, arg),
	}
}

// SizeMismatch reports announced payload bytes that do not match what followed.
func SizeMismatch(verb string, announced, got int) *StoreError {
	return &StoreError{
		Code:     CodeSizeMismatch,
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("%s: announced %d payload byte(s), received %d", verb, announced, got),
	}
}

// LineTooLong reports a message line exceeding the framing limit.
func LineTooLong(n int) *StoreError {
	return &StoreError{
		Code:     CodeLineTooLong,
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("message line of %d bytes exceeds limit", n),
	}
}

// BadSizeHeader reports an unparseable size announcement line.
func BadSizeHeader(line string) *StoreError {
	return &StoreError{
		Code:     CodeBadSizeHeader,
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("bad size announcement: %q", line),
	}
}

// BadStreamCycle reports a broken size-line/payload streaming sequence.
func BadStreamCycle(detail string) *StoreError {
	return &StoreError{
		Code:     CodeBadStreamCycle,
		Category: CategoryProtocol,
		Message:  "broken streaming cycle",
		Detail:   detail,
	}
}

// ============================================================================
// Codec error constructors
// ============================================================================

// CorruptRecord reports a binary record that could not be decoded.
// The code pins down the exact failure cause.
func CorruptRecord(code Code, detail string) *StoreError {
	return &StoreError{
		Code:     code,
		Category: CategoryCodec,
		Message:  "corrupt record",
		Detail:   detail,
	}
}

// ============================================================================
// Auth error constructors
// ============================================================================

// UnknownIdentity reports an identity claim with no stored verifier material.
func UnknownIdentity(name string) *StoreError {
	return &StoreError{
		Code:     CodeUnknownIdentity,
		Category: CategoryAuth,
		Message:  fmt.Sprintf("unknown identity: %s", name),
	}
}

// KeyExchangeFailed reports a cryptographic mismatch during the handshake.
func KeyExchangeFailed() *StoreError {
	return &StoreError{
		Code:     CodeKeyExchangeFailed,
		Category: CategoryAuth,
		Message:  "password-authenticated key exchange failed",
	}
}

// HandshakeIO reports a transport failure during the handshake.
func HandshakeIO(cause error) *StoreError {
	return &StoreError{
		Code:     CodeHandshakeIO,
		Category: CategoryAuth,
		Message:  "handshake transport failure",
		Cause:    cause,
	}
}

// GroupResolution reports a failure resolving groups or permissions after
// a successful handshake. The connection is dropped, never left
// half-authenticated.
func GroupResolution(cause error) *StoreError {
	return &StoreError{
		Code:     CodeGroupResolution,
		Category: CategoryAuth,
		Message:  "failed to resolve groups and permissions",
		Cause:    cause,
	}
}

// ============================================================================
// Authz error constructors
// ============================================================================

// NoPermissions reports a session whose identity resolved zero permission
// entries; such sessions are refused outright for reads.
func NoPermissions() *StoreError {
	return &StoreError{
		Code:     CodeNoPermissions,
		Category: CategoryAuthz,
		Message:  "no permissions resolved for this identity",
	}
}

// AccessDenied reports an insufficient effective permission level.
func AccessDenied(resource string) *StoreError {
	return &StoreError{
		Code:     CodeAccessDenied,
		Category: CategoryAuthz,
		Message:  "access denied",
		Detail:   fmt.Sprintf("resource %q", resource),
	}
}

// ============================================================================
// Storage error constructors
// ============================================================================

// TxnCommit reports a failed transaction commit.
func TxnCommit(cause error) *StoreError {
	return &StoreError{
		Code:     CodeTxnCommit,
		Category: CategoryStorage,
		Message:  "transaction commit failed",
		Cause:    cause,
	}
}

// TxnAborted reports a write operation rolled back partway.
func TxnAborted(op string, cause error) *StoreError {
	return &StoreError{
		Code:     CodeTxnAborted,
		Category: CategoryStorage,
		Message:  fmt.Sprintf("%s aborted", op),
		Cause:    cause,
	}
}

// NotFound reports a record that does not exist. Distinct from IO.
func NotFound(what string) *StoreError {
	return &StoreError{
		Code:     CodeNotFound,
		Category: CategoryStorage,
		Message:  fmt.Sprintf("%s not found", what),
	}
}

// IO reports a storage I/O failure. Distinct from NotFound.
func IO(cause error) *StoreError {
	return &StoreError{
		Code:     CodeIO,
		Category: CategoryStorage,
		Message:  "storage I/O failure",
		Cause:    cause,
	}
}

// IDReservation reports a failed or short id reservation.
func IDReservation(want, got int) *StoreError {
	return &StoreError{
		Code:     CodeIDReservation,
		Category: CategoryStorage,
		Message:  fmt.Sprintf("id reservation returned %d of %d", got, want),
	}
}

// Duplicate reports an attempt to create a record that already exists.
func Duplicate(what string) *StoreError {
	return &StoreError{
		Code:     CodeDuplicate,
		Category: CategoryStorage,
		Message:  fmt.Sprintf("%s already exists", what),
	}
}

// ============================================================================
// Consistency error constructors
// ============================================================================

// ClockSkew reports a system timestamp older than the stored one.
// Non-retryable: it indicates concurrent-writer clock skew.
func ClockSkew(stored, proposed int64) *StoreError {
	return &StoreError{
		Code:     CodeClockSkew,
		Category: CategoryConsistency,
		Message:  "system timestamp regression",
		Detail:   fmt.Sprintf("stored %d, proposed %d", stored, proposed),
	}
}

// ============================================================================
// Validation error constructors
// ============================================================================

// InvalidValue reports a field with an unacceptable value.
func InvalidValue(field, reason string) *StoreError {
	return &StoreError{
		Code:     CodeInvalidValue,
		Category: CategoryValidation,
		Message:  fmt.Sprintf("invalid value for %q", field),
		Detail:   reason,
	}
}

// MissingField reports a required field that was absent.
func MissingField(field string) *StoreError {
	return &StoreError{
		Code:     CodeMissingField,
		Category: CategoryValidation,
		Message:  fmt.Sprintf("missing required field: %s", field),
	}
}

// BadPlaceholder reports a placeholder id where a real id was required,
// or the reverse.
func BadPlaceholder(id int64) *StoreError {
	return &StoreError{
		Code:     CodeBadPlaceholder,
		Category: CategoryValidation,
		Message:  fmt.Sprintf("unexpected placeholder id %d", id),
	}
}

// ============================================================================
// Connection error constructors (client side)
// ============================================================================

// NotAuthenticated reports a request on a facade that never logged in.
func NotAuthenticated() *StoreError {
	return &StoreError{
		Code:     CodeNotAuthenticated,
		Category: CategoryConnection,
		Message:  "not authenticated",
	}
}

// RequestNotSent reports a request that failed before reaching the server.
func RequestNotSent(cause error) *StoreError {
	return &StoreError{
		Code:     CodeRequestNotSent,
		Category: CategoryConnection,
		Message:  "request not sent",
		Cause:    cause,
	}
}

// MalformedResponse reports a server response that could not be decoded.
func MalformedResponse(detail string) *StoreError {
	return &StoreError{
		Code:     CodeMalformedResponse,
		Category: CategoryConnection,
		Message:  "malformed server response",
		Detail:   detail,
	}
}

// ServerReported wraps an error line received from the server, carrying
// the server's message verbatim.
func ServerReported(msg string) *StoreError {
	return &StoreError{
		Code:     CodeServerReported,
		Category: CategoryConnection,
		Message:  msg,
	}
}

// ConnectionLost reports a transport failure mid-exchange.
func ConnectionLost(cause error) *StoreError {
	return &StoreError{
		Code:     CodeConnectionLost,
		Category: CategoryConnection,
		Message:  "connection lost",
		Cause:    cause,
	}
}

// ============================================================================
// Helpers
// ============================================================================

// GetCode returns the error code if err is a StoreError, or 0 otherwise.
func GetCode(err error) Code {
	if e, ok := err.(*StoreError); ok {
		return e.Code
	}
	return 0
}

// GetCategory returns the category if err is a StoreError, or "" otherwise.
func GetCategory(err error) Category {
	if e, ok := err.(*StoreError); ok {
		return e.Category
	}
	return ""
}

// IsAuthz reports whether err is an authorization error. Authorization
// failures are refused or silently filtered, never surfaced as protocol
// errors.
func IsAuthz(err error) bool {
	return GetCategory(err) == CategoryAuthz
}

// IsNotFound reports whether err is the storage not-found error.
func IsNotFound(err error) bool {
	return GetCode(err) == CodeNotFound
}

// Wire renders any error for transmission in a no_data response.
func Wire(err error) string {
	if e, ok := err.(*StoreError); ok {
		return e.WireMessage()
	}
	return err.Error()
}

// categoryForCode maps a code back to its category by numeric range.
func categoryForCode(code Code) Category {
	switch {
	case code >= 1000 && code < 2000:
		return CategoryProtocol
	case code >= 2000 && code < 3000:
		return CategoryCodec
	case code >= 3000 && code < 4000:
		return CategoryAuth
	case code >= 4000 && code < 5000:
		return CategoryAuthz
	case code >= 5000 && code < 6000:
		return CategoryStorage
	case code >= 6000 && code < 7000:
		return CategoryConsistency
	case code >= 7000 && code < 8000:
		return CategoryValidation
	case code >= 8000 && code < 9000:
		return CategoryConnection
	}
	return ""
}

// ParseWire reconstructs a StoreError from its wire form "[code]
// message". Text that does not carry a code comes back as a
// server-reported error so the original cause stays distinguishable
// on the client.
func ParseWire(s string) *StoreError {
	if len(s) > 2 && s[0] == '[' {
		if end := strings.IndexByte(s, ']'); end > 1 {
			if n, err := strconv.Atoi(s[1:end]); err == nil {
				msg := strings.TrimSpace(s[end+1:])
				code := Code(n)
				if cat := categoryForCode(code); cat != "" {
					return &StoreError{Code: code, Category: cat, Message: msg}
				}
			}
		}
	}
	return ServerReported(s)
}
