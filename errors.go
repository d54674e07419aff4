package smtpc

import (
	"errors"
	"fmt"

	"blitiri.com.ar/go/smtpc/internal/syntax"
)

// ErrNoConnection is returned by operations that require an established
// Connection that was never (or is no longer) available.
var ErrNoConnection = errors.New("smtpc: no connection established")

// IoError wraps a failure at the transport level: dialing, a TLS
// handshake, or a read/write on the socket. It is always transient from
// the caller's point of view, in the sense that the same server might
// succeed on a later attempt (unlike a LogicError, which reflects the
// server's own considered rejection).
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("smtpc: io error: %v", e.Err)
	}
	return fmt.Sprintf("smtpc: io error during %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// LogicError wraps a negative SMTP response: the server understood the
// command and declined it. IsPermanent/IsTransient classify it per RFC
// 5321 §4.2.1 (5yz vs 4yz), the same distinction chasquid's
// courier.SMTP.Deliver uses to decide whether to retry.
type LogicError struct {
	Op       string
	Response syntax.Response
}

func (e *LogicError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("smtpc: server rejected request: %s", e.Response)
	}
	return fmt.Sprintf("smtpc: server rejected %s: %s", e.Op, e.Response)
}

// IsPermanent reports whether the response code was 5yz: retrying
// without changing something (credentials, recipient, content) will
// not help.
func (e *LogicError) IsPermanent() bool { return e.Response.Code.IsPermanent() }

// IsTransient reports whether the response code was 4yz: the same
// request might succeed on a later attempt.
func (e *LogicError) IsTransient() bool { return e.Response.Code.IsTransient() }

// MissingCapabilities wraps a command.ErrUnavailable failure: the
// operation was never sent because the server's advertised (or
// HELO-fallback-assumed) capabilities rule it out, e.g. AUTH requested
// against a server that did not advertise the mechanism, or STARTTLS
// requested twice.
type MissingCapabilities struct {
	Op  string
	Err error
}

func (e *MissingCapabilities) Error() string {
	return fmt.Sprintf("smtpc: %s unavailable: %v", e.Op, e.Err)
}

func (e *MissingCapabilities) Unwrap() error { return e.Err }

// GeneralError wraps any other failure that does not fit the above
// categories (address syntax, SPF/STS lookups, and so on).
type GeneralError struct {
	Op  string
	Err error
}

func (e *GeneralError) Error() string {
	return fmt.Sprintf("smtpc: %s: %v", e.Op, e.Err)
}

func (e *GeneralError) Unwrap() error { return e.Err }

// IsPermanent reports whether err represents a failure that will not be
// resolved by retrying unchanged: a permanent (5yz) LogicError, a
// MissingCapabilities, or any other non-nil error except an IoError or
// ErrNoConnection (since an address or configuration problem will not
// fix itself either).
//
// This mirrors chasquid's own treatment of DNS/MX lookup failures in
// internal/courier/smtp.go's lookupMXs: "this is in line with what
// other servers (Exim) do", preferring a permanent bounce over
// indefinitely retrying a structurally broken request.
func IsPermanent(err error) bool {
	var logic *LogicError
	if errors.As(err, &logic) {
		return logic.IsPermanent()
	}
	var ioErr *IoError
	if errors.As(err, &ioErr) {
		return false
	}
	var missing *MissingCapabilities
	if errors.As(err, &missing) {
		return true
	}
	if errors.Is(err, ErrNoConnection) {
		// A synthetic NoConnection result means the session was already
		// destroyed by an earlier IoError; the envelope itself was never
		// attempted, so it deserves the same "retry later" treatment as
		// the IoError that caused it, not a permanent bounce.
		return false
	}
	return err != nil
}
