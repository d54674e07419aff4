// Package command implements the Command abstraction that SMTP
// operations are built from, plus the built-in commands (EHLO, HELO,
// STARTTLS, MAIL, RCPT, DATA, AUTH PLAIN/LOGIN, NOOP, RSET, QUIT) and
// the combinators (Chain, Either, Select) used to compose them into
// the session-level operations the root package exposes.
//
// Grounded on the shape of chasquid's internal/smtp.Client (one method
// per command, writing a line then reading a response) and its
// courier/smtp.go attempt.deliver, which is the sequence Chain/Either
// here exist to express declaratively: Hello-with-fallback, an optional
// STARTTLS, then MAIL+RCPT+DATA.
package command

import (
	"context"
	"errors"
	"fmt"

	"blitiri.com.ar/go/smtpc/internal/syntax"
	"blitiri.com.ar/go/smtpc/internal/wire"
)

// Command is a single SMTP operation (or a composition of several) that
// can run against a wire.Io.
type Command interface {
	// CheckAvailability reports whether this command is admissible given
	// the current connection state (cached EHLO capabilities, whether
	// the socket is already secure). It must not perform any I/O.
	CheckAvailability(io *wire.Io) error

	// Exec runs the command. It returns the wire.Io to use for all
	// subsequent commands: ordinarily the same Io passed in, except for
	// STARTTLS, which returns a new one wrapping the upgraded socket.
	Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error)
}

// ErrUnavailable is wrapped by CheckAvailability failures produced by
// this package's built-in commands.
var ErrUnavailable = errors.New("command: not available on this connection")

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Policy selects what Chain does once a command in the list produces a
// negative response.
type Policy int

const (
	// StopAndReset stops the chain and issues RSET before returning.
	StopAndReset Policy = iota
	// Stop stops the chain without resetting.
	Stop
	// Continue runs the remaining commands regardless.
	Continue
)

// Result is one command's outcome within a Chain: either the response
// it got (possibly negative), or the error that aborted the whole
// chain (CheckAvailability failing pre-flight, or an I/O error from
// Exec).
type Result struct {
	Response syntax.Response
	Err      error
}

// Chain runs cmds against io in order. After each command: a
// CheckAvailability failure or an I/O error from Exec aborts the chain
// unconditionally (the caller must treat the session as destroyed in
// the I/O case); a negative response is handled per policy
// (StopAndReset/Stop/Continue).
//
// It returns the wire.Io to use for subsequent commands, the
// accumulated per-command results (one entry per command attempted),
// the index into cmds of the first command that errored or got a
// negative response (-1 if none did), and a non-nil error only when an
// I/O failure aborted the chain.
func Chain(ctx context.Context, io *wire.Io, cmds []Command, policy Policy) (*wire.Io, []Result, int, error) {
	results := make([]Result, 0, len(cmds))
	firstErr := -1

	for i, cmd := range cmds {
		if err := cmd.CheckAvailability(io); err != nil {
			results = append(results, Result{Err: err})
			if firstErr < 0 {
				firstErr = i
			}
			return io, results, firstErr, nil
		}

		newIo, resp, err := cmd.Exec(ctx, io)
		io = newIo
		if err != nil {
			results = append(results, Result{Response: resp, Err: err})
			if firstErr < 0 {
				firstErr = i
			}
			return io, results, firstErr, err
		}

		results = append(results, Result{Response: resp})
		if !resp.Code.IsNegative() {
			continue
		}
		if firstErr < 0 {
			firstErr = i
		}
		switch policy {
		case Continue:
			continue
		case Stop:
			return io, results, firstErr, nil
		case StopAndReset:
			newIo, _, rerr := (RsetCmd{}).Exec(ctx, io)
			io = newIo
			return io, results, firstErr, rerr
		}
	}
	return io, results, firstErr, nil
}

// Either tries a first (only if a.CheckAvailability succeeds and a's
// response is positive); it falls back to b otherwise. It is used for
// EHLO-with-HELO-fallback.
func Either(a, b Command) Command {
	return eitherCmd{a, b}
}

type eitherCmd struct {
	a, b Command
}

func (c eitherCmd) CheckAvailability(io *wire.Io) error {
	if c.a.CheckAvailability(io) == nil {
		return nil
	}
	return c.b.CheckAvailability(io)
}

func (c eitherCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	if c.a.CheckAvailability(io) == nil {
		io2, resp, err := c.a.Exec(ctx, io)
		if err == nil && resp.Code.IsPositive() {
			return io2, resp, err
		}
	}
	return c.b.Exec(ctx, io)
}

// Select runs the first of cmds whose CheckAvailability succeeds. It is
// used to pick an AUTH mechanism the server actually advertises.
func Select(cmds ...Command) Command {
	return selectCmd{cmds}
}

type selectCmd struct {
	cmds []Command
}

func (c selectCmd) CheckAvailability(io *wire.Io) error {
	for _, cmd := range c.cmds {
		if cmd.CheckAvailability(io) == nil {
			return nil
		}
	}
	return unavailable("no alternative in Select is available")
}

func (c selectCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	for _, cmd := range c.cmds {
		if cmd.CheckAvailability(io) == nil {
			return cmd.Exec(ctx, io)
		}
	}
	return io, syntax.Response{}, unavailable("no alternative in Select is available")
}
