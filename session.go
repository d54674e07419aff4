package smtpc

import (
	"context"
	"crypto/tls"

	"blitiri.com.ar/go/smtpc/internal/command"
	"blitiri.com.ar/go/smtpc/internal/syntax"
	"blitiri.com.ar/go/smtpc/internal/trace"
	"blitiri.com.ar/go/smtpc/internal/wire"
)

// Connection is an established, greeted (and possibly secured and
// authenticated) SMTP session. It is not safe for concurrent use: like
// chasquid's internal/smtp.Client (itself a thin wrapper over
// net/smtp.Client), one command runs to completion before the next
// begins.
type Connection struct {
	io   *wire.Io
	tr   *trace.Trace
	host string
}

// Send runs cmd against the connection. It returns MissingCapabilities
// if cmd.CheckAvailability rejects it outright (no bytes are sent in
// that case), IoError for a transport failure, or the command's
// syntax.Response (which may itself carry a negative code; callers that
// want that surfaced as an error should check resp.Code or wrap it in a
// LogicError themselves — Send does not do this automatically, since
// some commands, like RCPT TO against one of several recipients, are
// meaningfully continued past a per-recipient rejection).
func (c *Connection) Send(ctx context.Context, cmd command.Command) (syntax.Response, error) {
	if err := cmd.CheckAvailability(c.io); err != nil {
		return syntax.Response{}, &MissingCapabilities{Op: "send", Err: err}
	}
	io, resp, err := cmd.Exec(ctx, c.io)
	c.io = io
	if err != nil {
		return resp, &IoError{Op: "send", Err: err}
	}
	return resp, nil
}

// SendChecked is like Send, but also turns a negative response into a
// *LogicError, for the common case where the caller just wants success
// or failure.
func (c *Connection) SendChecked(ctx context.Context, op string, cmd command.Command) (syntax.Response, error) {
	resp, err := c.Send(ctx, cmd)
	if err != nil {
		return resp, err
	}
	if resp.Code.IsNegative() {
		return resp, &LogicError{Op: op, Response: resp}
	}
	return resp, nil
}

// Chain is the connection-bound convenience over command.Chain: it runs
// cmds against the connection's current wire.Io, in order, per policy,
// and keeps the Io command.Chain returns for subsequent calls — the
// same ownership-by-return-value discipline Send uses.
func (c *Connection) Chain(ctx context.Context, cmds []command.Command, policy command.Policy) ([]command.Result, int, error) {
	io, results, idx, err := command.Chain(ctx, c.io, cmds, policy)
	c.io = io
	if err != nil {
		return results, idx, &IoError{Op: "chain", Err: err}
	}
	return results, idx, nil
}

// SecurityLevel classifies the connection's current transport security,
// per the three-way split documented on the SecurityLevel type.
func (c *Connection) SecurityLevel() SecurityLevel {
	state, ok := c.io.ConnectionState()
	if !ok {
		return SecurityLevelPlain
	}
	return classifySecurityLevel(state)
}

// IsSecure reports whether the connection is currently running over
// TLS (either from SecurityDirectTls, or after a successful STARTTLS).
func (c *Connection) IsSecure() bool {
	return c.io.IsSecure()
}

// ConnectionState returns the negotiated TLS state, and false if the
// connection is not currently running over TLS.
func (c *Connection) ConnectionState() (tls.ConnectionState, bool) {
	return c.io.ConnectionState()
}

// HasCapability reports whether the server's most recently cached
// EHLO/HELO response advertised keyword.
func (c *Connection) HasCapability(keyword string) bool {
	return c.io.HasCapability(keyword)
}

// Quit sends QUIT and closes the underlying socket regardless of the
// server's response. The response code itself is ignored, as in
// chasquid's attempt.deliver ("_ = c.Quit()"); a transport error while
// sending QUIT, or else an error from closing the socket, is returned.
func (c *Connection) Quit(ctx context.Context) error {
	_, err := c.Send(ctx, command.QuitCmd{})
	closeErr := c.io.Socket().Shutdown()
	if err != nil {
		return err
	}
	return closeErr
}

// Close shuts down the underlying socket without sending QUIT, for
// callers abandoning the connection after an error.
func (c *Connection) Close() error {
	return c.io.Socket().Shutdown()
}
