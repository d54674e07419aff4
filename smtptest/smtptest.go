// Package smtptest exposes the scripted-dialog mock socket smtpc's own
// tests are built on, for library consumers who want to unit test code
// that drives an smtpc.Connection without a real SMTP server.
//
// It is the externally usable counterpart of internal/socket.MockSocket
// (the internal one lives under internal/, so it can evolve freely); the
// dialog syntax is grounded on chasquid's internal/smtp test fakes,
// generalized from a fixed line-oriented script into explicit
// Expect/Reply steps that assert client writes instead of discarding
// them.
package smtptest

import "blitiri.com.ar/go/smtpc/internal/socket"

// Step is one line of a scripted SMTP conversation.
type Step = socket.MockStep

// Expect builds a Step the dialog expects the client to write.
func Expect(s string) Step { return socket.ExpectStep(s) }

// Reply builds a Step the dialog replies with.
func Reply(s string) Step { return socket.ReplyStep(s) }

// Dialog is a scripted, in-memory stand-in for a real SMTP server
// connection.
type Dialog struct {
	sock *socket.MockSocket
}

// NewDialog returns a Dialog that will play back steps in order.
func NewDialog(steps ...Step) *Dialog {
	return &Dialog{sock: socket.NewMock(steps)}
}

// Done reports whether every scripted step has been consumed: a test
// can call this at the end to catch a script that runs short.
func (d *Dialog) Done() bool { return d.sock.Done() }

// Socket returns the underlying mock transport, for
// smtpc.NewTestConnection to build a connection on top of. Exported so smtpc can wire a Dialog
// into a *Connection without smtptest needing to depend on smtpc.
func (d *Dialog) Socket() socket.Socket { return d.sock }
