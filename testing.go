package smtpc

import (
	"blitiri.com.ar/go/smtpc/internal/trace"
	"blitiri.com.ar/go/smtpc/internal/wire"
	"blitiri.com.ar/go/smtpc/smtptest"
)

// NewTestConnection wraps a scripted smtptest.Dialog as a *Connection,
// for library consumers writing tests against code that sends commands
// over an smtpc.Connection without a real server. No greeting is read
// and no EHLO/HELO is run automatically: the dialog's script starts with
// the first command the test sends.
func NewTestConnection(d *smtptest.Dialog) *Connection {
	return &Connection{
		io: wire.New(d.Socket()),
		tr: trace.New("smtpc.NewTestConnection", "test"),
	}
}
