package command

import (
	"context"
	"crypto/tls"
	"strings"

	"blitiri.com.ar/go/smtpc/internal/socket"
	"blitiri.com.ar/go/smtpc/internal/syntax"
	"blitiri.com.ar/go/smtpc/internal/wire"
)

// EhloCmd issues EHLO and, on a positive response, caches the
// advertised capabilities on the returned wire.Io.
type EhloCmd struct {
	ClientId syntax.ClientId
}

func (EhloCmd) CheckAvailability(io *wire.Io) error { return nil }

func (c EhloCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	resp, err := io.ExecSimpleCmd(ctx, "EHLO "+c.ClientId.String())
	if err != nil {
		return io, resp, err
	}
	if resp.Code.IsPositive() {
		io.SetEhloData(parseEhloCapabilities(resp))
	}
	return io, resp, nil
}

// HeloCmd issues the legacy HELO greeting, recording a capability-free
// EhloData so downstream admissibility checks behave conservatively.
type HeloCmd struct {
	ClientId syntax.ClientId
}

func (HeloCmd) CheckAvailability(io *wire.Io) error { return nil }

func (c HeloCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	resp, err := io.ExecSimpleCmd(ctx, "HELO "+c.ClientId.String())
	if err != nil {
		return io, resp, err
	}
	if resp.Code.IsPositive() {
		io.SetEhloData(syntax.NewHeloFallbackData(syntax.NewDomainUnchecked(c.ClientId.String())))
	}
	return io, resp, nil
}

func parseEhloCapabilities(resp syntax.Response) *syntax.EhloData {
	greeting := syntax.NewDomainUnchecked("")
	if len(resp.Lines) > 0 {
		if fields := strings.Fields(resp.Lines[0]); len(fields) > 0 {
			greeting = syntax.NewDomainUnchecked(fields[0])
		}
	}
	e := syntax.NewEhloData(greeting)
	for _, line := range resp.Lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		e.Set(fields[0], fields[1:])
	}
	return e
}

// NoopCmd issues NOOP.
type NoopCmd struct{}

func (NoopCmd) CheckAvailability(io *wire.Io) error { return nil }

func (NoopCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	resp, err := io.ExecSimpleCmd(ctx, "NOOP")
	return io, resp, err
}

// RsetCmd issues RSET, aborting any in-progress mail transaction.
type RsetCmd struct{}

func (RsetCmd) CheckAvailability(io *wire.Io) error { return nil }

func (RsetCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	resp, err := io.ExecSimpleCmd(ctx, "RSET")
	return io, resp, err
}

// QuitCmd issues QUIT. The caller is responsible for shutting down the
// underlying socket afterwards.
type QuitCmd struct{}

func (QuitCmd) CheckAvailability(io *wire.Io) error { return nil }

func (QuitCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	resp, err := io.ExecSimpleCmd(ctx, "QUIT")
	return io, resp, err
}

// StartTlsCmd issues STARTTLS and, on a positive response, performs the
// in-place upgrade to a TLS socket.
//
// Per the "keep cached EHLO data on a failed STARTTLS" design decision
// (spec.md §8, Open Question c): if the server rejects STARTTLS with a
// negative response, the returned wire.Io is unchanged, including its
// cached EHLO capabilities. Only a successful upgrade clears them,
// since only then have the pre-TLS capabilities actually become
// untrustworthy (a STARTTLS stripping attacker could otherwise inject
// spurious capability lines before the handshake).
type StartTlsCmd struct {
	ServerName string
	TLSConfig  *tls.Config
}

func (StartTlsCmd) CheckAvailability(io *wire.Io) error {
	if io.IsSecure() {
		return unavailable("connection is already secure")
	}
	if !io.HasCapability("STARTTLS") {
		return unavailable("server did not advertise STARTTLS")
	}
	return nil
}

func (c StartTlsCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	resp, err := io.ExecSimpleCmd(ctx, "STARTTLS")
	if err != nil || resp.Code.IsNegative() {
		return io, resp, err
	}

	newSock, err := socket.UpgradeToTLS(ctx, io.Socket(), c.ServerName, c.TLSConfig)
	if err != nil {
		return io, resp, err
	}

	return io.Rebind(newSock, nil), resp, nil
}
