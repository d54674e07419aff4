// Package socket implements the polymorphic byte stream smtpc sessions
// are built on: a plain TCP connection, a TLS connection, or (in tests)
// a scripted mock, all behind a single Socket interface, plus the
// in-place upgrade from plaintext to TLS that STARTTLS needs.
//
// Grounded on the dial-then-maybe-StartTLS shape of chasquid's
// internal/courier.attempt.deliver, and on the "wrap the net.Conn in
// tls.Client, discard the old reader/writer, keep going" pattern used by
// SMTP STARTTLS implementations generally (e.g. the server side of
// nazwhale-from-my-domain/go-smtp-server's protocol.go).
package socket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
)

// Socket is the polymorphic transport a wire.Io is built on.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Flush() error
	Shutdown() error

	// IsSecure reports whether this socket is a TLS connection.
	IsSecure() bool

	// ConnectionState returns the negotiated TLS state, if this socket is
	// secure.
	ConnectionState() (tls.ConnectionState, bool)
}

// netSocket is a Socket backed by a net.Conn: either a plain TCP
// connection (secure == false) or a TLS connection (secure == true).
type netSocket struct {
	conn     net.Conn
	secure   bool
	state    tls.ConnectionState
	hasState bool
}

// NewInsecure wraps conn (expected to be freshly dialed, cleartext) as a
// Socket.
func NewInsecure(conn net.Conn) Socket {
	return &netSocket{conn: conn}
}

// NewSecure wraps an already-established TLS connection as a Socket,
// for the implicit-TLS (DirectTls) connect path.
func NewSecure(conn *tls.Conn) Socket {
	return &netSocket{conn: conn, secure: true, state: conn.ConnectionState(), hasState: true}
}

func (s *netSocket) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *netSocket) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *netSocket) Flush() error                { return nil }
func (s *netSocket) Shutdown() error             { return s.conn.Close() }
func (s *netSocket) IsSecure() bool              { return s.secure }

func (s *netSocket) ConnectionState() (tls.ConnectionState, bool) {
	return s.state, s.hasState
}

// ErrNotInsecure is returned by UpgradeToTLS when called on a socket
// that is not a plaintext net.Conn-backed Socket: either it is already
// Secure, or it is a Mock (which rejects upgrade outright, per
// spec.md §4.2/§6).
var ErrNotInsecure = errors.New("socket: upgrade_to_tls requires an insecure socket")

// UpgradeToTLS performs the STARTTLS in-place transport upgrade: it is
// only valid on an Insecure socket (a programming error otherwise, per
// spec.md §4.2), and returns a brand new Socket wrapping the TLS
// connection rather than mutating s, since Go has no tagged-union
// variant to replace in place (spec.md §9, "Design notes").
func UpgradeToTLS(ctx context.Context, s Socket, serverName string, cfg *tls.Config) (Socket, error) {
	ns, ok := s.(*netSocket)
	if !ok {
		return nil, fmt.Errorf("%w: mock sockets cannot be upgraded", ErrNotInsecure)
	}
	if ns.secure {
		return nil, ErrNotInsecure
	}

	conf := cfg
	if conf == nil {
		conf = &tls.Config{}
	}
	conf = conf.Clone()
	if conf.ServerName == "" {
		conf.ServerName = serverName
	}

	tlsConn := tls.Client(ns.conn, conf)
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("socket: tls handshake: %w", err)
	}

	return &netSocket{
		conn:     tlsConn,
		secure:   true,
		state:    tlsConn.ConnectionState(),
		hasState: true,
	}, nil
}
