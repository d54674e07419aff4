package smtpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"time"

	"blitiri.com.ar/go/smtpc/internal/command"
	"blitiri.com.ar/go/smtpc/internal/socket"
	"blitiri.com.ar/go/smtpc/internal/syntax"
	"blitiri.com.ar/go/smtpc/internal/tlsconst"
	"blitiri.com.ar/go/smtpc/internal/trace"
	"blitiri.com.ar/go/smtpc/internal/wire"
)

// SecurityLevel classifies the transport a Connection ended up with,
// mirroring chasquid's internal/domaininfo.SecLevel three-way split
// (plaintext / TLS with an unverifiable certificate / TLS with a
// verified certificate), used there to detect and prevent STARTTLS
// downgrade attacks across repeated deliveries to the same domain.
type SecurityLevel int

const (
	// SecurityLevelPlain means no TLS was negotiated.
	SecurityLevelPlain SecurityLevel = iota
	// SecurityLevelTLSInsecure means TLS was negotiated but the peer
	// certificate could not be verified against any trusted root.
	SecurityLevelTLSInsecure
	// SecurityLevelTLSSecure means TLS was negotiated and the peer
	// certificate verified successfully.
	SecurityLevelTLSSecure
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityLevelPlain:
		return "plain"
	case SecurityLevelTLSInsecure:
		return "tls-insecure"
	case SecurityLevelTLSSecure:
		return "tls-secure"
	default:
		return "unknown"
	}
}

// certRoots overrides the trust roots used to classify SecurityLevel;
// nil means "use the system roots". Tests substitute their own pool,
// following chasquid's internal/courier.certRoots.
var certRoots *x509.CertPool

func classifySecurityLevel(state tls.ConnectionState) SecurityLevel {
	if len(state.PeerCertificates) == 0 {
		return SecurityLevelTLSInsecure
	}
	opts := x509.VerifyOptions{
		DNSName:       state.ServerName,
		Intermediates: x509.NewCertPool(),
		Roots:         certRoots,
	}
	for _, cert := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := state.PeerCertificates[0].Verify(opts); err != nil {
		return SecurityLevelTLSInsecure
	}
	return SecurityLevelTLSSecure
}

// Connect dials cfg.addr, negotiates EHLO (falling back to HELO),
// secures the transport per cfg.security, and authenticates if
// cfg.authCmd is set. It is the equivalent of chasquid's
// attempt.deliver up through the point where MAIL/RCPT/DATA begin; what
// happens after connecting is left to the caller via Connection.Send,
// or driven end to end by ConnectSendQuit.
func Connect(ctx context.Context, cfg *Config) (*Connection, error) {
	tr := trace.New("smtpc.Connect", cfg.addr)
	defer tr.Finish()

	deadline := time.Now().Add(cfg.totalTimeout)
	if d, ok := ctx.Deadline(); !ok || deadline.Before(d) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	host := cfg.addr
	if h, _, err := net.SplitHostPort(cfg.addr); err == nil {
		host = h
	}

	dialer := net.Dialer{Timeout: cfg.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.addr)
	if err != nil {
		return nil, tr.Errorf("%w", &IoError{Op: "dial", Err: err})
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	var sock socket.Socket
	if cfg.security == SecurityDirectTls {
		tlsConn := tls.Client(conn, cfg.tlsConfigFor(host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, tr.Errorf("%w", &IoError{Op: "tls handshake", Err: err})
		}
		sock = socket.NewSecure(tlsConn)
		tr.Debugf("direct TLS established: %s", describeCipher(tlsConn.ConnectionState()))
	} else {
		sock = socket.NewInsecure(conn)
	}

	io := wire.New(sock)

	greeting, err := io.ParseResponse()
	if err != nil {
		sock.Shutdown()
		return nil, tr.Errorf("%w", &IoError{Op: "greeting", Err: err})
	}
	if greeting.Code.IsNegative() {
		sock.Shutdown()
		return nil, tr.Errorf("%w", &LogicError{Op: "connect", Response: greeting})
	}

	helloCmd := command.Either(
		command.EhloCmd{ClientId: cfg.clientID},
		command.HeloCmd{ClientId: cfg.clientID},
	)
	io, resp, err := helloCmd.Exec(ctx, io)
	if err != nil {
		sock.Shutdown()
		return nil, tr.Errorf("%w", &IoError{Op: "hello", Err: err})
	}
	if resp.Code.IsNegative() {
		sock.Shutdown()
		return nil, tr.Errorf("%w", &LogicError{Op: "hello", Response: resp})
	}

	if cfg.security == SecurityStartTls {
		starttls := command.StartTlsCmd{ServerName: host, TLSConfig: cfg.tlsConfigFor(host)}
		if err := starttls.CheckAvailability(io); err != nil {
			sock.Shutdown()
			return nil, tr.Errorf("%w", &MissingCapabilities{Op: "starttls", Err: err})
		}

		var stResp syntax.Response
		io, stResp, err = starttls.Exec(ctx, io)
		if err != nil {
			sock.Shutdown()
			return nil, tr.Errorf("%w", &IoError{Op: "starttls", Err: err})
		}
		if stResp.Code.IsNegative() {
			sock.Shutdown()
			return nil, tr.Errorf("%w", &LogicError{Op: "starttls", Response: stResp})
		}
		if state, ok := io.ConnectionState(); ok {
			tr.Debugf("STARTTLS established: %s", describeCipher(state))
		}

		// Capabilities advertised before TLS are untrustworthy (a
		// stripping attacker could have injected or hidden lines), so
		// EHLO/HELO runs again over the secured channel.
		io, resp, err = helloCmd.Exec(ctx, io)
		if err != nil {
			io.Socket().Shutdown()
			return nil, tr.Errorf("%w", &IoError{Op: "post-tls hello", Err: err})
		}
		if resp.Code.IsNegative() {
			io.Socket().Shutdown()
			return nil, tr.Errorf("%w", &LogicError{Op: "post-tls hello", Response: resp})
		}
	}

	if cfg.RequireVerifiedTLS() {
		state, ok := io.ConnectionState()
		if !ok || classifySecurityLevel(state) != SecurityLevelTLSSecure {
			io.Socket().Shutdown()
			return nil, tr.Errorf("%w", &GeneralError{Op: "mta-sts", Err: errUnverifiedTLS})
		}
	}

	if cfg.authCmd != nil {
		if err := cfg.authCmd.CheckAvailability(io); err != nil {
			io.Socket().Shutdown()
			return nil, tr.Errorf("%w", &MissingCapabilities{Op: "auth", Err: err})
		}
		var authResp syntax.Response
		io, authResp, err = cfg.authCmd.Exec(ctx, io)
		if err != nil {
			io.Socket().Shutdown()
			return nil, tr.Errorf("%w", &IoError{Op: "auth", Err: err})
		}
		if authResp.Code.IsNegative() {
			io.Socket().Shutdown()
			return nil, tr.Errorf("%w", &LogicError{Op: "auth", Response: authResp})
		}
	}

	tr.Debugf("connected to %s (security=%s)", cfg.addr, cfg.security)
	return &Connection{io: io, tr: tr, host: host}, nil
}

var errUnverifiedTLS = errors.New("mta-sts policy requires a verified TLS connection, got an unverified or absent one")

// describeCipher renders the negotiated cipher suite/version in human
// terms, via internal/tlsconst, for trace logging.
func describeCipher(state tls.ConnectionState) string {
	return tlsconst.VersionName(state.Version) + "/" + tlsconst.CipherSuiteName(state.CipherSuite)
}
