package smtpc

import (
	"crypto/tls"
	"time"

	"blitiri.com.ar/go/smtpc/internal/command"
	"blitiri.com.ar/go/smtpc/internal/sts"
	"blitiri.com.ar/go/smtpc/internal/syntax"
)

// SecurityMode picks how (or whether) a Connection secures its
// transport, grounded on the three paths chasquid's courier.attempt
// and smtpsrv.Conn both support: no TLS at all, opportunistic/required
// STARTTLS, or implicit TLS from the first byte.
type SecurityMode int

const (
	// SecurityNone never attempts TLS.
	SecurityNone SecurityMode = iota

	// SecurityStartTls connects in the clear and then requires a
	// successful STARTTLS before any mail transaction: Connect fails if
	// the server does not advertise STARTTLS or the handshake fails.
	SecurityStartTls

	// SecurityDirectTls performs the TLS handshake immediately after
	// dialing, before any SMTP bytes are exchanged (the "SMTPS" style
	// used on port 465).
	SecurityDirectTls
)

func (m SecurityMode) String() string {
	switch m {
	case SecurityNone:
		return "none"
	case SecurityStartTls:
		return "starttls"
	case SecurityDirectTls:
		return "direct-tls"
	default:
		return "unknown"
	}
}

// Config describes how to connect to, and authenticate with, an SMTP
// server. Build one with NewConfig and the With* methods, which return
// the receiver to allow chaining.
type Config struct {
	addr     string
	security SecurityMode
	clientID syntax.ClientId
	authCmd  command.Command

	tlsConfig *tls.Config

	dialTimeout  time.Duration
	totalTimeout time.Duration

	stsPolicy *sts.Policy
}

// NewConfig returns a Config that will dial addr (host:port) with no
// TLS, no authentication, the local hostname as client identity
// (falling back to "[127.0.0.1]", per internal/syntax.LocalClientId),
// and timeouts matching chasquid's outgoing courier
// (smtpDialTimeout/smtpTotalTimeout in internal/courier/smtp.go).
func NewConfig(addr string) *Config {
	return &Config{
		addr:         addr,
		security:     SecurityNone,
		clientID:     localClientID(),
		dialTimeout:  1 * time.Minute,
		totalTimeout: 10 * time.Minute,
	}
}

func localClientID() syntax.ClientId {
	return syntax.LocalClientId()
}

// WithSecurity sets the security mode.
func (c *Config) WithSecurity(m SecurityMode) *Config {
	c.security = m
	return c
}

// WithClientId overrides the identity used in the EHLO/HELO line.
func (c *Config) WithClientId(id syntax.ClientId) *Config {
	c.clientID = id
	return c
}

// WithTLSConfig overrides the *tls.Config used for STARTTLS or implicit
// TLS. ServerName is filled in automatically from the dial target if
// left empty.
func (c *Config) WithTLSConfig(cfg *tls.Config) *Config {
	c.tlsConfig = cfg
	return c
}

// WithAuthPlain arranges for Connect to authenticate with SASL PLAIN
// once the connection (and, if SecurityStartTls, the TLS upgrade) is
// established.
func (c *Config) WithAuthPlain(user, password string) *Config {
	c.authCmd = command.AuthPlainCmd{Username: user, Password: password}
	return c
}

// WithAuthLogin arranges for Connect to authenticate with AUTH LOGIN.
func (c *Config) WithAuthLogin(user, password string) *Config {
	c.authCmd = command.AuthLoginCmd{Username: user, Password: password}
	return c
}

// WithDialTimeout overrides how long dialing the TCP connection may
// take.
func (c *Config) WithDialTimeout(d time.Duration) *Config {
	c.dialTimeout = d
	return c
}

// WithTotalTimeout overrides the deadline applied to the whole
// connection lifetime once dialed.
func (c *Config) WithTotalTimeout(d time.Duration) *Config {
	c.totalTimeout = d
	return c
}

// WithSTSPolicy attaches an MTA-STS policy (an internal/sts.Policy the
// caller has already fetched). When the policy's mode is "enforce" it
// also switches the security mode to SecurityStartTls, and Connect then
// fails unless the connection ends up with a verified TLS certificate
// (RFC 8461 §4.2: the connection MUST be validated by TLS). Connect does
// not check the dialed host against the policy's MX patterns.
func (c *Config) WithSTSPolicy(p *sts.Policy) *Config {
	c.stsPolicy = p
	if p != nil && p.Mode == sts.Enforce {
		c.security = SecurityStartTls
	}
	return c
}

func (c *Config) tlsConfigFor(serverName string) *tls.Config {
	cfg := c.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	return cfg
}

// RequireVerifiedTLS reports whether the attached MTA-STS policy (if
// any) demands that the connection end up with a verified TLS
// certificate, per RFC 8461 §4.2.
func (c *Config) RequireVerifiedTLS() bool {
	return c.stsPolicy != nil && c.stsPolicy.Mode == sts.Enforce
}
