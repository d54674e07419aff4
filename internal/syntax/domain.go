// Package syntax implements the wire-level syntax primitives used by the
// rest of smtpc: domains and client identifiers, ESMTP keywords and
// values, forward/reverse paths, and multi-line SMTP responses.
//
// Constructors come in two flavors, mirroring the chasquid courier's
// treatment of addresses: a "New*Unchecked" constructor for values a
// caller has already validated (e.g. coming from an address-parsing
// library upstream of this one), and a "Parse*" constructor that
// enforces the RFC 5321 grammar.
package syntax

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/net/idna"
)

// Domain is a DNS name or a bracketed address literal, as used in EHLO
// arguments and the domain part of forward/reverse paths.
type Domain struct {
	s string
}

// NewDomainUnchecked builds a Domain from a string the caller has already
// validated, bypassing the RFC 5321 grammar check.
func NewDomainUnchecked(s string) Domain {
	return Domain{s: s}
}

// ParseDomain validates s against RFC 5321 §4.1.2's dot-atom / address
// literal grammar and returns the resulting Domain.
func ParseDomain(s string) (Domain, error) {
	if s == "" {
		return Domain{}, errors.New("syntax: empty domain")
	}

	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return Domain{}, fmt.Errorf("syntax: unterminated address literal %q", s)
		}
		if err := validateAddressLiteral(s[1 : len(s)-1]); err != nil {
			return Domain{}, err
		}
		return Domain{s: s}, nil
	}

	if err := validateDotAtom(s); err != nil {
		return Domain{}, err
	}
	return Domain{s: s}, nil
}

// IsZero reports whether d is the zero Domain.
func (d Domain) IsZero() bool { return d.s == "" }

// String returns the domain in its original wire form.
func (d Domain) String() string { return d.s }

// IsAddressLiteral reports whether d is a bracketed address literal
// (e.g. "[127.0.0.1]") rather than a DNS name.
func (d Domain) IsAddressLiteral() bool {
	return strings.HasPrefix(d.s, "[") && strings.HasSuffix(d.s, "]")
}

// ASCII returns d converted to an all-ASCII (IDNA A-label) form suitable
// for placing on the wire when the peer has not advertised SMTPUTF8.
// Address literals are returned unchanged.
func (d Domain) ASCII() (Domain, error) {
	if d.IsAddressLiteral() || isASCII(d.s) {
		return d, nil
	}
	a, err := idna.ToASCII(d.s)
	if err != nil {
		return Domain{}, fmt.Errorf("syntax: domain %q is not IDNA safe: %w", d.s, err)
	}
	return Domain{s: a}, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func validateAddressLiteral(inner string) error {
	if strings.HasPrefix(inner, "IPv6:") {
		if ip := net.ParseIP(inner[len("IPv6:"):]); ip == nil || ip.To4() != nil {
			return fmt.Errorf("syntax: invalid IPv6 address literal %q", inner)
		}
		return nil
	}
	if ip := net.ParseIP(inner); ip != nil && ip.To4() != nil {
		return nil
	}
	// General address literal, e.g. "[tag:value]" per RFC 5321 §4.1.3. We
	// accept it permissively: a tag followed by ':' and printable bytes.
	if i := strings.IndexByte(inner, ':'); i > 0 {
		return nil
	}
	return fmt.Errorf("syntax: invalid address literal %q", inner)
}

// dot-atom-text, as per RFC 5321 §4.1.2 / RFC 5322 §3.2.3, restricted to
// the subset that matters for a domain: letters, digits, hyphens and
// dots, no leading/trailing/doubled dot or hyphen-at-label-edge. Any
// non-ASCII character is also accepted, so internationalized names
// parse as-is.
func validateDotAtom(s string) error {
	labels := strings.Split(s, ".")
	for _, l := range labels {
		if l == "" {
			return fmt.Errorf("syntax: empty label in domain %q", s)
		}
		if strings.HasPrefix(l, "-") || strings.HasSuffix(l, "-") {
			return fmt.Errorf("syntax: label %q in domain %q starts/ends with hyphen", l, s)
		}
		for _, c := range l {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
				c >= '0' && c <= '9' || c == '-' || c > 127) {
				return fmt.Errorf("syntax: invalid character %q in domain %q", c, s)
			}
		}
	}
	return nil
}

// ClientId is the argument to EHLO/HELO: either a Domain or an address
// literal identifying the client.
type ClientId struct {
	Domain Domain
}

// NewClientIdUnchecked builds a ClientId from an already-validated string.
func NewClientIdUnchecked(s string) ClientId {
	return ClientId{Domain: NewDomainUnchecked(s)}
}

// ParseClientId validates s the same way ParseDomain does.
func ParseClientId(s string) (ClientId, error) {
	d, err := ParseDomain(s)
	if err != nil {
		return ClientId{}, err
	}
	return ClientId{Domain: d}, nil
}

// defaultClientId is used when the local hostname cannot be determined.
const defaultClientId = "[127.0.0.1]"

// LocalClientId returns a ClientId built from the OS hostname, falling
// back to "[127.0.0.1]" if it cannot be determined or does not parse as
// a valid domain.
func LocalClientId() ClientId {
	host, err := os.Hostname()
	if err == nil {
		if id, err := ParseClientId(host); err == nil {
			return id
		}
	}
	return NewClientIdUnchecked(defaultClientId)
}

func (c ClientId) String() string { return c.Domain.String() }
