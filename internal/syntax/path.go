package syntax

import "strings"

// ReversePath is the MAIL FROM address, possibly empty (the bounce
// address "<>").
type ReversePath struct {
	addr  string
	empty bool
}

// NewReversePathUnchecked builds a ReversePath from an already-validated
// "local@domain" address.
func NewReversePathUnchecked(addr string) ReversePath {
	return ReversePath{addr: addr}
}

// EmptyReversePath returns the null reverse path "<>", used for bounce
// messages.
func EmptyReversePath() ReversePath {
	return ReversePath{empty: true}
}

// IsEmpty reports whether this is the null reverse path.
func (r ReversePath) IsEmpty() bool { return r.empty }

// Addr returns the bare "local@domain" address, or "" for the null path.
func (r ReversePath) Addr() string { return r.addr }

// String returns the path wrapped in angle brackets, as it appears in a
// MAIL FROM command.
func (r ReversePath) String() string {
	if r.empty {
		return "<>"
	}
	return "<" + r.addr + ">"
}

// ForwardPath is a RCPT TO address.
type ForwardPath struct {
	addr string
}

// NewForwardPathUnchecked builds a ForwardPath from an already-validated
// "local@domain" address.
func NewForwardPathUnchecked(addr string) ForwardPath {
	return ForwardPath{addr: addr}
}

// Addr returns the bare "local@domain" address.
func (f ForwardPath) Addr() string { return f.addr }

// String returns the path wrapped in angle brackets, as it appears in a
// RCPT TO command.
func (f ForwardPath) String() string {
	return "<" + f.addr + ">"
}

// Domain returns the domain part of the address, or "" if there is none.
func (f ForwardPath) Domain() string {
	_, d := splitAddr(f.addr)
	return d
}

// Domain returns the domain part of the address, or "" if there is none.
func (r ReversePath) Domain() string {
	_, d := splitAddr(r.addr)
	return d
}

func splitAddr(addr string) (string, string) {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}

// IsASCII reports whether addr (a bare, unbracketed address) is entirely
// ASCII.
func IsASCII(addr string) bool {
	return isASCII(addr)
}

// SplitAddr splits a bare "local@domain" address into its two parts;
// domain is "" if addr has no '@'.
func SplitAddr(addr string) (string, string) {
	return splitAddr(addr)
}

// ToIDNAFallback converts the domain part of addr to IDNA ASCII form,
// leaving the local part untouched. It is used when a non-ASCII address
// must be placed on the wire but the server does not advertise SMTPUTF8:
// if the local part itself is non-ASCII this cannot help, and the caller
// should treat it as an unsupported-encoding error instead of calling
// this function.
func ToIDNAFallback(addr string) (string, error) {
	user, domain := splitAddr(addr)
	if domain == "" {
		return addr, nil
	}
	d, err := Domain{s: domain}.ASCII()
	if err != nil {
		return addr, err
	}
	return user + "@" + d.String(), nil
}
