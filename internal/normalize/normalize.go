// Package normalize contains functions to normalize usernames and
// addresses used in AUTH PLAIN/LOGIN, via PRECIS (RFC 8265), the modern
// replacement for SASLprep.
package normalize

import (
	"strings"

	"golang.org/x/text/secure/precis"
)

// User normalizes a username using PRECIS.
// On error, it also returns the original username to simplify callers.
func User(user string) (string, error) {
	norm, err := precis.UsernameCaseMapped.String(user)
	if err != nil {
		return user, err
	}

	return norm, nil
}

// Addr normalizes the local part of a user@domain address using PRECIS,
// leaving the domain untouched.
// On error, it also returns the original address to simplify callers.
func Addr(addr string) (string, error) {
	user, domain := split(addr)

	user, err := User(user)
	if err != nil {
		return addr, err
	}

	if domain == "" {
		return user, nil
	}
	return user + "@" + domain, nil
}

func split(addr string) (string, string) {
	ps := strings.SplitN(addr, "@", 2)
	if len(ps) != 2 {
		return addr, ""
	}
	return ps[0], ps[1]
}
