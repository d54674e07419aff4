package syntax

import (
	"strings"

	"blitiri.com.ar/go/smtpc/internal/set"
)

// EhloData is the parsed result of a successful EHLO response: the
// domain the server greeted us as, and the set of ESMTP capabilities it
// advertised, keyed case-insensitively.
//
// A fresh EhloData should replace any previous one on every successful
// EHLO (invariant I1 in spec.md); this type does not enforce that
// itself, it is the caller's (internal/wire.Io's) responsibility.
type EhloData struct {
	GreetingDomain Domain

	// capabilities maps an uppercased keyword to its ordered parameter
	// words, in their original casing.
	capabilities map[string][]string

	// keywords is the deduped set of advertised keywords, kept in sync
	// with capabilities; Keywords() iterates it instead of the map
	// directly so the set (not map key enumeration) is the source of
	// truth for "what capabilities were advertised".
	keywords *set.String
}

// NewEhloData returns an EhloData with no capabilities yet.
func NewEhloData(greeting Domain) *EhloData {
	return &EhloData{
		GreetingDomain: greeting,
		capabilities:   map[string][]string{},
		keywords:       set.NewString(),
	}
}

// Set records that the server advertised keyword with the given
// parameters. keyword is upper-cased before being stored.
func (e *EhloData) Set(keyword string, params []string) {
	keyword = strings.ToUpper(keyword)
	e.capabilities[keyword] = params
	e.keywords.Add(keyword)
}

// Has reports whether the server advertised the given (case-insensitive)
// keyword.
func (e *EhloData) Has(keyword string) bool {
	if e == nil {
		return false
	}
	_, ok := e.capabilities[strings.ToUpper(keyword)]
	return ok
}

// Params returns the parameter words the server advertised for keyword,
// and whether it was advertised at all.
func (e *EhloData) Params(keyword string) ([]string, bool) {
	if e == nil {
		return nil, false
	}
	p, ok := e.capabilities[strings.ToUpper(keyword)]
	return p, ok
}

// HasParam reports whether keyword was advertised with param among its
// parameter words (case-insensitively), e.g. HasParam("AUTH", "PLAIN").
func (e *EhloData) HasParam(keyword, param string) bool {
	params, ok := e.Params(keyword)
	if !ok {
		return false
	}
	for _, p := range params {
		if strings.EqualFold(p, param) {
			return true
		}
	}
	return false
}

// Keywords returns the advertised capability keywords, in no particular
// order.
func (e *EhloData) Keywords() []string {
	if e == nil {
		return nil
	}
	return e.keywords.Values()
}

// heloOnlyKeyword is recorded on the synthetic EhloData built when a
// server rejects EHLO and the session falls back to HELO (spec.md
// §4.4): downstream admissibility checks (STARTTLS, AUTH) must behave
// conservatively, since a HELO-only server is assumed to support
// neither.
const heloOnlyKeyword = "@HELO"

// NewHeloFallbackData returns the synthetic EhloData used after a HELO
// fallback: no capabilities, marked so STARTTLS/AUTH are rejected.
func NewHeloFallbackData(greeting Domain) *EhloData {
	e := NewEhloData(greeting)
	e.Set(heloOnlyKeyword, nil)
	return e
}

// IsHeloFallback reports whether this EhloData was synthesized after a
// HELO fallback rather than a real EHLO response.
func (e *EhloData) IsHeloFallback() bool {
	return e.Has(heloOnlyKeyword)
}
