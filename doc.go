// Package smtpc is a client-side SMTP library: it connects to a mail
// server, negotiates EHLO/HELO, optionally upgrades to TLS via
// STARTTLS (or connects with implicit TLS), optionally authenticates,
// and lets the caller run individual SMTP commands or drive a whole
// send through a single call.
//
// It is split into three layers, each exported under internal/ and
// composed here: internal/socket (the raw transport, replaceable
// in-place by STARTTLS), internal/wire (buffered line/response
// framing), and internal/command (the SMTP commands themselves and the
// combinators used to sequence them). Tests can swap internal/socket's
// Mock in for a real network connection via smtptest.
package smtpc
