package command

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"blitiri.com.ar/go/smtpc/internal/normalize"
	"blitiri.com.ar/go/smtpc/internal/syntax"
	"blitiri.com.ar/go/smtpc/internal/wire"
)

// ErrNullCodePoint is returned when a username or password contains a
// NUL byte, which cannot be encoded in a SASL PLAIN token (RFC 4616
// §2 forbids it).
var ErrNullCodePoint = errors.New("command: credential contains a NUL byte")

// AuthPlainCmd authenticates with SASL PLAIN (RFC 4616), using the
// initial-response form (the credential is sent on the AUTH line
// itself, rather than waiting for a 334 challenge) since that is what
// every server advertising "AUTH PLAIN" is required to accept.
type AuthPlainCmd struct {
	Username string
	Password string
}

func (AuthPlainCmd) CheckAvailability(io *wire.Io) error {
	if !io.HasCapability("AUTH") || !io.EhloData().HasParam("AUTH", "PLAIN") {
		return unavailable("server did not advertise AUTH PLAIN")
	}
	return nil
}

func (c AuthPlainCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	if strings.ContainsRune(c.Username, 0) || strings.ContainsRune(c.Password, 0) {
		return io, syntax.Response{}, ErrNullCodePoint
	}

	user, err := normalize.User(c.Username)
	if err != nil {
		return io, syntax.Response{}, err
	}

	token := "\x00" + user + "\x00" + c.Password
	b64 := base64.StdEncoding.EncodeToString([]byte(token))

	resp, err := io.ExecSimpleCmd(ctx, "AUTH PLAIN "+b64)
	if err != nil {
		return io, resp, err
	}
	if resp.Code.IsIntermediate() {
		// A server that does not support the initial-response form
		// replies with an empty 334 challenge; answer it with the same
		// token.
		resp, err = io.ExecSimpleCmd(ctx, b64)
	}
	return io, resp, err
}

// AuthLoginCmd authenticates with the (non-standard, but near
// universally supported) AUTH LOGIN mechanism: a 334 challenge for the
// username, base64-encoded, then one for the password.
type AuthLoginCmd struct {
	Username string
	Password string
}

func (AuthLoginCmd) CheckAvailability(io *wire.Io) error {
	if !io.HasCapability("AUTH") || !io.EhloData().HasParam("AUTH", "LOGIN") {
		return unavailable("server did not advertise AUTH LOGIN")
	}
	return nil
}

func (c AuthLoginCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	if strings.ContainsRune(c.Username, 0) || strings.ContainsRune(c.Password, 0) {
		return io, syntax.Response{}, ErrNullCodePoint
	}

	user, err := normalize.User(c.Username)
	if err != nil {
		return io, syntax.Response{}, err
	}

	resp, err := io.ExecSimpleCmd(ctx, "AUTH LOGIN")
	if err != nil || !resp.Code.IsIntermediate() {
		return io, resp, err
	}

	resp, err = io.ExecSimpleCmd(ctx, base64.StdEncoding.EncodeToString([]byte(user)))
	if err != nil || !resp.Code.IsIntermediate() {
		return io, resp, err
	}

	resp, err = io.ExecSimpleCmd(ctx, base64.StdEncoding.EncodeToString([]byte(c.Password)))
	return io, resp, err
}
