package command

import (
	"context"

	"blitiri.com.ar/go/smtpc/internal/syntax"
	"blitiri.com.ar/go/smtpc/internal/wire"
)

// MailCmd issues MAIL FROM, tagged with BODY=8BITMIME or SMTPUTF8 per
// Requirement, following the capability-gated logic of chasquid's
// internal/smtp.Client.prepareForSMTPUTF8 (promoted here to an explicit
// field instead of being inferred from ASCII-ness internally, since the
// command layer should not need to re-derive what the caller already
// decided when preparing the envelope).
type MailCmd struct {
	From        syntax.ReversePath
	Requirement syntax.EncodingRequirement
}

func (MailCmd) CheckAvailability(io *wire.Io) error { return nil }

// Exec writes MAIL FROM, unless Requirement names an extension the
// server never advertised: per spec.md §4.5 step 1, that case is
// reported as a negative response without any bytes reaching the
// wire, so the caller's usual negative-response handling (RSET and
// move on) applies uniformly.
func (c MailCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	cmd := "MAIL FROM:" + c.From.String()
	switch c.Requirement {
	case syntax.EncodingMime8bit:
		if !io.HasCapability("8BITMIME") {
			return io, encodingNotSupported(), nil
		}
		cmd += " BODY=8BITMIME"
	case syntax.EncodingSmtpUtf8:
		if !io.HasCapability("SMTPUTF8") {
			return io, encodingNotSupported(), nil
		}
		cmd += " SMTPUTF8"
	}
	resp, err := io.ExecSimpleCmd(ctx, cmd)
	return io, resp, err
}

// encodingNotSupported synthesizes the negative response MailCmd.Exec
// returns when Requirement names an extension the server did not
// advertise. 504 ("Command parameter not implemented", RFC 5321
// §4.2.3) is the canonical code for a recognized command used with an
// unsupported parameter.
func encodingNotSupported() syntax.Response {
	code, err := syntax.NewResponseCode(504)
	if err != nil {
		panic(err)
	}
	resp, err := syntax.NewResponse(code, []string{"Requested encoding not supported"})
	if err != nil {
		panic(err)
	}
	return resp
}

// RcptCmd issues RCPT TO.
type RcptCmd struct {
	To syntax.ForwardPath
}

func (RcptCmd) CheckAvailability(io *wire.Io) error { return nil }

func (c RcptCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	resp, err := io.ExecSimpleCmd(ctx, "RCPT TO:"+c.To.String())
	return io, resp, err
}

// DataCmd issues DATA and, if the server invites the payload with a 354
// response, writes it dot-stuffed and returns the final response that
// follows. A negative response to the initial DATA line is returned as
// is, without attempting to write any payload.
type DataCmd struct {
	Payload []byte
}

func (DataCmd) CheckAvailability(io *wire.Io) error { return nil }

func (c DataCmd) Exec(ctx context.Context, io *wire.Io) (*wire.Io, syntax.Response, error) {
	resp, err := io.ExecSimpleCmd(ctx, "DATA")
	if err != nil || !resp.Code.IsIntermediate() {
		return io, resp, err
	}

	if err := io.WriteDotStuffed(c.Payload); err != nil {
		return io, resp, err
	}
	final, err := io.ParseResponse()
	return io, final, err
}
