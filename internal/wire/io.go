// Package wire implements the buffered line/response protocol layer
// that sits between a socket.Socket and the command layer: writing
// command lines, flushing, parsing (possibly multi-line) responses, and
// dot-stuffing DATA payloads.
//
// Grounded on chasquid's internal/smtp.Client, which wraps a net.Conn in
// a bufio.Reader/bufio.Writer pair and implements exactly this protocol
// (readResponse, writeLine, the DATA dot-stuffing loop in dataClose);
// smtpc splits that single type into socket.Socket (transport) and
// wire.Io (buffered protocol), since STARTTLS replaces the former but
// must not discard the command-layer cache the latter holds (EHLO
// capabilities).
package wire

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"

	"blitiri.com.ar/go/smtpc/internal/socket"
	"blitiri.com.ar/go/smtpc/internal/syntax"
)

const (
	// maxLineLength is the largest single response line accepted,
	// including the trailing CRLF (RFC 5321 §4.5.3.1.5 allows 512,
	// chasquid's internal/smtp.maxLineLength uses 2048 for its more
	// lenient server-facing codepath; smtpc uses the stricter client
	// bound since it only ever talks to servers it expects to be
	// well-behaved).
	maxLineLength = 512

	// maxResponseSize bounds the total bytes read for a single (possibly
	// multi-line) response, guarding against a server that never sends a
	// final line.
	maxResponseSize = 64 * 1024
)

// A ParseError is returned by ParseResponse when the byte stream does
// not look like a valid SMTP response.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "wire: malformed response: " + e.Reason }

func malformed(format string, args ...interface{}) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Io is the buffered protocol layer built on top of a socket.Socket. One
// Io is live per Connection at a time; STARTTLS replaces it wholesale
// (see Rebind) rather than mutating the socket in place, since the
// buffers must be reset to avoid replaying pre-upgrade bytes.
type Io struct {
	sock socket.Socket
	r    *bufio.Reader
	w    *bufio.Writer
	ehlo *syntax.EhloData
}

// New wraps sock in a fresh Io with no cached EHLO data.
func New(sock socket.Socket) *Io {
	return &Io{
		sock: sock,
		r:    bufio.NewReader(sock),
		w:    bufio.NewWriter(sock),
	}
}

// Socket returns the underlying transport, for callers (the command
// layer's STARTTLS implementation) that need to perform the upgrade
// itself.
func (io *Io) Socket() socket.Socket { return io.sock }

// IsSecure reports whether the underlying socket is a TLS connection.
func (io *Io) IsSecure() bool { return io.sock.IsSecure() }

// ConnectionState returns the negotiated TLS state of the underlying
// socket, if secure.
func (io *Io) ConnectionState() (tls.ConnectionState, bool) { return io.sock.ConnectionState() }

// EhloData returns the most recently cached EHLO/HELO result, or nil if
// none has been recorded yet.
func (io *Io) EhloData() *syntax.EhloData { return io.ehlo }

// SetEhloData replaces the cached EHLO/HELO result. Passing nil clears
// it. (A successful STARTTLS does not go through here: it drops the
// cached data by passing nil to Rebind.)
func (io *Io) SetEhloData(e *syntax.EhloData) { io.ehlo = e }

// HasCapability reports whether the cached EHLO data advertises
// keyword. It is false whenever no EHLO has succeeded yet, including
// right after a STARTTLS upgrade.
func (io *Io) HasCapability(keyword string) bool { return io.ehlo.Has(keyword) }

// Rebind returns a new Io wrapping sock, preserving ehlo (the caller
// decides whether to carry over or clear the cached EHLO data). The
// original Io must not be used afterwards: its buffers may still hold
// bytes belonging to the old transport.
func (io *Io) Rebind(sock socket.Socket, ehlo *syntax.EhloData) *Io {
	return &Io{
		sock: sock,
		r:    bufio.NewReader(sock),
		w:    bufio.NewWriter(sock),
		ehlo: ehlo,
	}
}

// WriteLine queues line followed by CRLF. It does not flush; call Flush
// or use ExecSimpleCmd to send it.
func (io *Io) WriteLine(line string) error {
	if _, err := io.w.WriteString(line); err != nil {
		return err
	}
	_, err := io.w.WriteString("\r\n")
	return err
}

// Flush sends any buffered, unwritten bytes to the socket.
func (io *Io) Flush() error {
	return io.w.Flush()
}

// ParseResponse reads one, possibly multi-line, SMTP response. Every
// line must carry the same 3-digit code; all but the last are joined to
// the next with a '-' separator, the last with a ' ' (or nothing, for
// servers that omit it on an empty trailing line). A bare LF is
// accepted on read (never emitted on write). Exceeding maxLineLength on
// a single line, maxResponseSize in total, or a code mismatch across
// continuation lines, all fail with a *ParseError.
func (io *Io) ParseResponse() (syntax.Response, error) {
	var lines []string
	var code syntax.ResponseCode
	haveCode := false
	total := 0

	for {
		raw, err := io.r.ReadString('\n')
		if err != nil {
			return syntax.Response{}, err
		}
		total += len(raw)
		if total > maxResponseSize {
			return syntax.Response{}, malformed("response exceeded %d bytes", maxResponseSize)
		}
		if len(raw) > maxLineLength {
			return syntax.Response{}, malformed("line exceeded %d bytes", maxLineLength)
		}

		line := bytes.TrimRight([]byte(raw), "\r\n")
		if len(line) < 3 {
			return syntax.Response{}, malformed("line %q shorter than a response code", raw)
		}

		lineCode, err := syntax.ParseResponseCode(string(line[:3]))
		if err != nil {
			return syntax.Response{}, malformed("line %q: %v", raw, err)
		}
		if !haveCode {
			code = lineCode
			haveCode = true
		} else if lineCode.Int() != code.Int() {
			return syntax.Response{}, malformed("continuation code %s does not match initial code %s", lineCode, code)
		}

		final := true
		text := ""
		if len(line) > 3 {
			switch line[3] {
			case '-':
				final = false
				text = string(line[4:])
			case ' ':
				text = string(line[4:])
			default:
				return syntax.Response{}, malformed("line %q has invalid separator %q", raw, line[3])
			}
		}
		lines = append(lines, text)

		if final {
			break
		}
	}

	return syntax.NewResponse(code, lines)
}

// ExecSimpleCmd writes cmdLine, flushes, and parses the single response
// that follows. Most commands use exactly this shape; EHLO and HELO use
// it too, then cache the result.
func (io *Io) ExecSimpleCmd(ctx context.Context, cmdLine string) (syntax.Response, error) {
	if err := ctx.Err(); err != nil {
		return syntax.Response{}, err
	}
	if err := io.WriteLine(cmdLine); err != nil {
		return syntax.Response{}, err
	}
	if err := io.Flush(); err != nil {
		return syntax.Response{}, err
	}
	return io.ParseResponse()
}

// WriteDotStuffed writes payload as an SMTP DATA body: any line that
// begins with '.' has an extra '.' prefixed (RFC 5321 §4.5.2), and the
// stream is terminated with "\r\n.\r\n" (a bare "\r\n" is inserted first
// if payload does not already end in one). It flushes before returning.
func (io *Io) WriteDotStuffed(payload []byte) error {
	lines := bytes.Split(payload, []byte("\n"))
	for i, line := range lines {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if bytes.HasPrefix(line, []byte(".")) {
			if _, err := io.w.WriteString("."); err != nil {
				return err
			}
		}
		if _, err := io.w.Write(line); err != nil {
			return err
		}
		if i != len(lines)-1 {
			if _, err := io.w.WriteString("\r\n"); err != nil {
				return err
			}
		}
	}

	if len(payload) == 0 || !bytes.HasSuffix(payload, []byte("\r\n")) {
		if _, err := io.w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	if _, err := io.w.WriteString(".\r\n"); err != nil {
		return err
	}
	return io.Flush()
}
