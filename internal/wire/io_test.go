package wire

import (
	"bytes"
	"context"
	"crypto/tls"
	"testing"

	"blitiri.com.ar/go/smtpc/internal/socket"
)

func TestParseResponseSingleLine(t *testing.T) {
	io := New(socket.NewMock([]socket.MockStep{
		socket.ReplyStep("250 OK\r\n"),
	}))
	resp, err := io.ParseResponse()
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Code.Int() != 250 || resp.Text() != "OK" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestParseResponseMultiLine(t *testing.T) {
	io := New(socket.NewMock([]socket.MockStep{
		socket.ReplyStep("250-mail.example.com at your service\r\n250-PIPELINING\r\n250 SIZE 10240000\r\n"),
	}))
	resp, err := io.ParseResponse()
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(resp.Lines) != 3 || resp.Code.Int() != 250 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Lines[1] != "PIPELINING" {
		t.Errorf("resp.Lines[1] = %q", resp.Lines[1])
	}
}

func TestParseResponseCodeMismatch(t *testing.T) {
	io := New(socket.NewMock([]socket.MockStep{
		socket.ReplyStep("250-a\r\n251 b\r\n"),
	}))
	if _, err := io.ParseResponse(); err == nil {
		t.Errorf("mismatched continuation code should fail")
	}
}

func TestParseResponseBareLF(t *testing.T) {
	io := New(socket.NewMock([]socket.MockStep{
		socket.ReplyStep("250 OK\n"),
	}))
	resp, err := io.ParseResponse()
	if err != nil || resp.Code.Int() != 250 {
		t.Fatalf("ParseResponse with bare LF: %+v, %v", resp, err)
	}
}

func TestExecSimpleCmd(t *testing.T) {
	m := socket.NewMock([]socket.MockStep{
		socket.ExpectStep("NOOP\r\n"),
		socket.ReplyStep("250 OK\r\n"),
	})
	io := New(m)
	resp, err := io.ExecSimpleCmd(context.Background(), "NOOP")
	if err != nil {
		t.Fatalf("ExecSimpleCmd: %v", err)
	}
	if resp.Code.Int() != 250 {
		t.Errorf("resp = %+v", resp)
	}
	if !m.Done() {
		t.Errorf("script should be exhausted")
	}
}

func TestWriteDotStuffedEscapesLeadingDot(t *testing.T) {
	var out bytes.Buffer
	io := New(&captureSocket{w: &out})
	if err := io.WriteDotStuffed([]byte("Subject: hi\r\n\r\n.escape me\r\nnormal line\r\n")); err != nil {
		t.Fatalf("WriteDotStuffed: %v", err)
	}
	want := "Subject: hi\r\n\r\n..escape me\r\nnormal line\r\n.\r\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestWriteDotStuffedAddsTerminatorCRLF(t *testing.T) {
	var out bytes.Buffer
	io := New(&captureSocket{w: &out})
	if err := io.WriteDotStuffed([]byte("no trailing newline")); err != nil {
		t.Fatalf("WriteDotStuffed: %v", err)
	}
	want := "no trailing newline\r\n.\r\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

// captureSocket is a minimal socket.Socket that only ever writes (used
// to inspect WriteDotStuffed's exact byte output).
type captureSocket struct {
	w *bytes.Buffer
}

func (c *captureSocket) Read(p []byte) (int, error)  { return 0, nil }
func (c *captureSocket) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *captureSocket) Flush() error                { return nil }
func (c *captureSocket) Shutdown() error             { return nil }
func (c *captureSocket) IsSecure() bool              { return false }
func (c *captureSocket) ConnectionState() (tls.ConnectionState, bool) {
	return tls.ConnectionState{}, false
}
