package smtpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"blitiri.com.ar/go/smtpc/internal/syntax"
	"blitiri.com.ar/go/smtpc/internal/testlib"
)

// fakeServerStep is one line the fake server expects to read, and the
// line(s) it replies with. If closeConn is set, the server closes the
// connection instead of replying, after reading expect (if any).
type fakeServerStep struct {
	expect    string
	reply     string
	closeConn bool
}

// runFakeServer accepts a single connection on ln and plays back steps,
// failing the test if the client writes don't match. It returns a
// channel that is closed once the conversation (or the connection)
// ends.
func runFakeServer(t *testing.T, ln net.Listener, steps []fakeServerStep) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		for _, step := range steps {
			if step.expect != "" {
				n, err := conn.Read(buf)
				if err != nil {
					t.Errorf("server read: %v", err)
					return
				}
				if got := string(buf[:n]); got != step.expect {
					t.Errorf("server got %q, want %q", got, step.expect)
					return
				}
			}
			if step.closeConn {
				return
			}
			if step.reply != "" {
				if _, err := conn.Write([]byte(step.reply)); err != nil {
					t.Errorf("server write: %v", err)
					return
				}
			}
		}
	}()
	return done
}

func TestConnectPlainHelloQuit(t *testing.T) {
	addr := testlib.GetFreePort()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	done := runFakeServer(t, ln, []fakeServerStep{
		{reply: "220 mail.example.com ESMTP\r\n"},
		{expect: "EHLO client.example.com\r\n",
			reply: "250-mail.example.com\r\n250 PIPELINING\r\n"},
		{expect: "QUIT\r\n", reply: "221 bye\r\n"},
	})

	clientID, err := syntax.ParseClientId("client.example.com")
	if err != nil {
		t.Fatalf("ParseClientId: %v", err)
	}
	cfg := NewConfig(addr).WithClientId(clientID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.IsSecure() {
		t.Errorf("connection should not be secure")
	}
	if !conn.HasCapability("PIPELINING") {
		t.Errorf("PIPELINING capability should be cached")
	}

	if err := conn.Quit(ctx); err != nil {
		t.Fatalf("Quit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake server did not finish in time")
	}
}

func TestConnectRejectedGreeting(t *testing.T) {
	addr := testlib.GetFreePort()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	runFakeServer(t, ln, []fakeServerStep{
		{reply: "554 no service here\r\n"},
	})

	cfg := NewConfig(addr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Connect(ctx, cfg)
	if err == nil {
		t.Fatalf("Connect should fail on a negative greeting")
	}
	var logic *LogicError
	if !errors.As(err, &logic) {
		t.Fatalf("error = %v, want a *LogicError", err)
	}
	if !logic.IsPermanent() {
		t.Errorf("554 should classify as permanent")
	}
}

func TestConnectDialFailureIsIoError(t *testing.T) {
	// GetFreePort hands back a port whose listener is already closed and
	// nothing else listens on it: dialing it should fail quickly.
	addr := testlib.GetFreePort()

	cfg := NewConfig(addr).WithDialTimeout(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, cfg)
	if err == nil {
		t.Fatalf("Connect to an address with nothing listening should fail")
	}
	var ioErr *IoError
	if !errors.As(err, &ioErr) {
		t.Fatalf("error = %v, want a *IoError", err)
	}
	// A dial failure should not be confused with a considered rejection
	// from the server: callers are expected to retry dialing later
	// rather than treat it like a permanent bounce.
	if IsPermanent(err) {
		t.Errorf("dial failure should be reported as non-permanent")
	}
}
