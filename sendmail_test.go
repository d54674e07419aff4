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

func TestConnectSendQuitPartialRecipientFailure(t *testing.T) {
	addr := testlib.GetFreePort()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	done := runFakeServer(t, ln, []fakeServerStep{
		{reply: "220 mail.example.com ESMTP\r\n"},
		{expect: "EHLO " + localHostnameForTest(t) + "\r\n",
			reply: "250-mail.example.com\r\n250 8BITMIME\r\n"},
		{expect: "MAIL FROM:<a@example.com> BODY=8BITMIME\r\n",
			reply: "250 ok\r\n"},
		{expect: "RCPT TO:<good@example.org>\r\n",
			reply: "250 ok\r\n"},
		{expect: "RCPT TO:<bad@example.org>\r\n",
			reply: "550 no such user\r\n"},
		{expect: "DATA\r\n", reply: "354 go ahead\r\n"},
		{expect: "Subject: hi\r\n\r\nbody\r\n.\r\n",
			reply: "250 queued as 123\r\n"},
		{expect: "QUIT\r\n", reply: "221 bye\r\n"},
	})

	cfg := NewConfig(addr)
	env := MailEnvelope{
		From: syntax.NewReversePathUnchecked("a@example.com"),
		To: []syntax.ForwardPath{
			syntax.NewForwardPathUnchecked("good@example.org"),
			syntax.NewForwardPathUnchecked("bad@example.org"),
		},
		Encoding: syntax.EncodingMime8bit,
		Data:     []byte("Subject: hi\r\n\r\nbody\r\n"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := ConnectSendQuit(ctx, cfg, []MailEnvelope{env})
	if err != nil {
		t.Fatalf("ConnectSendQuit: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	outcomes := results[0].Recipients
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if outcomes[0].Err != nil {
		t.Errorf("first recipient should have succeeded: %v", outcomes[0].Err)
	}
	if outcomes[1].Err == nil {
		t.Errorf("second recipient should have failed")
	}
	if results[0].Err != nil {
		t.Errorf("envelope should have succeeded overall: %v", results[0].Err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake server did not finish in time")
	}
}

func TestConnectSendQuitAllRecipientsRejected(t *testing.T) {
	addr := testlib.GetFreePort()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	runFakeServer(t, ln, []fakeServerStep{
		{reply: "220 mail.example.com ESMTP\r\n"},
		{expect: "EHLO " + localHostnameForTest(t) + "\r\n",
			reply: "250 mail.example.com\r\n"},
		{expect: "MAIL FROM:<a@example.com>\r\n", reply: "250 ok\r\n"},
		{expect: "RCPT TO:<bad@example.org>\r\n", reply: "550 no such user\r\n"},
		{expect: "RSET\r\n", reply: "250 ok\r\n"},
		{expect: "QUIT\r\n", reply: "221 bye\r\n"},
	})

	cfg := NewConfig(addr)
	env := MailEnvelope{
		From: syntax.NewReversePathUnchecked("a@example.com"),
		To:   []syntax.ForwardPath{syntax.NewForwardPathUnchecked("bad@example.org")},
		Data: []byte("x"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := ConnectSendQuit(ctx, cfg, []MailEnvelope{env})
	if err != nil {
		t.Fatalf("ConnectSendQuit: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Err == nil {
		t.Fatalf("envelope should fail when every recipient is rejected")
	}
}

// TestConnectSendQuitLogicErrorContinuesToNextEnvelope exercises spec.md
// §8 scenario 4: a LogicError on one envelope's RCPT is followed by RSET
// and the next envelope in the batch proceeds over the same session.
func TestConnectSendQuitLogicErrorContinuesToNextEnvelope(t *testing.T) {
	addr := testlib.GetFreePort()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	done := runFakeServer(t, ln, []fakeServerStep{
		{reply: "220 mail.example.com ESMTP\r\n"},
		{expect: "EHLO " + localHostnameForTest(t) + "\r\n",
			reply: "250 mail.example.com\r\n"},
		{expect: "MAIL FROM:<a@example.com>\r\n", reply: "250 ok\r\n"},
		{expect: "RCPT TO:<bad@example.org>\r\n", reply: "550 no such user\r\n"},
		{expect: "RSET\r\n", reply: "250 ok\r\n"},
		{expect: "MAIL FROM:<a@example.com>\r\n", reply: "250 ok\r\n"},
		{expect: "RCPT TO:<good@example.org>\r\n", reply: "250 ok\r\n"},
		{expect: "DATA\r\n", reply: "354 go ahead\r\n"},
		{expect: "hi\r\n.\r\n", reply: "250 queued\r\n"},
		{expect: "QUIT\r\n", reply: "221 bye\r\n"},
	})

	cfg := NewConfig(addr)
	envelopes := []MailEnvelope{
		{
			From: syntax.NewReversePathUnchecked("a@example.com"),
			To:   []syntax.ForwardPath{syntax.NewForwardPathUnchecked("bad@example.org")},
			Data: []byte("x"),
		},
		{
			From: syntax.NewReversePathUnchecked("a@example.com"),
			To:   []syntax.ForwardPath{syntax.NewForwardPathUnchecked("good@example.org")},
			Data: []byte("hi\r\n"),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := ConnectSendQuit(ctx, cfg, envelopes)
	if err != nil {
		t.Fatalf("ConnectSendQuit: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Err == nil {
		t.Errorf("first envelope should have failed")
	}
	if results[1].Err != nil {
		t.Errorf("second envelope should have succeeded: %v", results[1].Err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake server did not finish in time")
	}
}

// TestConnectSendQuitIoErrorSkipsRemainingEnvelopes exercises spec.md §8
// scenario 5: a transport failure destroys the session, and every
// envelope after the one that failed gets a synthetic ErrNoConnection
// result instead of being attempted.
func TestConnectSendQuitIoErrorSkipsRemainingEnvelopes(t *testing.T) {
	addr := testlib.GetFreePort()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	done := runFakeServer(t, ln, []fakeServerStep{
		{reply: "220 mail.example.com ESMTP\r\n"},
		{expect: "EHLO " + localHostnameForTest(t) + "\r\n",
			reply: "250 mail.example.com\r\n"},
		{expect: "MAIL FROM:<a@example.com>\r\n", reply: "250 ok\r\n"},
		{expect: "RCPT TO:<good@example.org>\r\n", reply: "250 ok\r\n"},
		{expect: "DATA\r\n", closeConn: true},
	})

	cfg := NewConfig(addr)
	envelopes := []MailEnvelope{
		{
			From: syntax.NewReversePathUnchecked("a@example.com"),
			To:   []syntax.ForwardPath{syntax.NewForwardPathUnchecked("good@example.org")},
			Data: []byte("hi\r\n"),
		},
		{
			From: syntax.NewReversePathUnchecked("a@example.com"),
			To:   []syntax.ForwardPath{syntax.NewForwardPathUnchecked("other@example.org")},
			Data: []byte("hi\r\n"),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := ConnectSendQuit(ctx, cfg, envelopes)
	if err != nil {
		t.Fatalf("ConnectSendQuit: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Err == nil {
		t.Errorf("first envelope should have failed due to the closed connection")
	}
	if !errors.Is(results[1].Err, ErrNoConnection) {
		t.Errorf("second envelope should be a synthetic ErrNoConnection, got %v", results[1].Err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake server did not finish in time")
	}
}

// TestConnectSendQuitEncodingNotSupported exercises spec.md §4.5 step 1:
// an envelope whose Encoding names an extension the server never
// advertised is rejected as a LogicError without a single byte of the
// MAIL command reaching the wire.
func TestConnectSendQuitEncodingNotSupported(t *testing.T) {
	addr := testlib.GetFreePort()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	done := runFakeServer(t, ln, []fakeServerStep{
		{reply: "220 mail.example.com ESMTP\r\n"},
		{expect: "EHLO " + localHostnameForTest(t) + "\r\n",
			reply: "250 mail.example.com\r\n"},
		{expect: "RSET\r\n", reply: "250 ok\r\n"},
		{expect: "QUIT\r\n", reply: "221 bye\r\n"},
	})

	cfg := NewConfig(addr)
	env := MailEnvelope{
		From:     syntax.NewReversePathUnchecked("a@example.com"),
		To:       []syntax.ForwardPath{syntax.NewForwardPathUnchecked("good@example.org")},
		Encoding: syntax.EncodingSmtpUtf8,
		Data:     []byte("hi\r\n"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := ConnectSendQuit(ctx, cfg, []MailEnvelope{env})
	if err != nil {
		t.Fatalf("ConnectSendQuit: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	var logicErr *LogicError
	if !errors.As(results[0].Err, &logicErr) {
		t.Fatalf("expected a *LogicError, got %v", results[0].Err)
	}
	if !logicErr.IsPermanent() {
		t.Errorf("EncodingNotSupported (504) should classify as permanent")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake server did not finish in time")
	}
}

func localHostnameForTest(t *testing.T) string {
	t.Helper()
	return syntax.LocalClientId().String()
}
