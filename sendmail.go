package smtpc

import (
	"context"
	"errors"
	"net"

	"blitiri.com.ar/go/spf"

	"blitiri.com.ar/go/smtpc/internal/command"
	"blitiri.com.ar/go/smtpc/internal/maillog"
	"blitiri.com.ar/go/smtpc/internal/set"
	"blitiri.com.ar/go/smtpc/internal/syntax"
	"blitiri.com.ar/go/smtpc/internal/trace"
)

// MailEnvelope is a single message to deliver: one reverse path, one or
// more forward paths, an encoding requirement (spec.md §3's
// MailEnvelope.mail.encoding_requirement), and the message content
// (already CRLF-terminated where the caller wants hard line breaks;
// WriteDotStuffed handles the dot-stuffing and final terminator).
type MailEnvelope struct {
	From     syntax.ReversePath
	To       []syntax.ForwardPath
	Encoding syntax.EncodingRequirement
	Data     []byte
}

// RcptOutcome pairs one recipient with the result of its RCPT TO.
type RcptOutcome struct {
	To       syntax.ForwardPath
	Response syntax.Response
	Err      error
}

// EnvelopeResult is the outcome of one envelope within ConnectSendQuit's
// batch: the per-recipient RCPT outcomes (empty if MAIL itself failed),
// and Err, set if the envelope as a whole did not get delivered
// (a synthesized EncodingNotSupported rejection, a MAIL rejection,
// every RCPT rejected, a DATA failure, or ErrNoConnection if the
// session was already destroyed by an earlier envelope's transport
// failure).
type EnvelopeResult struct {
	Recipients []RcptOutcome
	Err        error
}

// ConnectSendQuit connects per cfg and delivers each envelope in order
// over the one session, per spec.md §4.5: for each envelope, MAIL FROM
// (gated by its Encoding requirement), then one RCPT TO per recipient,
// then DATA. It is the one-call convenience driver equivalent to
// chasquid's internal/courier.SMTP.Deliver/attempt.deliver, generalized
// from "exactly one recipient, one message" to a whole batch run over a
// single connection.
//
// Classification follows the dual-layer result the whole library is
// built on: a LogicError (the server's considered rejection — a bad
// MAIL, every RCPT rejected, a bad DATA) fails only that envelope; the
// session is reset with RSET and the next envelope proceeds. An
// IoError destroys the session outright: every remaining envelope gets
// a synthetic ErrNoConnection result instead of being attempted, since
// there is nothing left to retry against. After the last envelope, QUIT
// is issued best-effort if the session is still alive; a destroyed
// session is closed without QUIT.
//
// ConnectSendQuit itself only returns a non-nil error if Connect fails;
// once a session is established, every subsequent failure is reported
// per envelope instead of aborting the batch.
func ConnectSendQuit(ctx context.Context, cfg *Config, envelopes []MailEnvelope) ([]EnvelopeResult, error) {
	tr := trace.New("smtpc.ConnectSendQuit", cfg.addr)
	defer tr.Finish()

	conn, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	results := make([]EnvelopeResult, len(envelopes))
	sessionAlive := true

	for i, env := range envelopes {
		if !sessionAlive {
			results[i] = EnvelopeResult{Err: &GeneralError{Op: "mail", Err: ErrNoConnection}}
			maillog.SendAttempt("", env.From.Addr(), "", ErrNoConnection, false)
			continue
		}

		res, ioErr := deliverEnvelope(ctx, conn, env, tr)
		results[i] = res
		if ioErr != nil {
			tr.Errorf("session destroyed after envelope %d: %v", i, ioErr)
			conn.Close()
			sessionAlive = false
		}
	}

	if sessionAlive {
		if err := conn.Quit(ctx); err != nil {
			tr.Debugf("quit: %v", err)
		}
	}

	return results, nil
}

// deliverEnvelope runs one envelope's mini-chain (MAIL, RCPT*, DATA)
// against an already-established conn. A non-nil returned error means
// an IoError destroyed the session; the caller must not reuse conn for
// later envelopes. Every other failure (a negative MAIL/DATA response,
// an EncodingNotSupported pre-flight rejection, or every recipient
// rejected) is reported via the EnvelopeResult's Err instead, and the
// session is reset with RSET so the next envelope can proceed.
func deliverEnvelope(ctx context.Context, conn *Connection, env MailEnvelope, tr *trace.Trace) (EnvelopeResult, error) {
	mailResp, err := conn.Send(ctx, command.MailCmd{From: env.From, Requirement: env.Encoding})
	if err != nil {
		maillog.SendAttempt("", env.From.Addr(), "", err, IsPermanent(err))
		return EnvelopeResult{Err: err}, err
	}
	if mailResp.Code.IsNegative() {
		logicErr := &LogicError{Op: "mail", Response: mailResp}
		maillog.SendAttempt("", env.From.Addr(), "", logicErr, logicErr.IsPermanent())
		if rerr := resetSession(ctx, conn); rerr != nil {
			return EnvelopeResult{Err: logicErr}, rerr
		}
		return EnvelopeResult{Err: logicErr}, nil
	}
	tr.Debugf("MAIL FROM accepted: %s", mailResp)

	recipients := dedupeForwardPaths(env.To)

	outcomes := make([]RcptOutcome, 0, len(recipients))
	accepted := 0
	for _, to := range recipients {
		resp, rerr := conn.Send(ctx, command.RcptCmd{To: to})
		if rerr != nil {
			maillog.SendAttempt("", env.From.Addr(), to.Addr(), rerr, IsPermanent(rerr))
			return EnvelopeResult{Recipients: outcomes, Err: rerr}, rerr
		}

		var outcomeErr error
		if resp.Code.IsNegative() {
			outcomeErr = &LogicError{Op: "rcpt", Response: resp}
		} else {
			accepted++
		}
		outcomes = append(outcomes, RcptOutcome{To: to, Response: resp, Err: outcomeErr})
		maillog.SendAttempt("", env.From.Addr(), to.Addr(), outcomeErr, outcomeErr != nil && IsPermanent(outcomeErr))
	}
	if accepted == 0 {
		genErr := &GeneralError{Op: "rcpt", Err: errAllRecipientsRejected}
		if rerr := resetSession(ctx, conn); rerr != nil {
			return EnvelopeResult{Recipients: outcomes, Err: genErr}, rerr
		}
		return EnvelopeResult{Recipients: outcomes, Err: genErr}, nil
	}

	dataResp, err := conn.Send(ctx, command.DataCmd{Payload: env.Data})
	if err != nil {
		return EnvelopeResult{Recipients: outcomes, Err: err}, err
	}
	if dataResp.Code.IsNegative() {
		logicErr := &LogicError{Op: "data", Response: dataResp}
		if rerr := resetSession(ctx, conn); rerr != nil {
			return EnvelopeResult{Recipients: outcomes, Err: logicErr}, rerr
		}
		return EnvelopeResult{Recipients: outcomes, Err: logicErr}, nil
	}

	return EnvelopeResult{Recipients: outcomes}, nil
}

// dedupeForwardPaths drops repeated recipients from to, keeping the
// first occurrence of each address: a caller-assembled MailEnvelope
// (e.g. one recipient added via both a To and a Cc header upstream)
// should not cause the same address to receive two RCPT TO commands
// and two queued copies of the message.
func dedupeForwardPaths(to []syntax.ForwardPath) []syntax.ForwardPath {
	seen := set.NewString()
	deduped := make([]syntax.ForwardPath, 0, len(to))
	for _, fp := range to {
		if seen.Has(fp.Addr()) {
			continue
		}
		seen.Add(fp.Addr())
		deduped = append(deduped, fp)
	}
	return deduped
}

// resetSession issues RSET after an envelope-ending LogicError, per
// spec.md §4.5's classification rule. A non-nil return means RSET
// itself failed at the transport level, which per the same dual-layer
// contract destroys the session just as any other IoError would.
func resetSession(ctx context.Context, conn *Connection) error {
	_, err := conn.Send(ctx, command.RsetCmd{})
	return err
}

var errAllRecipientsRejected = errors.New("all recipients were rejected")

// CheckSenderSPF checks whether ip is authorized to send mail for
// sender's domain, per SPF (RFC 7208). It wraps
// blitiri.com.ar/go/spf.CheckHostWithSender, the same call chasquid's
// internal/smtpsrv.Conn.checkSPF makes on the receiving side. Nothing in
// this module calls it; cmd/smtpc-send does not run an SPF check.
func CheckSenderSPF(ctx context.Context, ip net.IP, sender string) (spf.Result, error) {
	_, domain := syntax.SplitAddr(sender)
	tr := trace.New("smtpc.CheckSenderSPF", sender)
	defer tr.Finish()

	res, err := spf.CheckHostWithSender(ip, domain, sender,
		spf.WithTraceFunc(func(f string, a ...interface{}) {
			tr.Debugf(f, a...)
		}))
	tr.Debugf("SPF %v (%v)", res, err)
	return res, err
}
