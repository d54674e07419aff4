// smtpc-send is a command-line tool that delivers a single message by
// looking up the recipient domain's MX hosts (falling back to the
// domain's A/AAAA record per RFC 5321 §5.1, capped at 5 hosts, as
// chasquid's internal/courier.lookupMXs does), fetching any MTA-STS
// policy, and walking the MX list with smtpc.ConnectSendQuit until one
// host accepts the mail or the list is exhausted.
//
// +build !coverage

package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"time"

	"golang.org/x/net/idna"

	"blitiri.com.ar/go/smtpc"
	"blitiri.com.ar/go/smtpc/internal/sts"
	"blitiri.com.ar/go/smtpc/internal/syntax"
)

var (
	port = flag.String("port", "smtp",
		"port to use for connecting to the MX servers")
	helloDomain = flag.String("hello_domain", "",
		"domain to use in the EHLO/HELO line (defaults to the local hostname)")
	from = flag.String("from", "", "envelope sender (MAIL FROM)")
	to   = flag.String("to", "", "envelope recipient (RCPT TO)")
	skipSTS = flag.Bool("skip_sts", false, "do not fetch or enforce an MTA-STS policy")

	netLookupMX = net.LookupMX
)

func main() {
	flag.Parse()

	if *from == "" || *to == "" {
		log.Fatal("Use: smtpc-send -from=<addr> -to=<addr> < message")
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatalf("reading message from stdin: %v", err)
	}
	data = bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
	data = bytes.ReplaceAll(data, []byte("\r\r\n"), []byte("\r\n"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_, toDomain := syntax.SplitAddr(*to)
	mxs, err := lookupMXs(toDomain)
	if err != nil {
		log.Fatalf("MX lookup: %v", err)
	}
	log.Printf("MXs for %s: %v", toDomain, mxs)

	var policy *sts.Policy
	if !*skipSTS {
		policy, err = sts.UncheckedFetch(ctx, toDomain)
		if err != nil {
			log.Printf("no usable MTA-STS policy for %s: %v", toDomain, err)
			policy = nil
		} else if err := policy.Check(); err != nil {
			log.Printf("MTA-STS policy for %s is invalid, ignoring: %v", toDomain, err)
			policy = nil
		}
	}

	encoding := syntax.EncodingNone
	if !syntax.IsASCII(*from) || !syntax.IsASCII(*to) {
		encoding = syntax.EncodingSmtpUtf8
	}
	envelopes := []smtpc.MailEnvelope{{
		From:     syntax.NewReversePathUnchecked(*from),
		To:       []syntax.ForwardPath{syntax.NewForwardPathUnchecked(*to)},
		Encoding: encoding,
		Data:     data,
	}}

	var lastErr error
	for _, mx := range mxs {
		if policy != nil && !policy.MXIsAllowed(mx) {
			log.Printf("%q skipped as per MTA-STS policy", mx)
			continue
		}

		cfg := smtpc.NewConfig(net.JoinHostPort(mx, *port)).
			WithSecurity(smtpc.SecurityStartTls)
		if *helloDomain != "" {
			id, err := syntax.ParseClientId(*helloDomain)
			if err != nil {
				log.Fatalf("invalid -hello_domain: %v", err)
			}
			cfg = cfg.WithClientId(id)
		}
		if policy != nil {
			cfg = cfg.WithSTSPolicy(policy)
		}

		results, err := smtpc.ConnectSendQuit(ctx, cfg, envelopes)
		if err != nil {
			lastErr = err
			log.Printf("%q: could not connect: %v", mx, err)
			continue
		}

		result := results[0]
		if result.Err == nil {
			log.Printf("delivered via %s", mx)
			return
		}
		lastErr = result.Err
		log.Printf("%q failed: %v", mx, result.Err)
		for _, o := range result.Recipients {
			if o.Err != nil {
				log.Printf("  %s: %v", o.To, o.Err)
			}
		}
		if smtpc.IsPermanent(result.Err) {
			log.Fatalf("permanent failure, not retrying other MXs: %v", result.Err)
		}
	}

	log.Fatalf("all MXs failed; last error: %v", lastErr)
}

// lookupMXs resolves domain's MX records, sorted by priority, falling
// back to the domain itself (for an implicit A/AAAA MX) when none are
// found, and capping the result at 5 hosts.
func lookupMXs(domain string) ([]string, error) {
	domain, err := idna.ToASCII(domain)
	if err != nil {
		return nil, err
	}

	var mxs []string
	records, err := netLookupMX(domain)
	if err != nil {
		dnsErr, ok := err.(*net.DNSError)
		if !ok {
			return nil, err
		}
		if !dnsErr.IsNotFound {
			return nil, err
		}
		mxs = []string{domain}
	} else {
		for _, r := range records {
			mxs = append(mxs, r.Host)
		}
	}

	if len(mxs) > 5 {
		mxs = mxs[:5]
	}
	return mxs, nil
}
