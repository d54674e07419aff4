// smtpc-check is a command-line tool for checking SMTP setups: MTA-STS
// policy, SPF, and the TLS certificate/cipher a domain's MX hosts
// present on STARTTLS, exercised through the smtpc client library
// instead of net/smtp.
//
// +build !coverage

package main

import (
	"context"
	"flag"
	"log"
	"net"
	"time"

	"blitiri.com.ar/go/smtpc"
	"blitiri.com.ar/go/smtpc/internal/sts"
	"blitiri.com.ar/go/smtpc/internal/tlsconst"

	"blitiri.com.ar/go/spf"

	"golang.org/x/net/idna"
)

var (
	port = flag.String("port", "smtp",
		"port to use for connecting to the MX servers")
	skipTLSCheck = flag.Bool("skip_tls_check", false,
		"skip TLS check (useful if connections are blocked)")
)

func main() {
	flag.Parse()

	domain := flag.Arg(0)
	if domain == "" {
		log.Fatal("Use: smtpc-check <domain>")
	}

	domain, err := idna.ToASCII(domain)
	if err != nil {
		log.Fatalf("IDNA conversion failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Printf("=== STS policy")
	policy, err := sts.UncheckedFetch(ctx, domain)
	if err != nil {
		log.Printf("Not available (%s)", err)
	} else {
		log.Printf("Parsed contents:  [%+v]\n", *policy)
		if err := policy.Check(); err != nil {
			log.Fatalf("Invalid: %v", err)
		}
		log.Printf("OK")
	}

	mxs, err := net.LookupMX(domain)
	if err != nil {
		log.Fatalf("MX lookup: %v", err)
	}

	if len(mxs) == 0 {
		log.Fatalf("MX lookup returned no results")
	}

	for _, mx := range mxs {
		log.Printf("=== Testing MX: %2d  %s", mx.Pref, mx.Host)

		ips, err := net.LookupIP(mx.Host)
		if err != nil {
			log.Fatal(err)
		}
		for _, ip := range ips {
			result, err := spf.CheckHost(ip, domain)
			if result != spf.Pass {
				log.Printf("SPF check != pass for IP %s: %s - %s",
					ip, result, err)
			}
		}

		if *skipTLSCheck {
			log.Printf("TLS check skipped")
		} else {
			cfg := smtpc.NewConfig(net.JoinHostPort(mx.Host, *port)).
				WithSecurity(smtpc.SecurityStartTls)

			conn, err := smtpc.Connect(ctx, cfg)
			if err != nil {
				log.Fatalf("connect/starttls: %v", err)
			}

			state, ok := conn.ConnectionState()
			if !ok {
				log.Fatalf("server did not upgrade to TLS")
			}
			log.Printf("TLS OK: %s - %s", tlsconst.VersionName(state.Version),
				tlsconst.CipherSuiteName(state.CipherSuite))
			log.Printf("Security level: %s", conn.SecurityLevel())

			_ = conn.Quit(ctx)
		}

		if policy != nil {
			if !policy.MXIsAllowed(mx.Host) {
				log.Fatalf("NOT allowed by STS policy")
			}
			log.Printf("Allowed by policy")
		}

		log.Printf("")
	}

	log.Printf("=== Success")
}
