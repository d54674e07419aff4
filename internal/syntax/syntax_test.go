package syntax

import "testing"

func TestResponseCodePredicates(t *testing.T) {
	cases := []struct {
		code                            int
		positive, intermediate, negative bool
	}{
		{220, true, false, false},
		{250, true, false, false},
		{334, true, true, false},
		{354, true, true, false},
		{450, false, false, true},
		{550, false, false, true},
	}
	for _, c := range cases {
		rc, err := NewResponseCode(c.code)
		if err != nil {
			t.Fatalf("NewResponseCode(%d): %v", c.code, err)
		}
		if got := rc.IsPositive(); got != c.positive {
			t.Errorf("%d.IsPositive() = %v, want %v", c.code, got, c.positive)
		}
		if got := rc.IsIntermediate(); got != c.intermediate {
			t.Errorf("%d.IsIntermediate() = %v, want %v", c.code, got, c.intermediate)
		}
		if got := rc.IsNegative(); got != c.negative {
			t.Errorf("%d.IsNegative() = %v, want %v", c.code, got, c.negative)
		}
	}
}

func TestResponseCodeInvalid(t *testing.T) {
	for _, c := range []int{100, 199, 600, 999} {
		if _, err := NewResponseCode(c); err == nil {
			t.Errorf("NewResponseCode(%d) succeeded, want error", c)
		}
	}
}

func TestParseResponseCode(t *testing.T) {
	rc, err := ParseResponseCode("250")
	if err != nil || rc.Int() != 250 {
		t.Fatalf("ParseResponseCode(250) = %v, %v", rc, err)
	}
	if _, err := ParseResponseCode("25"); err == nil {
		t.Errorf("ParseResponseCode(\"25\") succeeded, want error")
	}
	if _, err := ParseResponseCode("abc"); err == nil {
		t.Errorf("ParseResponseCode(\"abc\") succeeded, want error")
	}
}

func TestEhloDataCaseInsensitive(t *testing.T) {
	e := NewEhloData(NewDomainUnchecked("mail.example.com"))
	e.Set("starttls", nil)
	e.Set("SIZE", []string{"1024"})
	e.Set("Auth", []string{"PLAIN", "LOGIN"})

	if !e.Has("STARTTLS") || !e.Has("StartTLS") || !e.Has("starttls") {
		t.Errorf("Has(STARTTLS) should be case-insensitive")
	}
	if !e.HasParam("AUTH", "plain") {
		t.Errorf("HasParam(AUTH, plain) should be case-insensitive on both the keyword and the param")
	}
	params, ok := e.Params("size")
	if !ok || len(params) != 1 || params[0] != "1024" {
		t.Errorf("Params(size) = %v, %v", params, ok)
	}
	if e.Has("PIPELINING") {
		t.Errorf("Has(PIPELINING) should be false")
	}
}

func TestHeloFallback(t *testing.T) {
	e := NewHeloFallbackData(NewDomainUnchecked("mail.example.com"))
	if !e.IsHeloFallback() {
		t.Errorf("IsHeloFallback() should be true")
	}
	if e.Has("STARTTLS") || e.Has("AUTH") {
		t.Errorf("HELO fallback data should advertise no real capabilities")
	}
}

func TestParseDomain(t *testing.T) {
	valid := []string{"example.com", "mail.example.com", "[127.0.0.1]", "[IPv6:::1]"}
	for _, s := range valid {
		if _, err := ParseDomain(s); err != nil {
			t.Errorf("ParseDomain(%q) failed: %v", s, err)
		}
	}

	invalid := []string{"", "-bad.com", "bad-.com", "a..b", "[unterminated"}
	for _, s := range invalid {
		if _, err := ParseDomain(s); err == nil {
			t.Errorf("ParseDomain(%q) succeeded, want error", s)
		}
	}
}

func TestLocalClientIdFallback(t *testing.T) {
	// We can't control os.Hostname() in a unit test, but we can check the
	// fallback constant renders as the documented "[127.0.0.1]".
	id := NewClientIdUnchecked(defaultClientId)
	if id.String() != "[127.0.0.1]" {
		t.Errorf("default client id = %q, want [127.0.0.1]", id.String())
	}
}

func TestEsmtpKeyword(t *testing.T) {
	k, err := ParseEsmtpKeyword("body")
	if err != nil || k.String() != "BODY" {
		t.Fatalf("ParseEsmtpKeyword(body) = %v, %v", k, err)
	}
	if _, err := ParseEsmtpKeyword(""); err == nil {
		t.Errorf("ParseEsmtpKeyword(\"\") succeeded, want error")
	}
	if _, err := ParseEsmtpKeyword("has space"); err == nil {
		t.Errorf("ParseEsmtpKeyword with space succeeded, want error")
	}
}

func TestReverseAndForwardPath(t *testing.T) {
	rp := EmptyReversePath()
	if rp.String() != "<>" {
		t.Errorf("EmptyReversePath().String() = %q, want <>", rp.String())
	}

	rp2 := NewReversePathUnchecked("a@b")
	if rp2.String() != "<a@b>" {
		t.Errorf("ReversePath(a@b).String() = %q, want <a@b>", rp2.String())
	}
	if rp2.Domain() != "b" {
		t.Errorf("ReversePath(a@b).Domain() = %q, want b", rp2.Domain())
	}

	fp := NewForwardPathUnchecked("c@d")
	if fp.String() != "<c@d>" {
		t.Errorf("ForwardPath(c@d).String() = %q, want <c@d>", fp.String())
	}
}
