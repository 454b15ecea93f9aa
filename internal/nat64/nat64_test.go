package nat64

import "testing"

func TestRewriteIPv4WhenEnabled(t *testing.T) {
	got := Rewrite("1.2.3.4", true)
	want := "64:ff9b::1.2.3.4"
	if got != want {
		t.Fatalf("Rewrite() = %q, want %q", got, want)
	}
}

func TestRewriteNoopWhenDisabled(t *testing.T) {
	if got := Rewrite("1.2.3.4", false); got != "1.2.3.4" {
		t.Fatalf("Rewrite() = %q, want unchanged host", got)
	}
}

func TestRewriteNoopForDomainName(t *testing.T) {
	if got := Rewrite("example.com", true); got != "example.com" {
		t.Fatalf("Rewrite() = %q, want unchanged domain", got)
	}
}

func TestRewriteNoopForIPv6Literal(t *testing.T) {
	if got := Rewrite("2001:db8::1", true); got != "2001:db8::1" {
		t.Fatalf("Rewrite() = %q, want unchanged IPv6 literal", got)
	}
}
