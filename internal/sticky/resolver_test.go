package sticky

import (
	"strconv"
	"testing"
)

func pool3() []string {
	return []string{"2001:db8::a", "2001:db8::b", "2001:db8::c"}
}

func TestResolveBaseExact(t *testing.T) {
	ip, ok := Resolve("user", "user", pool3())
	if !ok || ip != "2001:db8::a" {
		t.Fatalf("got (%q, %v), want (2001:db8::a, true)", ip, ok)
	}
}

func TestResolveIndexed(t *testing.T) {
	ip, ok := Resolve("user2", "user", pool3())
	if !ok || ip != "2001:db8::b" {
		t.Fatalf("got (%q, %v), want (2001:db8::b, true)", ip, ok)
	}
}

func TestResolveBoundary(t *testing.T) {
	pool := pool3()
	for k := 1; k <= len(pool); k++ {
		username := "user" + strconv.Itoa(k)
		ip, ok := Resolve(username, "user", pool)
		if !ok || ip != pool[k-1] {
			t.Errorf("Resolve(%q) = (%q, %v), want (%q, true)", username, ip, ok, pool[k-1])
		}
	}
	// one past the end, and zero/negative, must miss.
	for _, k := range []int{0, -1, len(pool) + 1} {
		username := "user" + strconv.Itoa(k)
		if _, ok := Resolve(username, "user", pool); ok {
			t.Errorf("Resolve(%q) should miss, got hit", username)
		}
	}
}

func TestResolveNonNumericSuffix(t *testing.T) {
	if _, ok := Resolve("userabc", "user", pool3()); ok {
		t.Fatal("expected miss for non-numeric suffix")
	}
}

func TestResolveAnonDoesNotMatchBase(t *testing.T) {
	if _, ok := Resolve("anon", "user", pool3()); ok {
		t.Fatal("anon must not resolve against a different base")
	}
}

func TestResolveEmptyPoolOrUsername(t *testing.T) {
	if _, ok := Resolve("user1", "user", nil); ok {
		t.Fatal("empty pool must miss")
	}
	if _, ok := Resolve("", "user", pool3()); ok {
		t.Fatal("empty username must miss")
	}
}

func TestResolveDeterministic(t *testing.T) {
	pool := pool3()
	a, okA := Resolve("user3", "user", pool)
	b, okB := Resolve("user3", "user", pool)
	if a != b || okA != okB {
		t.Fatal("Resolve is not deterministic across repeated calls")
	}
}
