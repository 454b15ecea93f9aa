// Package sticky implements the deterministic username→egress-address
// mapping used by both the SOCKS5 and HTTP proxy sessions.
package sticky

import "strconv"

// Resolve maps username to an address in pool, given the configured base
// username. It returns ("", false) when resolution fails — the caller
// falls back to the default (unbound) egress source.
//
// Rules:
//   - empty pool or empty username → no match
//   - username == base             → pool[0]
//   - username == base + N (N a positive integer, 1-indexed) → pool[N-1]
//   - anything else, including non-numeric suffixes, N <= 0, or N out of
//     range → no match
//
// Resolve is pure: identical inputs always produce identical output.
func Resolve(username, base string, pool []string) (string, bool) {
	if len(pool) == 0 || username == "" {
		return "", false
	}
	if username == base {
		return pool[0], true
	}
	if len(username) <= len(base) {
		return "", false
	}
	if username[:len(base)] != base {
		return "", false
	}
	suffix := username[len(base):]
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 || n > len(pool) {
		return "", false
	}
	return pool[n-1], true
}
