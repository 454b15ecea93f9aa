// Package ipassign inspects which IPv6 pool addresses are already present
// on a local interface. It is read-only by design: assigning addresses to
// the host interface is the job of the out-of-process control plane (the
// shell scripts that mutate host IP aliases), not this core.
package ipassign

import (
	"fmt"
	"net"
)

// Missing returns the subset of pool that is not currently assigned to any
// local interface, preserving pool's order. It is a read-only diagnostic
// ("these sticky addresses won't work until the host assigns them"); the
// proxy binary does not call it. It never calls out to `ip addr add` or any
// other mutating command.
func Missing(pool []string) ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}

	present := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.String())
		if err != nil {
			if parsed := net.ParseIP(a.String()); parsed != nil {
				ip = parsed
			} else {
				continue
			}
		}
		present[ip.String()] = struct{}{}
	}

	var missing []string
	for _, raw := range pool {
		ip := net.ParseIP(raw)
		if ip == nil {
			missing = append(missing, raw)
			continue
		}
		if _, ok := present[ip.String()]; !ok {
			missing = append(missing, raw)
		}
	}
	return missing, nil
}
