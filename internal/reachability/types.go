// Package reachability implements the Reachability Prober of spec.md §4.1:
// local interface enumeration, IGD/UPnP external-address and port-mapping,
// STUN fallback, and default-route MAC lookup.
package reachability

import (
	"fmt"
	"net"
	"time"
)

// ExternalAddr is the result of an external-address probe, regardless of
// which technique produced it.
type ExternalAddr struct {
	IP   net.IP
	Port int
}

// IGDResult carries everything the composition policy of §4.1 needs from a
// successful IGD probe.
type IGDResult struct {
	LANIP      net.IP
	ExternalIP net.IP
	controlURL string
	serviceURN string
}

func (r *IGDResult) String() string {
	return fmt.Sprintf("IGD{lan=%s external=%s}", r.LANIP, r.ExternalIP)
}

// probeTimeout bounds every reachability technique; §4.1 specifies 2s for
// SSDP discovery specifically, other probes use this as a shared default.
const probeTimeout = 2 * time.Second
