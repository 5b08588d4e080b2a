package reachability

import (
	"fmt"
	"net"

	"github.com/sebas/holepunch/internal/errs"
)

// Candidates is the result of running the full reachability probe: a LOCAL
// candidate (this host's interface address) and a STATIC candidate (the
// address the outside world would see), plus whatever IGD port-mapping
// cleanup the caller needs to run when the session ends (§4.1).
type Candidates struct {
	LocalIP    net.IP
	ExternalIP net.IP

	// IGD is non-nil when discovery succeeded, letting the caller install
	// and later remove a UDP port mapping for each candidate probe port.
	IGD *IGDResult
}

// Probe runs the composition policy of §4.1: try IGD first, since it gives
// both a trustworthy LAN address and the ability to map ports; fall back to
// interface enumeration + STUN when no IGD answers. Returns ErrUnknown if
// neither path resolves an external address.
func Probe(stunServer string) (*Candidates, error) {
	if igd, err := ExternalViaIGD(); err == nil {
		return &Candidates{
			LocalIP:    igd.LANIP,
			ExternalIP: igd.ExternalIP,
			IGD:        igd,
		}, nil
	}

	localIP, err := LocalAddress()
	if err != nil {
		return nil, err
	}

	ext, err := ExternalViaSTUN(stunServer)
	if err != nil {
		return nil, fmt.Errorf("%w: reachability: both IGD and STUN failed: %v", errs.ErrUnknown, err)
	}

	return &Candidates{
		LocalIP:    localIP,
		ExternalIP: ext.IP,
	}, nil
}
