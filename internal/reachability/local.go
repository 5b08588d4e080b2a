package reachability

import (
	"fmt"
	"net"

	"github.com/sebas/holepunch/internal/errs"
)

// LocalAddress enumerates host network interfaces, filters to those that
// are up and non-loopback, and returns the first IPv4 address found (§4.1).
// IPv6 interfaces are explicitly skipped — per §9's open question, this
// implementation resolves "emit or drop IPv6" toward dropping rather than
// reproducing the original's last-write-wins accident.
func LocalAddress() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate interfaces: %v", errs.ErrNetwork, err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipnet.IP.To4(); v4 != nil {
				return v4, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: no qualifying interface found", errs.ErrNetwork)
}
