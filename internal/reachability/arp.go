package reachability

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/sebas/holepunch/internal/errs"
)

// DefaultRouteMAC resolves the hardware address of the default-route
// gateway, for the DefaultRouteMACAddr field of a hole-punch connection
// request (§3, §4.1). localIP does not select the route; see
// defaultGatewayFor.
// It reads the kernel ARP table rather than issuing ARP requests directly —
// the entry is expected to already be populated from ordinary traffic or
// from the dial performed during IGD/STUN probing.
func DefaultRouteMAC(localIP net.IP) (net.HardwareAddr, error) {
	gateway, err := defaultGatewayFor(localIP)
	if err != nil {
		return nil, err
	}

	mac, err := arpLookup(gateway)
	if err != nil {
		return nil, err
	}
	return mac, nil
}

// defaultGatewayFor returns the gateway of the first default route listed in
// /proc/net/route. localIP is not consulted: the route's interface is not
// matched against it.
func defaultGatewayFor(localIP net.IP) (net.IP, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return nil, fmt.Errorf("%w: open /proc/net/route: %v", errs.ErrNetwork, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 {
			continue
		}
		destHex, gatewayHex, flagsHex := fields[1], fields[2], fields[3]
		if destHex != "00000000" {
			continue // not the default route
		}
		if flagsHex == "0" {
			continue
		}
		gw, err := hexLEToIP(gatewayHex)
		if err != nil {
			continue
		}
		return gw, nil
	}

	return nil, fmt.Errorf("%w: no default route found", errs.ErrNetwork)
}

// hexLEToIP decodes /proc/net/route's little-endian hex IPv4 representation.
func hexLEToIP(hexStr string) (net.IP, error) {
	var b [4]byte
	n, err := fmt.Sscanf(hexStr, "%02x%02x%02x%02x", &b[3], &b[2], &b[1], &b[0])
	if err != nil || n != 4 {
		return nil, fmt.Errorf("%w: malformed route field %q", errs.ErrUnknown, hexStr)
	}
	return net.IPv4(b[0], b[1], b[2], b[3]), nil
}

// arpLookup scans /proc/net/arp for ip's hardware address.
func arpLookup(ip net.IP) (net.HardwareAddr, error) {
	f, err := os.Open("/proc/net/arp")
	if err != nil {
		return nil, fmt.Errorf("%w: open /proc/net/arp: %v", errs.ErrNetwork, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line

	target := ip.String()
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[0] != target {
			continue
		}
		mac, err := net.ParseMAC(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%w: parse ARP entry for %s: %v", errs.ErrUnknown, target, err)
		}
		return mac, nil
	}

	return nil, fmt.Errorf("%w: no ARP entry for gateway %s", errs.ErrNetwork, target)
}
