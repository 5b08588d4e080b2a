package reachability

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"

	"github.com/sebas/holepunch/internal/errs"
)

// ExternalViaSTUN binds a UDP socket, sends a STUN binding request to
// server, and parses the XOR-MAPPED-ADDRESS from the response (§4.1). Used
// as the fallback external-address technique when IGD is unavailable or
// denies external-address queries.
func ExternalViaSTUN(server string) (*ExternalAddr, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("%w: stun: bind local socket: %v", errs.ErrNetwork, err)
	}
	defer conn.Close()

	serverAddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, fmt.Errorf("%w: stun: resolve %s: %v", errs.ErrNetwork, server, err)
	}

	if err := conn.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		return nil, fmt.Errorf("%w: stun: set deadline: %v", errs.ErrNetwork, err)
	}

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.WriteToUDP(msg.Raw, serverAddr); err != nil {
		return nil, fmt.Errorf("%w: stun: send binding request: %v", errs.ErrNetwork, err)
	}

	buf := make([]byte, 1500)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: stun: read response: %v", errs.ErrNetwork, err)
	}

	resp := &stun.Message{Raw: buf[:n]}
	if err := resp.Decode(); err != nil {
		return nil, fmt.Errorf("%w: stun: decode response: %v", errs.ErrNetwork, err)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(resp); err != nil {
		return nil, fmt.Errorf("%w: stun: no XOR-MAPPED-ADDRESS: %v", errs.ErrNetwork, err)
	}

	return &ExternalAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
}
