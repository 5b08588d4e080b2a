package reachability

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/sebas/holepunch/internal/errs"
	"github.com/sebas/holepunch/internal/logger"
)

// allowBroadcast sets SO_BROADCAST on conn's underlying file descriptor,
// matching what real SSDP client implementations do before sending
// M-SEARCH (some UPnP stacks reply to the multicast group via a
// unicast-disguised broadcast on misconfigured LANs).
func allowBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// ssdpMulticastAddr is the well-known SSDP multicast group and port, the
// same ones the retrieval pack's SSDP listener joins.
const ssdpMulticastAddr = "239.255.255.250:1900"

const ssdpSearchTarget = "urn:schemas-upnp-org:service:WANIPConnection:1"

// ExternalViaIGD performs SSDP discovery (2s budget) to locate an Internet
// Gateway Device, queries its LAN IP and WAN external IP, and returns both
// (§4.1). Failures degrade silently — the caller falls back to interface
// enumeration + STUN.
func ExternalViaIGD() (*IGDResult, error) {
	location, err := ssdpDiscover()
	if err != nil {
		return nil, err
	}

	controlURL, serviceURN, err := fetchControlURL(location)
	if err != nil {
		return nil, err
	}

	externalIP, err := soapGetExternalIPAddress(controlURL, serviceURN)
	if err != nil {
		return nil, err
	}

	lanIP, err := lanIPTowards(location)
	if err != nil {
		return nil, err
	}

	return &IGDResult{
		LANIP:      lanIP,
		ExternalIP: externalIP,
		controlURL: controlURL,
		serviceURN: serviceURN,
	}, nil
}

// ssdpDiscover sends an M-SEARCH datagram to the SSDP multicast group and
// returns the device description URL from the first reply.
func ssdpDiscover() (string, error) {
	addr, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		return "", fmt.Errorf("%w: ssdp: resolve multicast addr: %v", errs.ErrNetwork, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return "", fmt.Errorf("%w: ssdp: bind local socket: %v", errs.ErrNetwork, err)
	}
	defer conn.Close()

	// SSDP replies arrive from routers more than one hop away on some LAN
	// topologies (double-NAT home routers); raise the multicast TTL above
	// the default of 1 the way a dedicated SSDP client would.
	if pc := ipv4.NewPacketConn(conn); pc != nil {
		if err := pc.SetMulticastTTL(4); err != nil {
			logger.Debug("ssdp: failed to raise multicast TTL", "error", err)
		}
	}
	if err := allowBroadcast(conn); err != nil {
		logger.Debug("ssdp: failed to set SO_BROADCAST", "error", err)
	}

	search := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + ssdpSearchTarget + "\r\n\r\n"

	if _, err := conn.WriteToUDP([]byte(search), addr); err != nil {
		return "", fmt.Errorf("%w: ssdp: send M-SEARCH: %v", errs.ErrNetwork, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(probeTimeout)); err != nil {
		return "", fmt.Errorf("%w: ssdp: set deadline: %v", errs.ErrNetwork, err)
	}

	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return "", fmt.Errorf("%w: ssdp: no IGD response within budget: %v", errs.ErrNetwork, err)
	}

	loc := locationHeader(string(buf[:n]))
	if loc == "" {
		return "", fmt.Errorf("%w: ssdp: response missing LOCATION header", errs.ErrUnknown)
	}
	return loc, nil
}

var locationRe = regexp.MustCompile(`(?i)^LOCATION:\s*(\S+)`)

func locationHeader(resp string) string {
	for _, line := range strings.Split(resp, "\r\n") {
		if m := locationRe.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// deviceDescription is the subset of a UPnP device description XML this
// module needs: the control URL of the WANIPConnection service.
type deviceDescription struct {
	Device struct {
		DeviceList struct {
			Device []nestedDevice `xml:"device"`
		} `xml:"deviceList"`
	} `xml:"device"`
}

type nestedDevice struct {
	DeviceList struct {
		Device []nestedDevice `xml:"device"`
	} `xml:"deviceList"`
	ServiceList struct {
		Service []upnpService `xml:"service"`
	} `xml:"serviceList"`
}

type upnpService struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

func fetchControlURL(location string) (controlURL, serviceURN string, err error) {
	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Get(location)
	if err != nil {
		return "", "", fmt.Errorf("%w: igd: fetch device description: %v", errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("%w: igd: read device description: %v", errs.ErrNetwork, err)
	}

	var desc deviceDescription
	if err := xml.Unmarshal(body, &desc); err != nil {
		return "", "", fmt.Errorf("%w: igd: parse device description: %v", errs.ErrUnknown, err)
	}

	svc, ok := findWANIPConnection(desc.Device.DeviceList.Device)
	if !ok {
		return "", "", fmt.Errorf("%w: igd: no WANIPConnection service found", errs.ErrUnknown)
	}

	base, err := parseBaseURL(location)
	if err != nil {
		return "", "", err
	}

	return base + svc.ControlURL, svc.ServiceType, nil
}

func findWANIPConnection(devices []nestedDevice) (upnpService, bool) {
	for _, d := range devices {
		for _, svc := range d.ServiceList.Service {
			if strings.Contains(svc.ServiceType, "WANIPConnection") {
				return svc, true
			}
		}
		if svc, ok := findWANIPConnection(d.DeviceList.Device); ok {
			return svc, true
		}
	}
	return upnpService{}, false
}

func parseBaseURL(location string) (string, error) {
	idx := strings.Index(location[len("http://"):], "/")
	if idx < 0 {
		return location, nil
	}
	return location[:len("http://")+idx], nil
}

// soapEnvelope wraps a SOAP action body.
const soapEnvelope = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body>%s</s:Body>
</s:Envelope>`

func soapCall(controlURL, serviceURN, action, body string) ([]byte, error) {
	envelope := fmt.Sprintf(soapEnvelope, body)
	req, err := http.NewRequest(http.MethodPost, controlURL, bytes.NewBufferString(envelope))
	if err != nil {
		return nil, fmt.Errorf("%w: igd: build SOAP request: %v", errs.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", fmt.Sprintf(`"%s#%s"`, serviceURN, action))

	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: igd: SOAP call %s: %v", errs.ErrNetwork, action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: igd: read SOAP response: %v", errs.ErrNetwork, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &errs.HTTPError{URL: controlURL, Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func soapGetExternalIPAddress(controlURL, serviceURN string) (net.IP, error) {
	body := fmt.Sprintf(`<u:GetExternalIPAddress xmlns:u="%s"></u:GetExternalIPAddress>`, serviceURN)
	respBody, err := soapCall(controlURL, serviceURN, "GetExternalIPAddress", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Body struct {
			Response struct {
				NewExternalIPAddress string `xml:"NewExternalIPAddress"`
			} `xml:"GetExternalIPAddressResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: igd: parse GetExternalIPAddress response: %v", errs.ErrUnknown, err)
	}

	ip := net.ParseIP(result.Body.Response.NewExternalIPAddress)
	if ip == nil {
		return nil, fmt.Errorf("%w: igd: invalid external IP in response", errs.ErrUnknown)
	}
	return ip, nil
}

// AddUDPMapping installs a UDP port mapping on the IGD, internal == external.
func (r *IGDResult) AddUDPMapping(port int, description string) error {
	body := fmt.Sprintf(`<u:AddPortMapping xmlns:u="%s">`+
		`<NewRemoteHost></NewRemoteHost>`+
		`<NewExternalPort>%d</NewExternalPort>`+
		`<NewProtocol>UDP</NewProtocol>`+
		`<NewInternalPort>%d</NewInternalPort>`+
		`<NewInternalClient>%s</NewInternalClient>`+
		`<NewEnabled>1</NewEnabled>`+
		`<NewPortMappingDescription>%s</NewPortMappingDescription>`+
		`<NewLeaseDuration>0</NewLeaseDuration>`+
		`</u:AddPortMapping>`,
		r.serviceURN, port, port, r.LANIP.String(), description)

	_, err := soapCall(r.controlURL, r.serviceURN, "AddPortMapping", body)
	return err
}

// DeleteUDPMapping removes a previously installed UDP port mapping.
func (r *IGDResult) DeleteUDPMapping(port int) error {
	body := fmt.Sprintf(`<u:DeletePortMapping xmlns:u="%s">`+
		`<NewRemoteHost></NewRemoteHost>`+
		`<NewExternalPort>%d</NewExternalPort>`+
		`<NewProtocol>UDP</NewProtocol>`+
		`</u:DeletePortMapping>`,
		r.serviceURN, port)

	_, err := soapCall(r.controlURL, r.serviceURN, "DeletePortMapping", body)
	return err
}

// lanIPTowards dials (without sending) toward the IGD's host to discover
// which local address the OS would use to reach it — the LAN IP the IGD
// sees us as.
func lanIPTowards(location string) (net.IP, error) {
	u, err := parseHostPort(location)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("udp4", u)
	if err != nil {
		return nil, fmt.Errorf("%w: igd: determine LAN IP: %v", errs.ErrNetwork, err)
	}
	defer conn.Close()

	local := conn.LocalAddr().(*net.UDPAddr)
	return local.IP, nil
}

func parseHostPort(location string) (string, error) {
	rest := strings.TrimPrefix(location, "http://")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	if !strings.Contains(rest, ":") {
		rest += ":80"
	}
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return "", fmt.Errorf("%w: igd: parse location host: %v", errs.ErrUnknown, err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		return "", fmt.Errorf("%w: igd: invalid port in location: %v", errs.ErrUnknown, err)
	}
	return net.JoinHostPort(host, portStr), nil
}
