package sessionmsg

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// bodyPrefix is the marker the envelope payload uses before the JSON body
// (§4.4): "ver=1.0, type=text, body=<json>".
const bodyPrefix = "body="

var (
	localPeerAddrQuirk = regexp.MustCompile(`"localPeerAddr"\s*:\s*,`)
	trailingComma      = regexp.MustCompile(`,\s*([}\]])`)
)

// Decode parses a session-message envelope payload string of the form
// "ver=1.0, type=text, body={...}" into a Message, per §4.4. It patches the
// two known malformations (see patchQuirks) before delegating to
// encoding/json. Decoding fails when the body is not valid JSON after that,
// when action is empty, when skey or localHashedId do not decode to 16 and
// 20 bytes, when a non-empty defaultRouteMacAddr is not six colon-separated
// hex octets, or when a candidate type is not LOCAL or STATIC. Absent
// numeric and string fields are not rejected; they decode as zero or empty.
func Decode(payload string) (*Message, error) {
	idx := strings.Index(payload, bodyPrefix)
	if idx < 0 {
		return nil, fmt.Errorf("sessionmsg: payload missing %q marker", bodyPrefix)
	}
	body := payload[idx+len(bodyPrefix):]
	body = patchQuirks(body)

	var env rawEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("sessionmsg: decode body: %w", err)
	}

	msg := &Message{
		Action: Action(strings.ToUpper(env.Action)),
		ReqID:  uint16(env.ReqID),
		Error:  uint16(env.Error),
	}
	if msg.Action == "" {
		return nil, fmt.Errorf("sessionmsg: missing action")
	}

	if len(env.ConnRequest) > 0 && string(env.ConnRequest) != "{}" && string(env.ConnRequest) != "null" {
		cr, err := decodeConnRequest(env.ConnRequest)
		if err != nil {
			return nil, fmt.Errorf("sessionmsg: connRequest: %w", err)
		}
		msg.ConnRequest = cr
	}

	return msg, nil
}

// patchQuirks fixes up the two known malformations before handing the body
// to a real JSON parser: a dangling "localPeerAddr" key, and a tolerated
// trailing comma before a closing bracket/brace.
func patchQuirks(body string) string {
	body = localPeerAddrQuirk.ReplaceAllString(body, `"localPeerAddr":{},`)
	body = trailingComma.ReplaceAllString(body, "$1")
	return body
}

type rawEnvelope struct {
	Action      string          `json:"action"`
	ReqID       int             `json:"reqId"`
	Error       int             `json:"error"`
	ConnRequest json.RawMessage `json:"connRequest"`
}

type rawCandidate struct {
	Type       string `json:"type"`
	Addr       string `json:"addr"`
	MappedAddr string `json:"mappedAddr"`
	Port       int    `json:"port"`
	MappedPort int    `json:"mappedPort"`
}

type rawConnRequest struct {
	SID                 int            `json:"sid"`
	PeerSID             int            `json:"peerSid"`
	SKey                string         `json:"skey"`
	NATType             int            `json:"natType"`
	DefaultRouteMacAddr string         `json:"defaultRouteMacAddr"`
	LocalHashedID       string         `json:"localHashedId"`
	Candidate           []rawCandidate `json:"candidate"`
}

func decodeConnRequest(raw json.RawMessage) (*ConnectionRequest, error) {
	var rc rawConnRequest
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, err
	}

	skey, err := base64.StdEncoding.DecodeString(rc.SKey)
	if err != nil {
		return nil, fmt.Errorf("skey: %w", err)
	}
	if len(skey) != 16 {
		return nil, fmt.Errorf("skey: decoded to %d bytes, want 16", len(skey))
	}

	hashedID, err := base64.StdEncoding.DecodeString(rc.LocalHashedID)
	if err != nil {
		return nil, fmt.Errorf("localHashedId: %w", err)
	}
	if len(hashedID) != 20 {
		return nil, fmt.Errorf("localHashedId: decoded to %d bytes, want 20", len(hashedID))
	}

	cr := &ConnectionRequest{
		SID:     uint16(rc.SID),
		PeerSID: uint16(rc.PeerSID),
		NATType: rc.NATType,
	}
	copy(cr.SKey[:], skey)
	copy(cr.LocalHashedID[:], hashedID)

	if rc.DefaultRouteMacAddr != "" {
		mac, err := parseMAC(rc.DefaultRouteMacAddr)
		if err != nil {
			return nil, fmt.Errorf("defaultRouteMacAddr: %w", err)
		}
		cr.DefaultRouteMAC = mac
		cr.HasDefaultRouteMAC = true
	}

	for _, rcand := range rc.Candidate {
		ct := CandidateType(strings.ToUpper(rcand.Type))
		if ct != CandidateLocal && ct != CandidateStatic {
			return nil, fmt.Errorf("candidate type %q invalid", rcand.Type)
		}
		cr.Candidates = append(cr.Candidates, Candidate{
			Type:       ct,
			Addr:       rcand.Addr,
			MappedAddr: rcand.MappedAddr,
			Port:       rcand.Port,
			MappedPort: rcand.MappedPort,
		})
	}

	return cr, nil
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return mac, fmt.Errorf("expected 6 colon-separated octets, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return mac, err
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

// Encode builds the envelope payload string for msg, reproducing the
// vendor client's hand-rolled (not encoding/json-based) serialization,
// including the dangling "localPeerAddr" key when localPeerAddr is omitted
// (the common case: this implementation never sends a non-empty
// localPeerAddr, matching the original client).
func Encode(msg *Message) string {
	var b strings.Builder
	b.WriteString(`{"action":"`)
	b.WriteString(string(msg.Action))
	b.WriteString(`","reqId":`)
	b.WriteString(strconv.Itoa(int(msg.ReqID)))
	b.WriteString(`,"error":`)
	b.WriteString(strconv.Itoa(int(msg.Error)))
	b.WriteString(`,"connRequest":`)
	if msg.ConnRequest != nil {
		encodeConnRequest(&b, msg.ConnRequest)
	} else {
		b.WriteString(`{}`)
	}
	// The vendor client omits localPeerAddr's value entirely, producing a
	// dangling key — invalid JSON, but required for peer compatibility.
	b.WriteString(`,"localPeerAddr":,}`)

	return "ver=1.0, type=text, body=" + b.String()
}

func encodeConnRequest(b *strings.Builder, cr *ConnectionRequest) {
	if len(cr.Candidates) == 0 {
		panic("sessionmsg: encodeConnRequest requires at least one candidate")
	}
	b.WriteString(`{"sid":`)
	b.WriteString(strconv.Itoa(int(cr.SID)))
	b.WriteString(`,"peerSid":`)
	b.WriteString(strconv.Itoa(int(cr.PeerSID)))
	b.WriteString(`,"skey":"`)
	b.WriteString(base64.StdEncoding.EncodeToString(cr.SKey[:]))
	b.WriteString(`","natType":`)
	b.WriteString(strconv.Itoa(cr.NATType))
	b.WriteString(`,"candidate":[`)
	for i, c := range cr.Candidates {
		if i > 0 {
			b.WriteString(",")
		}
		encodeCandidate(b, c)
	}
	b.WriteString(`,],"defaultRouteMacAddr":"`)
	if cr.HasDefaultRouteMAC {
		b.WriteString(formatMAC(cr.DefaultRouteMAC))
	}
	b.WriteString(`","localHashedId":"`)
	b.WriteString(base64.StdEncoding.EncodeToString(cr.LocalHashedID[:]))
	b.WriteString(`"}`)
}

// encodeCandidate writes fields in the fixed order the wire format
// requires: type, addr, mappedAddr, port, mappedPort.
func encodeCandidate(b *strings.Builder, c Candidate) {
	b.WriteString(`{"type":"`)
	b.WriteString(string(c.Type))
	b.WriteString(`","addr":"`)
	b.WriteString(c.Addr)
	b.WriteString(`","mappedAddr":"`)
	b.WriteString(c.MappedAddr)
	b.WriteString(`","port":`)
	b.WriteString(strconv.Itoa(c.Port))
	b.WriteString(`,"mappedPort":`)
	b.WriteString(strconv.Itoa(c.MappedPort))
	b.WriteString(`}`)
}

func formatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
