package sessionmsg

import (
	"strings"
	"testing"
)

func sampleConnRequest() *ConnectionRequest {
	var cr ConnectionRequest
	cr.SID = 0x1234
	cr.PeerSID = 0x5678
	cr.NATType = 2
	for i := range cr.SKey {
		cr.SKey[i] = byte(i)
	}
	for i := range cr.LocalHashedID {
		cr.LocalHashedID[i] = byte(i + 1)
	}
	cr.Candidates = []Candidate{
		{Type: CandidateLocal, Addr: "192.168.1.10", MappedAddr: "0.0.0.0", Port: 9302, MappedPort: 0},
		{Type: CandidateStatic, Addr: "203.0.113.5", MappedAddr: "0.0.0.0", Port: 9302, MappedPort: 0},
	}
	return &cr
}

func TestEncodeProducesKnownMalformations(t *testing.T) {
	msg := &Message{Action: ActionOffer, ReqID: 1, ConnRequest: sampleConnRequest()}
	out := Encode(msg)

	if !strings.HasPrefix(out, "ver=1.0, type=text, body=") {
		t.Fatalf("missing envelope prefix: %q", out)
	}
	if !strings.Contains(out, `"localPeerAddr":,}`) {
		t.Fatalf("missing dangling localPeerAddr quirk: %q", out)
	}
	if !strings.Contains(out, `,],"defaultRouteMacAddr"`) {
		t.Fatalf("missing tolerated trailing comma after candidate array: %q", out)
	}
}

func TestDecodeRoundTripsOwnEncode(t *testing.T) {
	original := &Message{Action: ActionOffer, ReqID: 42, ConnRequest: sampleConnRequest()}
	payload := Encode(original)

	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Action != original.Action {
		t.Errorf("action = %s, want %s", decoded.Action, original.Action)
	}
	if decoded.ReqID != original.ReqID {
		t.Errorf("reqId = %d, want %d", decoded.ReqID, original.ReqID)
	}
	if decoded.ConnRequest == nil {
		t.Fatal("connRequest missing after round trip")
	}
	if decoded.ConnRequest.SID != original.ConnRequest.SID {
		t.Errorf("sid = %#x, want %#x", decoded.ConnRequest.SID, original.ConnRequest.SID)
	}
	if decoded.ConnRequest.SKey != original.ConnRequest.SKey {
		t.Errorf("skey mismatch after round trip")
	}
	if len(decoded.ConnRequest.Candidates) != len(original.ConnRequest.Candidates) {
		t.Fatalf("candidate count = %d, want %d", len(decoded.ConnRequest.Candidates), len(original.ConnRequest.Candidates))
	}
	for i, c := range original.ConnRequest.Candidates {
		if decoded.ConnRequest.Candidates[i] != c {
			t.Errorf("candidate %d = %+v, want %+v", i, decoded.ConnRequest.Candidates[i], c)
		}
	}
}

func TestDecodeToleratesDanglingLocalPeerAddr(t *testing.T) {
	raw := `ver=1.0, type=text, body={"action":"RESULT","reqId":7,"error":0,"connRequest":{},"localPeerAddr":,}`

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Action != ActionResult || msg.ReqID != 7 {
		t.Errorf("got %+v", msg)
	}
	if msg.ConnRequest != nil {
		t.Errorf("expected nil connRequest for empty object, got %+v", msg.ConnRequest)
	}
}

func TestDecodeRejectsMissingBodyMarker(t *testing.T) {
	if _, err := Decode("not a session message envelope"); err == nil {
		t.Fatal("expected error for payload missing body= marker")
	}
}

func TestDecodeRejectsBadCandidateType(t *testing.T) {
	raw := `ver=1.0, type=text, body={"action":"OFFER","reqId":1,"error":0,"connRequest":` +
		`{"sid":1,"peerSid":2,"skey":"AAAAAAAAAAAAAAAAAAAAAA==","natType":0,` +
		`"candidate":[{"type":"BOGUS","addr":"1.2.3.4","mappedAddr":"","port":1,"mappedPort":0}],` +
		`"defaultRouteMacAddr":"","localHashedId":"AAAAAAAAAAAAAAAAAAAAAAAAAAA="},"localPeerAddr":,}`

	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for invalid candidate type")
	}
}
