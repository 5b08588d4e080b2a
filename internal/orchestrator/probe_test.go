package orchestrator

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sebas/holepunch/internal/errs"
	"github.com/sebas/holepunch/internal/reachability"
	"github.com/sebas/holepunch/internal/sessionmsg"
)

func TestEncodeProbeFrameSizeAndMsgType(t *testing.T) {
	var local, peer [20]byte
	for i := range local {
		local[i] = byte(i)
		peer[i] = byte(i + 1)
	}

	frame := encodeProbeFrame(probeMsgTypeRequest, local, peer, 0x1234, 0x5678, 0xdeadbeef)
	if len(frame) != probeFrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), probeFrameSize)
	}

	if got := binary.BigEndian.Uint32(frame[0:4]); got != probeMsgTypeRequest {
		t.Errorf("msg_type bytes = %#x, want %#x", got, probeMsgTypeRequest)
	}
	if got := binary.BigEndian.Uint16(frame[offSID:]); got != 0x1234 {
		t.Errorf("sid = %#x, want 0x1234", got)
	}
	if got := binary.BigEndian.Uint16(frame[offPeerSID:]); got != 0x5678 {
		t.Errorf("peerSid = %#x, want 0x5678", got)
	}
	if got := binary.BigEndian.Uint32(frame[offReqID:]); got != 0xdeadbeef {
		t.Errorf("reqId = %#x, want 0xdeadbeef", got)
	}
	for i, b := range frame[offReserved:] {
		if b != 0 {
			t.Fatalf("reserved byte %d = %#x, want 0", i, b)
		}
	}
}

func TestDecodeProbeFrameRejectsWrongSize(t *testing.T) {
	if _, _, err := decodeProbeFrame(make([]byte, probeFrameSize-1)); err == nil {
		t.Fatal("expected error for undersized frame")
	}
}

func TestDecodeProbeFrameReadsResponseType(t *testing.T) {
	var local, peer [20]byte
	frame := encodeProbeFrame(probeMsgTypeResponse, local, peer, 1, 2, 99)

	msgType, reqID, err := decodeProbeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msgType != probeMsgTypeResponse {
		t.Errorf("msgType = %#x, want %#x", msgType, probeMsgTypeResponse)
	}
	if reqID != 99 {
		t.Errorf("reqID = %d, want 99", reqID)
	}
}

func TestProbeCandidatesZeroListTimesOutAfterFullBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-budget sleep in short mode")
	}

	start := time.Now()
	_, _, err := probeCandidates(nil, [20]byte{}, [20]byte{}, 0, 0)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected TIMEOUT for zero candidates")
	}
	if !errors.Is(err, errs.ErrTimeout) {
		t.Errorf("error = %v, want wrapping errs.ErrTimeout", err)
	}
	if elapsed < probeTotalBudget {
		t.Errorf("returned after %v, want at least the full %v budget", elapsed, probeTotalBudget)
	}
}

func TestBuildOwnCandidatesOrdersLocalThenStatic(t *testing.T) {
	cands := &reachability.Candidates{
		LocalIP:    net.ParseIP("192.168.1.5"),
		ExternalIP: net.ParseIP("203.0.113.9"),
	}
	out := buildOwnCandidates(cands, 12345)

	if len(out) != 2 {
		t.Fatalf("got %d candidates, want 2", len(out))
	}
	if out[0].Type != sessionmsg.CandidateLocal || out[0].Addr != "192.168.1.5" {
		t.Errorf("candidate 0 = %+v, want LOCAL/192.168.1.5", out[0])
	}
	if out[1].Type != sessionmsg.CandidateStatic || out[1].Addr != "203.0.113.9" {
		t.Errorf("candidate 1 = %+v, want STATIC/203.0.113.9", out[1])
	}
	if out[0].Port != 12345 || out[1].Port != 12345 {
		t.Errorf("both candidates must advertise the bound port 12345, got %+v", out)
	}
}
