package orchestrator

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/holepunch/internal/errs"
	"github.com/sebas/holepunch/internal/logger"
	"github.com/sebas/holepunch/internal/randgen"
	"github.com/sebas/holepunch/internal/sessionmsg"
)

// Candidate probe wire format (§4.6): a fixed 88-byte big-endian frame.
const (
	probeFrameSize = 88

	probeMsgTypeRequest  uint32 = 6
	probeMsgTypeResponse uint32 = 7

	offHashedIDLocal  = 0x04
	offHashedIDPeer   = 0x24
	offSID            = 0x44
	offPeerSID        = 0x46
	offReqID          = 0x48
	offReserved       = 0x4C
	reservedSize      = probeFrameSize - offReserved

	// staticLingerBudget is the brief extra wait after a STATIC winner
	// responds, giving a possibly-better LOCAL candidate one more chance
	// (§4.6 procedure, second bullet).
	staticLingerBudget = 2 * time.Second

	probeTotalBudget = 30 * time.Second
)

// encodeProbeFrame builds a request frame per the §4.6 wire layout.
func encodeProbeFrame(msgType uint32, localHashedID, peerHashedID [20]byte, sid, peerSID uint16, reqID uint32) []byte {
	buf := make([]byte, probeFrameSize)
	binary.BigEndian.PutUint32(buf[0x00:], msgType)
	copy(buf[offHashedIDLocal:offHashedIDLocal+20], localHashedID[:])
	copy(buf[offHashedIDPeer:offHashedIDPeer+20], peerHashedID[:])
	binary.BigEndian.PutUint16(buf[offSID:], sid)
	binary.BigEndian.PutUint16(buf[offPeerSID:], peerSID)
	binary.BigEndian.PutUint32(buf[offReqID:], reqID)
	// buf[offReserved:] is already zero.
	return buf
}

// decodeProbeFrame parses a response frame, returning its msg_type and
// request-id. It does not validate the embedded hashed-ids/sids beyond
// that — per §9's resolved open question, matching the original's laxness
// deliberately for wire compatibility with responders that may echo stale
// ids.
func decodeProbeFrame(buf []byte) (msgType uint32, reqID uint32, err error) {
	if len(buf) != probeFrameSize {
		return 0, 0, fmt.Errorf("%w: probe frame: got %d bytes, want %d", errs.ErrUnknown, len(buf), probeFrameSize)
	}
	msgType = binary.BigEndian.Uint32(buf[0x00:])
	reqID = binary.BigEndian.Uint32(buf[offReqID:])
	return msgType, reqID, nil
}

// probeResult is one socket's outcome, fed to the selection loop.
type probeResult struct {
	candidate sessionmsg.Candidate
	conn      *net.UDPConn
	err       error
}

// probeCandidates runs §4.6's simultaneous multi-socket probe against every
// candidate the console offered, and returns the winning candidate plus its
// connected, bound socket. All other sockets are closed on every path.
func probeCandidates(candidates []sessionmsg.Candidate, localHashedID, peerHashedID [20]byte, sid, peerSID uint16) (sessionmsg.Candidate, *net.UDPConn, error) {
	if len(candidates) == 0 {
		// §8: "Probe with zero candidates returns TIMEOUT after the full
		// budget" — there is nothing to select on, so the budget is just
		// slept out rather than failing fast.
		time.Sleep(probeTotalBudget)
		return sessionmsg.Candidate{}, nil, fmt.Errorf("%w: probe: no candidates offered", errs.ErrTimeout)
	}

	results := make(chan probeResult, len(candidates))
	var (
		socketsMu sync.Mutex
		sockets   []*net.UDPConn
	)

	// §4.6 calls for a simultaneous multi-socket probe: every candidate's
	// dial+send races concurrently rather than queuing one after another.
	var g errgroup.Group
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			conn, reqID, err := dialAndSendProbe(cand, localHashedID, peerHashedID, sid, peerSID)
			if err != nil {
				logger.Warn("probe: failed to start candidate", "addr", cand.Addr, "port", cand.Port, "error", err)
				return nil
			}
			socketsMu.Lock()
			sockets = append(sockets, conn)
			socketsMu.Unlock()
			go readProbeResponse(conn, cand, reqID, results)
			return nil
		})
	}
	_ = g.Wait() // errors are per-candidate and already logged; nothing fails the whole probe

	closeAllExcept := func(keep *net.UDPConn) {
		for _, c := range sockets {
			if c != keep {
				c.Close()
			}
		}
	}

	if len(sockets) == 0 {
		return sessionmsg.Candidate{}, nil, fmt.Errorf("%w: probe: no candidate socket could be opened", errs.ErrNetwork)
	}

	deadline := time.Now().Add(probeTotalBudget)
	var staticWinner *probeResult

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if staticWinner != nil {
				closeAllExcept(staticWinner.conn)
				return staticWinner.candidate, staticWinner.conn, nil
			}
			closeAllExcept(nil)
			return sessionmsg.Candidate{}, nil, fmt.Errorf("%w: probe: no valid response within budget", errs.ErrTimeout)
		}

		waitFor := remaining
		if staticWinner != nil && staticLingerBudget < waitFor {
			waitFor = staticLingerBudget
		}

		select {
		case r := <-results:
			if r.err != nil {
				continue
			}
			if r.candidate.Type == sessionmsg.CandidateLocal {
				closeAllExcept(r.conn)
				return r.candidate, r.conn, nil
			}
			if staticWinner == nil {
				staticWinner = &r
				deadline = time.Now().Add(staticLingerBudget)
			}
		case <-time.After(waitFor):
			if staticWinner != nil {
				closeAllExcept(staticWinner.conn)
				return staticWinner.candidate, staticWinner.conn, nil
			}
			closeAllExcept(nil)
			return sessionmsg.Candidate{}, nil, fmt.Errorf("%w: probe: no valid response within budget", errs.ErrTimeout)
		}
	}
}

// dialAndSendProbe connects a fresh UDP socket to cand and transmits the
// request frame. Connecting (rather than bind-then-sendto) resolves §9's
// open question on undefined socket use.
func dialAndSendProbe(cand sessionmsg.Candidate, localHashedID, peerHashedID [20]byte, sid, peerSID uint16) (*net.UDPConn, uint32, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cand.Addr, cand.Port))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: resolve candidate %s:%d: %v", errs.ErrNetwork, cand.Addr, cand.Port, err)
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: dial candidate %s:%d: %v", errs.ErrNetwork, cand.Addr, cand.Port, err)
	}

	reqID := randgen.Uint32()
	frame := encodeProbeFrame(probeMsgTypeRequest, localHashedID, peerHashedID, sid, peerSID, reqID)

	if _, err := conn.Write(frame); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("%w: send probe request to %s:%d: %v", errs.ErrNetwork, cand.Addr, cand.Port, err)
	}

	return conn, reqID, nil
}

// readProbeResponse blocks on conn for one response frame and reports the
// outcome on results. It is given its own generous deadline since the
// selection loop's budget is enforced by the caller, not by this read.
func readProbeResponse(conn *net.UDPConn, cand sessionmsg.Candidate, reqID uint32, results chan<- probeResult) {
	if err := conn.SetReadDeadline(time.Now().Add(probeTotalBudget)); err != nil {
		results <- probeResult{err: err}
		return
	}

	buf := make([]byte, probeFrameSize)
	n, err := conn.Read(buf)
	if err != nil {
		results <- probeResult{err: err}
		return
	}

	msgType, gotReqID, err := decodeProbeFrame(buf[:n])
	if err != nil {
		results <- probeResult{err: err}
		return
	}
	if msgType != probeMsgTypeResponse || gotReqID != reqID {
		results <- probeResult{err: fmt.Errorf("%w: probe response mismatch from %s:%d", errs.ErrUnknown, cand.Addr, cand.Port)}
		return
	}

	results <- probeResult{candidate: cand, conn: conn}
}
