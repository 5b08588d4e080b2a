package orchestrator

import (
	"fmt"
	"net"
	"time"

	"github.com/sebas/holepunch/internal/errs"
	"github.com/sebas/holepunch/internal/logger"
	"github.com/sebas/holepunch/internal/notify"
	"github.com/sebas/holepunch/internal/reachability"
	"github.com/sebas/holepunch/internal/sessionmsg"
)

const punchWaitBudget = 30 * time.Second

// phaseBits bundles the state bits a given PortKind sets at each step of
// Phase 3, so PunchHole can drive either the control or the data flow with
// the same code path (§4.5 Phase 3).
type phaseBits struct {
	precondition     StateMask
	offerReceived    StateMask
	consoleAccepted  StateMask
	established      StateMask
}

func bitsFor(kind PortKind) phaseBits {
	if kind == PortCtrl {
		return phaseBits{
			precondition:    StateCustomData1Received,
			offerReceived:   StateCtrlOfferReceived,
			consoleAccepted: StateCtrlConsoleAccepted,
			established:     StateCtrlEstablished,
		}
	}
	return phaseBits{
		precondition:    StateCtrlEstablished,
		offerReceived:   StateDataOfferReceived,
		consoleAccepted: StateDataConsoleAccepted,
		established:     StateDataEstablished,
	}
}

// PunchHole drives §4.5 Phase 3 for one port kind end to end and returns a
// UDP socket bound to the winning candidate. On any failure all sockets
// opened during the attempt are closed and the session is left in whatever
// partial state it reached — the caller must discard it (§7).
func (s *Session) PunchHole(kind PortKind) (*net.UDPConn, error) {
	bits := bitsFor(kind)
	if err := s.requireState("PunchHole", bits.precondition); err != nil {
		return nil, err
	}

	offerMsg, offerNotif, err := s.awaitConsoleOffer()
	if err != nil {
		return nil, err
	}
	defer s.notifyQueue.Clear(offerNotif)

	consoleHashedID := offerMsg.ConnRequest.LocalHashedID
	consoleSID := offerMsg.ConnRequest.SID
	s.consoleHashedID = consoleHashedID
	s.peerSID = consoleSID
	s.setState(bits.offerReceived)

	if err := s.sendSessionMessage(&sessionmsg.Message{
		Action: sessionmsg.ActionResult,
		ReqID:  offerMsg.ReqID,
		Error:  0,
	}); err != nil {
		return nil, err
	}

	localSocket, boundPort, err := bindEphemeralUDP()
	if err != nil {
		return nil, err
	}

	cands, err := s.probeCandidatesOnce()
	if err != nil {
		localSocket.Close()
		return nil, err
	}

	if cands.IGD != nil {
		if err := cands.IGD.AddUDPMapping(boundPort, "holepunch"); err != nil {
			logger.Warn("punch hole: failed to install UDP mapping", "port", boundPort, "error", err)
		} else {
			s.reachMu.Lock()
			s.mappings = append(s.mappings, mappedPort{igd: cands.IGD, port: boundPort})
			s.reachMu.Unlock()
		}
	}

	ownCandidates := buildOwnCandidates(cands, boundPort)
	mac, _ := reachability.DefaultRouteMAC(cands.LocalIP)

	ownReq := &sessionmsg.ConnectionRequest{
		SID:           s.localSID,
		PeerSID:       consoleSID,
		NATType:       2,
		Candidates:    ownCandidates,
		LocalHashedID: s.localHashedID,
	}
	if mac != nil && len(mac) == 6 {
		copy(ownReq.DefaultRouteMAC[:], mac)
		ownReq.HasDefaultRouteMAC = true
	}

	if err := s.sendSessionMessage(&sessionmsg.Message{
		Action:      sessionmsg.ActionOffer,
		ReqID:       1,
		ConnRequest: ownReq,
	}); err != nil {
		localSocket.Close()
		return nil, err
	}
	if kind == PortCtrl {
		s.setState(StateCtrlOfferSent)
	} else {
		s.setState(StateDataOfferSent)
	}

	if err := s.awaitResultFor(1); err != nil {
		localSocket.Close()
		return nil, err
	}
	s.setState(bits.consoleAccepted)

	winner, winnerConn, err := probeCandidates(offerMsg.ConnRequest.Candidates, s.localHashedID, consoleHashedID, s.localSID, consoleSID)
	if err != nil {
		localSocket.Close()
		return nil, err
	}

	natType := 2
	if winner.Type == sessionmsg.CandidateLocal {
		natType = 0
	}

	if err := s.sendSessionMessage(&sessionmsg.Message{
		Action: sessionmsg.ActionAccept,
		ReqID:  2,
		ConnRequest: &sessionmsg.ConnectionRequest{
			SID:           s.localSID,
			PeerSID:       consoleSID,
			NATType:       natType,
			Candidates:    []sessionmsg.Candidate{winner},
			LocalHashedID: s.localHashedID,
		},
	}); err != nil {
		winnerConn.Close()
		localSocket.Close()
		return nil, err
	}

	if err := s.awaitConsoleAccept(); err != nil {
		winnerConn.Close()
		localSocket.Close()
		return nil, err
	}
	s.setState(bits.established)

	localSocket.Close()

	if kind == PortCtrl {
		s.ctrlSocket = winnerConn
	} else {
		s.dataSocket = winnerConn
	}

	logger.Info("hole-punch complete", "kind", kind, "winner_type", winner.Type, "winner_addr", winner.Addr, "winner_port", winner.Port)
	return winnerConn, nil
}

// awaitConsoleOffer waits up to punchWaitBudget for a SESSION_MESSAGE_CREATED
// notification carrying an OFFER action, per Phase 3 step 1.
func (s *Session) awaitConsoleOffer() (*sessionmsg.Message, *notify.Notification, error) {
	deadline := time.Now().Add(punchWaitBudget)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil, fmt.Errorf("%w: punch hole: no OFFER observed within budget", errs.ErrTimeout)
		}

		n, err := s.notifyQueue.Wait(notify.KindSessionMessageCreated, remaining)
		if err != nil {
			return nil, nil, err
		}

		msg, err := decodeNotificationMessage(n)
		if err != nil {
			s.notifyQueue.Clear(n)
			return nil, nil, err
		}
		if msg.Action != sessionmsg.ActionOffer || msg.ConnRequest == nil {
			s.notifyQueue.Clear(n)
			continue
		}

		return msg, n, nil
	}
}

// awaitResultFor waits up to punchWaitBudget for a RESULT matching reqID,
// discarding every other session message in the meantime (Phase 3 step 4).
func (s *Session) awaitResultFor(reqID uint16) error {
	deadline := time.Now().Add(punchWaitBudget)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: punch hole: RESULT for reqId=%d not observed within budget", errs.ErrTimeout, reqID)
		}

		n, err := s.notifyQueue.Wait(notify.KindSessionMessageCreated, remaining)
		if err != nil {
			return err
		}

		msg, err := decodeNotificationMessage(n)
		s.notifyQueue.Clear(n)
		if err != nil {
			return err
		}
		if msg.Action == sessionmsg.ActionResult && msg.ReqID == reqID {
			return nil
		}
	}
}

// awaitConsoleAccept waits up to punchWaitBudget for an ACCEPT action
// (Phase 3 step 7).
func (s *Session) awaitConsoleAccept() error {
	deadline := time.Now().Add(punchWaitBudget)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: punch hole: console ACCEPT not observed within budget", errs.ErrTimeout)
		}

		n, err := s.notifyQueue.Wait(notify.KindSessionMessageCreated, remaining)
		if err != nil {
			return err
		}

		msg, err := decodeNotificationMessage(n)
		s.notifyQueue.Clear(n)
		if err != nil {
			return err
		}
		if msg.Action == sessionmsg.ActionAccept {
			return nil
		}
	}
}

// probeCandidatesOnce runs the Reachability Prober on the first hole-punch
// attempt and caches the result on the Session, so later attempts (the DATA
// flow after CTRL) reuse it. It installs no port mapping itself; PunchHole
// installs the IGD mapping and records it for Fini (§4.1, §9).
func (s *Session) probeCandidatesOnce() (*reachability.Candidates, error) {
	s.reachMu.Lock()
	defer s.reachMu.Unlock()

	if s.candidates != nil {
		return s.candidates, nil
	}

	cands, err := reachability.Probe(s.stunServer)
	if err != nil {
		return nil, err
	}
	s.candidates = cands
	return cands, nil
}

// bindEphemeralUDP opens a fresh UDP socket on an OS-assigned port, per
// Phase 3 step 3.
func bindEphemeralUDP() (*net.UDPConn, int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bind ephemeral UDP socket: %v", errs.ErrNetwork, err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	return conn, port, nil
}
