package orchestrator

import (
	"github.com/sebas/holepunch/internal/logger"
	"github.com/sebas/holepunch/internal/notify"
	"github.com/sebas/holepunch/internal/reachability"
	"github.com/sebas/holepunch/internal/sessionmsg"
)

// handleAutoACK implements the §4.3 auto-ACK policy. It runs on the push
// channel's reader goroutine: an OFFER arriving while the orchestrator is
// not actively waiting for one gets an immediate empty RESULT, without
// waking the orchestrator.
func (s *Session) handleAutoACK(n *notify.Notification) {
	if n.Kind != notify.KindSessionMessageCreated {
		return
	}

	msg, err := decodeNotificationMessage(n)
	if err != nil {
		logger.Warn("auto-ack: failed to decode session message", "error", err)
		return
	}
	if msg.Action != sessionmsg.ActionOffer {
		return
	}

	cur := s.State()
	inWindow := (cur.Has(StateCtrlOfferReceived) && !cur.Has(StateCtrlEstablished)) ||
		cur.Has(StateDataOfferReceived)
	if !inWindow {
		return
	}

	reply := &sessionmsg.Message{
		Action: sessionmsg.ActionResult,
		ReqID:  msg.ReqID,
		Error:  0,
	}
	if err := s.sendSessionMessage(reply); err != nil {
		logger.Warn("auto-ack: failed to send RESULT", "req_id", msg.ReqID, "error", err)
		return
	}

	logger.Debug("auto-ack: sent RESULT for unsolicited OFFER", "req_id", msg.ReqID)
}

// decodeNotificationMessage extracts the session-message payload string
// from a raw notification JSON body and decodes it with sessionmsg.
func decodeNotificationMessage(n *notify.Notification) (*sessionmsg.Message, error) {
	payload, err := extractPayload(n.JSON)
	if err != nil {
		return nil, err
	}
	return sessionmsg.Decode(payload)
}

// buildOwnCandidates forms the LOCAL/STATIC pair the orchestrator sends in
// its own OFFER, per §4.5 Phase 3 step 3: LOCAL advertises the LAN address
// (IGD-reported preferred, else the first interface address); STATIC
// advertises the external address (IGD WAN preferred, else STUN).
func buildOwnCandidates(cands *reachability.Candidates, boundPort int) []sessionmsg.Candidate {
	return []sessionmsg.Candidate{
		{
			Type:       sessionmsg.CandidateLocal,
			Addr:       cands.LocalIP.String(),
			MappedAddr: "0.0.0.0",
			Port:       boundPort,
			MappedPort: 0,
		},
		{
			Type:       sessionmsg.CandidateStatic,
			Addr:       cands.ExternalIP.String(),
			MappedAddr: "0.0.0.0",
			Port:       boundPort,
			MappedPort: 0,
		},
	}
}
