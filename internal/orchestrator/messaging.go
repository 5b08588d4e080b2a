package orchestrator

import (
	"context"
	"fmt"

	"github.com/sebas/holepunch/internal/errs"
	"github.com/sebas/holepunch/internal/sessionmsg"
)

// extractPayload pulls the session-message payload string out of a
// notification's parsed JSON root (the server wraps it at body/payload).
func extractPayload(root map[string]any) (string, error) {
	body, ok := root["body"].(map[string]any)
	if !ok {
		return "", &errs.ProtocolError{Context: "notification missing body", Payload: fmt.Sprintf("%v", root)}
	}
	payload, ok := body["payload"].(string)
	if !ok {
		return "", &errs.ProtocolError{Context: "notification body missing payload string", Payload: fmt.Sprintf("%v", body)}
	}
	return payload, nil
}

// sendSessionMessage encodes msg with sessionmsg.Encode and POSTs it to the
// console over the sessionMessage endpoint (§4.2, §6).
func (s *Session) sendSessionMessage(msg *sessionmsg.Message) error {
	payload := sessionmsg.Encode(msg)
	return s.http.SendSessionMessage(
		context.Background(),
		s.sessionID,
		s.accountID,
		s.consoleDeviceUID,
		s.consoleGen.Platform(),
		payload,
	)
}
