package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sebas/holepunch/internal/errs"
	"github.com/sebas/holepunch/internal/logger"
	"github.com/sebas/holepunch/internal/notify"
	"github.com/sebas/holepunch/internal/transport"
)

const startWaitBudget = 30 * time.Second

// Start drives §4.5 Phase 2: record the console identity, POST
// start_session, then wait for MEMBER_CREATED (matching the console's
// device UID) and CUSTOM_DATA1_UPDATED (a double-base64 16-byte secret).
func (s *Session) Start(ctx context.Context, deviceUID string, gen ConsoleGen) error {
	if err := s.requireState("Start", StateCreated); err != nil {
		return err
	}
	if err := s.rejectIfState("Start", StateStarted); err != nil {
		return err
	}

	s.consoleDeviceUID = deviceUID
	s.consoleGen = gen

	if err := s.http.StartSession(ctx, transport.StartSessionInput{
		DeviceUID:  deviceUID,
		ConsoleGen: string(gen),
		AccountID:  s.accountID,
		SessionID:  s.sessionID,
		Data1:      s.data1,
		Data2:      s.data2,
	}); err != nil {
		return err
	}
	s.setState(StateStarted)

	memberSeen := false
	customDataSeen := false
	deadline := time.Now().Add(startWaitBudget)

	for !memberSeen || !customDataSeen {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: start: MEMBER_CREATED/CUSTOM_DATA1_UPDATED not both observed within budget", errs.ErrTimeout)
		}

		n, err := s.notifyQueue.Wait(notify.KindAny, remaining)
		if err != nil {
			return err
		}

		switch n.Kind {
		case notify.KindMemberCreated:
			if !memberDeviceMatches(n.JSON, deviceUID) {
				s.notifyQueue.Clear(n)
				continue
			}
			memberSeen = true
			s.setState(StateConsoleJoined)

		case notify.KindCustomData1Updated:
			raw, err := extractCustomData1(n.JSON)
			if err != nil {
				return err
			}
			decoded, err := decodeDoubleBase64(raw)
			if err != nil {
				return err
			}
			s.customData1 = decoded
			s.customData1Set = true
			customDataSeen = true
			s.setState(StateCustomData1Received)

		default:
			return fmt.Errorf("%w: start: unexpected notification kind %s", errs.ErrUnknown, n.Kind)
		}

		s.notifyQueue.Clear(n)
	}

	logger.Info("session started", "device_uid", deviceUID, "console_gen", gen)
	return nil
}

func memberDeviceMatches(root map[string]any, deviceUID string) bool {
	body, ok := root["body"].(map[string]any)
	if !ok {
		return false
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		return false
	}
	members, ok := data["members"].([]any)
	if !ok || len(members) == 0 {
		return false
	}
	member, ok := members[0].(map[string]any)
	if !ok {
		return false
	}
	id, _ := member["deviceUniqueId"].(string)
	return id == deviceUID
}

func extractCustomData1(root map[string]any) (string, error) {
	body, ok := root["body"].(map[string]any)
	if !ok {
		return "", &errs.ProtocolError{Context: "customData1 notification missing body", Payload: fmt.Sprintf("%v", root)}
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		return "", &errs.ProtocolError{Context: "customData1 notification missing body/data", Payload: fmt.Sprintf("%v", body)}
	}
	cd, ok := data["customData1"].(string)
	if !ok {
		return "", &errs.ProtocolError{Context: "customData1 notification missing body/data/customData1", Payload: fmt.Sprintf("%v", data)}
	}
	if len(cd) != 32 {
		return "", fmt.Errorf("%w: customData1 length %d, want 32", errs.ErrUnknown, len(cd))
	}
	return cd, nil
}

// decodeDoubleBase64 reverses the console's double-base64 encoding: the
// 32-char wire value is base64 of a base64 string that itself decodes to
// exactly 16 bytes (§4.5, §8 scenario 6).
func decodeDoubleBase64(s string) ([16]byte, error) {
	var out [16]byte

	outer, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, &errs.ProtocolError{Context: "customData1 outer base64", Payload: s, Cause: err}
	}

	inner, err := base64.StdEncoding.DecodeString(string(outer))
	if err != nil {
		return out, &errs.ProtocolError{Context: "customData1 inner base64", Payload: string(outer), Cause: err}
	}

	if len(inner) != 16 {
		return out, fmt.Errorf("%w: customData1 decoded to %d bytes, want 16", errs.ErrUnknown, len(inner))
	}
	copy(out[:], inner)
	return out, nil
}
