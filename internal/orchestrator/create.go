package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sebas/holepunch/internal/errs"
	"github.com/sebas/holepunch/internal/logger"
	"github.com/sebas/holepunch/internal/notify"
	"github.com/sebas/holepunch/internal/transport"
)

const createWaitBudget = 30 * time.Second

// Create drives §4.5 Phase 1: resolve the notification FQDN, open the push
// channel, POST create_session, then wait for both SESSION_CREATED and
// MEMBER_CREATED.
func (s *Session) Create(ctx context.Context) error {
	fqdn, err := s.http.ResolveNotificationFQDN(ctx)
	if err != nil {
		return err
	}
	s.notificationFQDN = fqdn

	pushChan, err := transport.DialPushChannel(ctx, fqdn, s.bearerToken)
	if err != nil {
		return err
	}
	pushChan.OnFrame = func(payload []byte) {
		if _, err := s.notifyQueue.Ingest(payload); err != nil {
			logger.Warn("push channel: failed to ingest frame", "error", err)
		}
	}
	s.pushChan = pushChan
	s.setState(StateWSOpen)

	s.pushChanWG.Add(1)
	go func() {
		defer s.pushChanWG.Done()
		if err := pushChan.Run(); err != nil {
			logger.Error("push channel terminated", "error", err)
		}
	}()

	result, err := s.http.CreateSession(ctx, s.pushContextID)
	if err != nil {
		return err
	}
	s.sessionID = result.SessionID
	s.accountID = result.AccountID

	seen := map[notify.Kind]bool{}
	deadline := time.Now().Add(createWaitBudget)

	for !seen[notify.KindSessionCreated] || !seen[notify.KindMemberCreated] {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: create: SESSION_CREATED/MEMBER_CREATED not both observed within budget", errs.ErrTimeout)
		}

		n, err := s.notifyQueue.Wait(notify.KindAny, remaining)
		if err != nil {
			return err
		}

		switch n.Kind {
		case notify.KindSessionCreated:
			seen[notify.KindSessionCreated] = true
			s.setState(StateCreated)
		case notify.KindMemberCreated:
			seen[notify.KindMemberCreated] = true
			s.setState(StateClientJoined)
		default:
			return fmt.Errorf("%w: create: unexpected notification kind %s", errs.ErrUnknown, n.Kind)
		}

		s.notifyQueue.Clear(n)
	}

	logger.Info("session created", "session_id", s.sessionID, "account_id", s.accountID)
	return nil
}

// WaitForState blocks until every bit in want is set, or timeout elapses.
// Exposed for callers (tests, the demo CLI) that want to observe a
// milestone without going through the notification queue directly.
func (s *Session) WaitForState(want StateMask, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	for !s.state.Has(want) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errs.ErrTimeout
		}
		waitOnCondWithTimeout(s.stateCV, &s.stateMu, remaining)
	}
	return nil
}
