package orchestrator

import (
	"fmt"
	"sync"

	"github.com/sebas/holepunch/internal/errs"
	"github.com/sebas/holepunch/internal/logger"
	"github.com/sebas/holepunch/internal/notify"
	"github.com/sebas/holepunch/internal/randgen"
	"github.com/sebas/holepunch/internal/transport"
)

// Config names the two hosts and the STUN server the Reachability Prober
// and Signalling Transport need (§6).
type Config struct {
	BearerToken    string
	MobilePushHost string
	WebHost        string
	STUNServer     string
}

// Init constructs a Session, its notification queue, and its shared HTTP
// client, but does not open the push channel yet — Create does that
// (§4.5 Phase 1, §6 session_init).
func Init(cfg Config) (*Session, error) {
	if cfg.BearerToken == "" {
		return nil, fmt.Errorf("%w: bearer token required", errs.ErrUninitialized)
	}

	s := &Session{
		bearerToken:   cfg.BearerToken,
		localSID:      randgen.Uint16(),
		localHashedID: [20]byte(randgen.Bytes(20)),
		data1:         [16]byte(randgen.Bytes(16)),
		data2:         [16]byte(randgen.Bytes(16)),
		pushContextID: randgen.UUIDv4(),
		notifyQueue:   notify.NewQueue(),
		state:         StateInit,
	}
	s.stateCV = sync.NewCond(&s.stateMu)

	pool := transport.NewClient(transport.DefaultPoolConfig())
	s.http = transport.NewHTTPClient(pool, cfg.BearerToken, cfg.MobilePushHost, cfg.WebHost)

	s.notifyQueue.OnSessionMessage = func(n *notify.Notification) {
		s.handleAutoACK(n)
	}

	s.stunServer = cfg.STUNServer

	logger.Debug("session initialized", "local_sid", s.localSID, "push_context_id", s.pushContextID)

	return s, nil
}
