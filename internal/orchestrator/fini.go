package orchestrator

import "github.com/sebas/holepunch/internal/logger"

// Fini tears down a Session's resources: it stops the push channel and joins
// its reader goroutine, stops the notification queue (releasing any blocked
// waiters; queued notifications are left in place, not freed one by one),
// removes any IGD port mappings installed during hole-punching (resolving
// §9's "mapping installed and never removed" note), and closes the control
// and data sockets. The shared HTTP client is not closed.
func (s *Session) Fini() {
	if s.pushChan != nil {
		s.pushChan.Stop()
		s.pushChanWG.Wait()
	}
	s.notifyQueue.Stop()

	s.reachMu.Lock()
	mappings := s.mappings
	s.mappings = nil
	s.reachMu.Unlock()

	for _, m := range mappings {
		if err := m.igd.DeleteUDPMapping(m.port); err != nil {
			logger.Warn("fini: failed to remove UDP mapping", "port", m.port, "error", err)
		}
	}

	if s.ctrlSocket != nil {
		s.ctrlSocket.Close()
	}
	if s.dataSocket != nil {
		s.dataSocket.Close()
	}
}
