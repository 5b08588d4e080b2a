package orchestrator

import (
	"sync"
	"time"
)

// waitOnCondWithTimeout calls cv.Wait() but guarantees it returns within
// timeout by racing a watchdog timer that broadcasts the condition variable
// once the deadline passes. The caller must hold cv.L on entry and holds it
// again on return, matching sync.Cond.Wait's contract.
func waitOnCondWithTimeout(cv *sync.Cond, _ *sync.Mutex, timeout time.Duration) {
	timer := time.AfterFunc(timeout, cv.Broadcast)
	defer timer.Stop()
	cv.Wait()
}
