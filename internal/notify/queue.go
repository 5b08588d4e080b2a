// Package notify implements the notification queue and frame parser of
// spec.md §4.3: a singly-linked LIFO stack that consumers walk head toward
// tail, fed by text frames arriving on the push channel.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sebas/holepunch/internal/errs"
)

// Notification is one parsed push-channel frame.
type Notification struct {
	Kind Kind
	JSON map[string]any
	Raw  []byte

	prev *Notification // the element enqueued just before this one
}

// Queue is the notification mutex + condvar + LIFO stack of §3/§4.3.
// The head may change only while holding mu; every append broadcasts on
// cond.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond
	head *Notification

	// OnSessionMessage, if set, is invoked synchronously (still holding no
	// lock) for every enqueued SESSION_MESSAGE_CREATED notification. The
	// orchestrator wires this to its auto-ACK policy (§4.3); notify itself
	// has no opinion on session-message semantics.
	OnSessionMessage func(n *Notification)

	stopped bool
}

// NewQueue creates an empty notification queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Ingest parses a raw push-channel frame as JSON, classifies it by the
// "dataType" key, and enqueues it. Unparseable frames are discarded (the
// caller is expected to log them — notify doesn't hold a logger reference
// to keep the queue trivially testable).
func (q *Queue) Ingest(raw []byte) (*Notification, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}

	dataType, _ := root["dataType"].(string)
	kind := Classify(dataType)

	n := &Notification{Kind: kind, JSON: root, Raw: raw}
	q.enqueue(n)

	if kind == KindSessionMessageCreated && q.OnSessionMessage != nil {
		q.OnSessionMessage(n)
	}
	return n, nil
}

func (q *Queue) enqueue(n *Notification) {
	q.mu.Lock()
	n.prev = q.head
	q.head = n
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Wait blocks until a notification whose Kind is in mask is present, or
// timeout elapses. It observes every notification enqueued after the call
// starts (and any still in the queue from before), walking head toward
// tail and returning the oldest match — consumption order matches arrival
// order even though storage is LIFO (§4.3, §5 ordering guarantees).
func (q *Queue) Wait(mask Kind, timeout time.Duration) (*Notification, error) {
	deadline := time.Now().Add(timeout)

	// sync.Cond has no timed wait, so a watchdog goroutine broadcasts once
	// the deadline passes, unblocking the waiter below the same way a real
	// enqueue would.
	done := make(chan struct{})
	defer close(done)
	go func() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-timer.C:
			q.cond.Broadcast()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if n := q.findLocked(mask); n != nil {
			return n, nil
		}
		if !time.Now().Before(deadline) || q.stopped {
			return nil, errTimeout
		}
		q.cond.Wait()
	}
}

// findLocked walks head toward tail collecting matches, then returns the
// oldest one (closest to tail) so FIFO arrival order is preserved for the
// caller. Must be called with q.mu held.
func (q *Queue) findLocked(mask Kind) *Notification {
	var matches []*Notification
	for n := q.head; n != nil; n = n.prev {
		if n.Kind&mask != 0 {
			matches = append(matches, n)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	return matches[len(matches)-1]
}

// Clear unlinks a notification from the queue. Because the queue is
// singly-linked from head to tail, clearing an interior node requires
// walking to find its successor; this mirrors the original's approach of
// freeing nodes the caller is done with rather than compacting eagerly.
func (q *Queue) Clear(target *Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == target {
		q.head = target.prev
		return
	}
	for n := q.head; n != nil; n = n.prev {
		if n.prev == target {
			n.prev = target.prev
			return
		}
	}
}

// Stop releases any waiters blocked in Wait; used by Fini's teardown order.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "notify: wait timed out" }
func (*timeoutError) Unwrap() error { return errs.ErrTimeout }
