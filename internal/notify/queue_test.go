package notify

import (
	"testing"
	"time"
)

func mustIngest(t *testing.T, q *Queue, dataType string) *Notification {
	t.Helper()
	return mustIngestTagged(t, q, dataType, "")
}

func mustIngestTagged(t *testing.T, q *Queue, dataType, tag string) *Notification {
	t.Helper()
	raw := []byte(`{"dataType":"` + dataType + `","body":{"tag":"` + tag + `"}}`)
	n, err := q.Ingest(raw)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return n
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"foo:bar:remotePlaySession:created": KindSessionCreated,
		"foo:rps:members:created":           KindMemberCreated,
		"foo:rps:members:deleted":           KindMemberDeleted,
		"foo:rps:customData1:updated":       KindCustomData1Updated,
		"foo:rps:sessionMessage:created":    KindSessionMessageCreated,
		"something:else":                    KindUnknown,
	}
	for dataType, want := range cases {
		if got := Classify(dataType); got != want {
			t.Errorf("Classify(%q) = %s, want %s", dataType, got, want)
		}
	}
}

func TestWaitReturnsOldestMatchInArrivalOrder(t *testing.T) {
	q := NewQueue()
	first := mustIngestTagged(t, q, "a:rps:members:created", "first")
	mustIngestTagged(t, q, "a:rps:members:created", "second")
	mustIngest(t, q, "a:remotePlaySession:created")

	n, err := q.Wait(KindMemberCreated, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	// Storage is LIFO (head toward tail == newest toward oldest), but Wait
	// must surface the oldest match so consumption order tracks arrival
	// order.
	if n != first {
		t.Errorf("Wait returned a different notification than the first-enqueued match")
	}
}

func TestWaitTimesOutWhenNothingMatches(t *testing.T) {
	q := NewQueue()
	mustIngest(t, q, "a:remotePlaySession:created")

	start := time.Now()
	_, err := q.Wait(KindMemberCreated, 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned too early: %v", elapsed)
	}
}

func TestWaitUnblocksOnEnqueueAfterCall(t *testing.T) {
	q := NewQueue()

	done := make(chan struct{})
	var gotErr error
	go func() {
		_, gotErr = q.Wait(KindSessionCreated, 2*time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	mustIngest(t, q, "a:remotePlaySession:created")

	select {
	case <-done:
		if gotErr != nil {
			t.Fatalf("wait returned error: %v", gotErr)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock after enqueue")
	}
}

func TestOnSessionMessageFiresForSessionMessageCreated(t *testing.T) {
	q := NewQueue()
	seen := make(chan *Notification, 1)
	q.OnSessionMessage = func(n *Notification) { seen <- n }

	mustIngest(t, q, "a:rps:sessionMessage:created")

	select {
	case n := <-seen:
		if n.Kind != KindSessionMessageCreated {
			t.Errorf("kind = %s, want SESSION_MESSAGE_CREATED", n.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("OnSessionMessage was not invoked")
	}
}

func TestClearUnlinksInteriorNode(t *testing.T) {
	q := NewQueue()
	mustIngest(t, q, "a:remotePlaySession:created")
	middle := mustIngest(t, q, "a:rps:members:created")
	mustIngest(t, q, "a:rps:members:deleted")

	q.Clear(middle)

	n, err := q.Wait(KindMemberCreated, 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected no MEMBER_CREATED after Clear, got %+v", n)
	}
}

func TestStopUnblocksWaiters(t *testing.T) {
	q := NewQueue()

	done := make(chan struct{})
	go func() {
		q.Wait(KindSessionCreated, 5*time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock waiter")
	}
}
