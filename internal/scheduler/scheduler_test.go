package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// startCollector records dispatched ids without blocking the dispatch loop,
// the way the manager's dispatch function does.
func startCollector(started chan uuid.UUID) func(uuid.UUID) error {
	return func(id uuid.UUID) error {
		started <- id
		return nil
	}
}

func waitForStart(t *testing.T, started chan uuid.UUID) uuid.UUID {
	t.Helper()

	select {
	case id := <-started:
		return id
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for dispatch")
		return uuid.Nil
	}
}

func assertNoStart(t *testing.T, started chan uuid.UUID) {
	t.Helper()

	select {
	case id := <-started:
		t.Fatalf("unexpected dispatch before slot freed: %v", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFIFOOrder(t *testing.T) {
	started := make(chan uuid.UUID, 3)
	stopCh := make(chan struct{})
	defer close(stopCh)

	s := New(1, startCollector(started), stopCh)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	s.Enqueue(a)
	s.Enqueue(b)
	s.Enqueue(c)

	if got := waitForStart(t, started); got != a {
		t.Fatalf("expected %v first, got %v", a, got)
	}

	assertNoStart(t, started)

	s.Release()
	if got := waitForStart(t, started); got != b {
		t.Fatalf("expected %v second, got %v", b, got)
	}

	s.Release()
	if got := waitForStart(t, started); got != c {
		t.Fatalf("expected %v third, got %v", c, got)
	}
}

func TestConcurrencyCap(t *testing.T) {
	started := make(chan uuid.UUID, 4)
	stopCh := make(chan struct{})
	defer close(stopCh)

	s := New(2, startCollector(started), stopCh)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		s.Enqueue(id)
	}

	first := waitForStart(t, started)
	second := waitForStart(t, started)

	if first != ids[0] || second != ids[1] {
		t.Errorf("expected %v then %v, got %v then %v", ids[0], ids[1], first, second)
	}

	// Both slots taken, the third must wait.
	assertNoStart(t, started)

	if got := s.ActiveCount(); got != 2 {
		t.Errorf("expected 2 active, got %d", got)
	}

	s.Release()

	if got := waitForStart(t, started); got != ids[2] {
		t.Errorf("expected %v after release, got %v", ids[2], got)
	}
}

func TestEnqueueFrontPriority(t *testing.T) {
	started := make(chan uuid.UUID, 4)
	stopCh := make(chan struct{})
	defer close(stopCh)

	s := New(1, startCollector(started), stopCh)

	running := uuid.New()
	s.Enqueue(running)
	waitForStart(t, started)

	queued := uuid.New()
	resumed := uuid.New()
	s.Enqueue(queued)
	s.EnqueueFront(resumed)

	s.Release()

	if got := waitForStart(t, started); got != resumed {
		t.Fatalf("expected head-inserted %v next, got %v", resumed, got)
	}

	s.Release()

	if got := waitForStart(t, started); got != queued {
		t.Fatalf("expected %v last, got %v", queued, got)
	}
}

func TestRemove(t *testing.T) {
	started := make(chan uuid.UUID, 4)
	stopCh := make(chan struct{})
	defer close(stopCh)

	s := New(1, startCollector(started), stopCh)

	running := uuid.New()
	s.Enqueue(running)
	waitForStart(t, started)

	removed := uuid.New()
	kept := uuid.New()
	s.Enqueue(removed)
	s.Enqueue(kept)

	if !s.Remove(removed) {
		t.Fatal("expected Remove to report success for a queued id")
	}

	if s.Remove(removed) {
		t.Fatal("expected Remove to report failure for an absent id")
	}

	s.Release()

	if got := waitForStart(t, started); got != kept {
		t.Fatalf("expected %v after removal, got %v", kept, got)
	}
}

func TestFailedStartFreesSlot(t *testing.T) {
	started := make(chan uuid.UUID, 2)
	stopCh := make(chan struct{})
	defer close(stopCh)

	bad := uuid.New()
	good := uuid.New()

	startFn := func(id uuid.UUID) error {
		if id == bad {
			return errors.New("not dispatchable")
		}

		started <- id

		return nil
	}

	s := New(1, startFn, stopCh)

	s.Enqueue(bad)
	s.Enqueue(good)

	// The failed dispatch must free its slot so the next item runs.
	if got := waitForStart(t, started); got != good {
		t.Fatalf("expected %v, got %v", good, got)
	}
}

func TestPendingSnapshot(t *testing.T) {
	started := make(chan uuid.UUID, 1)
	stopCh := make(chan struct{})
	defer close(stopCh)

	s := New(1, startCollector(started), stopCh)

	running := uuid.New()
	s.Enqueue(running)
	waitForStart(t, started)

	a, b := uuid.New(), uuid.New()
	s.Enqueue(a)
	s.EnqueueFront(b)

	pending := s.Pending()
	if len(pending) != 2 || pending[0] != b || pending[1] != a {
		t.Fatalf("expected pending [%v %v], got %v", b, a, pending)
	}
}
