// Package scheduler enforces the download concurrency cap and queue order.
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Scheduler holds pending download ids in strict FIFO order and dispatches
// them through startFn while fewer than maxConcurrent downloads are active.
// A slot stays claimed until Release is called; startFn returning an error
// frees the slot immediately. The dispatch loop exits when stopCh closes.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue         []uuid.UUID
	startFn       func(uuid.UUID) error
	maxConcurrent int
	active        int
	stopCh        <-chan struct{}
}

// New creates the scheduler and starts its dispatch loop.
func New(maxConcurrent int, startFn func(uuid.UUID) error, stopCh <-chan struct{}) *Scheduler {
	s := &Scheduler{
		startFn:       startFn,
		maxConcurrent: maxConcurrent,
		stopCh:        stopCh,
	}
	s.cond = sync.NewCond(&s.mu)

	go s.dispatchLoop()

	// Wake any waiting cond.Wait when the stop channel closes.
	go func() {
		<-stopCh
		s.cond.L.Lock()
		s.cond.Broadcast()
		s.cond.L.Unlock()
	}()

	return s
}

// Enqueue appends a download to the tail of the queue.
func (s *Scheduler) Enqueue(id uuid.UUID) {
	s.mu.Lock()
	s.queue = append(s.queue, id)
	slog.Debug("enqueued download", "id", id, "position", len(s.queue))
	s.cond.Signal()
	s.mu.Unlock()
}

// EnqueueFront inserts a download at the head of the queue. Resumed and
// retried downloads go here: interrupted work outranks brand-new requests.
func (s *Scheduler) EnqueueFront(id uuid.UUID) {
	s.mu.Lock()
	s.queue = append([]uuid.UUID{id}, s.queue...)
	slog.Debug("enqueued download at head", "id", id)
	s.cond.Signal()
	s.mu.Unlock()
}

// Remove drops a pending download from the queue. Returns false when the id
// is not queued.
func (s *Scheduler) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}

	return false
}

// Release frees an active slot. The orchestrator calls it whenever a
// dispatched download stops running (completion, failure, cancellation, or
// pause), which promotes the next queued download.
func (s *Scheduler) Release() {
	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	s.cond.Signal()
	s.mu.Unlock()
}

// Pending returns a snapshot of the queued ids in dispatch order.
func (s *Scheduler) Pending() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]uuid.UUID, len(s.queue))
	copy(pending, s.queue)

	return pending
}

// ActiveCount returns how many dispatched downloads hold a slot.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

func (s *Scheduler) dispatchLoop() {
	for {
		s.mu.Lock()
		for s.active >= s.maxConcurrent || len(s.queue) == 0 {
			s.cond.Wait()

			select {
			case <-s.stopCh:
				s.mu.Unlock()
				return
			default:
			}
		}

		select {
		case <-s.stopCh:
			s.mu.Unlock()
			return
		default:
		}

		id := s.queue[0]
		s.queue = s.queue[1:]
		s.active++
		s.mu.Unlock()

		slog.Debug("dispatching download", "id", id)

		if err := s.startFn(id); err != nil {
			slog.Error("failed to start download", "id", id, "err", err)
			s.Release()
		}
	}
}
