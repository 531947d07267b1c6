// Package timer implements the scheduler spec.md §2/§5 describe:
// deadlines keyed by an opaque token, cancellable, used by the DHT's
// per-request timeouts, the UDP tracker's retransmit ladder, and the
// peer session's keep-alive/idle-disconnect checks.
package timer

import (
	"sync"
	"time"
)

// Token identifies one scheduled deadline.
type Token uint64

// Scheduler schedules and cancels callbacks keyed by Token. All methods
// are safe for concurrent use, though spec.md §5 expects each
// Scheduler instance to be owned by a single task in practice.
type Scheduler struct {
	mu     sync.Mutex
	timers map[Token]*time.Timer
	next   uint64
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[Token]*time.Timer)}
}

// After schedules fn to run after d elapses, returning a Token that
// can be passed to Cancel. The callback runs on its own goroutine, as
// with time.AfterFunc.
func (s *Scheduler) After(d time.Duration, fn func()) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	tok := Token(s.next)

	// The timer is stored while s.mu is held, so a callback that fires
	// at once waits for the entry instead of finding it missing.
	s.timers[tok] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, still := s.timers[tok]
		delete(s.timers, tok)
		s.mu.Unlock()
		if still {
			fn()
		}
	})
	return tok
}

// Cancel stops the deadline for tok, if still pending, preventing its
// callback from firing. Safe to call more than once or on an already
// expired token.
func (s *Scheduler) Cancel(tok Token) {
	s.mu.Lock()
	t, ok := s.timers[tok]
	delete(s.timers, tok)
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// CancelAll stops every deadline currently scheduled — used when a
// task (a lookup, a peer session) shuts down and must release every
// resource it owns, per spec.md §5's "Suspension points" rule.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[Token]*time.Timer)
	s.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

// Len reports the number of deadlines currently scheduled.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
