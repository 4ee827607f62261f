// Package schedule provides a generation-tagged timer scheduler.
//
// Every timer belongs to a Generation. Cancelling a generation stops all of
// its timers at once, and any callback that races with the cancellation
// observes the generation as dead and does nothing. This lets a connection
// attempt be torn down without tracking individual timer handles.
//
// Time comes from a k8s.io/utils/clock clock so tests can substitute a
// FakeClock and step time deterministically.
package schedule

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Clock is the time source the scheduler needs.
type Clock interface {
	clock.WithTicker
	AfterFunc(d time.Duration, f func()) clock.Timer
}

// Generation identifies a group of timers that are cancelled together.
type Generation uint64

// Scheduler runs one-shot and periodic callbacks tagged with a generation.
//
// Thread Safety: all methods are safe for concurrent use. Callbacks run on
// their own goroutines and are never invoked with the scheduler lock held.
type Scheduler struct {
	clock Clock

	mu     sync.Mutex
	last   Generation
	live   map[Generation]map[uint64]func()
	nextID uint64
	closed bool
}

// New creates a scheduler on the given clock. A nil clock means the real clock.
func New(c Clock) *Scheduler {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Scheduler{
		clock: c,
		live:  make(map[Generation]map[uint64]func()),
	}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Now returns the current time on the scheduler's clock.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// NewGeneration opens a fresh generation. Generations are strictly increasing.
func (s *Scheduler) NewGeneration() Generation {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last++
	if !s.closed {
		s.live[s.last] = make(map[uint64]func())
	}
	return s.last
}

// Alive reports whether g has not been cancelled.
func (s *Scheduler) Alive(g Generation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[g]
	return ok
}

// After runs fn once after d, unless g is cancelled first.
// It returns false if g is already dead.
func (s *Scheduler) After(g Generation, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, ok := s.live[g]
	if !ok {
		return false
	}
	s.nextID++
	id := s.nextID

	// Some clocks fire AfterFunc while holding their own lock, so fn must
	// not run on the firing goroutine.
	timer := s.clock.AfterFunc(d, func() {
		go func() {
			if !s.take(g, id) {
				return
			}
			fn()
		}()
	})
	tasks[id] = func() { timer.Stop() }
	return true
}

// Every runs fn every d until g is cancelled.
// It returns false if g is already dead.
func (s *Scheduler) Every(g Generation, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, ok := s.live[g]
	if !ok {
		return false
	}
	s.nextID++
	id := s.nextID

	ticker := s.clock.NewTicker(d)
	stop := make(chan struct{})
	tasks[id] = func() { close(stop) }

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				if !s.active(g, id) {
					return
				}
				fn()
			}
		}
	}()
	return true
}

// CancelGeneration stops every timer in g. Cancelling twice is a no-op.
func (s *Scheduler) CancelGeneration(g Generation) {
	s.mu.Lock()
	tasks, ok := s.live[g]
	delete(s.live, g)
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, stop := range tasks {
		stop()
	}
}

// Pending returns the number of timers still registered under g.
func (s *Scheduler) Pending(g Generation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live[g])
}

// Close cancels every generation. Later registrations are rejected.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	gens := make([]Generation, 0, len(s.live))
	for g := range s.live {
		gens = append(gens, g)
	}
	s.mu.Unlock()

	for _, g := range gens {
		s.CancelGeneration(g)
	}
}

// take removes a one-shot task, reporting whether it was still live.
func (s *Scheduler) take(g Generation, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, ok := s.live[g]
	if !ok {
		return false
	}
	if _, ok := tasks[id]; !ok {
		return false
	}
	delete(tasks, id)
	return true
}

func (s *Scheduler) active(g Generation, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, ok := s.live[g]
	if !ok {
		return false
	}
	_, ok = tasks[id]
	return ok
}
