package rwmutex

import (
	"sync"
	"time"
)

// lightSwitch is the classic "first in turns on the light, last out turns
// it off" primitive used to solve the readers-writers problem: the first
// of a group of holders acquires a controlled lock on the group's behalf,
// and the last releases it. Here it guards the claim readers collectively
// hold on the "no writers active" lock.
type lightSwitch struct {
	mu      sync.Mutex
	counter int
}

// acquire increments the switch's counter, locking controlled on the
// 0->1 transition. mu is held across the controlled acquisition itself, not
// just the counter update, so a second caller arriving while the first is
// still acquiring controlled waits on mu rather than racing the 0->1 check.
func (s *lightSwitch) acquire(controlled tlock, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counter == 0 {
		if err := controlled.lock(deadline); err != nil {
			return err
		}
	}
	s.counter++
	return nil
}

// release decrements the switch's counter, unlocking controlled on the
// 1->0 transition.
func (s *lightSwitch) release(controlled tlock) {
	s.mu.Lock()
	s.counter--
	last := s.counter == 0
	s.mu.Unlock()

	if last {
		controlled.unlock()
	}
}

// adoptExternalHolder sets the switch's counter to 1 without itself
// locking controlled, because the caller already holds it and is handing
// that holding off to the switch: the write-blocker's state is handed to
// the read switch as a single external holder, bypassing a normal acquire.
func (s *lightSwitch) adoptExternalHolder() {
	s.mu.Lock()
	s.counter = 1
	s.mu.Unlock()
}
