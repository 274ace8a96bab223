package rwmutex

import (
	"time"

	"github.com/netbootd/netbootd/errs"
)

// tlock is a binary lock (a single-token channel) that supports acquiring
// with a deadline, since the RW-lock's nested acquisitions all propagate a
// running deadline computed from a monotonic clock.
type tlock chan struct{}

func newTLock() tlock {
	l := make(tlock, 1)
	l <- struct{}{}
	return l
}

// lock blocks until the token is available or deadline passes (zero
// deadline means wait forever).
func (l tlock) lock(deadline time.Time) error {
	if deadline.IsZero() {
		<-l
		return nil
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-l:
		return nil
	case <-timer.C:
		return errs.New(errs.TimedOut, "lock acquisition timed out")
	}
}

func (l tlock) unlock() { l <- struct{}{} }
