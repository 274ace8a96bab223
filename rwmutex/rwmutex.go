// Package rwmutex implements a re-entrant readers-writer lock solving the
// "second readers-writers problem" (no writer starvation), with re-entrant
// per-caller acquisition and lock upgrade/downgrade between read and write
// holds, building the primitive from a "light switch" (a reader count whose
// first entry takes a lock and whose last exit releases it) over two
// single-token channel locks.
package rwmutex

import (
	"sync"
	"time"
)

// state is one caller's (read_count, write_count, ignored_count) triple,
// ignored_count counts read acquisitions taken while the same
// caller already holds the write lock -- tracked for symmetric release,
// but no lock is actually taken for them.
type state struct {
	read    int
	write   int
	ignored int
}

// RWMutex is the lock itself. Go has no goroutine-local storage, so
// per-caller state is kept in a map keyed by the acquiring goroutine's id
// under its own mutex, standing in for a native thread-local.
type RWMutex struct {
	statesMu sync.Mutex
	states   map[int64]*state

	readSwitch lightSwitch
	noWriters  tlock // the "room empty of writers" lock readers collectively hold
	noReaders  tlock // writer exclusivity
}

// New constructs an unlocked RWMutex.
func New() *RWMutex {
	return &RWMutex{
		states:    make(map[int64]*state),
		noWriters: newTLock(),
		noReaders: newTLock(),
	}
}

func (m *RWMutex) stateFor(id int64) *state {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	st, ok := m.states[id]
	if !ok {
		st = &state{}
		m.states[id] = st
	}
	return st
}

func (m *RWMutex) forgetIfIdle(id int64, st *state) {
	if st.read == 0 && st.write == 0 && st.ignored == 0 {
		m.statesMu.Lock()
		delete(m.states, id)
		m.statesMu.Unlock()
	}
}

// RLock acquires a read hold for the calling goroutine, honoring the
// re-entrancy rules above. deadline, if non-zero, bounds any
// blocking acquisition.
func (m *RWMutex) RLock(deadline time.Time) error {
	id := goroutineID()
	st := m.stateFor(id)

	if st.write > 0 {
		st.ignored++
		return nil
	}
	if st.read > 0 {
		st.read++
		return nil
	}
	if err := m.noReaders.lock(deadline); err != nil {
		return err
	}
	err := m.readSwitch.acquire(m.noWriters, deadline)
	m.noReaders.unlock()
	if err != nil {
		return err
	}
	st.read++
	return nil
}

// RUnlock releases one read hold acquired by RLock.
func (m *RWMutex) RUnlock() {
	id := goroutineID()
	st := m.stateFor(id)

	if st.ignored > 0 {
		st.ignored--
		m.forgetIfIdle(id, st)
		return
	}
	st.read--
	if st.read == 0 {
		m.readSwitch.release(m.noWriters)
	}
	m.forgetIfIdle(id, st)
}

// Lock acquires a write hold. A caller already holding reads upgrades in
// place: the read switch's claim is released, then the reader-blocker and
// the write-blocker are acquired in turn, and on failure the read switch's
// claim is reacquired before the error is surfaced so the caller is left
// exactly as before the failed upgrade.
func (m *RWMutex) Lock(deadline time.Time) error {
	id := goroutineID()
	st := m.stateFor(id)

	if st.write > 0 {
		st.write++
		return nil
	}

	if st.read > 0 {
		m.readSwitch.release(m.noWriters)
		if err := m.noReaders.lock(deadline); err != nil {
			_ = m.readSwitch.acquire(m.noWriters, time.Time{})
			return err
		}
		if err := m.noWriters.lock(deadline); err != nil {
			m.noReaders.unlock()
			_ = m.readSwitch.acquire(m.noWriters, time.Time{})
			return err
		}
	} else {
		if err := m.noReaders.lock(deadline); err != nil {
			return err
		}
		if err := m.noWriters.lock(deadline); err != nil {
			m.noReaders.unlock()
			return err
		}
	}

	st.write++
	return nil
}

// Unlock releases one write hold. When the last write hold is released
// while the caller still holds reads, the hold downgrades in place: the
// write-blocker's state is handed to the read switch as a single external
// holder and the reader-blocker is released, leaving the caller with only
// its read hold.
func (m *RWMutex) Unlock() {
	id := goroutineID()
	st := m.stateFor(id)

	st.write--
	if st.write > 0 {
		return
	}

	if st.read > 0 {
		m.readSwitch.adoptExternalHolder()
		m.noReaders.unlock()
		return
	}

	m.noWriters.unlock()
	m.noReaders.unlock()
	m.forgetIfIdle(id, st)
}
