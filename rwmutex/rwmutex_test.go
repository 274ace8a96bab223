package rwmutex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReentrantReadThenWrite(t *testing.T) {
	m := New()
	require.NoError(t, m.RLock(time.Time{}))
	require.NoError(t, m.RLock(time.Time{}))
	require.NoError(t, m.Lock(time.Time{})) // upgrade
	require.NoError(t, m.Lock(time.Time{})) // re-entrant write

	m.Unlock()
	m.Unlock() // downgrades back to read
	m.RUnlock()
	m.RUnlock()
}

func TestWriteThenReadIsIgnored(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock(time.Time{}))
	require.NoError(t, m.RLock(time.Time{})) // ignored: already holds write
	m.RUnlock()
	m.Unlock()
}

func TestConcurrentReadersDoNotBlockEachOther(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	var active int32
	var maxActive int32

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, m.RLock(time.Time{}))
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			m.RUnlock()
		}()
	}
	wg.Wait()
	require.Greater(t, maxActive, int32(1))
}

func TestWriterExcludesReaders(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock(time.Time{}))

	done := make(chan struct{})
	go func() {
		require.NoError(t, m.RLock(time.Time{}))
		m.RUnlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reader acquired lock while writer held it")
	case <-time.After(20 * time.Millisecond):
	}
	m.Unlock()
	<-done
}

func TestLockTimeout(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock(time.Time{}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Lock(time.Now().Add(10 * time.Millisecond))
	}()
	require.Error(t, <-errCh)
	m.Unlock()
}
