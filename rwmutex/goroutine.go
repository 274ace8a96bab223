package rwmutex

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's numeric id by parsing the
// header line of a runtime.Stack dump ("goroutine 123 [running]: ..."). Go
// deliberately has no public goroutine-local-storage API (the language's
// answer to thread.get_ident()), so this is the standard workaround used
// when re-entrant, per-caller bookkeeping is unavoidable: a map from
// goroutine id to state, guarded by a mutex, in place of a native
// thread-local.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(buf[:idx]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
