package grist

import (
	"runtime"
	"strconv"
	"sync/atomic"
)

// globalIDCounter is the source of unique IDs for cells and subscriptions.
var globalIDCounter uint64

// nextID returns the next unique ID.
// IDs are monotonically increasing and never reused.
func nextID() uint64 {
	return atomic.AddUint64(&globalIDCounter, 1)
}

// goroutineID returns the ID of the calling goroutine, parsed from the
// header of runtime.Stack ("goroutine <id> [...]").
// Only used for re-entrancy detection, which is opt-in.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// callerSite returns "file:line" for the frame skip levels above the caller
// of callerSite.
func callerSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	return file + ":" + strconv.Itoa(line)
}
