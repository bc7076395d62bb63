package cellz

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns the id of the calling goroutine, parsed from the
// runtime stack header ("goroutine N [...]"). The runtime offers no
// public accessor; modify reentrancy detection needs goroutine identity
// to tell a reentrant call apart from a legitimately blocked concurrent
// one.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(header, ' '); i > 0 {
		header = header[:i]
	}
	id, err := strconv.ParseInt(string(header), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
