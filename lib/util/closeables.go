package util

import (
	"io"
	"sync"
)

var (
	closersMu sync.Mutex
	closers   []io.Closer
)

// RegisterCloser adds c to the set closed by CloseAll.
func RegisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	closersMu.Lock()
	defer closersMu.Unlock()
	closers = append(closers, c)
}

// CloseAll closes every registered closer in reverse registration order and
// returns how many failed. The set is empty afterwards.
func CloseAll() int {
	closersMu.Lock()
	pending := closers
	closers = nil
	closersMu.Unlock()

	failed := 0
	for i := len(pending) - 1; i >= 0; i-- {
		if err := pending[i].Close(); err != nil {
			failed++
			log.WithError(err).Warn("error closing resource")
		}
	}
	log.WithField("count", len(pending)).Debug("closed registered resources")
	return failed
}
