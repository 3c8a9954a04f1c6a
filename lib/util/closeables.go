package util

import (
	"io"
	"sync"

	"github.com/devrelay/devrelay/lib/util/logger"
)

var log = logger.GetDevRelayLogger()

var (
	closeOnExit []io.Closer
	closeMutex  sync.Mutex
)

// RegisterCloser registers an io.Closer to be closed during shutdown.
// Closers run in reverse registration order so that resources opened last
// (the HTTP listener) go away before the ones they depend on (the store).
func RegisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, c)
	log.WithField("count", len(closeOnExit)).Debug("registered_closer")
}

// CloseAll closes all registered io.Closer instances and clears the list.
func CloseAll() {
	closeMutex.Lock()
	defer closeMutex.Unlock()

	log.WithField("count", len(closeOnExit)).Debug("closing_registered_closers")

	for idx := len(closeOnExit) - 1; idx >= 0; idx-- {
		if err := closeOnExit[idx].Close(); err != nil {
			log.WithError(err).Warn("error_closing_resource")
		}
	}
	closeOnExit = nil
}
