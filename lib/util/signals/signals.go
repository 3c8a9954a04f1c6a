// Package signals dispatches process signals to registered handlers.
//
// SIGHUP runs reload handlers. SIGINT and SIGTERM run the pre-shutdown
// handlers (bounded by the graceful timeout) followed by the interrupt
// handlers. Handlers run in registration order and a panicking handler does
// not stop the ones after it.
package signals

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"
)

const defaultGracefulTimeout = 30 * time.Second

// sigChan is buffered so a signal delivered before Handle runs is not lost.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registered handler for Deregister.
type HandlerID int

type phase int

const (
	phaseReload phase = iota
	phasePreShutdown
	phaseInterrupt
)

func (p phase) String() string {
	switch p {
	case phaseReload:
		return "reload"
	case phasePreShutdown:
		return "pre-shutdown"
	default:
		return "interrupt"
	}
}

type registeredHandler struct {
	id    HandlerID
	phase phase
	fn    Handler
}

var (
	mu              sync.RWMutex
	handlers        []registeredHandler
	nextID          HandlerID
	gracefulTimeout = defaultGracefulTimeout
	stopOnce        sync.Once
)

func register(p phase, f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	handlers = append(handlers, registeredHandler{id: id, phase: p, fn: f})
	return id
}

// RegisterReloadHandler registers a handler called on SIGHUP.
// Nil handlers are ignored and return -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return register(phaseReload, f)
}

// RegisterPreShutdownHandler registers a handler that runs before the
// interrupt handlers on SIGINT/SIGTERM. The relay uses it to close every
// live connection so devices are marked offline before the store closes.
func RegisterPreShutdownHandler(f Handler) HandlerID {
	return register(phasePreShutdown, f)
}

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM.
func RegisterInterruptHandler(f Handler) HandlerID {
	return register(phaseInterrupt, f)
}

// Deregister removes a handler of any kind. Unknown ids are ignored.
func Deregister(id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range handlers {
		if h.id == id {
			handlers = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// SetGracefulTimeout bounds how long pre-shutdown handlers may run.
// Zero or negative restores the 30 second default.
func SetGracefulTimeout(timeout time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if timeout <= 0 {
		gracefulTimeout = defaultGracefulTimeout
		return
	}
	gracefulTimeout = timeout
}

func snapshot(p phase) []Handler {
	mu.RLock()
	defer mu.RUnlock()
	var out []Handler
	for _, h := range handlers {
		if h.phase == p {
			out = append(out, h.fn)
		}
	}
	return out
}

func runAll(p phase, fns []Handler) {
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// no logger here; stderr keeps the panic visible
					fmt.Fprintf(os.Stderr, "signals: panic in %s handler: %v\n", p, r)
				}
			}()
			fn()
		}()
	}
}

func handleReload() {
	runAll(phaseReload, snapshot(phaseReload))
}

// handlePreShutdown reports whether the pre-shutdown handlers finished
// within the graceful timeout.
func handlePreShutdown() bool {
	fns := snapshot(phasePreShutdown)
	if len(fns) == 0 {
		return true
	}
	mu.RLock()
	timeout := gracefulTimeout
	mu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runAll(phasePreShutdown, fns)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		fmt.Fprintf(os.Stderr, "signals: pre-shutdown handlers timed out after %s\n", timeout)
		return false
	}
}

func handleInterrupted() {
	handlePreShutdown()
	runAll(phaseInterrupt, snapshot(phaseInterrupt))
}

// Trigger runs the shutdown sequence as if SIGTERM had arrived. Used when
// the server stops for a reason other than a signal.
func Trigger() {
	handleInterrupted()
}

// StopHandle makes Handle return. Safe to call more than once.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
