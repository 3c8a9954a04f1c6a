package signals

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetHandlers isolates a test from handlers registered elsewhere.
func resetHandlers(t *testing.T) {
	t.Helper()
	mu.Lock()
	saved := handlers
	savedTimeout := gracefulTimeout
	handlers = nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		handlers = saved
		gracefulTimeout = savedTimeout
		mu.Unlock()
	})
}

func TestReloadHandlersRunInOrder(t *testing.T) {
	resetHandlers(t)

	var order []int
	RegisterReloadHandler(func() { order = append(order, 1) })
	RegisterReloadHandler(func() { order = append(order, 2) })
	RegisterInterruptHandler(func() { order = append(order, 99) })

	handleReload()
	assert.Equal(t, []int{1, 2}, order)
}

func TestNilHandlerIgnored(t *testing.T) {
	resetHandlers(t)

	assert.Equal(t, HandlerID(-1), RegisterReloadHandler(nil))
	assert.Equal(t, HandlerID(-1), RegisterInterruptHandler(nil))
	assert.Equal(t, HandlerID(-1), RegisterPreShutdownHandler(nil))
	assert.Empty(t, snapshot(phaseReload))
}

func TestPreShutdownRunsBeforeInterrupt(t *testing.T) {
	resetHandlers(t)

	var mu sync.Mutex
	var order []string
	record := func(s string) Handler {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
		}
	}
	RegisterInterruptHandler(record("interrupt"))
	RegisterPreShutdownHandler(record("drain"))

	Trigger()
	assert.Equal(t, []string{"drain", "interrupt"}, order)
}

func TestPanickingHandlerDoesNotStopChain(t *testing.T) {
	resetHandlers(t)

	called := false
	RegisterInterruptHandler(func() { panic("boom") })
	RegisterInterruptHandler(func() { called = true })

	require.NotPanics(t, handleInterrupted)
	assert.True(t, called)
}

func TestDeregister(t *testing.T) {
	resetHandlers(t)

	called := false
	id := RegisterReloadHandler(func() { called = true })
	Deregister(id)
	Deregister(12345)

	handleReload()
	assert.False(t, called)
}

func TestPreShutdownTimeout(t *testing.T) {
	resetHandlers(t)

	SetGracefulTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	RegisterPreShutdownHandler(func() { <-release })

	start := time.Now()
	assert.False(t, handlePreShutdown())
	assert.Less(t, time.Since(start), time.Second)
}

func TestSetGracefulTimeoutDefaults(t *testing.T) {
	resetHandlers(t)

	SetGracefulTimeout(-1)
	assert.Equal(t, defaultGracefulTimeout, gracefulTimeout)
	SetGracefulTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, gracefulTimeout)
}

func TestSigChanIsBuffered(t *testing.T) {
	assert.Equal(t, 1, cap(sigChan))
}
