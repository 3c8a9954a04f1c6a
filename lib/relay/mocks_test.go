package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrelay/devrelay/lib/storage"
	"github.com/stretchr/testify/require"
)

var connSeq atomic.Int64

// mockConn is an in-memory Conn. Frames pushed with push are returned by
// ReadFrame; frames sent to it are recorded.
type mockConn struct {
	id   string
	in   chan []byte
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	sent       [][]byte
	unwritable bool
	sendPanics bool
}

func newMockConn() *mockConn {
	return &mockConn{
		id:   fmt.Sprintf("conn-%d", connSeq.Add(1)),
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *mockConn) ID() string { return c.id }

func (c *mockConn) ReadFrame() ([]byte, error) {
	select {
	case <-c.done:
		return nil, io.EOF
	default:
	}
	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *mockConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendPanics {
		panic("send exploded")
	}
	if c.unwritable || c.isClosedLocked() {
		return false
	}
	c.sent = append(c.sent, frame)
	return true
}

func (c *mockConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *mockConn) isClosedLocked() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosedLocked()
}

func (c *mockConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *mockConn) setUnwritable(v bool) {
	c.mu.Lock()
	c.unwritable = v
	c.mu.Unlock()
}

func (c *mockConn) setSendPanics(v bool) {
	c.mu.Lock()
	c.sendPanics = v
	c.mu.Unlock()
}

func (c *mockConn) push(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.in <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatalf("push to %s timed out", c.id)
	}
}

type statusCall struct {
	deviceID string
	status   storage.DeviceStatus
}

// fakeStatus records SetStatus calls.
type fakeStatus struct {
	mu    sync.Mutex
	calls []statusCall
	err   error
}

func (f *fakeStatus) SetStatus(_ context.Context, deviceID string, status storage.DeviceStatus, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, statusCall{deviceID, status})
	return f.err
}

func (f *fakeStatus) snapshot() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// countingRecorder tallies drop reasons and relayed kinds.
type countingRecorder struct {
	mu      sync.Mutex
	dropped map[string]int
	relayed map[string]int
	opened  int
	closed  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{dropped: map[string]int{}, relayed: map[string]int{}}
}

func (c *countingRecorder) ConnectionOpened(Role) { c.mu.Lock(); c.opened++; c.mu.Unlock() }
func (c *countingRecorder) ConnectionClosed(Role) { c.mu.Lock(); c.closed++; c.mu.Unlock() }
func (c *countingRecorder) FrameReceived(Role)    {}

func (c *countingRecorder) FrameRelayed(kind string) {
	c.mu.Lock()
	c.relayed[kind]++
	c.mu.Unlock()
}

func (c *countingRecorder) FrameDropped(reason string) {
	c.mu.Lock()
	c.dropped[reason]++
	c.mu.Unlock()
}

func (c *countingRecorder) droppedFor(reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped[reason]
}

// serve starts r.Serve in the background and returns a channel closed when
// it returns.
func serve(ctx context.Context, r *Relay, id Identity, conn *mockConn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Serve(ctx, id, conn)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// gatedStatus holds the first write of gate until release is closed, then
// records it. Other writes are recorded immediately.
type gatedStatus struct {
	fakeStatus
	gate    storage.DeviceStatus
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStatus(gate storage.DeviceStatus) *gatedStatus {
	return &gatedStatus{
		gate:    gate,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStatus) SetStatus(ctx context.Context, deviceID string, status storage.DeviceStatus, at time.Time) error {
	if status == g.gate {
		held := false
		g.once.Do(func() { held = true })
		if held {
			close(g.entered)
			<-g.release
		}
	}
	return g.fakeStatus.SetStatus(ctx, deviceID, status, at)
}
