package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var handleSeq atomic.Int64

// mockHandle records frames and close calls.
type mockHandle struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
	closes int
}

func newMockHandle() *mockHandle {
	return &mockHandle{id: fmt.Sprintf("h%d", handleSeq.Add(1))}
}

func (m *mockHandle) ID() string { return m.id }

func (m *mockHandle) Send(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.frames = append(m.frames, frame)
	return true
}

func (m *mockHandle) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return nil
}

func (m *mockHandle) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
