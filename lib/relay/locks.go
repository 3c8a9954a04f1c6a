package relay

import "sync"

// deviceLocks serializes the registry change and status write of one
// device id, so an older connection's offline write can never land after a
// newer connection's online write.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	sync.Mutex
	refs int
}

// lock blocks until deviceID is free and returns its unlock func. Entries
// are dropped once nobody holds or waits on them.
func (d *deviceLocks) lock(deviceID string) func() {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[string]*deviceLock)
	}
	l, ok := d.locks[deviceID]
	if !ok {
		l = &deviceLock{}
		d.locks[deviceID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, deviceID)
		}
		d.mu.Unlock()
	}
}

func (d *deviceLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
