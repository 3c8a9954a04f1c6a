package registry

import (
	"sort"
	"sync"

	"github.com/devrelay/devrelay/lib/util/logger"
)

var log = logger.GetDevRelayLogger()

// Counts is a point-in-time summary of the registry.
type Counts struct {
	Devices       int `json:"devices"`
	Admins        int `json:"admins"`
	AdminSessions int `json:"adminSessions"`
}

// Registry owns the device and administrator connection tables.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Handle            // device id -> live handle
	admins  map[int64]map[Handle]struct{} // user id -> open handles
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]Handle),
		admins:  make(map[int64]map[Handle]struct{}),
	}
}

// RegisterDevice stores h as the live handle for deviceID. Any handle
// previously stored for the id is closed after the swap.
func (r *Registry) RegisterDevice(deviceID string, h Handle) {
	r.mu.Lock()
	prev, existed := r.devices[deviceID]
	r.devices[deviceID] = h
	r.mu.Unlock()

	if existed && prev != h {
		log.WithFields(logger.Fields{
			"at":       "registry.Registry.RegisterDevice",
			"deviceID": deviceID,
			"previous": prev.ID(),
			"current":  h.ID(),
		}).Info("device_connection_superseded")
		// close outside the lock; Close may block on the transport
		if err := prev.Close(); err != nil {
			log.WithError(err).WithField("deviceID", deviceID).Debug("close_superseded_handle_failed")
		}
	}
}

// UnregisterDevice removes the mapping for deviceID only when h is the
// handle currently stored. It reports whether the entry was removed.
func (r *Registry) UnregisterDevice(deviceID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.devices[deviceID]
	if !ok || cur != h {
		return false
	}
	delete(r.devices, deviceID)
	return true
}

// LookupDevice returns the live handle for deviceID.
func (r *Registry) LookupDevice(deviceID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.devices[deviceID]
	return h, ok
}

// RegisterAdmin adds h to the set of handles held by userID.
func (r *Registry) RegisterAdmin(userID int64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.admins[userID]
	if !ok {
		set = make(map[Handle]struct{})
		r.admins[userID] = set
	}
	set[h] = struct{}{}
}

// UnregisterAdmin removes h from userID's set, dropping the set when it
// becomes empty. It reports whether h was present.
func (r *Registry) UnregisterAdmin(userID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.admins[userID]
	if !ok {
		return false
	}
	if _, present := set[h]; !present {
		return false
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.admins, userID)
	}
	return true
}

// LookupAdminSessions returns a copy of the handles held by userID.
// The result is empty, never nil-dereferenced, when the user has none.
func (r *Registry) LookupAdminSessions(userID int64) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.admins[userID]
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// AdminHandles returns a snapshot of every open administrator handle.
func (r *Registry) AdminHandles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Handle
	for _, set := range r.admins {
		for h := range set {
			out = append(out, h)
		}
	}
	return out
}

// DeviceIDs returns the ids of all connected devices in sorted order.
func (r *Registry) DeviceIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Counts summarises the registry.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := Counts{Devices: len(r.devices), Admins: len(r.admins)}
	for _, set := range r.admins {
		c.AdminSessions += len(set)
	}
	return c
}

// CloseAll closes every registered handle without unregistering it.
// Each connection's own teardown performs the unregistration, so status
// side effects run exactly as they would for an ordinary disconnect.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.devices))
	for _, h := range r.devices {
		handles = append(handles, h)
	}
	for _, set := range r.admins {
		for h := range set {
			handles = append(handles, h)
		}
	}
	r.mu.RUnlock()

	log.WithFields(logger.Fields{
		"at":      "registry.Registry.CloseAll",
		"handles": len(handles),
	}).Info("closing_all_connections")

	for _, h := range handles {
		_ = h.Close()
	}
}
