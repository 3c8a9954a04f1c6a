// Package registry tracks which devices and administrators currently hold a
// live connection to the relay.
//
// A device owns at most one live handle: registering a new handle for the
// same device id closes the previous one. An administrator may hold any
// number of handles (one per open dashboard tab); the entry for a user is
// removed when its last handle goes away.
//
// Unregistering a device is identity-checked. A handle that was already
// superseded cannot evict its replacement, so a late close event from a
// stale connection never marks a freshly reconnected device as gone.
package registry
