package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process memory. IDs are assigned from
// per-table counters starting at 1.
type MemoryStore struct {
	mu sync.RWMutex

	tenants map[int64]Tenant
	devices map[int64]Device
	byExtID map[string]int64
	tokens  map[int64]EnrollmentToken
	byToken map[string]int64
	nextID  map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[int64]Tenant),
		devices: make(map[int64]Device),
		byExtID: make(map[string]int64),
		tokens:  make(map[int64]EnrollmentToken),
		byToken: make(map[string]int64),
		nextID:  make(map[string]int64),
	}
}

// allocID returns id when it is set, otherwise the next free id for table.
// Must be called with mu held.
func (m *MemoryStore) allocID(table string, id int64) int64 {
	if id > 0 {
		if id > m.nextID[table] {
			m.nextID[table] = id
		}
		return id
	}
	m.nextID[table]++
	return m.nextID[table]
}

func (m *MemoryStore) CreateTenant(_ context.Context, t Tenant) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[t.ID]; t.ID > 0 && exists {
		return Tenant{}, fmt.Errorf("%w: tenant %d", ErrDuplicate, t.ID)
	}
	if t.Plan == "" {
		t.Plan = "basic"
	}
	t.ID = m.allocID("tenants", t.ID)
	m.tenants[t.ID] = t
	return t, nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id int64) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: tenant %d", ErrNotFound, id)
	}
	return t, nil
}

func (m *MemoryStore) ListTenants(_ context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetDevice(_ context.Context, id int64) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: device %d", ErrNotFound, id)
	}
	return copyDevice(d), nil
}

func (m *MemoryStore) GetDeviceByExternalID(_ context.Context, deviceID string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byExtID[deviceID]
	if !ok {
		return Device{}, fmt.Errorf("%w: device %q", ErrNotFound, deviceID)
	}
	return copyDevice(m.devices[id]), nil
}

func (m *MemoryStore) CreateDevice(_ context.Context, d Device) (Device, error) {
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	d.applyDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byExtID[d.DeviceID]; exists {
		return Device{}, fmt.Errorf("%w: device %q", ErrDuplicate, d.DeviceID)
	}
	if _, exists := m.devices[d.ID]; d.ID > 0 && exists {
		return Device{}, fmt.Errorf("%w: device %d", ErrDuplicate, d.ID)
	}
	d.ID = m.allocID("devices", d.ID)
	d = copyDevice(d)
	m.devices[d.ID] = d
	m.byExtID[d.DeviceID] = d.ID
	return copyDevice(d), nil
}

func (m *MemoryStore) UpdateDevice(_ context.Context, id int64, patch DevicePatch) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: device %d", ErrNotFound, id)
	}
	d = copyDevice(d)
	patch.apply(&d)
	m.devices[id] = d
	return copyDevice(d), nil
}

func (m *MemoryStore) ListDevicesByTenant(_ context.Context, tenantID int64) ([]Device, error) {
	return m.listDevices(func(d Device) bool { return d.TenantID == tenantID }), nil
}

func (m *MemoryStore) ListDevicesByUser(_ context.Context, userID int64) ([]Device, error) {
	return m.listDevices(func(d Device) bool { return d.UserID != nil && *d.UserID == userID }), nil
}

func (m *MemoryStore) listDevices(match func(Device) bool) []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Device, 0)
	for _, d := range m.devices {
		if match(d) {
			out = append(out, copyDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) CreateEnrollmentToken(_ context.Context, t EnrollmentToken) (EnrollmentToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byToken[t.Token]; exists {
		return EnrollmentToken{}, fmt.Errorf("%w: enrollment token", ErrDuplicate)
	}
	t.ID = m.allocID("enrollment_tokens", t.ID)
	m.tokens[t.ID] = t
	m.byToken[t.Token] = t.ID
	return t, nil
}

func (m *MemoryStore) GetEnrollmentToken(_ context.Context, token string) (EnrollmentToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byToken[token]
	if !ok {
		return EnrollmentToken{}, fmt.Errorf("%w: enrollment token", ErrNotFound)
	}
	return m.tokens[id], nil
}

func (m *MemoryStore) MarkEnrollmentTokenUsed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[id]
	if !ok {
		return fmt.Errorf("%w: enrollment token %d", ErrNotFound, id)
	}
	t.Used = true
	m.tokens[id] = t
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// copyDevice detaches the pointer fields so callers cannot alias stored state.
func copyDevice(d Device) Device {
	if d.LastSeen != nil {
		t := *d.LastSeen
		d.LastSeen = &t
	}
	if d.EnrollmentDate != nil {
		t := *d.EnrollmentDate
		d.EnrollmentDate = &t
	}
	if d.UserID != nil {
		u := *d.UserID
		d.UserID = &u
	}
	return d
}
