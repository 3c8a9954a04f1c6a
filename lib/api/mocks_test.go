package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devrelay/devrelay/lib/registry"
	"github.com/devrelay/devrelay/lib/storage"
)

var errStoreDown = errors.New("store down")

// stubHandle is a registry.Handle that accepts every frame.
type stubHandle struct{ id string }

func (h *stubHandle) ID() string         { return h.id }
func (h *stubHandle) Send(_ []byte) bool { return true }
func (h *stubHandle) Close() error       { return nil }

// brokenStore fails every read it overrides.
type brokenStore struct {
	storage.Store
}

func (brokenStore) ListTenants(context.Context) ([]storage.Tenant, error) {
	return nil, errStoreDown
}

func (brokenStore) GetDevice(context.Context, int64) (storage.Device, error) {
	return storage.Device{}, errStoreDown
}

type testEnv struct {
	*httptest.Server
	store    *storage.MemoryStore
	registry *registry.Registry
	now      time.Time
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    storage.NewMemoryStore(),
		registry: registry.New(),
		now:      fixedNow,
	}
	userID := int64(7)
	require.NoError(t, storage.Apply(context.Background(), env.store, storage.Fixture{
		Tenants: []storage.Tenant{
			{ID: 1, Name: "Acme Corp", Plan: "enterprise"},
			{ID: 2, Name: "Globex", Plan: "basic"},
		},
		Devices: []storage.Device{
			{ID: 1, DeviceID: "IOS-0001", Platform: storage.PlatformIOS, TenantID: 1},
			{ID: 2, DeviceID: "AND-0001", Platform: storage.PlatformAndroid, TenantID: 1, UserID: &userID},
			{ID: 3, DeviceID: "IOS-0100", Platform: storage.PlatformIOS, TenantID: 2},
		},
	}))
	if opts.Now == nil {
		opts.Now = func() time.Time { return env.now }
	}
	srv, err := NewServer(env.store, env.registry, opts)
	require.NoError(t, err)
	env.Server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.Server.Close)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, env.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
