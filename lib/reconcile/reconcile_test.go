package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devrelay/devrelay/lib/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetStatusUpdatesKnownDevice(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d, err := store.CreateDevice(ctx, storage.Device{DeviceID: "D1", Platform: storage.PlatformIOS, TenantID: 1})
	require.NoError(t, err)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New(store)
	require.NoError(t, r.SetStatus(ctx, "D1", storage.StatusOnline, at))

	got, err := store.GetDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusOnline, got.Status)
	require.NotNil(t, got.LastSeen)
	assert.True(t, at.Equal(*got.LastSeen))

	later := at.Add(time.Minute)
	require.NoError(t, r.SetStatus(ctx, "D1", storage.StatusOffline, later))
	got, err = store.GetDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusOffline, got.Status)
	assert.True(t, later.Equal(*got.LastSeen))
}

func TestSetStatusUnknownDeviceIsNoop(t *testing.T) {
	store := storage.NewMemoryStore()
	r := New(store)
	assert.NoError(t, r.SetStatus(context.Background(), "ghost", storage.StatusOnline, time.Now()))

	_, err := store.GetDeviceByExternalID(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type failingStore struct {
	lookupErr error
	updateErr error
	updates   int
}

func (f *failingStore) GetDeviceByExternalID(_ context.Context, deviceID string) (storage.Device, error) {
	if f.lookupErr != nil {
		return storage.Device{}, f.lookupErr
	}
	return storage.Device{ID: 1, DeviceID: deviceID}, nil
}

func (f *failingStore) UpdateDevice(_ context.Context, _ int64, _ storage.DevicePatch) (storage.Device, error) {
	f.updates++
	return storage.Device{}, f.updateErr
}

func TestSetStatusPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("disk on fire")

	lookup := &failingStore{lookupErr: boom}
	err := New(lookup).SetStatus(context.Background(), "D1", storage.StatusOnline, time.Now())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, lookup.updates)

	update := &failingStore{updateErr: boom}
	err = New(update).SetStatus(context.Background(), "D1", storage.StatusOnline, time.Now())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, update.updates)
}
