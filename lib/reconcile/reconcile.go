// Package reconcile mirrors connection lifecycle into persisted device
// status.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/devrelay/devrelay/lib/storage"
	"github.com/devrelay/devrelay/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetDevRelayLogger()

// Store is the slice of storage the Reconciler needs.
type Store interface {
	GetDeviceByExternalID(ctx context.Context, deviceID string) (storage.Device, error)
	UpdateDevice(ctx context.Context, id int64, patch storage.DevicePatch) (storage.Device, error)
}

// Reconciler holds no connection state; every call is a read and a write
// against the store.
type Reconciler struct {
	store Store
}

func New(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// SetStatus records status and observedAt as the device's lastSeen. A
// device the store does not know is ignored.
func (r *Reconciler) SetStatus(ctx context.Context, deviceID string, status storage.DeviceStatus, observedAt time.Time) error {
	dev, err := r.store.GetDeviceByExternalID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.WithFields(logger.Fields{
				"at":        "reconcile.Reconciler.SetStatus",
				"device_id": deviceID,
				"status":    status,
			}).Debug("status_skipped_unknown_device")
			return nil
		}
		return oops.Wrapf(err, "lookup device %q", deviceID)
	}

	if _, err := r.store.UpdateDevice(ctx, dev.ID, storage.DevicePatch{
		Status:   &status,
		LastSeen: &observedAt,
	}); err != nil {
		return oops.Wrapf(err, "update status of device %q", deviceID)
	}

	log.WithFields(logger.Fields{
		"at":        "reconcile.Reconciler.SetStatus",
		"device_id": deviceID,
		"status":    status,
	}).Debug("device_status_updated")
	return nil
}
