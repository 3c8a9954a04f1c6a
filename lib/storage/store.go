package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/devrelay/devrelay/lib/util/logger"
)

var log = logger.GetDevRelayLogger()

// Storage driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type DeviceStore interface {
	GetDevice(ctx context.Context, id int64) (Device, error)
	GetDeviceByExternalID(ctx context.Context, deviceID string) (Device, error)
	CreateDevice(ctx context.Context, d Device) (Device, error)
	UpdateDevice(ctx context.Context, id int64, patch DevicePatch) (Device, error)
	ListDevicesByTenant(ctx context.Context, tenantID int64) ([]Device, error)
	ListDevicesByUser(ctx context.Context, userID int64) ([]Device, error)
}

type TenantStore interface {
	CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
	GetTenant(ctx context.Context, id int64) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
}

type EnrollmentStore interface {
	CreateEnrollmentToken(ctx context.Context, t EnrollmentToken) (EnrollmentToken, error)
	GetEnrollmentToken(ctx context.Context, token string) (EnrollmentToken, error)
	MarkEnrollmentTokenUsed(ctx context.Context, id int64) error
}

// Store is the full persistence surface used by the server.
type Store interface {
	DeviceStore
	TenantStore
	EnrollmentStore
	Close() error
}

// Open returns the store for driver. dsn is ignored by the memory driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	log.WithFields(logger.Fields{
		"at":     "storage.Open",
		"driver": driver,
	}).Debug("opening_store")

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
