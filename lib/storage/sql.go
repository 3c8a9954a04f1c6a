package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devrelay/devrelay/lib/util/logger"
	"github.com/samber/oops"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

type tenantModel struct {
	bun.BaseModel `bun:"table:tenants"`

	ID     int64  `bun:"id,pk,autoincrement"`
	Name   string `bun:"name,notnull"`
	Domain string `bun:"domain"`
	Plan   string `bun:"plan"`
}

type deviceModel struct {
	bun.BaseModel `bun:"table:devices"`

	ID             int64      `bun:"id,pk,autoincrement"`
	DeviceID       string     `bun:"device_id,notnull,unique"`
	Name           string     `bun:"name"`
	Model          string     `bun:"model"`
	Platform       string     `bun:"platform,notnull"`
	OSVersion      string     `bun:"os_version"`
	Status         string     `bun:"status"`
	LastSeen       *time.Time `bun:"last_seen"`
	EnrollmentDate *time.Time `bun:"enrollment_date"`
	UserID         *int64     `bun:"user_id"`
	TenantID       int64      `bun:"tenant_id,notnull"`
	Compliance     string     `bun:"compliance"`
}

type enrollmentTokenModel struct {
	bun.BaseModel `bun:"table:enrollment_tokens"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Token         string    `bun:"token,notnull,unique"`
	TenantID      int64     `bun:"tenant_id,notnull"`
	Platform      string    `bun:"platform,notnull"`
	AssignedGroup string    `bun:"assigned_group"`
	UserEmail     string    `bun:"user_email"`
	ExpiresAt     time.Time `bun:"expires_at,notnull"`
	Used          bool      `bun:"used,notnull"`
}

// SQLStore is the SQLite implementation of Store.
type SQLStore struct {
	db *bun.DB
}

// OpenSQLStore opens the SQLite database at dsn and creates any missing
// tables.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, oops.Errorf("sqlite storage requires a dsn")
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Wrapf(err, "open sqlite %q", dsn)
	}
	// every connection to :memory: is a separate database
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	s := &SQLStore{db: bun.NewDB(sqlDB, sqlitedialect.New())}
	if err := s.createSchema(ctx); err != nil {
		_ = s.db.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"at":  "storage.OpenSQLStore",
		"dsn": dsn,
	}).Info("sqlite_store_opened")
	return s, nil
}

func (s *SQLStore) createSchema(ctx context.Context) error {
	models := []interface{}{
		(*tenantModel)(nil),
		(*deviceModel)(nil),
		(*enrollmentTokenModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return oops.Wrapf(err, "create table for %T", m)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	if t.Plan == "" {
		t.Plan = "basic"
	}
	m := tenantModel{ID: t.ID, Name: t.Name, Domain: t.Domain, Plan: t.Plan}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if m.ID > 0 {
			exists, err := tx.NewSelect().Model((*tenantModel)(nil)).Where("id = ?", m.ID).Exists(ctx)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: tenant %d", ErrDuplicate, m.ID)
			}
		}
		_, err := tx.NewInsert().Model(&m).Returning("id").Exec(ctx)
		return err
	})
	if err != nil {
		return Tenant{}, wrapSQL(err, "insert tenant")
	}
	return tenantFromModel(m), nil
}

func (s *SQLStore) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	var m tenantModel
	if err := s.db.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return Tenant{}, notFound(err, fmt.Sprintf("tenant %d", id))
	}
	return tenantFromModel(m), nil
}

func (s *SQLStore) ListTenants(ctx context.Context) ([]Tenant, error) {
	var ms []tenantModel
	if err := s.db.NewSelect().Model(&ms).OrderExpr("id").Scan(ctx); err != nil {
		return nil, wrapSQL(err, "list tenants")
	}
	out := make([]Tenant, 0, len(ms))
	for _, m := range ms {
		out = append(out, tenantFromModel(m))
	}
	return out, nil
}

func (s *SQLStore) GetDevice(ctx context.Context, id int64) (Device, error) {
	var m deviceModel
	if err := s.db.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return Device{}, notFound(err, fmt.Sprintf("device %d", id))
	}
	return deviceFromModel(m), nil
}

func (s *SQLStore) GetDeviceByExternalID(ctx context.Context, deviceID string) (Device, error) {
	var m deviceModel
	if err := s.db.NewSelect().Model(&m).Where("device_id = ?", deviceID).Limit(1).Scan(ctx); err != nil {
		return Device{}, notFound(err, fmt.Sprintf("device %q", deviceID))
	}
	return deviceFromModel(m), nil
}

func (s *SQLStore) CreateDevice(ctx context.Context, d Device) (Device, error) {
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	d.applyDefaults()
	m := deviceToModel(d)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewSelect().Model((*deviceModel)(nil)).Where("device_id = ?", m.DeviceID)
		if m.ID > 0 {
			q = q.WhereOr("id = ?", m.ID)
		}
		exists, err := q.Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: device %q", ErrDuplicate, m.DeviceID)
		}
		_, err = tx.NewInsert().Model(&m).Returning("id").Exec(ctx)
		return err
	})
	if err != nil {
		return Device{}, wrapSQL(err, "insert device")
	}
	return deviceFromModel(m), nil
}

func (s *SQLStore) UpdateDevice(ctx context.Context, id int64, patch DevicePatch) (Device, error) {
	var out Device
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m deviceModel
		if err := tx.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return notFound(err, fmt.Sprintf("device %d", id))
		}
		d := deviceFromModel(m)
		patch.apply(&d)
		m = deviceToModel(d)
		if _, err := tx.NewUpdate().Model(&m).WherePK().Exec(ctx); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return Device{}, wrapSQL(err, "update device")
	}
	return out, nil
}

func (s *SQLStore) ListDevicesByTenant(ctx context.Context, tenantID int64) ([]Device, error) {
	return s.listDevices(ctx, "tenant_id = ?", tenantID)
}

func (s *SQLStore) ListDevicesByUser(ctx context.Context, userID int64) ([]Device, error) {
	return s.listDevices(ctx, "user_id = ?", userID)
}

func (s *SQLStore) listDevices(ctx context.Context, where string, arg interface{}) ([]Device, error) {
	var ms []deviceModel
	if err := s.db.NewSelect().Model(&ms).Where(where, arg).OrderExpr("id").Scan(ctx); err != nil {
		return nil, wrapSQL(err, "list devices")
	}
	out := make([]Device, 0, len(ms))
	for _, m := range ms {
		out = append(out, deviceFromModel(m))
	}
	return out, nil
}

func (s *SQLStore) CreateEnrollmentToken(ctx context.Context, t EnrollmentToken) (EnrollmentToken, error) {
	m := enrollmentTokenModel{
		ID:            t.ID,
		Token:         t.Token,
		TenantID:      t.TenantID,
		Platform:      t.Platform,
		AssignedGroup: t.AssignedGroup,
		UserEmail:     t.UserEmail,
		ExpiresAt:     t.ExpiresAt.UTC(),
		Used:          t.Used,
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*enrollmentTokenModel)(nil)).Where("token = ?", m.Token).Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: enrollment token", ErrDuplicate)
		}
		_, err = tx.NewInsert().Model(&m).Returning("id").Exec(ctx)
		return err
	})
	if err != nil {
		return EnrollmentToken{}, wrapSQL(err, "insert enrollment token")
	}
	return tokenFromModel(m), nil
}

func (s *SQLStore) GetEnrollmentToken(ctx context.Context, token string) (EnrollmentToken, error) {
	var m enrollmentTokenModel
	if err := s.db.NewSelect().Model(&m).Where("token = ?", token).Limit(1).Scan(ctx); err != nil {
		return EnrollmentToken{}, notFound(err, "enrollment token")
	}
	return tokenFromModel(m), nil
}

func (s *SQLStore) MarkEnrollmentTokenUsed(ctx context.Context, id int64) error {
	res, err := s.db.NewUpdate().Model((*enrollmentTokenModel)(nil)).
		Set("used = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return wrapSQL(err, "mark enrollment token used")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: enrollment token %d", ErrNotFound, id)
	}
	return nil
}

// notFound maps sql.ErrNoRows onto ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

// wrapSQL adds context to driver errors and passes sentinels through.
func wrapSQL(err error, op string) error {
	for _, sentinel := range []error{ErrNotFound, ErrDuplicate} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return oops.Wrapf(err, "%s", op)
}

func tenantFromModel(m tenantModel) Tenant {
	return Tenant{ID: m.ID, Name: m.Name, Domain: m.Domain, Plan: m.Plan}
}

func deviceToModel(d Device) deviceModel {
	return deviceModel{
		ID:             d.ID,
		DeviceID:       d.DeviceID,
		Name:           d.Name,
		Model:          d.Model,
		Platform:       d.Platform,
		OSVersion:      d.OSVersion,
		Status:         string(d.Status),
		LastSeen:       utcPtr(d.LastSeen),
		EnrollmentDate: utcPtr(d.EnrollmentDate),
		UserID:         d.UserID,
		TenantID:       d.TenantID,
		Compliance:     d.Compliance,
	}
}

func deviceFromModel(m deviceModel) Device {
	return copyDevice(Device{
		ID:             m.ID,
		DeviceID:       m.DeviceID,
		Name:           m.Name,
		Model:          m.Model,
		Platform:       m.Platform,
		OSVersion:      m.OSVersion,
		Status:         DeviceStatus(m.Status),
		LastSeen:       m.LastSeen,
		EnrollmentDate: m.EnrollmentDate,
		UserID:         m.UserID,
		TenantID:       m.TenantID,
		Compliance:     m.Compliance,
	})
}

func tokenFromModel(m enrollmentTokenModel) EnrollmentToken {
	return EnrollmentToken{
		ID:            m.ID,
		Token:         m.Token,
		TenantID:      m.TenantID,
		Platform:      m.Platform,
		AssignedGroup: m.AssignedGroup,
		UserEmail:     m.UserEmail,
		ExpiresAt:     m.ExpiresAt,
		Used:          m.Used,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
