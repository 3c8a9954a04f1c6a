package storage

import (
	"fmt"
	"strings"
	"time"
)

// DeviceStatus is the connection-derived status of a device.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
	StatusWarning DeviceStatus = "warning"
)

// Compliance levels reported for a device.
const (
	ComplianceCompliant    = "compliant"
	ComplianceWarning      = "warning"
	ComplianceNonCompliant = "non-compliant"
)

// Supported device platforms.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformIPadOS  = "ipados"
)

// ValidPlatform reports whether p names a supported platform.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformIPadOS:
		return true
	}
	return false
}

type Tenant struct {
	ID     int64  `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Domain string `json:"domain,omitempty" yaml:"domain"`
	Plan   string `json:"plan" yaml:"plan"`
}

// Device is an enrolled device. ID is the store-assigned key; DeviceID is
// the identifier the device presents when it connects.
type Device struct {
	ID             int64        `json:"id" yaml:"id"`
	DeviceID       string       `json:"deviceId" yaml:"deviceId"`
	Name           string       `json:"name,omitempty" yaml:"name"`
	Model          string       `json:"model,omitempty" yaml:"model"`
	Platform       string       `json:"platform" yaml:"platform"`
	OSVersion      string       `json:"osVersion,omitempty" yaml:"osVersion"`
	Status         DeviceStatus `json:"status" yaml:"status"`
	LastSeen       *time.Time   `json:"lastSeen,omitempty" yaml:"lastSeen"`
	EnrollmentDate *time.Time   `json:"enrollmentDate,omitempty" yaml:"enrollmentDate"`
	UserID         *int64       `json:"userId,omitempty" yaml:"userId"`
	TenantID       int64        `json:"tenantId" yaml:"tenantId"`
	Compliance     string       `json:"compliance" yaml:"compliance"`
}

// Validate checks the fields a new device must carry.
func (d Device) Validate() error {
	if strings.TrimSpace(d.DeviceID) == "" {
		return fmt.Errorf("device: deviceId is required")
	}
	if !ValidPlatform(d.Platform) {
		return fmt.Errorf("%w: %q", ErrInvalidPlatform, d.Platform)
	}
	return nil
}

func (d *Device) applyDefaults() {
	if d.Status == "" {
		d.Status = StatusOffline
	}
	if d.Compliance == "" {
		d.Compliance = ComplianceCompliant
	}
}

// DevicePatch lists the fields UpdateDevice may change. Nil fields are left
// as they are.
type DevicePatch struct {
	Status     *DeviceStatus
	LastSeen   *time.Time
	Compliance *string
	UserID     *int64
}

func (p DevicePatch) apply(d *Device) {
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.LastSeen != nil {
		t := *p.LastSeen
		d.LastSeen = &t
	}
	if p.Compliance != nil {
		d.Compliance = *p.Compliance
	}
	if p.UserID != nil {
		u := *p.UserID
		d.UserID = &u
	}
}

type EnrollmentToken struct {
	ID            int64     `json:"id"`
	Token         string    `json:"token"`
	TenantID      int64     `json:"tenantId"`
	Platform      string    `json:"platform"`
	AssignedGroup string    `json:"assignedGroup,omitempty"`
	UserEmail     string    `json:"userEmail,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Used          bool      `json:"used"`
}

// Usable returns ErrTokenUsed or ErrTokenExpired when the token can no
// longer enroll a device at now.
func (t EnrollmentToken) Usable(now time.Time) error {
	if t.Used {
		return ErrTokenUsed
	}
	if t.ExpiresAt.Before(now) {
		return ErrTokenExpired
	}
	return nil
}
