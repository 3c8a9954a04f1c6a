package relay

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query parameters read by Classify.
const (
	ParamDeviceID = "deviceId"
	ParamUserID   = "userId"
)

// Role says which side of the relay a connection belongs to.
type Role int

const (
	RoleDevice Role = iota + 1
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "device"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Identity is the classified owner of a connection. DeviceID is set for
// RoleDevice and UserID for RoleAdmin.
type Identity struct {
	Role     Role
	DeviceID string
	UserID   int64
}

func DeviceIdentity(deviceID string) Identity {
	return Identity{Role: RoleDevice, DeviceID: deviceID}
}

func AdminIdentity(userID int64) Identity {
	return Identity{Role: RoleAdmin, UserID: userID}
}

func (id Identity) String() string {
	switch id.Role {
	case RoleDevice:
		return "device:" + id.DeviceID
	case RoleAdmin:
		return "admin:" + strconv.FormatInt(id.UserID, 10)
	default:
		return "unclassified"
	}
}

// Classify derives the connection identity from its query parameters.
// Exactly one of deviceId or userId must be present and userId must be a
// base-10 integer.
func Classify(params url.Values) (Identity, error) {
	deviceID := strings.TrimSpace(params.Get(ParamDeviceID))
	userID := strings.TrimSpace(params.Get(ParamUserID))

	switch {
	case deviceID != "" && userID != "":
		return Identity{}, fmt.Errorf("%w: both %s and %s given", ErrUnclassified, ParamDeviceID, ParamUserID)
	case deviceID != "":
		return DeviceIdentity(deviceID), nil
	case userID != "":
		uid, err := strconv.ParseInt(userID, 10, 64)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %s %q is not an integer", ErrUnclassified, ParamUserID, userID)
		}
		return AdminIdentity(uid), nil
	default:
		return Identity{}, fmt.Errorf("%w: missing %s or %s", ErrUnclassified, ParamDeviceID, ParamUserID)
	}
}
