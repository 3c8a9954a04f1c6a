package relay

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    Identity
		wantErr bool
	}{
		{"device", "deviceId=IOS-1", DeviceIdentity("IOS-1"), false},
		{"admin", "userId=42", AdminIdentity(42), false},
		{"negative user", "userId=-3", AdminIdentity(-3), false},
		{"neither", "", Identity{}, true},
		{"empty values", "deviceId=&userId=", Identity{}, true},
		{"both", "deviceId=IOS-1&userId=42", Identity{}, true},
		{"non integer user", "userId=alice", Identity{}, true},
		{"fractional user", "userId=4.2", Identity{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := Classify(q)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnclassified)
				assert.Equal(t, Identity{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityString(t *testing.T) {
	assert.Equal(t, "device:D1", DeviceIdentity("D1").String())
	assert.Equal(t, "admin:7", AdminIdentity(7).String())
	assert.Equal(t, "unclassified", Identity{}.String())
	assert.Equal(t, "admin", RoleAdmin.String())
}
