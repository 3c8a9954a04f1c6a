package envelope

import "errors"

var (
	// ErrMalformed marks a frame that is not a JSON object with a string
	// "type" field.
	ErrMalformed = errors.New("malformed frame")

	// ErrMissingDeviceID marks a remote_control frame with no target device.
	ErrMissingDeviceID = errors.New("remote_control frame has no deviceId")
)
