package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/samber/oops"
)

// Type is the value of a frame's "type" discriminator.
type Type string

const (
	TypeRemoteControl         Type = "remote_control"          // admin -> relay
	TypeRemoteControlCommand  Type = "remote_control_command"  // relay -> device
	TypeRemoteControlResponse Type = "remote_control_response" // device -> relay -> admin
)

// wire field names
const (
	fieldType     = "type"
	fieldDeviceID = "deviceId"
	fieldCommand  = "command"
	fieldParams   = "params"
	fieldUserID   = "userId"
)

// Command is the raw JSON value of a frame's "command" field. The relay
// forwards it untouched whatever its JSON type.
type Command json.RawMessage

// TextCommand returns the Command for the JSON string s.
func TextCommand(s string) Command {
	b, _ := json.Marshal(s)
	return Command(b)
}

// String returns the command name for a JSON string and the raw JSON text
// otherwise.
func (c Command) String() string {
	var s string
	if err := json.Unmarshal(c, &s); err == nil {
		return s
	}
	return string(c)
}

func (c Command) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

// Message is one decoded frame. The set of implementations is closed.
type Message interface {
	Type() Type
	isMessage()
}

// RemoteControl asks the relay to forward a command to DeviceID.
type RemoteControl struct {
	DeviceID string
	Command  Command
	Params   json.RawMessage
}

// RemoteControlResponse is a device's answer to a remote-control command.
// Extra holds any top-level fields besides type, deviceId, command and
// params so they reach administrators untouched.
type RemoteControlResponse struct {
	DeviceID string
	Command  Command
	Params   json.RawMessage
	Extra    map[string]json.RawMessage
}

// RemoteControlCommand is what a device receives for a RemoteControl.
type RemoteControlCommand struct {
	Command Command
	Params  json.RawMessage
	UserID  int64
}

// Unknown is any frame whose type the relay does not handle.
type Unknown struct {
	Name string
}

func (RemoteControl) Type() Type         { return TypeRemoteControl }
func (RemoteControlResponse) Type() Type { return TypeRemoteControlResponse }
func (RemoteControlCommand) Type() Type  { return TypeRemoteControlCommand }
func (u Unknown) Type() Type             { return Type(u.Name) }

func (RemoteControl) isMessage()         {}
func (RemoteControlResponse) isMessage() {}
func (RemoteControlCommand) isMessage()  {}
func (Unknown) isMessage()               {}

// Parse decodes one inbound frame. Errors wrap ErrMalformed or
// ErrMissingDeviceID; an unrecognised type is not an error.
func Parse(raw []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var typ string
	if err := decodeString(fields, fieldType, &typ); err != nil || typ == "" {
		return nil, fmt.Errorf("%w: missing or invalid %q", ErrMalformed, fieldType)
	}

	switch Type(typ) {
	case TypeRemoteControl:
		return parseRemoteControl(fields)
	case TypeRemoteControlResponse:
		return parseResponse(fields)
	default:
		return Unknown{Name: typ}, nil
	}
}

func parseRemoteControl(fields map[string]json.RawMessage) (Message, error) {
	var msg RemoteControl
	if err := decodeString(fields, fieldDeviceID, &msg.DeviceID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.DeviceID == "" {
		return nil, ErrMissingDeviceID
	}
	msg.Command = rawField(fields, fieldCommand)
	msg.Params = rawField(fields, fieldParams)
	return msg, nil
}

func parseResponse(fields map[string]json.RawMessage) (Message, error) {
	var msg RemoteControlResponse
	if err := decodeString(fields, fieldDeviceID, &msg.DeviceID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg.Command = rawField(fields, fieldCommand)
	msg.Params = rawField(fields, fieldParams)

	for k, v := range fields {
		switch k {
		case fieldType, fieldDeviceID, fieldCommand, fieldParams:
			continue
		}
		if msg.Extra == nil {
			msg.Extra = make(map[string]json.RawMessage)
		}
		msg.Extra[k] = v
	}
	return msg, nil
}

// rawField returns the field's JSON value, nil when absent or null.
func rawField(fields map[string]json.RawMessage, key string) []byte {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	return raw
}

// decodeString reads an optional string field. Absent and null leave dst
// unchanged; any other non-string value is an error.
func decodeString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return oops.Errorf("field %q is not a string", key)
	}
	return nil
}

type commandFrame struct {
	Type    Type            `json:"type"`
	Command Command         `json:"command,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	UserID  int64           `json:"userId"`
}

// Marshal encodes the command for delivery to a device.
func (c RemoteControlCommand) Marshal() ([]byte, error) {
	out, err := json.Marshal(commandFrame{
		Type:    TypeRemoteControlCommand,
		Command: c.Command,
		Params:  c.Params,
		UserID:  c.UserID,
	})
	if err != nil {
		return nil, oops.Wrapf(err, "encode %s", TypeRemoteControlCommand)
	}
	return out, nil
}

// Marshal encodes the response for delivery to administrators. DeviceID
// always wins over any deviceId the device put in Extra.
func (r RemoteControlResponse) Marshal() ([]byte, error) {
	frame := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		frame[k] = v
	}
	frame[fieldType] = TypeRemoteControlResponse
	frame[fieldDeviceID] = r.DeviceID
	if len(r.Command) > 0 {
		frame[fieldCommand] = json.RawMessage(r.Command)
	}
	if len(r.Params) > 0 {
		frame[fieldParams] = r.Params
	}
	out, err := json.Marshal(frame)
	if err != nil {
		return nil, oops.Wrapf(err, "encode %s", TypeRemoteControlResponse)
	}
	return out, nil
}

// CommandFor builds the device-bound command for a RemoteControl sent by
// the administrator userID.
func CommandFor(rc RemoteControl, userID int64) RemoteControlCommand {
	return RemoteControlCommand{
		Command: rc.Command,
		Params:  rc.Params,
		UserID:  userID,
	}
}
