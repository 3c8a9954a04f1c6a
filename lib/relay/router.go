package relay

import (
	"github.com/devrelay/devrelay/lib/envelope"
	"github.com/devrelay/devrelay/lib/util/logger"
)

// DispatchInbound parses one frame received from source and routes it.
// Nothing is reported back to the sender.
func (r *Relay) DispatchInbound(source Identity, raw []byte) {
	msg, err := envelope.Parse(raw)
	if err != nil {
		r.recorder.FrameDropped(DropMalformed)
		log.WithFields(logger.Fields{
			"at":       "relay.Relay.DispatchInbound",
			"identity": source.String(),
			"bytes":    len(raw),
			"reason":   err.Error(),
		}).Warn("malformed_frame_dropped")
		return
	}

	switch m := msg.(type) {
	case envelope.RemoteControl:
		if source.Role == RoleAdmin {
			r.routeCommand(source, m)
			return
		}
	case envelope.RemoteControlResponse:
		if source.Role == RoleDevice {
			r.broadcastResponse(source, m)
			return
		}
	}
	r.ignore(source, msg)
}

// ignore drops unknown types and frames sent in the wrong direction.
func (r *Relay) ignore(source Identity, msg envelope.Message) {
	r.recorder.FrameDropped(DropUnknownType)
	log.WithFields(logger.Fields{
		"at":       "relay.Relay.DispatchInbound",
		"identity": source.String(),
		"type":     string(msg.Type()),
	}).Debug("frame_ignored")
}

func (r *Relay) routeCommand(source Identity, m envelope.RemoteControl) {
	fields := logger.Fields{
		"at":        "relay.Relay.routeCommand",
		"user_id":   source.UserID,
		"device_id": m.DeviceID,
		"command":   m.Command.String(),
	}

	target, ok := r.registry.LookupDevice(m.DeviceID)
	if !ok {
		r.recorder.FrameDropped(DropDeviceNotConnected)
		log.WithFields(fields).Debug("command_dropped_device_not_connected")
		return
	}

	out, err := envelope.CommandFor(m, source.UserID).Marshal()
	if err != nil {
		r.recorder.FrameDropped(DropEncode)
		log.WithFields(fields).WithError(err).Error("command_encode_failed")
		return
	}

	if !target.Send(out) {
		r.recorder.FrameDropped(DropDeviceNotWritable)
		log.WithFields(fields).Debug("command_dropped_device_not_writable")
		return
	}
	r.recorder.FrameRelayed(string(envelope.TypeRemoteControlCommand))
	log.WithFields(fields).Debug("command_relayed")
}

// broadcastResponse fans a device response out to every administrator
// session, whichever administrator issued the command.
func (r *Relay) broadcastResponse(source Identity, m envelope.RemoteControlResponse) {
	m.DeviceID = source.DeviceID
	fields := logger.Fields{
		"at":        "relay.Relay.broadcastResponse",
		"device_id": source.DeviceID,
		"command":   m.Command.String(),
	}

	out, err := m.Marshal()
	if err != nil {
		r.recorder.FrameDropped(DropEncode)
		log.WithFields(fields).WithError(err).Error("response_encode_failed")
		return
	}

	admins := r.registry.AdminHandles()
	delivered := 0
	for _, h := range admins {
		if h.Send(out) {
			delivered++
			r.recorder.FrameRelayed(string(envelope.TypeRemoteControlResponse))
			continue
		}
		r.recorder.FrameDropped(DropAdminNotWritable)
	}

	log.WithFields(fields).WithFields(logger.Fields{
		"admins":    len(admins),
		"delivered": delivered,
	}).Debug("response_broadcast")
}
