package relay

import (
	"context"
	"fmt"

	"github.com/devrelay/devrelay/lib/storage"
	"github.com/devrelay/devrelay/lib/util/logger"
)

// Serve runs one classified connection until its transport fails or ctx
// ends, then deregisters it. Teardown has finished when Serve returns.
func (r *Relay) Serve(ctx context.Context, id Identity, conn Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r.register(ctx, id, conn)
	defer r.teardown(context.WithoutCancel(ctx), id, conn)

	r.readLoop(id, conn)
}

func (r *Relay) register(ctx context.Context, id Identity, conn Conn) {
	switch id.Role {
	case RoleDevice:
		r.registerDevice(ctx, id.DeviceID, conn)
	case RoleAdmin:
		r.registry.RegisterAdmin(id.UserID, conn)
	}
	r.recorder.ConnectionOpened(id.Role)

	log.WithFields(logger.Fields{
		"at":       "relay.Relay.Serve",
		"identity": id.String(),
		"conn_id":  conn.ID(),
	}).Info("connection_registered")
}

// teardown must only mark a device offline when this connection was still
// the registered one; a superseded connection leaves the status alone. The
// device lock keeps a reconnect from registering between the unregister
// and the offline write.
func (r *Relay) teardown(ctx context.Context, id Identity, conn Conn) {
	removed := false
	switch id.Role {
	case RoleDevice:
		removed = r.unregisterDevice(ctx, id.DeviceID, conn)
	case RoleAdmin:
		removed = r.registry.UnregisterAdmin(id.UserID, conn)
	}
	_ = conn.Close()
	r.recorder.ConnectionClosed(id.Role)

	log.WithFields(logger.Fields{
		"at":       "relay.Relay.teardown",
		"identity": id.String(),
		"conn_id":  conn.ID(),
		"removed":  removed,
	}).Info("connection_closed")
}

func (r *Relay) registerDevice(ctx context.Context, deviceID string, conn Conn) {
	defer r.devices.lock(deviceID)()
	r.registry.RegisterDevice(deviceID, conn)
	r.setStatus(ctx, deviceID, storage.StatusOnline)
}

func (r *Relay) unregisterDevice(ctx context.Context, deviceID string, conn Conn) bool {
	defer r.devices.lock(deviceID)()
	if !r.registry.UnregisterDevice(deviceID, conn) {
		return false
	}
	r.setStatus(ctx, deviceID, storage.StatusOffline)
	return true
}

func (r *Relay) setStatus(ctx context.Context, deviceID string, status storage.DeviceStatus) {
	if r.status == nil {
		return
	}
	if err := r.status.SetStatus(ctx, deviceID, status, r.now()); err != nil {
		log.WithFields(logger.Fields{
			"at":        "relay.Relay.setStatus",
			"device_id": deviceID,
			"status":    status,
			"reason":    err.Error(),
		}).Error("device_status_update_failed")
	}
}

func (r *Relay) readLoop(id Identity, conn Conn) {
	limiter := r.newLimiter()
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			log.WithFields(logger.Fields{
				"at":       "relay.Relay.readLoop",
				"identity": id.String(),
				"conn_id":  conn.ID(),
				"reason":   err.Error(),
			}).Debug("connection_read_ended")
			return
		}
		r.recorder.FrameReceived(id.Role)

		if limiter != nil && !limiter.Allow() {
			r.recorder.FrameDropped(DropRateLimited)
			log.WithFields(logger.Fields{
				"at":       "relay.Relay.readLoop",
				"identity": id.String(),
				"conn_id":  conn.ID(),
			}).Warn("connection_rate_limit_exceeded")
			continue
		}
		r.dispatchRecovered(id, raw)
	}
}

// dispatchRecovered keeps a panic in routing from ending the connection.
func (r *Relay) dispatchRecovered(id Identity, raw []byte) {
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(logger.Fields{
				"at":       "relay.Relay.dispatchRecovered",
				"identity": id.String(),
				"panic":    fmt.Sprint(p),
			}).Error("panic_in_dispatch")
		}
	}()
	r.DispatchInbound(id, raw)
}
