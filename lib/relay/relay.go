package relay

import (
	"context"
	"time"

	"github.com/devrelay/devrelay/lib/registry"
	"github.com/devrelay/devrelay/lib/storage"
	"github.com/devrelay/devrelay/lib/util/logger"
	"golang.org/x/time/rate"
)

var log = logger.GetDevRelayLogger()

// StatusSetter persists device status changes. reconcile.Reconciler is the
// production implementation.
type StatusSetter interface {
	SetStatus(ctx context.Context, deviceID string, status storage.DeviceStatus, observedAt time.Time) error
}

// Conn is a live transport connection as seen by Serve.
type Conn interface {
	registry.Handle

	// ReadFrame blocks until the next inbound frame arrives. Any error ends
	// the connection.
	ReadFrame() ([]byte, error)
}

// Options tunes a Relay. The zero value is usable.
type Options struct {
	// RateLimit caps inbound frames per second on each connection. Frames
	// over the limit are dropped. Zero disables limiting.
	RateLimit float64
	// RateBurst is the limiter's bucket size; values below 1 mean 1.
	RateBurst int

	Recorder Recorder
	Now      func() time.Time
}

// Relay routes frames between the connections held in a registry.Registry.
type Relay struct {
	registry *registry.Registry
	status   StatusSetter
	recorder Recorder
	now      func() time.Time

	rateLimit rate.Limit
	rateBurst int

	devices deviceLocks
}

func New(reg *registry.Registry, status StatusSetter, opts Options) *Relay {
	r := &Relay{
		registry:  reg,
		status:    status,
		recorder:  opts.Recorder,
		now:       opts.Now,
		rateLimit: rate.Limit(opts.RateLimit),
		rateBurst: opts.RateBurst,
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.rateBurst < 1 {
		r.rateBurst = 1
	}
	return r
}

// Registry returns the registry the relay routes through.
func (r *Relay) Registry() *registry.Registry {
	return r.registry
}

// newLimiter returns nil when rate limiting is off.
func (r *Relay) newLimiter() *rate.Limiter {
	if r.rateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(r.rateLimit, r.rateBurst)
}
