package wsconn

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/devrelay/devrelay/lib/relay"
	"github.com/devrelay/devrelay/lib/util/logger"
	"github.com/gorilla/websocket"
)

// Upgrade rejection reasons passed to Options.OnReject.
const (
	RejectOrigin       = "origin_not_allowed"
	RejectUnclassified = "unclassified"
	RejectUpgrade      = "upgrade_failed"
	RejectShuttingDown = "shutting_down"
)

// Acceptor serves a classified connection until it closes.
// *relay.Relay implements it.
type Acceptor interface {
	Serve(ctx context.Context, id relay.Identity, conn relay.Conn)
}

type Options struct {
	// AllowedOrigins lists scheme://host values browsers may connect from.
	// Empty allows every origin. Requests without an Origin header are
	// always allowed.
	AllowedOrigins []string
	SendBuffer     int
	MaxFrameBytes  int64
	WriteWait      time.Duration

	// Context bounds every served connection. Defaults to Background.
	Context context.Context

	OnReject func(reason string)
}

// Handler upgrades classified requests and serves them with an Acceptor.
type Handler struct {
	acceptor Acceptor
	opts     Options
	upgrader websocket.Upgrader

	// mu orders wg.Add against Wait; once closing is set no new
	// connection is tracked.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func NewHandler(acceptor Acceptor, opts Options) *Handler {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &Handler{
		acceptor: acceptor,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// checked in ServeHTTP against AllowedOrigins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := logger.Fields{
		"at":     "wsconn.Handler.ServeHTTP",
		"remote": r.RemoteAddr,
	}

	if !h.originAllowed(r.Header.Get("Origin")) {
		h.reject(RejectOrigin)
		log.WithFields(fields).WithField("origin", r.Header.Get("Origin")).Warn("upgrade_rejected_origin")
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	id, err := relay.Classify(r.URL.Query())
	if err != nil {
		h.reject(RejectUnclassified)
		log.WithFields(fields).WithField("reason", err.Error()).Info("upgrade_rejected_unclassified")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.track() {
		h.reject(RejectShuttingDown)
		log.WithFields(fields).Info("upgrade_rejected_shutting_down")
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.reject(RejectUpgrade)
		log.WithFields(fields).WithField("reason", err.Error()).Info("upgrade_failed")
		return
	}

	conn := newConn(ws, h.opts.SendBuffer, h.opts.WriteWait, h.opts.MaxFrameBytes)
	log.WithFields(fields).WithFields(logger.Fields{
		"conn_id":  conn.ID(),
		"identity": id.String(),
	}).Debug("connection_upgraded")

	h.acceptor.Serve(h.opts.Context, id, conn)
}

// track reserves a wait slot for one request, or reports false once Wait
// has been called.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

// Wait stops h from accepting further upgrades and blocks until every
// connection it served has been torn down or ctx ends.
func (h *Handler) Wait(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) reject(reason string) {
	if h.opts.OnReject != nil {
		h.opts.OnReject(reason)
	}
}

// originAllowed compares scheme and host exactly; prefixes never match.
func (h *Handler) originAllowed(origin string) bool {
	if len(h.opts.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	o, err := url.Parse(origin)
	if err != nil || o.Scheme == "" || o.Host == "" {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		a, err := url.Parse(allowed)
		if err != nil || a.Scheme == "" || a.Host == "" {
			continue
		}
		if o.Scheme == a.Scheme && o.Host == a.Host {
			return true
		}
	}
	return false
}
