package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/devrelay/devrelay/lib/registry"
	"github.com/devrelay/devrelay/lib/storage"
	"github.com/devrelay/devrelay/lib/util/logger"
)

var log = logger.GetDevRelayLogger()

// Options configures a Server. Zero values select the defaults noted on
// each field.
type Options struct {
	// Addr is the TCP listen address. Default ":8080".
	Addr string

	// WSPath is where WS is mounted. Default "/ws".
	WSPath string

	// WS serves the WebSocket upgrade endpoint. Not mounted when nil.
	WS http.Handler

	// Metrics serves /metrics. Not mounted when nil.
	Metrics http.Handler

	// TokenTTL is the lifetime of issued enrollment tokens. Default 24h.
	TokenTTL time.Duration

	// Now is the clock used for enrollment. Default time.Now.
	Now func() time.Time

	// OnServeError is called when serving stops for any reason other
	// than Stop.
	OnServeError func(error)
}

// Server is the devrelay HTTP server.
type Server struct {
	store    storage.Store
	registry *registry.Registry
	opts     Options

	router     chi.Router
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds the router and HTTP server. It does not listen until
// Start is called.
func NewServer(store storage.Store, reg *registry.Registry, opts Options) (*Server, error) {
	if store == nil {
		return nil, oops.Errorf("api: store cannot be nil")
	}
	if reg == nil {
		return nil, oops.Errorf("api: registry cannot be nil")
	}
	applyDefaults(&opts)

	s := &Server{
		store:    store,
		registry: reg,
		opts:     opts,
	}
	s.router = s.buildRouter()
	s.httpServer = createHTTPServer(opts.Addr, s.router)
	return s, nil
}

func applyDefaults(opts *Options) {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
}

// createHTTPServer sets timeouts for the REST routes only. Upgraded
// connections are hijacked and outlive them.
func createHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	if s.opts.WS != nil {
		r.Method(http.MethodGet, s.opts.WSPath, s.opts.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/connections", s.handleConnections)
		r.Get("/tenants", s.handleTenants)
		r.Get("/devices", s.handleDevices)
		r.Get("/devices/{id}", s.handleDevice)

		r.Route("/enrollment", func(r chi.Router) {
			r.Post("/token", s.handleCreateToken)
			r.Get("/validate/{token}", s.handleValidateToken)
			r.Post("/enroll", s.handleEnroll)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// Handler returns the router, for mounting under another server or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in a background goroutine.
// Bind errors are returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return oops.Wrapf(err, "api: listen on %s", s.opts.Addr)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":      "api.Server.Start",
		"address": ln.Addr().String(),
		"ws_path": s.opts.WSPath,
	}).Info("http_server_starting")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(logger.Fields{
				"at":     "api.Server.Start",
				"reason": err.Error(),
			}).Warn("http_server_failed")
			if s.opts.OnServeError != nil {
				s.opts.OnServeError(err)
			}
		}
	}()
	return nil
}

// Addr is the bound address once Start has succeeded, otherwise the
// configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Stop stops accepting requests and waits for in-flight REST requests until
// ctx is done. Hijacked WebSocket connections are not tracked here.
func (s *Server) Stop(ctx context.Context) error {
	log.WithFields(logger.Fields{
		"at": "api.Server.Stop",
	}).Info("http_server_stopping")

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return oops.Wrapf(err, "api: shutdown")
	}

	log.WithFields(logger.Fields{
		"at": "api.Server.Stop",
	}).Info("http_server_stopped")
	return nil
}
