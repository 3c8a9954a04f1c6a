// Package server assembles a running devrelay process from a Config: the
// store, the connection registry, the relay, the WebSocket endpoint and the
// HTTP API.
package server

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/devrelay/devrelay/lib/api"
	"github.com/devrelay/devrelay/lib/config"
	"github.com/devrelay/devrelay/lib/metrics"
	"github.com/devrelay/devrelay/lib/reconcile"
	"github.com/devrelay/devrelay/lib/registry"
	"github.com/devrelay/devrelay/lib/relay"
	"github.com/devrelay/devrelay/lib/storage"
	"github.com/devrelay/devrelay/lib/transport/wsconn"
	"github.com/devrelay/devrelay/lib/util/logger"
)

var log = logger.GetDevRelayLogger()

// Server owns every long-lived component of the process.
type Server struct {
	cfg *config.Config

	store    storage.Store
	registry *registry.Registry
	metrics  *metrics.Metrics
	relay    *relay.Relay
	ws       *wsconn.Handler
	api      *api.Server

	// connCtx bounds every served connection; cancelled by Stop.
	connCtx    context.Context
	cancelConn context.CancelFunc

	runMux    sync.Mutex
	running   bool
	stopped   bool
	closeChnl chan struct{}

	// failed receives the first error that ends serving early.
	failed chan error
}

// CreateServer validates cfg, opens the store (seeding it when configured)
// and wires the components together. Nothing listens until Start.
func CreateServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, oops.Errorf("server: config cannot be nil")
	}
	if err := config.Validate(*cfg); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, oops.Wrapf(err, "open store")
	}
	if cfg.Storage.SeedFile != "" {
		if err := storage.Seed(ctx, store, cfg.Storage.SeedFile); err != nil {
			store.Close()
			return nil, err
		}
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		registry:  registry.New(),
		metrics:   metrics.New(),
		closeChnl: make(chan struct{}),
		failed:    make(chan error, 1),
	}
	s.connCtx, s.cancelConn = context.WithCancel(context.Background())

	s.relay = relay.New(s.registry, reconcile.New(store), relay.Options{
		RateLimit: cfg.Relay.RateLimit,
		RateBurst: cfg.Relay.RateBurst,
		Recorder:  s.metrics,
	})
	s.ws = wsconn.NewHandler(s.relay, wsconn.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendBuffer:     cfg.Relay.SendBuffer,
		MaxFrameBytes:  cfg.Relay.MaxFrameBytes,
		WriteWait:      cfg.Relay.WriteWait,
		Context:        s.connCtx,
		OnReject:       s.metrics.UpgradeRejected,
	})

	s.api, err = api.NewServer(store, s.registry, api.Options{
		Addr:         cfg.Server.ListenAddr,
		WSPath:       cfg.Server.WSPath,
		WS:           s.ws,
		Metrics:      s.metrics.Handler(),
		OnServeError: s.serveFailed,
	})
	if err != nil {
		s.cancelConn()
		store.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"at":      "server.CreateServer",
		"driver":  cfg.Storage.Driver,
		"address": cfg.Server.ListenAddr,
	}).Debug("server_created")
	return s, nil
}

// Start begins serving HTTP and WebSocket traffic.
func (s *Server) Start() error {
	s.runMux.Lock()
	defer s.runMux.Unlock()

	if s.running {
		return oops.Errorf("server: already running")
	}
	if s.stopped {
		return oops.Errorf("server: cannot restart a stopped server")
	}
	if err := s.api.Start(); err != nil {
		return err
	}
	s.running = true
	log.WithFields(logger.Fields{
		"at":      "server.Server.Start",
		"address": s.api.Addr(),
	}).Info("devrelay_started")
	return nil
}

// Failed delivers the error when the HTTP server stops serving on its
// own. It never fires after a clean Stop.
func (s *Server) Failed() <-chan error {
	return s.failed
}

func (s *Server) serveFailed(err error) {
	select {
	case s.failed <- err:
	default:
	}
}

// Addr is the bound HTTP address.
func (s *Server) Addr() string {
	return s.api.Addr()
}

// Registry exposes the live connection tables.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Store exposes the persistence layer.
func (s *Server) Store() storage.Store {
	return s.store
}

// Stop shuts the server down within ctx: the listener stops accepting,
// every connection is closed and each connection's teardown is allowed to
// finish so devices end up offline. Calling Stop more than once is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.runMux.Lock()
	if s.stopped {
		s.runMux.Unlock()
		return nil
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	s.runMux.Unlock()

	defer close(s.closeChnl)

	var firstErr error
	if wasRunning {
		if err := s.api.Stop(ctx); err != nil {
			firstErr = err
		}
	}

	s.registry.CloseAll()
	s.cancelConn()

	if err := s.ws.Wait(ctx); err != nil {
		log.WithFields(logger.Fields{
			"at":     "server.Server.Stop",
			"reason": err.Error(),
			"counts": s.registry.Counts(),
		}).Warn("connections_still_draining")
		if firstErr == nil {
			firstErr = oops.Wrapf(err, "drain connections")
		}
	}

	log.WithFields(logger.Fields{
		"at": "server.Server.Stop",
	}).Info("devrelay_stopped")
	return firstErr
}

// Wait blocks until Stop has finished.
func (s *Server) Wait() {
	<-s.closeChnl
}

// Close releases the store. Call it after Stop.
func (s *Server) Close() error {
	if err := s.store.Close(); err != nil {
		return oops.Wrapf(err, "close store")
	}
	return nil
}

// ApplyConfig picks up settings that can change without a restart. Only
// the log level qualifies today.
func (s *Server) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	logger.SetLevelName(cfg.Log.Level)
	log.WithFields(logger.Fields{
		"at":    "server.Server.ApplyConfig",
		"level": cfg.Log.Level,
	}).Info("config_applied")
}
