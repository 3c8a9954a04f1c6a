package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/devrelay/devrelay/lib/util/logger"
)

// Viper keys.
const (
	KeyListenAddr      = "server.listen_addr"
	KeyWSPath          = "server.ws_path"
	KeyAllowedOrigins  = "server.allowed_origins"
	KeyShutdownTimeout = "server.shutdown_timeout"

	KeySendBuffer    = "relay.send_buffer"
	KeyMaxFrameBytes = "relay.max_frame_bytes"
	KeyRateLimit     = "relay.rate_limit"
	KeyRateBurst     = "relay.rate_burst"
	KeyWriteWait     = "relay.write_wait"

	KeyStorageDriver = "storage.driver"
	KeyStorageDSN    = "storage.dsn"
	KeySeedFile      = "storage.seed_file"

	KeyLogLevel = "log.level"
)

// Config is the complete devrelay configuration.
type Config struct {
	Server  ServerConfig
	Relay   RelayConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	// ListenAddr is the HTTP listen address.
	// Default: ":8080"
	ListenAddr string

	// WSPath is where the WebSocket upgrade endpoint is mounted.
	// Default: "/ws"
	WSPath string

	// AllowedOrigins restricts browser origins on the upgrade endpoint.
	// Default: empty, every origin allowed
	AllowedOrigins []string

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10 seconds
	ShutdownTimeout time.Duration
}

type RelayConfig struct {
	// SendBuffer is the outbound queue length per connection.
	// Default: 64
	SendBuffer int

	// MaxFrameBytes is the largest inbound frame accepted.
	// Default: 1 MiB
	MaxFrameBytes int64

	// RateLimit is inbound frames per second per connection, 0 to disable.
	// Default: 200
	RateLimit float64

	// RateBurst is the rate limiter bucket size.
	// Default: 400
	RateBurst int

	// WriteWait bounds a single frame write.
	// Default: 10 seconds
	WriteWait time.Duration
}

type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	// Default: "memory"
	Driver string

	// DSN is the database location for the sqlite driver.
	DSN string

	// SeedFile is an optional YAML fixture loaded at startup.
	SeedFile string
}

type LogConfig struct {
	// Level overrides DEBUG_DEVRELAY when set.
	Level string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			WSPath:          "/ws",
			AllowedOrigins:  []string{},
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			SendBuffer:    64,
			MaxFrameBytes: 1 << 20,
			RateLimit:     200,
			RateBurst:     400,
			WriteWait:     10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
	}
}

// Validate checks cfg and returns the first problem found.
func Validate(cfg Config) error {
	validators := []func() error{
		func() error { return validateServer(cfg.Server) },
		func() error { return validateRelay(cfg.Relay) },
		func() error { return validateStorage(cfg.Storage) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":     "config.Validate",
		"reason": "all_validators_passed",
	}).Debug("configuration validated")
	return nil
}

func validateServer(s ServerConfig) error {
	if strings.TrimSpace(s.ListenAddr) == "" {
		return newValidationError("Server.ListenAddr must be set")
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		return newValidationError(fmt.Sprintf("Server.WSPath %q must start with /", s.WSPath))
	}
	if s.ShutdownTimeout <= 0 {
		return newValidationError("Server.ShutdownTimeout must be positive")
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	if r.SendBuffer < 1 {
		return newValidationError("Relay.SendBuffer must be at least 1")
	}
	if r.MaxFrameBytes < 64 {
		return newValidationError("Relay.MaxFrameBytes must be at least 64")
	}
	if r.RateLimit < 0 {
		return newValidationError("Relay.RateLimit must not be negative")
	}
	if r.RateLimit > 0 && r.RateBurst < 1 {
		return newValidationError("Relay.RateBurst must be at least 1 when rate limiting is on")
	}
	if r.WriteWait <= 0 {
		return newValidationError("Relay.WriteWait must be positive")
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch strings.ToLower(s.Driver) {
	case "", "memory":
		return nil
	case "sqlite":
		if strings.TrimSpace(s.DSN) == "" {
			return newValidationError("Storage.DSN is required for the sqlite driver")
		}
		return nil
	default:
		return newValidationError(fmt.Sprintf("Storage.Driver %q is not supported", s.Driver))
	}
}

type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
