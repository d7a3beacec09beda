// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
// A Burst of zero disables it.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	// Address and Port select the raw TCP listener.
	Address string
	Port    int
	// HTTPAddress is the listen address for health, metrics and the
	// WebSocket transport. Empty disables the HTTP listener.
	HTTPAddress    string
	AllowedOrigins []string
	// MaxDatagramSize bounds a single frame payload; zero means unlimited.
	MaxDatagramSize   uint32
	OutboundQueueSize int
	WriteTimeout      time.Duration
	// IdleTimeout closes connections that send nothing for this long; zero
	// disables it.
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       RateLimitConfig
}

const (
	defaultAddress           = "127.0.0.1"
	defaultPort              = 11111
	defaultMaxDatagramSize   = 64 << 20
	defaultOutboundQueueSize = 256
	defaultWriteTimeout      = 10 * time.Second
	defaultPingInterval      = 54 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Address:     defaultAddress,
		Port:        defaultPort,
		HTTPAddress: "127.0.0.1:8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxDatagramSize:   defaultMaxDatagramSize,
		OutboundQueueSize: defaultOutboundQueueSize,
		WriteTimeout:      defaultWriteTimeout,
		PingInterval:      defaultPingInterval,
		ShutdownTimeout:   defaultShutdownTimeout,
		// A zero burst leaves message rates unlimited.
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
	}
}

// ListenAddr returns the host:port of the TCP listener.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		cfg.Port = defaultPort
	}

	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = defaultOutboundQueueSize
	}

	if cfg.WriteTimeout < 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}

	if cfg.PingInterval < 0 {
		cfg.PingInterval = 0
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfigFromEnv creates a Config from GORELAY_* environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() Config {
	cfg := DefaultConfig()

	if addr := os.Getenv("GORELAY_ADDRESS"); addr != "" {
		cfg.Address = addr
	}

	if port := os.Getenv("GORELAY_PORT"); port != "" {
		cfg.Port = parseIntValue(port, cfg.Port)
	}

	// An explicitly empty value disables the HTTP listener.
	if httpAddr, ok := os.LookupEnv("GORELAY_HTTP_ADDRESS"); ok {
		cfg.HTTPAddress = strings.TrimSpace(httpAddr)
	}

	if origins := os.Getenv("GORELAY_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("GORELAY_MAX_DATAGRAM_SIZE"); maxSize != "" {
		cfg.MaxDatagramSize = parseMaxDatagramSize(maxSize, cfg.MaxDatagramSize)
	}

	if queue := os.Getenv("GORELAY_OUTBOUND_QUEUE"); queue != "" {
		cfg.OutboundQueueSize = parseIntValue(queue, cfg.OutboundQueueSize)
	}

	if idle := os.Getenv("GORELAY_IDLE_TIMEOUT"); idle != "" {
		cfg.IdleTimeout = parseDuration(idle, cfg.IdleTimeout)
	}

	if wt := os.Getenv("GORELAY_WRITE_TIMEOUT"); wt != "" {
		cfg.WriteTimeout = parseDuration(wt, cfg.WriteTimeout)
	}

	if burst := os.Getenv("GORELAY_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseBurst(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("GORELAY_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseMaxDatagramSize accepts zero, which lifts the limit.
func parseMaxDatagramSize(value string, defaultValue uint32) uint32 {
	if size, err := strconv.ParseUint(value, 10, 32); err == nil {
		return uint32(size)
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseBurst accepts zero, which turns rate limiting off.
func parseBurst(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("90s") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
