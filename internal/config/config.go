// Package config provides hierarchical configuration loading for FinSight.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the FinSight streaming service.
type Config struct {
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Stream   Stream   `yaml:"stream"`
	Rate     Rate     `yaml:"rate"`
	Cache    Cache    `yaml:"cache"`
	Pipeline Pipeline `yaml:"pipeline"`
	NATS     NATS     `yaml:"nats"`
	Breaker  Breaker  `yaml:"breaker"`
	Otel     Otel     `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Stream holds session/broadcast subsystem configuration.
type Stream struct {
	AdmissionCap       int           `yaml:"admission_cap"`        // max concurrently running analyses
	BatchSize          int           `yaml:"batch_size"`           // events per outgoing batch
	BatchInterval      time.Duration `yaml:"batch_interval"`       // max delay before a partial batch flushes
	SendBuffer         int           `yaml:"send_buffer"`          // per-connection outbound queue length
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`   // liveness probe interval
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"` // idle sessions evicted after this
	SweepInterval      time.Duration `yaml:"sweep_interval"`       // session-expiry sweep interval
	HistoryCapacity    int           `yaml:"history_capacity"`     // events retained per session
	MaxTrackedSessions int           `yaml:"max_tracked_sessions"` // sessions retained in history store
}

// RateClass holds the token bucket parameters for one endpoint class.
type RateClass struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Rate holds per-endpoint-class rate limiter configuration.
type Rate struct {
	RunStart        RateClass     `yaml:"run_start"`
	Attach          RateClass     `yaml:"attach"`
	ConfigRead      RateClass     `yaml:"config_read"`
	Default         RateClass     `yaml:"default"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime     time.Duration `yaml:"max_idle_time"`
}

// Cache holds the read-side response cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Pipeline holds settings for the built-in simulated analysis backend,
// used until a real computation backend is attached.
type Pipeline struct {
	StepDelay     time.Duration `yaml:"step_delay"`      // pause between simulated steps
	StepsPerStage int           `yaml:"steps_per_stage"` // message steps emitted per stage
}

// NATS holds the optional event mirror configuration. An empty URL
// disables the mirror.
type NATS struct {
	URL string `yaml:"url"`
}

// Breaker holds circuit breaker configuration for the event mirror.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Otel holds OpenTelemetry export configuration. An empty endpoint
// disables export; instruments still record locally.
type Otel struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "finsight-stream",
		},
		Stream: Stream{
			AdmissionCap:       5,
			BatchSize:          10,
			BatchInterval:      500 * time.Millisecond,
			SendBuffer:         256,
			HeartbeatInterval:  30 * time.Second,
			SessionIdleTimeout: 60 * time.Minute,
			SweepInterval:      5 * time.Minute,
			HistoryCapacity:    1000,
			MaxTrackedSessions: 100,
		},
		Rate: Rate{
			RunStart:        RateClass{RequestsPerSecond: 0.5, Burst: 5},
			Attach:          RateClass{RequestsPerSecond: 2, Burst: 20},
			ConfigRead:      RateClass{RequestsPerSecond: 20, Burst: 100},
			Default:         RateClass{RequestsPerSecond: 10, Burst: 50},
			CleanupInterval: 5 * time.Minute,
			MaxIdleTime:     30 * time.Minute,
		},
		Cache: Cache{
			MaxSizeMB: 16,
			TTL:       time.Second,
		},
		Pipeline: Pipeline{
			StepDelay:     200 * time.Millisecond,
			StepsPerStage: 3,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
	}
}
