package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "finsight.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FINSIGHT_PORT")
	setString(&cfg.Server.CORSOrigin, "FINSIGHT_CORS_ORIGIN")
	setString(&cfg.Logging.Level, "FINSIGHT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FINSIGHT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FINSIGHT_LOG_ASYNC")

	setInt(&cfg.Stream.AdmissionCap, "FINSIGHT_ADMISSION_CAP")
	setInt(&cfg.Stream.BatchSize, "FINSIGHT_BATCH_SIZE")
	setDuration(&cfg.Stream.BatchInterval, "FINSIGHT_BATCH_INTERVAL")
	setInt(&cfg.Stream.SendBuffer, "FINSIGHT_SEND_BUFFER")
	setDuration(&cfg.Stream.HeartbeatInterval, "FINSIGHT_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Stream.SessionIdleTimeout, "FINSIGHT_SESSION_IDLE_TIMEOUT")
	setDuration(&cfg.Stream.SweepInterval, "FINSIGHT_SWEEP_INTERVAL")
	setInt(&cfg.Stream.HistoryCapacity, "FINSIGHT_HISTORY_CAPACITY")
	setInt(&cfg.Stream.MaxTrackedSessions, "FINSIGHT_MAX_TRACKED_SESSIONS")

	setFloat64(&cfg.Rate.RunStart.RequestsPerSecond, "FINSIGHT_RATE_RUN_START_RPS")
	setInt(&cfg.Rate.RunStart.Burst, "FINSIGHT_RATE_RUN_START_BURST")
	setFloat64(&cfg.Rate.Attach.RequestsPerSecond, "FINSIGHT_RATE_ATTACH_RPS")
	setInt(&cfg.Rate.Attach.Burst, "FINSIGHT_RATE_ATTACH_BURST")
	setFloat64(&cfg.Rate.ConfigRead.RequestsPerSecond, "FINSIGHT_RATE_CONFIG_READ_RPS")
	setInt(&cfg.Rate.ConfigRead.Burst, "FINSIGHT_RATE_CONFIG_READ_BURST")
	setFloat64(&cfg.Rate.Default.RequestsPerSecond, "FINSIGHT_RATE_DEFAULT_RPS")
	setInt(&cfg.Rate.Default.Burst, "FINSIGHT_RATE_DEFAULT_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "FINSIGHT_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "FINSIGHT_RATE_MAX_IDLE_TIME")

	setInt64(&cfg.Cache.MaxSizeMB, "FINSIGHT_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "FINSIGHT_CACHE_TTL")

	setDuration(&cfg.Pipeline.StepDelay, "FINSIGHT_PIPELINE_STEP_DELAY")
	setInt(&cfg.Pipeline.StepsPerStage, "FINSIGHT_PIPELINE_STEPS_PER_STAGE")

	setString(&cfg.NATS.URL, "NATS_URL")
	setInt(&cfg.Breaker.MaxFailures, "FINSIGHT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FINSIGHT_BREAKER_TIMEOUT")

	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Stream.AdmissionCap < 1 {
		return errors.New("stream.admission_cap must be >= 1")
	}
	if cfg.Stream.BatchSize < 1 {
		return errors.New("stream.batch_size must be >= 1")
	}
	if cfg.Stream.BatchInterval <= 0 {
		return errors.New("stream.batch_interval must be positive")
	}
	if cfg.Stream.HistoryCapacity < 1 {
		return errors.New("stream.history_capacity must be >= 1")
	}
	if cfg.Stream.MaxTrackedSessions < 1 {
		return errors.New("stream.max_tracked_sessions must be >= 1")
	}
	if cfg.Stream.HeartbeatInterval <= 0 {
		return errors.New("stream.heartbeat_interval must be positive")
	}
	for _, rc := range []struct {
		name string
		c    RateClass
	}{
		{"run_start", cfg.Rate.RunStart},
		{"attach", cfg.Rate.Attach},
		{"config_read", cfg.Rate.ConfigRead},
		{"default", cfg.Rate.Default},
	} {
		if rc.c.Burst < 1 {
			return fmt.Errorf("rate.%s.burst must be >= 1", rc.name)
		}
		if rc.c.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate.%s.requests_per_second must be positive", rc.name)
		}
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
