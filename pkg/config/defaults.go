package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandtrap-io/sandtrap/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyResultServerDefaults(&cfg.ResultServer)
	applyStorageDefaults(&cfg.Storage)
	applyControlPlaneDefaults(&cfg.ControlPlane)
	applyMetricsDefaults(&cfg.Metrics)
	applyTaskStoreDefaults(&cfg.TaskStore)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyResultServerDefaults sets result server defaults.
func applyResultServerDefaults(cfg *ResultServerConfig) {
	// Default bind address is the host side of the default VM-only network
	if cfg.IP == "" {
		cfg.IP = "192.168.56.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 2042
	}
	// Default cap is 128 MiB per uploaded file
	if cfg.UploadMaxSize == 0 {
		cfg.UploadMaxSize = 128 * bytesize.MiB
	}
	// PoolSize defaults to 0 (unbounded), one goroutine per VM connection
}

// applyStorageDefaults sets storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Analyses == "" {
		cfg.Analyses = filepath.Join(dataDir(), "storage", "analyses")
	}
}

// applyControlPlaneDefaults sets control API defaults.
func applyControlPlaneDefaults(cfg *ControlPlaneConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyTaskStoreDefaults sets task journal defaults.
func applyTaskStoreDefaults(cfg *TaskStoreConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(dataDir(), "taskstore")
	}
}

// applyTelemetryDefaults sets telemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// dataDir returns the base directory for mutable state (analysis results,
// task journal).
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".sandtrap")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
