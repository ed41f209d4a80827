package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfigTemplate is the commented configuration file written by
// "sandtrap init". Values match the defaults applied by ApplyDefaults.
const sampleConfigTemplate = `# Sandtrap result collection server configuration
#
# Every value can also be set through the environment with the SANDTRAP_
# prefix, replacing dots with underscores:
#   SANDTRAP_LOGGING_LEVEL=DEBUG
#   SANDTRAP_RESULTSERVER_PORT=2042

logging:
  # Log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Log format: text or json
  format: text
  # Log output: stdout, stderr, or a file path
  output: stdout

resultserver:
  # Address the analysis VMs reach the host on. Must be an address owned
  # by this machine.
  ip: %s
  # Set to 0 to pick a random free port.
  port: %d
  # Per-file upload cap. Bytes written past the cap are discarded and the
  # artifact is marked truncated. Accepts human-readable sizes.
  upload_max_size: 128MiB
  # Maximum concurrent VM connections. 0 means unbounded.
  pool_size: 0

storage:
  # Root directory for per-task analysis results.
  analyses: %s

controlplane:
  # HTTP API used by the scheduler to register and remove tasks.
  enabled: true
  host: %s
  port: %d
  read_timeout: 10s
  write_timeout: 10s

metrics:
  # Prometheus metrics endpoint (served on /metrics).
  enabled: false
  port: 9090

taskstore:
  # Durable journal of task registrations, useful for post-mortem
  # debugging of scheduler behavior.
  enabled: false
  path: %s

telemetry:
  profiling:
    # Pyroscope continuous profiling.
    enabled: false
    endpoint: http://localhost:4040

# How long to wait for live sessions to drain on shutdown.
shutdown_timeout: 30s
`

// InitConfig writes a sample configuration file at the default location.
// Returns the path written. Fails if the file exists unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to the given path.
// Fails if the file exists unless force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	defaults := GetDefaultConfig()
	content := fmt.Sprintf(sampleConfigTemplate,
		defaults.ResultServer.IP,
		defaults.ResultServer.Port,
		defaults.Storage.Analyses,
		defaults.ControlPlane.Host,
		defaults.ControlPlane.Port,
		defaults.TaskStore.Path,
	)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
