package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sandtrap-io/sandtrap/internal/logger"
	"github.com/sandtrap-io/sandtrap/internal/telemetry"
	"github.com/sandtrap-io/sandtrap/pkg/api"
	"github.com/sandtrap-io/sandtrap/pkg/config"
	"github.com/sandtrap-io/sandtrap/pkg/realtime"
	"github.com/sandtrap-io/sandtrap/pkg/resultserver"
	"github.com/sandtrap-io/sandtrap/pkg/storage"
	"github.com/sandtrap-io/sandtrap/pkg/taskstore"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sandtrap server",
	Long: `Start the sandtrap result collection server.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/sandtrap/config.yaml.

Examples:
  # Start in background (default)
  sandtrap start

  # Start in foreground
  sandtrap start --foreground

  # Start with custom config file
  sandtrap start --config /etc/sandtrap/config.yaml

  # Start with environment variable overrides
  SANDTRAP_LOGGING_LEVEL=DEBUG sandtrap start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/sandtrap/sandtrap.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/sandtrap/sandtrap.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "sandtrap",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Sandtrap result collection server", "version", Version)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Prepare the analysis storage root
	if err := os.MkdirAll(cfg.Storage.Analyses, 0755); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}
	logger.Info("Storage configured", "analyses", cfg.Storage.Analyses)

	// Open the task registration journal (if enabled)
	var journal *taskstore.Store
	if cfg.TaskStore.Enabled {
		journal, err = taskstore.Open(cfg.TaskStore.Path)
		if err != nil {
			return fmt.Errorf("failed to open task journal: %w", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("task journal close error", "error", err)
			}
		}()
		logger.Info("Task journal enabled", "path", cfg.TaskStore.Path)
	}

	// Initialize metrics (if enabled)
	var metrics *resultserver.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics, metricsServer = initMetrics(cfg.Metrics)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Create the result server
	rsCfg := resultserver.Config{
		IP:            cfg.ResultServer.IP,
		Port:          cfg.ResultServer.Port,
		UploadMaxSize: cfg.ResultServer.UploadMaxSize.Int64(),
		PoolSize:      cfg.ResultServer.PoolSize,
	}
	resolve := func(taskID int64) string {
		return storage.AnalysisPath(cfg.Storage.Analyses, taskID)
	}
	srv := resultserver.NewServer(rsCfg, resolve, metrics)

	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("Result server listening",
		"ip", cfg.ResultServer.IP,
		"port", srv.ActualPort(),
		"upload_max_size", cfg.ResultServer.UploadMaxSize.String())

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start the result server accept loop
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	// Start the metrics endpoint
	if metricsServer != nil {
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start the control API (if enabled)
	backend := &taskManager{
		srv:     srv,
		root:    cfg.Storage.Analyses,
		journal: journal,
	}
	apiDone := make(chan error, 1)
	if cfg.ControlPlane.IsEnabled() {
		apiCfg := api.APIConfig{
			Host:         cfg.ControlPlane.Host,
			Port:         cfg.ControlPlane.Port,
			ReadTimeout:  cfg.ControlPlane.ReadTimeout,
			WriteTimeout: cfg.ControlPlane.WriteTimeout,
		}
		apiServer := api.NewServer(apiCfg, backend)
		go func() {
			apiDone <- apiServer.Start(ctx)
		}()
		logger.Info("Control API enabled", "host", cfg.ControlPlane.Host, "port", cfg.ControlPlane.Port)
	} else {
		logger.Info("Control API disabled")
	}

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := waitShutdown(serverDone, cfg.ShutdownTimeout); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")

	case err := <-apiDone:
		signal.Stop(sigChan)
		cancel()
		if err != nil {
			logger.Error("Control API error", "error", err)
			return err
		}
	}

	// Shut down the metrics endpoint last, scrapes of the final state are
	// still useful during drain.
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	return nil
}

// waitShutdown waits for the accept loop to drain, bounded by the configured
// shutdown timeout.
func waitShutdown(serverDone <-chan error, timeout time.Duration) error {
	select {
	case err := <-serverDone:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

// initMetrics builds the Prometheus registry and the HTTP server exposing it.
func initMetrics(cfg config.MetricsConfig) (*resultserver.Metrics, *http.Server) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := resultserver.NewMetrics(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    net.JoinHostPort("", fmt.Sprintf("%d", cfg.Port)),
		Handler: mux,
	}
	return metrics, server
}

// taskManager wires the control API to the result server, storage layout,
// and task journal. Each registered task gets its own real-time dispatcher.
type taskManager struct {
	srv     *resultserver.Server
	root    string
	journal *taskstore.Store
}

func (m *taskManager) AddTask(ctx context.Context, taskID int64, ip string) error {
	path := storage.AnalysisPath(m.root, taskID)
	if err := storage.EnsureAnalysisDirs(path); err != nil {
		return fmt.Errorf("failed to prepare analysis directory: %w", err)
	}
	if m.journal != nil {
		if err := m.journal.RecordAdd(ctx, taskID, ip); err != nil {
			return fmt.Errorf("failed to journal task registration: %w", err)
		}
	}
	m.srv.AddTask(taskID, ip, realtime.NewHandler())
	return nil
}

func (m *taskManager) DelTask(ctx context.Context, taskID int64, ip string) error {
	if m.journal != nil {
		if err := m.journal.RecordDel(ctx, taskID, ip); err != nil {
			return fmt.Errorf("failed to journal task removal: %w", err)
		}
	}
	m.srv.DelTask(taskID, ip)
	return nil
}

func (m *taskManager) Tasks(ctx context.Context) []resultserver.TaskInfo {
	return m.srv.ActiveTasks()
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()

	// Create state directory if it doesn't exist
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "sandtrap.pid")
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("sandtrap is already running (PID %d)\nUse 'sandtrap stop' to stop the running instance", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "sandtrap.log")
	}

	// Get the executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments for the daemon process
	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	// Create the daemon process
	daemon := exec.Command(executable, daemonArgs...)

	// Open log file for stdout/stderr
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// Start the daemon
	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("Sandtrap started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'sandtrap stop' to stop the server")
	fmt.Println("Use 'sandtrap status' to check server status")

	return nil
}
