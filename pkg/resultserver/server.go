package resultserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// Config holds the result server listen and transfer settings.
type Config struct {
	// IP is the address the VMs reach the host on.
	IP string

	// Port to listen on. 0 picks an ephemeral port; see ActualPort.
	Port int

	// UploadMaxSize caps each FILE upload in bytes. 0 disables the cap.
	UploadMaxSize int64

	// PoolSize bounds concurrently served connections. 0 means unbounded.
	PoolSize int
}

// PathResolver maps a task to its storage directory. The directory and its
// artifact subdirectories must exist before the task is registered.
type PathResolver func(taskID int64) string

// Server accepts connections from analysis VMs and streams their results to
// disk. Connections are authenticated purely by source address: the address
// must have been bound to a task with AddTask beforehand.
type Server struct {
	config   Config
	registry *Registry
	resolve  PathResolver
	metrics  *Metrics

	listener     net.Listener
	sem          chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a result server. metrics may be nil.
func NewServer(cfg Config, resolve PathResolver, metrics *Metrics) *Server {
	s := &Server{
		config:   cfg,
		registry: NewRegistry(),
		resolve:  resolve,
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}
	if cfg.PoolSize > 0 {
		s.sem = make(chan struct{}, cfg.PoolSize)
	}
	return s
}

// Listen binds the configured address. Bind failures that usually mean an
// operator mistake get a message saying what to fix.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.IP, fmt.Sprintf("%d", s.config.Port))

	lc := net.ListenConfig{Control: reuseAddrControl}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("cannot bind result server on %s, "+
				"port already in use, is another instance running: %w", addr, err)
		}
		if errors.Is(err, syscall.EADDRNOTAVAIL) {
			return fmt.Errorf("cannot bind result server on %s, "+
				"the address is not owned by this host, adjust resultserver.ip: %w", addr, err)
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = listener

	logger.Info("result server listening",
		logger.KeyAddress, listener.Addr().String())
	return nil
}

// ActualPort returns the bound port. Useful when configured with port 0.
func (s *Server) ActualPort() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until the context is cancelled or Stop is
// called. Listen must have succeeded first.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("result server is not listening, call Listen first")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				logger.Debug("result server accept error", logger.KeyError, err.Error())
				s.wg.Wait()
				return err
			}
		}

		if s.sem != nil {
			s.sem <- struct{}{}
		}
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			if s.sem != nil {
				defer func() { <-s.sem }()
			}
			s.handleConn(ctx, c)
		}(conn)
	}
}

// Stop shuts down the accept loop and cancels every live session. Serve
// returns once the in-flight handlers have finished.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.registry.CancelAll()
	})
}

// AddTask binds a VM source address to a task. rt may be nil when the task
// does not use the real-time channel.
func (s *Server) AddTask(taskID int64, ip string, rt Dispatcher) {
	s.registry.AddTask(taskID, ip, rt)
	logger.Debug("task registered with result server",
		logger.KeyTaskID, taskID, logger.KeyClientIP, ip)
}

// DelTask removes the binding and cancels the task's remaining sessions.
func (s *Server) DelTask(taskID int64, ip string) {
	s.registry.DelTask(taskID, ip)
}

// ActiveTasks returns a snapshot of the registered tasks.
func (s *Server) ActiveTasks() []TaskInfo {
	return s.registry.ActiveTasks()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		logger.Error("cannot parse remote address",
			logger.KeyAddress, conn.RemoteAddr().String(), logger.KeyError, err.Error())
		return
	}

	taskID, rt, ok := s.registry.Bind(ip)
	if !ok {
		logger.Warn("received connection from unauthorized address, dropping",
			logger.KeyClientIP, ip)
		s.metrics.IncRejected("unbound_ip")
		return
	}

	sess := newSession(taskID, s.resolve(taskID), conn, rt, s.metrics)
	ctx = logger.WithContext(ctx, logger.NewLogContext(taskID, ip))

	s.metrics.SessionStarted()
	defer s.metrics.SessionEnded()

	handler, err := negotiate(ctx, sess, s.config.UploadMaxSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			logger.DebugCtx(ctx, "connection closed during negotiation")
		} else {
			logger.WarnCtx(ctx, "protocol negotiation failed", logger.KeyError, err.Error())
			s.metrics.IncRejected("negotiation")
		}
		return
	}
	if handler == nil {
		s.metrics.IncRejected("negotiation")
		return
	}
	s.metrics.IncConnection(sess.command)

	// The task may have been torn down between Bind and negotiation.
	if !s.registry.Attach(sess, ip) {
		logger.WarnCtx(ctx, "task was removed during negotiation, dropping connection")
		return
	}
	defer s.registry.Detach(sess)

	handleErr := s.runHandler(ctx, sess, handler)

	// Relay the outcome of a FILE upload carrying a rid so the requesting
	// side of the real-time channel can match it up.
	if sess.responseID != nil && sess.rt != nil {
		envelope := map[string]any{"rid": sess.responseID, "success": handleErr == nil}
		if handleErr != nil {
			envelope["error"] = handleErr.Error()
		}
		sess.rt.OnMessage(envelope)
	}

	if n := sess.rd.Buffered(); n > 0 {
		logger.WarnCtx(ctx, "connection closed with unprocessed data",
			"buffered", n)
	}
}

func (s *Server) runHandler(ctx context.Context, sess *Session, handler protocolHandler) error {
	if err := handler.Open(ctx); err != nil {
		logger.ErrorCtx(ctx, "protocol handler setup failed", logger.KeyError, err.Error())
		return err
	}
	defer handler.Close()

	err := handler.Handle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrPathRejected) || errors.Is(err, ErrOverwrite):
		logger.WarnCtx(ctx, "upload rejected", logger.KeyError, err.Error())
		s.metrics.IncRejected("upload")
	case errors.Is(err, ErrLineTooLong):
		logger.WarnCtx(ctx, "protocol violation", logger.KeyError, err.Error())
		s.metrics.IncRejected("protocol")
	default:
		logger.ErrorCtx(ctx, "protocol handler failed", logger.KeyError, err.Error())
	}
	return err
}
