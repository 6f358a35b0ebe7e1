package netpulse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jpalmerr/netpulse/internal/metrics"
	"github.com/jpalmerr/netpulse/internal/server"
	"github.com/jpalmerr/netpulse/internal/store"
)

const defaultPort = 8080

// Session is the orchestrator for a set of polling tasks and the HTTP API
// that exposes them.
//
// Session wires a [Registry] to an in-memory record store and serves the
// records as JSON, Server-Sent Events and a WebSocket stream. It is created
// using [New] with functional options and started with [Session.Start].
//
// The typical lifecycle is:
//
//	s, err := netpulse.New(netpulse.WithTask(spec))
//	if err != nil {
//	    slog.Error("failed to create session", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	s.Start(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context to
// stop every task and shut the server down.
type Session struct {
	title     string
	tasks     []TaskSpec
	port      int
	logger    *slog.Logger
	callbacks []func(TaskSnapshot)

	store    *store.MemoryStore
	recorder *metrics.Recorder
	registry *Registry

	// syncMu orders mirror writes so the store converges on the latest state.
	syncMu sync.Mutex
}

// New creates a new [Session] with the given options.
//
// At least one task must be configured via [WithTask] or [WithTasks], and
// task keys must be unique. Every task is registered (but not started) before
// New returns, so [Session.Registry] is usable right away.
//
// Returns an error if no tasks are configured or if any option or task
// config is invalid.
func New(opts ...Option) (*Session, error) {
	cfg := &sessionConfig{
		port:    defaultPort,
		metrics: true,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.tasks) == 0 {
		return nil, errors.New("at least one task is required")
	}

	seen := make(map[string]bool, len(cfg.tasks))
	for _, spec := range cfg.tasks {
		if spec.Key == "" {
			return nil, errors.New("task key cannot be empty")
		}
		if seen[spec.Key] {
			return nil, fmt.Errorf("duplicate task key: %q", spec.Key)
		}
		seen[spec.Key] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		title:     cfg.title,
		tasks:     cfg.tasks,
		port:      cfg.port,
		logger:    logger,
		callbacks: cfg.callbacks,
		store:     store.NewMemoryStore(),
	}
	if cfg.metrics {
		s.recorder = metrics.NewRecorder()
	}

	registry, err := NewRegistry(
		WithRegistryLogger(logger),
		WithUpdateHook(s.mirror),
		withRecorder(s.recorder),
	)
	if err != nil {
		return nil, err
	}
	s.registry = registry

	for _, spec := range cfg.tasks {
		if err := registry.SetConfig(spec.Key, spec.Config.options()...); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start starts the auto-start tasks and serves the HTTP API.
//
// Start is a blocking call that runs until the provided context is cancelled.
// Tasks that fail to start (for example because their URL is blank) are
// logged and skipped. On return every task has been stopped.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails to start.
func (s *Session) Start(ctx context.Context) error {
	s.logger.Info("netpulse starting", "task_count", len(s.tasks))
	s.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d/api/tasks", s.port))

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	var metricsHandler http.Handler
	if s.recorder != nil {
		metricsHandler = s.recorder.Handler()
	}
	httpServer := server.NewServer(s.store, registryControl{s.registry}, s.port, metricsHandler, s.title, s.logger)
	if err := httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	for _, spec := range s.tasks {
		if !spec.AutoStart {
			continue
		}
		if err := s.registry.StartPolling(spec.Key); err != nil {
			s.logger.Warn("task not started", "task", spec.Key, "error", err)
		}
	}

	<-ctx.Done()
	s.registry.Close()
	s.logger.Info("netpulse stopped")
	return nil
}

// Registry returns the session's task registry.
func (s *Session) Registry() *Registry {
	return s.registry
}

// Tasks returns a copy of the configured task specs.
func (s *Session) Tasks() []TaskSpec {
	cp := make([]TaskSpec, len(s.tasks))
	for i, spec := range s.tasks {
		spec.Config = spec.Config.clone()
		cp[i] = spec
	}
	return cp
}

// Port returns the configured HTTP port.
func (s *Session) Port() int {
	return s.port
}

// mirror copies the current state of snap's task into the store and
// invokes the update callbacks.
//
// The registry is re-read under syncMu rather than trusting snap, because
// hooks of racing changes may arrive out of order.
func (s *Session) mirror(snap TaskSnapshot) {
	s.syncMu.Lock()
	current, ok := s.registry.Task(snap.Key)
	if ok {
		s.store.Update(toRecord(current))
	} else {
		s.store.Delete(snap.Key)
		current = snap
	}
	s.syncMu.Unlock()

	for _, cb := range s.callbacks {
		invokeCallbackSafe(cb, current, s.logger)
	}
}

// toRecord converts a snapshot to its storage representation.
func toRecord(snap TaskSnapshot) store.TaskRecord {
	var errStr *string
	if snap.LastError != nil {
		msg := snap.LastError.Error()
		errStr = &msg
	}

	return store.TaskRecord{
		Key:           snap.Key,
		URL:           snap.Config.URL,
		IntervalMs:    snap.Config.Interval.Milliseconds(),
		MaxRetries:    snap.Config.MaxRetries,
		Data:          copyBytes(snap.Data),
		IsPolling:     snap.IsPolling,
		RetryCount:    snap.RetryCount,
		Error:         errStr,
		LastFetchedAt: snap.LastFetchedAt,
		UpdatedAt:     snap.UpdatedAt,
	}
}

// invokeCallbackSafe calls an update callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(TaskSnapshot), snap TaskSnapshot, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			_ = recoverPanic(logger, "update callback", r, "task", snap.Key)
		}
	}()
	cb(snap)
}

// registryControl exposes a [Registry] to the HTTP API, translating its
// errors into the server's status classes.
type registryControl struct {
	registry *Registry
}

func (c registryControl) Start(key string) error {
	return controlError(c.registry.StartPolling(key))
}

func (c registryControl) Stop(key string) error {
	return controlError(c.registry.StopPolling(key))
}

func (c registryControl) Toggle(key string) error {
	return controlError(c.registry.TogglePolling(key))
}

func controlError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownTask):
		return fmt.Errorf("%w: %w", server.ErrTaskNotFound, err)
	case errors.Is(err, ErrBlankURL):
		return fmt.Errorf("%w: %w", server.ErrTaskConflict, err)
	default:
		return err
	}
}
