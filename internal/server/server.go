package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jpalmerr/netpulse/internal/store"
)

const (
	// streamWriteTimeout is the maximum time allowed for a single SSE or
	// WebSocket write. This prevents goroutine leaks when clients are slow or
	// disconnected. Must be <= shutdown timeout to ensure clean shutdown.
	streamWriteTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "netpulse"
)

var (
	// ErrTaskNotFound is returned by a [TaskControl] for a key it does not know.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskConflict is returned by a [TaskControl] when the task cannot
	// change state, e.g. starting a task without a URL.
	ErrTaskConflict = errors.New("task state conflict")
)

// TaskControl starts and stops tasks on behalf of API clients.
type TaskControl interface {
	Start(key string) error
	Stop(key string) error
	Toggle(key string) error
}

// Server handles HTTP requests for the task API.
//
// Server provides these endpoints:
//   - GET /api/info: Title and task count
//   - GET /api/tasks: Every task record as JSON
//   - GET /api/tasks/{key}: One task record
//   - POST /api/tasks/{key}/{start|stop|toggle}: Task control
//   - GET /api/sse: Server-Sent Events stream of record updates
//   - GET /api/ws: WebSocket stream of record updates
//   - GET /metrics: Prometheus exposition, when a metrics handler is set
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	control    TaskControl
	port       int
	metrics    http.Handler
	httpServer *http.Server
	title      string
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store holding the task records
//   - control: Receiver of start/stop/toggle requests (may be nil, disabling control)
//   - port: TCP port to listen on
//   - metrics: Handler mounted at /metrics (may be nil)
//   - title: Instance title (defaults to "netpulse" if empty)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, control TaskControl, port int, metrics http.Handler, title string, logger *slog.Logger) *Server {
	if title == "" {
		title = defaultTitle
	}
	return &Server{
		store:   st,
		control: control,
		port:    port,
		metrics: metrics,
		title:   title,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the API is read-mostly and already served with a wildcard CORS header
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the request router. It is what [Server.Start] serves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/tasks/{key}", s.handleTask)
	mux.HandleFunc("POST /api/tasks/{key}/{action}", s.handleControl)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.HandleFunc("GET /api/ws", s.handleWS)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

type infoResponse struct {
	Title     string `json:"title"`
	TaskCount int    `json:"task_count"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, infoResponse{
		Title:     s.title,
		TaskCount: len(s.store.GetAll()),
	})
}

// handleTasks returns every task record as JSON.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

// handleTask returns one task record, or 404.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	record, ok := s.store.Get(r.PathValue("key"))
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// handleControl applies start, stop or toggle to one task.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if s.control == nil {
		http.Error(w, "Task control disabled", http.StatusNotImplemented)
		return
	}

	key := r.PathValue("key")
	var op func(string) error
	switch r.PathValue("action") {
	case "start":
		op = s.control.Start
	case "stop":
		op = s.control.Stop
	case "toggle":
		op = s.control.Toggle
	default:
		http.NotFound(w, r)
		return
	}

	err := op(key)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrTaskConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("task control failed", "task", key, "action", r.PathValue("action"), "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams record updates via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	clientID := uuid.NewString()
	s.logger.Debug("sse client connected", "client_id", clientID)
	defer s.logger.Debug("sse client disconnected", "client_id", clientID)

	// subscribe before the initial snapshot so no update falls in between
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	for _, record := range s.store.GetAll() {
		data, err := json.Marshal(record)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(record)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

// handleWS streams record updates over a WebSocket, one JSON record per
// text message. Messages from the client are read and discarded so that
// close frames are noticed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	clientID := uuid.NewString()
	s.logger.Debug("websocket client connected", "client_id", clientID)
	defer s.logger.Debug("websocket client disconnected", "client_id", clientID)

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(record store.TaskRecord) error {
		if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(record)
	}

	for _, record := range s.store.GetAll() {
		if err := send(record); err != nil {
			return
		}
	}

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			if err := send(record); err != nil {
				return
			}

		case <-closed:
			return

		case <-r.Context().Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
