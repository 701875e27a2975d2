// Package server exposes pipeline progress over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc/codes"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
	"github.com/GriffinCanCode/polyglot/internal/orchestrator"
	"github.com/GriffinCanCode/polyglot/internal/orchestrator/events"
	"github.com/GriffinCanCode/polyglot/internal/trace"
)

// StatusSource reports the pipeline's current run.
type StatusSource interface {
	Status() orchestrator.Status
}

// Stopper ends an in-progress recording.
type Stopper interface {
	Trigger() bool
}

// EventFeed supplies pipeline events.
type EventFeed interface {
	Events() <-chan events.Event
	Recent(n int) []events.Event
	Dropped() int
}

// Message is the envelope every WebSocket frame carries.
type Message struct {
	Type string `json:"type"`
}

type EventMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

type HistoryMessage struct {
	Type   string         `json:"type"`
	Events []events.Event `json:"events"`
}

type StatusMessage struct {
	Type   string              `json:"type"`
	Status orchestrator.Status `json:"status"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	status  StatusSource
	stopper Stopper
	feed    EventFeed
	metrics http.Handler

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client is one WebSocket connection. Every frame goes through send and is
// written by a single goroutine, so frames arrive in the order queued.
type client struct {
	conn *websocket.Conn
	send chan any
}

// enqueue queues msg without blocking and reports whether it fit.
func (c *client) enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// writeLoop drains send until ctx ends. A failed write cancels the
// connection.
func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, done := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			done()
			if err != nil {
				trace.Logger(ctx).Debug("websocket write error", "error", err)
				cancel()
				return
			}
		}
	}
}

// New creates a server and starts broadcasting feed events to WebSocket
// clients. metrics may be nil.
func New(status StatusSource, stopper Stopper, feed EventFeed, metrics http.Handler) *Server {
	s := &Server{
		status:  status,
		stopper: stopper,
		feed:    feed,
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
	go s.broadcastEvents()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Serve runs the HTTP server on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
		return err
	}
	slog.Info("http server stopped")
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	c := &client{conn: conn, send: make(chan any, ClientQueueSize)}
	go c.writeLoop(ctx, cancel)

	// History is queued before registering so it precedes live events.
	c.enqueue(HistoryMessage{Type: "history", Events: s.feed.Recent(HistoryOnConnect)})

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	rl := &rateLimiter{}
	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.enqueue(ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "status":
			c.enqueue(StatusMessage{Type: "status", Status: s.status.Status()})
		case "stop":
			if err := s.stop(ctx); err != nil {
				c.enqueue(errorMessage(err))
			}
		default:
			c.enqueue(ErrorMessage{Type: "error", Message: "unknown message type " + strconv.Quote(base.Type)})
		}
	}
}

func (s *Server) broadcastEvents() {
	for evt := range s.feed.Events() {
		msg := EventMessage{Type: "event", Event: evt}

		s.mu.RLock()
		for c := range s.clients {
			if !c.enqueue(msg) {
				slog.Warn("websocket client queue full, dropping event", "run_id", evt.RunID, "kind", evt.Kind)
			}
		}
		s.mu.RUnlock()
	}
}

func (s *Server) stop(ctx context.Context) error {
	if !s.stopper.Trigger() {
		return apperrors.New(apperrors.NotRecording, "no recording is currently in progress")
	}
	trace.Logger(ctx).Info("recording stop requested")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"dropped_events": s.feed.Dropped(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := DefaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apperrors.Newf(apperrors.InvalidArgument, "invalid limit %q", v))
			return
		}
		limit = min(n, MaxEventLimit)
	}
	writeJSON(w, http.StatusOK, s.feed.Recent(limit))
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recording_stopping"})
}

func errorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: "error", Code: string(apperrors.CodeOf(err)), Message: err.Error()}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(grpcCode(err)), errorMessage(err))
}

func grpcCode(err error) codes.Code {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.GRPCCode()
	}
	return codes.Internal
}

// httpStatus follows the google.rpc.Code HTTP mapping.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499 // client closed request
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
