package server

import "time"

// Server configuration constants
const (
	// Events replayed to a WebSocket client when it connects
	HistoryOnConnect = 50

	// Per-connection rate limit for client messages
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Frames queued per WebSocket client before events are dropped
	ClientQueueSize = 64

	// Deadline for one WebSocket write
	WriteTimeout = 5 * time.Second

	// HTTP server timeouts
	ReadHeaderTimeout = 10 * time.Second
	ShutdownTimeout   = 5 * time.Second

	// Default and maximum ?limit= for GET /api/events
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)
