package sessiond

import "errors"

// Sentinel errors returned by Manager operations. The request listener
// maps each one to its own response status; everything else is a plain
// error response.
var (
	// ErrSessionNotFound indicates no container exists for the session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotRunning indicates the session container exists but
	// is not running, so terminal operations cannot reach it.
	ErrSessionNotRunning = errors.New("session not running")

	// ErrTmuxNotReady indicates the container is running but the tmux
	// session inside it has not come up yet, or has already exited.
	ErrTmuxNotReady = errors.New("tmux not ready")
)
