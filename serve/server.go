// Package serve implements the daemon's request listener: a Unix domain
// socket speaking one JSON request and one JSON response per connection,
// handled strictly sequentially.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	sessiond "github.com/everydev1618/sessiond"
	"github.com/everydev1618/sessiond/journal"
	"github.com/everydev1618/sessiond/tmux"
)

// maxRequestBytes caps how much a single request may accumulate before
// the connection is refused.
const maxRequestBytes = 1 << 20

var errRequestTooLarge = fmt.Errorf("request exceeds %d bytes", maxRequestBytes)

// SessionManager is the slice of the session manager the listener
// needs.
type SessionManager interface {
	Create(ctx context.Context, cfg sessiond.SessionConfig) (*sessiond.SessionInfo, error)
	Stop(ctx context.Context, sessionID string) (bool, error)
	List(ctx context.Context) ([]sessiond.SessionInfo, error)
	Get(ctx context.Context, sessionID string) (*sessiond.SessionInfo, error)
	AttachInfo(ctx context.Context, sessionID string) (*sessiond.AttachInfo, error)
	Logs(ctx context.Context, sessionID string, tail int) (*sessiond.LogResult, error)
	CaptureScreen(ctx context.Context, sessionID string) (*tmux.Screen, error)
	SendKeys(ctx context.Context, sessionID, keys string, literal bool) error
	ResizeTerminal(ctx context.Context, sessionID string, cols, rows int) error
	CleanupDead(ctx context.Context) ([]string, error)
}

var _ SessionManager = (*sessiond.Manager)(nil)

// VolumeManager is the slice of the environment volume manager the
// listener needs.
type VolumeManager interface {
	Create(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) (bool, error)
	Initialize(ctx context.Context, name, snapshotPath string) error
	Reset(ctx context.Context, name, snapshotPath string) error
}

// Config holds listener configuration.
type Config struct {
	SocketPath string
}

// Server accepts connections on a Unix socket and serves exactly one
// JSON exchange per connection. Handling is strictly sequential: one
// connection is fully processed, engine calls included, before the
// next is accepted.
type Server struct {
	cfg      Config
	sessions SessionManager
	volumes  VolumeManager
	journal  *journal.Journal
	handlers map[Action]handlerFunc
}

type handlerFunc func(ctx context.Context, req *Request) any

// New creates a Server. j may be nil to disable request history.
func New(cfg Config, sessions SessionManager, volumes VolumeManager, j *journal.Journal) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		volumes:  volumes,
		journal:  j,
	}
	s.handlers = map[Action]handlerFunc{
		ActionCreate:         s.handleCreate,
		ActionStop:           s.handleStop,
		ActionList:           s.handleList,
		ActionGet:            s.handleGet,
		ActionAttachInfo:     s.handleAttachInfo,
		ActionLogs:           s.handleLogs,
		ActionCaptureScreen:  s.handleCaptureScreen,
		ActionSendKeys:       s.handleSendKeys,
		ActionResizeTerminal: s.handleResizeTerminal,
		ActionPing:           s.handlePing,
		ActionCleanup:        s.handleCleanup,
		ActionCreateVolume:   s.handleCreateVolume,
		ActionDeleteVolume:   s.handleDeleteVolume,
		ActionInitializeEnv:  s.handleInitializeEnv,
		ActionResetVolume:    s.handleResetVolume,
	}
	return s
}

// Start binds the socket and serves until ctx is cancelled, removing
// any stale socket from a prior crash first. It blocks.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	// The socket must never be world-accessible, not even between bind
	// and chmod.
	old := unix.Umask(0o117)
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	unix.Umask(old)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}

	if err := os.Chmod(s.cfg.SocketPath, 0o660); err != nil {
		ln.Close()
		os.Remove(s.cfg.SocketPath)
		return fmt.Errorf("chmod socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer os.Remove(s.cfg.SocketPath)

	slog.Info("listening", "socket", s.cfg.SocketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("listener stopped")
				return nil
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		s.handleConn(ctx, conn)
	}
}

// handleConn reads one request, dispatches it, writes one response and
// closes. No timeouts: a started request runs to completion even if the
// client goes away.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reqID := uuid.NewString()[:8]

	req, err := readRequest(conn)
	if err != nil {
		slog.Warn("unreadable request", "id", reqID, "error", err)
		msg := "Invalid JSON"
		if errors.Is(err, errRequestTooLarge) {
			msg = errRequestTooLarge.Error()
		}
		s.finish(conn, reqID, nil, Response{Status: StatusError, Error: msg}, time.Now())
		return
	}

	slog.Info("request", "id", reqID, "action", req.Action, "session", req.SessionID)
	start := time.Now()
	resp := s.dispatch(ctx, req)
	s.finish(conn, reqID, req, resp, start)
}

// dispatch routes req through the handler table. A panicking handler
// becomes an error envelope; the accept loop never sees it.
func (s *Server) dispatch(ctx context.Context, req *Request) (resp any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "action", req.Action, "panic", r)
			resp = Response{Status: StatusError, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	h, ok := s.handlers[req.Action]
	if !ok {
		if req.Action == "" {
			return Response{Status: StatusError, Error: "missing action"}
		}
		return Response{Status: StatusError, Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}
	return h(ctx, req)
}

// finish writes the response, logs the outcome and best-effort journals
// the exchange. req is nil when the request never parsed.
func (s *Server) finish(conn net.Conn, reqID string, req *Request, resp any, start time.Time) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response", "id", reqID, "error", err)
		data = []byte(`{"status":"error","error":"internal error"}`)
	}
	if _, err := conn.Write(data); err != nil {
		slog.Warn("response not delivered", "id", reqID, "error", err)
	}

	var probe struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	json.Unmarshal(data, &probe)
	dur := time.Since(start)
	slog.Info("request done", "id", reqID, "status", probe.Status, "duration", dur)

	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		RequestID: reqID,
		Action:    "invalid",
		Status:    probe.Status,
		Error:     probe.Error,
		Duration:  dur,
	}
	if req != nil {
		entry.Action = string(req.Action)
		entry.SessionID = req.SessionID
		entry.VolumeName = req.VolumeName
	}
	if err := s.journal.Record(entry); err != nil {
		slog.Warn("journal write failed", "id", reqID, "error", err)
	}
}

// readRequest accumulates bytes and tries to parse one JSON object
// after every chunk. There is no length-prefix framing: the first
// successful parse ends the read, and a client must not send trailing
// bytes after its object.
func readRequest(conn net.Conn) (*Request, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > maxRequestBytes {
				return nil, errRequestTooLarge
			}
			var req Request
			if jerr := json.Unmarshal(buf, &req); jerr == nil {
				return &req, nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
	}
}
