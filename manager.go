package sessiond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/everydev1618/sessiond/container"
	"github.com/everydev1618/sessiond/internal/validate"
	"github.com/everydev1618/sessiond/tmux"
)

// SessionLogFile is the file name the entrypoint writes inside the
// session's log mount.
const SessionLogFile = "session.log"

// DefaultLogTail is how many log lines a logs request returns when the
// caller does not say.
const DefaultLogTail = 100

// Manager owns session lifecycle. The engine is the source of truth for
// which sessions exist: Manager keeps no session table, in memory or on
// disk. Every query lists or inspects labeled containers, so a restarted
// daemon picks up exactly where the engine says things stand.
type Manager struct {
	cfg      *Config
	engine   container.Engine
	sessions *container.Sessions
	images   *container.ImageCache
	networks *container.Networks
	volumes  *container.VolumeManager
	term     *tmux.Adapter
}

// NewManager wires a Manager from cfg over a connected engine.
func NewManager(cfg *Config, engine container.Engine) *Manager {
	sessions := container.NewSessions(engine)
	return &Manager{
		cfg:      cfg,
		engine:   engine,
		sessions: sessions,
		images:   container.NewImageCache(engine, cfg.Images),
		networks: container.NewNetworks(engine),
		volumes: container.NewVolumeManager(engine, container.VolumeOptions{
			HelperImage:   cfg.HelperImage,
			SandboxUID:    cfg.SandboxUID,
			SandboxGID:    cfg.SandboxGID,
			SnapshotRoots: cfg.SnapshotRoots,
		}),
		term: tmux.NewAdapter(sessions, cfg.SandboxUser()),
	}
}

// Volumes exposes environment volume operations.
func (m *Manager) Volumes() *container.VolumeManager {
	return m.volumes
}

// Startup prepares the engine-side environment: the shared network, the
// managed images, and a sweep of dead session containers. It is called
// once before the daemon starts serving.
func (m *Manager) Startup(ctx context.Context) error {
	if err := m.networks.EnsureShared(ctx); err != nil {
		return err
	}
	if err := m.images.EnsureAll(ctx); err != nil {
		return fmt.Errorf("ensure images: %w", err)
	}
	removed, err := m.CleanupDead(ctx)
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		slog.Info("removed dead session containers", "count", len(removed))
	}
	return nil
}

// Create validates the request, makes sure the image is fresh, and runs
// the session container. A failure after the container was created
// removes it again so a retried create does not hit a name conflict.
func (m *Manager) Create(ctx context.Context, sc SessionConfig) (*SessionInfo, error) {
	if err := validate.SessionID(sc.SessionID); err != nil {
		return nil, err
	}
	snapshotPath := ""
	if sc.EnvironmentVolume != "" {
		if err := validate.VolumeName(sc.EnvironmentVolume); err != nil {
			return nil, err
		}
	} else if sc.SnapshotPath != "" {
		if err := validate.SnapshotPath(sc.SnapshotPath, m.cfg.SnapshotRoots); err != nil {
			return nil, err
		}
		if err := validate.SnapshotArchive(sc.SnapshotPath); err != nil {
			return nil, err
		}
		snapshotPath = sc.SnapshotPath
	}

	imageName := sc.Image
	if imageName == "" {
		imageName = m.cfg.DefaultImage
	}
	tag, err := m.images.Ensure(ctx, imageName)
	if err != nil {
		return nil, err
	}

	name := ContainerName(sc.SessionID)
	logDir := m.cfg.SessionLogDir(sc.SessionID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	if err := os.Chown(logDir, m.cfg.SandboxUID, m.cfg.SandboxGID); err != nil {
		slog.Warn("session log dir ownership not set",
			"session", sc.SessionID, "dir", logDir, "error", err)
	}

	labels := map[string]string{
		container.LabelManagedBy: container.ManagedByValue,
		container.LabelSession:   sc.SessionID,
	}
	if sc.MemoryStack != "" {
		labels[container.LabelStack] = sc.MemoryStack
	}

	id, err := m.sessions.Run(ctx, container.SessionSpec{
		Name:         name,
		Image:        tag,
		Env:          sc.Environment(),
		Labels:       labels,
		VolumeName:   sc.EnvironmentVolume,
		SnapshotPath: snapshotPath,
		LogDir:       logDir,
		MemoryBytes:  m.cfg.MemoryLimitMB * 1024 * 1024,
		NanoCPUs:     int64(m.cfg.CPUCount * 1e9),
		Network:      container.SharedNetworkName,
	})
	if err != nil {
		// A non-empty id means the container was created but never
		// started. Remove it so a retried create does not hit a name
		// conflict. When the create itself failed (id empty) there is
		// nothing of ours to clean up, and the name may belong to a
		// live session.
		if id != "" {
			if _, rerr := m.sessions.Remove(context.WithoutCancel(ctx), name); rerr != nil {
				slog.Warn("session not cleaned up after failed create",
					"session", sc.SessionID, "error", rerr)
			}
		}
		return nil, fmt.Errorf("create session %s: %w", sc.SessionID, err)
	}

	if sc.MemoryStack != "" {
		if err := m.networks.AttachStack(ctx, id, sc.MemoryStack); err != nil {
			slog.Warn("memory stack network not attached",
				"session", sc.SessionID, "stack", sc.MemoryStack, "error", err)
		}
	}

	slog.Info("session created",
		"session", sc.SessionID, "container", name, "image", imageName)
	return &SessionInfo{
		SessionID:   sc.SessionID,
		ContainerID: shortID(id),
		Name:        name,
		Status:      "running",
		MemoryStack: sc.MemoryStack,
	}, nil
}

// Stop removes the session container, stopping it first if needed. It
// returns false without error when no such session exists, so stop is
// idempotent.
func (m *Manager) Stop(ctx context.Context, sessionID string) (bool, error) {
	if err := validate.SessionID(sessionID); err != nil {
		return false, err
	}
	stopped, err := m.sessions.Remove(ctx, ContainerName(sessionID))
	if err != nil {
		return false, err
	}
	if stopped {
		slog.Info("session stopped", "session", sessionID)
	}
	return stopped, nil
}

// List returns every session the engine knows about, running or not.
func (m *Manager) List(ctx context.Context) ([]SessionInfo, error) {
	summaries, err := m.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]SessionInfo, 0, len(summaries))
	for _, sum := range summaries {
		infos = append(infos, infoFromSummary(sum))
	}
	return infos, nil
}

// Get returns the live view of one session.
func (m *Manager) Get(ctx context.Context, sessionID string) (*SessionInfo, error) {
	if err := validate.SessionID(sessionID); err != nil {
		return nil, err
	}
	sum, err := m.sessions.Inspect(ctx, ContainerName(sessionID))
	if err != nil {
		return nil, mapSessionErr(err)
	}
	info := infoFromSummary(*sum)
	return &info, nil
}

// AttachInfo returns the command a human runs on the host to attach to
// the session's terminal.
func (m *Manager) AttachInfo(ctx context.Context, sessionID string) (*AttachInfo, error) {
	if err := validate.SessionID(sessionID); err != nil {
		return nil, err
	}
	name := ContainerName(sessionID)
	if _, err := m.sessions.Inspect(ctx, name); err != nil {
		return nil, mapSessionErr(err)
	}
	return &AttachInfo{
		SessionID:     sessionID,
		ContainerName: name,
		AttachCommand: fmt.Sprintf("docker exec -it %s tmux attach-session -t %s", name, tmux.SessionName),
	}, nil
}

// Logs returns the tail of the session's output. The host log mount is
// preferred; when the file is absent the engine's container log is
// used. A session with neither is not found.
func (m *Manager) Logs(ctx context.Context, sessionID string, tail int) (*LogResult, error) {
	if err := validate.SessionID(sessionID); err != nil {
		return nil, err
	}
	if tail <= 0 {
		tail = DefaultLogTail
	}

	path := filepath.Join(m.cfg.SessionLogDir(sessionID), SessionLogFile)
	data, err := os.ReadFile(path)
	if err == nil {
		return &LogResult{Content: tailLines(string(data), tail), Source: "file"}, nil
	}
	if !os.IsNotExist(err) {
		slog.Warn("session log file unreadable, using container logs",
			"session", sessionID, "path", path, "error", err)
	}

	content, cerr := m.sessions.Logs(ctx, ContainerName(sessionID), tail)
	if cerr != nil {
		return nil, mapSessionErr(cerr)
	}
	return &LogResult{Content: content, Source: "container"}, nil
}

// CaptureScreen returns the session's visible terminal content with
// ANSI escapes preserved.
func (m *Manager) CaptureScreen(ctx context.Context, sessionID string) (*tmux.Screen, error) {
	if err := validate.SessionID(sessionID); err != nil {
		return nil, err
	}
	screen, err := m.term.CaptureScreen(ctx, ContainerName(sessionID))
	if err != nil {
		return nil, mapSessionErr(err)
	}
	return screen, nil
}

// SendKeys injects keystrokes into the session's terminal. Literal mode
// sends keys as raw text; otherwise each whitespace-separated token is
// interpreted as a key name.
func (m *Manager) SendKeys(ctx context.Context, sessionID, keys string, literal bool) error {
	if err := validate.SessionID(sessionID); err != nil {
		return err
	}
	return mapSessionErr(m.term.SendKeys(ctx, ContainerName(sessionID), keys, literal))
}

// ResizeTerminal resizes the session's terminal to cols x rows.
func (m *Manager) ResizeTerminal(ctx context.Context, sessionID string, cols, rows int) error {
	if err := validate.SessionID(sessionID); err != nil {
		return err
	}
	return mapSessionErr(m.term.Resize(ctx, ContainerName(sessionID), cols, rows))
}

// CleanupDead removes every exited session container and returns the
// names of the ones removed. Individual removal failures are collected
// and logged but do not stop the sweep.
func (m *Manager) CleanupDead(ctx context.Context) ([]string, error) {
	dead, err := m.sessions.ListExited(ctx)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(dead))
	var merr *multierror.Error
	for _, sum := range dead {
		if _, err := m.sessions.Remove(ctx, sum.Name); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("remove %s: %w", sum.Name, err))
			continue
		}
		removed = append(removed, sum.Name)
	}
	if err := merr.ErrorOrNil(); err != nil {
		slog.Warn("some dead session containers were not removed", "error", err)
	}
	return removed, nil
}

// Close releases the engine connection.
func (m *Manager) Close() error {
	return m.engine.Close()
}

func infoFromSummary(sum container.Summary) SessionInfo {
	id, _ := SessionIDFromContainer(sum.Name)
	return SessionInfo{
		SessionID:   id,
		ContainerID: sum.ID,
		Name:        sum.Name,
		Status:      sum.State,
		MemoryStack: sum.Labels[container.LabelStack],
	}
}

// mapSessionErr converts layer errors into the manager's sentinel
// vocabulary. Anything unrecognized passes through unchanged.
func mapSessionErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, container.ErrContainerNotFound):
		return ErrSessionNotFound
	case errors.Is(err, tmux.ErrNotRunning):
		return ErrSessionNotRunning
	case errors.Is(err, tmux.ErrNotReady):
		return ErrTmuxNotReady
	default:
		return err
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// tailLines returns the last n lines of s, preserving a trailing
// newline when one was present.
func tailLines(s string, n int) string {
	trimmed := strings.TrimSuffix(s, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= n {
		return s
	}
	out := strings.Join(lines[len(lines)-n:], "\n")
	if strings.HasSuffix(s, "\n") {
		out += "\n"
	}
	return out
}
