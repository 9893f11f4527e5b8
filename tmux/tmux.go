// Package tmux drives the terminal multiplexer inside session containers.
// Every operation is an exec through the engine; the daemon never talks to
// a tmux socket directly and never tries to start or repair the server.
// The multiplexer belongs to the container's entrypoint.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/everydev1618/sessiond/container"
)

// SessionName is the tmux session every managed container runs its shell
// under.
const SessionName = "main"

// Geometry reported when the multiplexer cannot be asked.
const (
	DefaultCols = 80
	DefaultRows = 24
)

var (
	// ErrNotRunning reports that the container exists but is not running.
	ErrNotRunning = errors.New("container not running")
	// ErrNotReady reports that the container is up but its tmux server is
	// not answering yet. Callers poll until it clears.
	ErrNotReady = errors.New("tmux not ready")
)

// notReadyMarkers are the stderr fragments that mean the multiplexer has
// not come up yet, as opposed to a real failure.
var notReadyMarkers = []string{
	"no server running",
	"can't find session",
	"session not found",
	"no such file or directory",
	"error connecting to",
}

// Execer is the slice of the container layer the adapter needs.
// *container.Sessions satisfies it.
type Execer interface {
	Inspect(ctx context.Context, name string) (*container.Summary, error)
	Exec(ctx context.Context, name, user string, cmd []string) (*container.ExecResult, error)
}

var _ Execer = (*container.Sessions)(nil)

// Screen is one captured pane: its contents with control sequences intact
// plus the pane geometry.
type Screen struct {
	Content string
	Cols    int
	Rows    int
}

// Adapter executes tmux commands inside session containers as the sandbox
// user.
type Adapter struct {
	exec Execer
	user string
}

// NewAdapter returns an Adapter that runs tmux as the given user.
func NewAdapter(exec Execer, user string) *Adapter {
	return &Adapter{exec: exec, user: user}
}

// CaptureScreen returns the current contents of the session's pane. The
// capture preserves escape sequences so the caller can re-render colors
// and cursor state. Geometry comes from a secondary query and falls back
// to 80x24 when that query fails; the capture itself is never discarded
// over it.
func (a *Adapter) CaptureScreen(ctx context.Context, name string) (*Screen, error) {
	if err := a.ensureRunning(ctx, name); err != nil {
		return nil, err
	}

	res, err := a.exec.Exec(ctx, name, a.user, []string{
		"tmux", "capture-pane", "-p", "-e", "-t", SessionName,
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classify("capture-pane", res)
	}

	screen := &Screen{Content: res.Stdout}
	screen.Cols, screen.Rows = a.geometry(ctx, name)
	return screen, nil
}

// SendKeys types into the session's pane. In literal mode the payload is
// passed through byte-for-byte; otherwise it is split into tmux key names
// ("C-c", "Enter", ...). The mode is always chosen explicitly by the
// caller, never guessed from the payload.
func (a *Adapter) SendKeys(ctx context.Context, name, keys string, literal bool) error {
	if keys == "" {
		return fmt.Errorf("no keys to send")
	}
	if err := a.ensureRunning(ctx, name); err != nil {
		return err
	}

	var cmd []string
	if literal {
		// Payloads can hold credentials; they surface only at debug level.
		slog.Debug("sending literal keys", "container", name, "keys", keys)
		cmd = []string{"tmux", "send-keys", "-t", SessionName, "-l", "--", keys}
	} else {
		cmd = append([]string{"tmux", "send-keys", "-t", SessionName}, strings.Fields(keys)...)
	}

	res, err := a.exec.Exec(ctx, name, a.user, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classify("send-keys", res)
	}
	return nil
}

// Resize pushes a new geometry at the session. The sequence is best
// effort: clients attached from elsewhere can fight back, and a step
// failing does not fail the operation. Success means the sequence was
// issued, not that the size took.
func (a *Adapter) Resize(ctx context.Context, name string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	if err := a.ensureRunning(ctx, name); err != nil {
		return err
	}

	steps := [][]string{
		{"tmux", "set-option", "-t", SessionName, "window-size", "manual"},
		{"tmux", "resize-window", "-t", SessionName, "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows)},
		{"tmux", "refresh-client", "-S"},
	}
	for _, step := range steps {
		res, err := a.exec.Exec(ctx, name, a.user, step)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			slog.Debug("resize step failed",
				"container", name,
				"cmd", strings.Join(step, " "),
				"stderr", strings.TrimSpace(res.Stderr))
		}
	}
	return nil
}

// ensureRunning verifies the container exists and is running. It never
// starts anything: a stopped session stays stopped.
func (a *Adapter) ensureRunning(ctx context.Context, name string) error {
	sum, err := a.exec.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if !sum.Running {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return nil
}

// geometry asks tmux for the pane size, falling back to the default when
// the query fails for any reason.
func (a *Adapter) geometry(ctx context.Context, name string) (int, int) {
	res, err := a.exec.Exec(ctx, name, a.user, []string{
		"tmux", "display-message", "-p", "-t", SessionName, "#{pane_width} #{pane_height}",
	})
	if err != nil || res.ExitCode != 0 {
		slog.Debug("pane geometry query failed", "container", name)
		return DefaultCols, DefaultRows
	}

	fields := strings.Fields(strings.TrimSpace(res.Stdout))
	if len(fields) != 2 {
		return DefaultCols, DefaultRows
	}
	cols, err1 := strconv.Atoi(fields[0])
	rows, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || cols <= 0 || rows <= 0 {
		return DefaultCols, DefaultRows
	}
	return cols, rows
}

// classify decides whether a failed tmux command means "not ready" or a
// real error. tmux reports both over stderr; only the wording tells them
// apart.
func classify(op string, res *container.ExecResult) error {
	detail := strings.TrimSpace(res.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(res.Stdout)
	}

	lowered := strings.ToLower(detail)
	for _, marker := range notReadyMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Errorf("%w: %s", ErrNotReady, detail)
		}
	}
	return fmt.Errorf("tmux %s exited %d: %s", op, res.ExitCode, detail)
}
