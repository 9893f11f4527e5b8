package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/google/uuid"
)

// helperSpec describes one short-lived helper container: a single command
// over some mounts, run to completion.
type helperSpec struct {
	Image  string
	Cmd    []string
	User   string
	Mounts []mount.Mount
}

// runHelper runs a helper container synchronously: create, start, wait,
// remove. The container exists only for the duration of the call; it is
// removed on every path, success or failure. A non-zero exit becomes an
// error carrying the tail of the helper's output.
func runHelper(ctx context.Context, e Engine, spec helperSpec) error {
	if err := ensurePulled(ctx, e, spec.Image); err != nil {
		return err
	}

	name := "sessiond-helper-" + uuid.NewString()[:8]
	resp, err := e.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Cmd:   spec.Cmd,
		User:  spec.User,
		Tty:   true,
		Labels: map[string]string{
			LabelManagedBy: ManagedByValue,
			LabelHelper:    "true",
		},
	}, &container.HostConfig{
		Mounts:      spec.Mounts,
		NetworkMode: "none",
	}, nil, nil, name)
	if err != nil {
		return fmt.Errorf("create helper %s: %w", name, err)
	}

	defer func() {
		if err := e.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("helper container not removed", "helper", name, "error", err)
		}
	}()

	if err := e.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start helper %s: %w", name, err)
	}

	waitCh, errCh := e.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("helper %s exited %d: %s",
				spec.Cmd[0], status.StatusCode, helperLogTail(ctx, e, resp.ID))
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("wait for helper %s: %w", name, err)
	}
}

// helperLogTail fetches the last few lines of a helper's output for error
// messages. Helpers run with a TTY, so the stream is raw.
func helperLogTail(ctx context.Context, e Engine, id string) string {
	reader, err := e.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "10",
	})
	if err != nil {
		return "(no output captured)"
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "(no output captured)"
	}
	return strings.TrimSpace(string(data))
}
