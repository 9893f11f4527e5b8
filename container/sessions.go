package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
)

// Fixed paths inside session containers.
const (
	// HomeDir is where an environment volume is mounted read-write.
	HomeDir = "/home/claude"
	// SnapshotTarget is where a snapshot archive is staged read-only.
	SnapshotTarget = "/mnt/snapshot.tar.gz"
	// LogTarget is where the per-session host log directory is mounted.
	LogTarget = "/var/log/session"
)

const stopTimeoutSeconds = 10

// SessionSpec describes one session container. Exactly one of VolumeName
// and SnapshotPath should be set; when both are, VolumeName wins.
type SessionSpec struct {
	Name         string
	Image        string
	Env          []string
	Labels       map[string]string
	VolumeName   string
	SnapshotPath string
	LogDir       string
	MemoryBytes  int64
	NanoCPUs     int64
	Network      string
}

// Summary is the normalized view of a session container as the engine
// reports it.
type Summary struct {
	ID      string
	Name    string
	State   string
	Status  string
	Running bool
	Labels  map[string]string
}

// ExecResult holds the outcome of a command executed inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Sessions drives the per-session containers. It holds no state of its
// own: every query goes to the engine.
type Sessions struct {
	engine Engine
}

// NewSessions returns a Sessions backed by e.
func NewSessions(e Engine) *Sessions {
	return &Sessions{engine: e}
}

// Run creates and starts the container described by spec and returns its
// engine ID. The caller owns failure cleanup; Run itself removes nothing.
func (s *Sessions) Run(ctx context.Context, spec SessionSpec) (string, error) {
	var mounts []mount.Mount
	if spec.VolumeName != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: spec.VolumeName,
			Target: HomeDir,
		})
	} else if spec.SnapshotPath != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   spec.SnapshotPath,
			Target:   SnapshotTarget,
			ReadOnly: true,
		})
	}
	if spec.LogDir != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: spec.LogDir,
			Target: LogTarget,
		})
	}

	containerCfg := &container.Config{
		Image:     spec.Image,
		Env:       spec.Env,
		Labels:    spec.Labels,
		Tty:       true,
		OpenStdin: true,
	}

	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(spec.Network),
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	resp, err := s.engine.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}

	if err := s.engine.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, fmt.Errorf("start container %s: %w", spec.Name, err)
	}

	return resp.ID, nil
}

// Remove stops and removes the named container. A container that does not
// exist is not an error; the bool reports whether anything was removed.
func (s *Sessions) Remove(ctx context.Context, name string) (bool, error) {
	id, err := s.findByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return false, nil
		}
		return false, err
	}

	timeout := stopTimeoutSeconds
	// Stopping an already-stopped container is a no-op; a failure here
	// still lets the forced remove below clean up.
	_ = s.engine.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})

	if err := s.engine.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return false, fmt.Errorf("remove container %s: %w", name, err)
	}
	return true, nil
}

// List returns every session-labeled container, running or not.
func (s *Sessions) List(ctx context.Context) ([]Summary, error) {
	return s.list(ctx, filters.NewArgs(
		filters.Arg("label", LabelSession),
	))
}

// ListExited returns session-labeled containers whose status is exited.
func (s *Sessions) ListExited(ctx context.Context) ([]Summary, error) {
	return s.list(ctx, filters.NewArgs(
		filters.Arg("label", LabelSession),
		filters.Arg("status", "exited"),
	))
}

func (s *Sessions) list(ctx context.Context, f filters.Args) ([]Summary, error) {
	containers, err := s.engine.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	summaries := make([]Summary, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		summaries = append(summaries, Summary{
			ID:      shortID(c.ID),
			Name:    name,
			State:   c.State,
			Status:  c.Status,
			Running: c.State == "running",
			Labels:  c.Labels,
		})
	}
	return summaries, nil
}

// Inspect returns the summary for the named container, or
// ErrContainerNotFound.
func (s *Sessions) Inspect(ctx context.Context, name string) (*Summary, error) {
	id, err := s.findByName(ctx, name)
	if err != nil {
		return nil, err
	}

	inspect, err := s.engine.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", name, err)
	}

	summary := &Summary{
		ID:   shortID(id),
		Name: name,
	}
	if inspect.State != nil {
		summary.State = inspect.State.Status
		summary.Status = inspect.State.Status
		summary.Running = inspect.State.Running
	}
	if inspect.Config != nil {
		summary.Labels = inspect.Config.Labels
	}
	return summary, nil
}

// Logs returns the last tail lines of the container's output stream.
// Session containers run with a TTY, so the stream is not multiplexed.
func (s *Sessions) Logs(ctx context.Context, name string, tail int) (string, error) {
	id, err := s.findByName(ctx, name)
	if err != nil {
		return "", err
	}

	reader, err := s.engine.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		return "", fmt.Errorf("container logs %s: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read container logs %s: %w", name, err)
	}
	return string(data), nil
}

// Exec runs a command in the named container as the given user and waits
// for it to finish.
func (s *Sessions) Exec(ctx context.Context, name, user string, cmd []string) (*ExecResult, error) {
	id, err := s.findByName(ctx, name)
	if err != nil {
		return nil, err
	}

	execResp, err := s.engine.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		User:         user,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec in %s: %w", name, err)
	}

	attachResp, err := s.engine.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec in %s: %w", name, err)
	}
	defer attachResp.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		return nil, fmt.Errorf("read exec output from %s: %w", name, err)
	}

	inspectResp, err := s.engine.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec in %s: %w", name, err)
	}

	return &ExecResult{
		ExitCode: inspectResp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// findByName resolves a container name to its engine ID, in any state.
func (s *Sessions) findByName(ctx context.Context, name string) (string, error) {
	containers, err := s.engine.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", name),
		),
	})
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}

	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name {
				return c.ID, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrContainerNotFound, name)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
