// Package container is the engine-facing layer of the daemon. It owns the
// Docker client, the managed image cache, the isolation networks, the
// environment volumes, and the per-session containers. Nothing above this
// package touches the engine API directly.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Labels stamped on everything the daemon creates. The managed-by marker is
// the ownership test: objects without it are never touched.
const (
	LabelManagedBy   = "sessiond.managed-by"
	LabelSession     = "sessiond.session-id"
	LabelStack       = "sessiond.memory-stack"
	LabelFingerprint = "sessiond.fingerprint"
	LabelHelper      = "sessiond.helper"

	ManagedByValue = "sessiond"
)

// ErrContainerNotFound reports that no container with the requested name
// exists, in any state.
var ErrContainerNotFound = errors.New("container not found")

// Engine is the subset of the Docker API the daemon uses. *client.Client
// satisfies it; tests use Fake.
type Engine interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
	Close() error
}

var _ Engine = (*client.Client)(nil)

// Connect builds a Docker client, trying the environment first and then the
// well-known socket locations, and verifies the daemon answers a ping.
func Connect() (Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		if pingOK(cli) {
			return cli, nil
		}
		cli.Close()
	}

	socketPaths := []string{
		"unix:///var/run/docker.sock",
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock",
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}
		if pingOK(cli) {
			slog.Debug("connected to container engine", "host", socketPath)
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to container engine")
}

func pingOK(cli *client.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err == nil
}

// ensurePulled pulls ref unless it is already present locally.
func ensurePulled(ctx context.Context, e Engine, ref string) error {
	_, _, err := e.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}

	slog.Debug("pulling image", "ref", ref)
	reader, err := e.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}
