package container

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
)

const (
	// SharedNetworkName is the bridge every session container joins.
	// Inter-container traffic on it is disabled, so sessions are isolated
	// from each other while still reaching the outside.
	SharedNetworkName = "sessiond-net"

	// stackNetworkPrefix names the per-memory-stack networks maintained by
	// the calling application. The daemon only ever attaches to them.
	stackNetworkPrefix = "sessiond-stack-"
)

// Networks manages the daemon's network attachments.
type Networks struct {
	engine Engine
}

// NewNetworks returns a Networks backed by e.
func NewNetworks(e Engine) *Networks {
	return &Networks{engine: e}
}

// EnsureShared creates the shared isolation network if it does not exist.
// Safe to call on every startup.
func (n *Networks) EnsureShared(ctx context.Context) error {
	networks, err := n.engine.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", SharedNetworkName)),
	})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == SharedNetworkName {
			return nil
		}
	}

	_, err = n.engine.NetworkCreate(ctx, SharedNetworkName, network.CreateOptions{
		Driver: "bridge",
		Options: map[string]string{
			"com.docker.network.bridge.enable_icc": "false",
		},
		Labels: map[string]string{
			LabelManagedBy: ManagedByValue,
		},
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", SharedNetworkName, err)
	}
	return nil
}

// StackNetworkName derives the network name for a memory stack tag.
func StackNetworkName(stack string) string {
	return stackNetworkPrefix + stack
}

// AttachStack connects a container to its memory stack's network. The
// network belongs to the calling application and may not exist yet; the
// caller treats failure as non-fatal.
func (n *Networks) AttachStack(ctx context.Context, containerID, stack string) error {
	name := StackNetworkName(stack)
	if err := n.engine.NetworkConnect(ctx, name, containerID, nil); err != nil {
		return fmt.Errorf("connect %s to %s: %w", containerID, name, err)
	}
	return nil
}
