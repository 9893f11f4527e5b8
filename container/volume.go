package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/errdefs"

	"github.com/everydev1618/sessiond/internal/validate"
)

// Mount points inside helper containers.
const (
	helperVolumeTarget   = "/vol"
	helperSnapshotTarget = "/snapshot.tar.gz"
)

// VolumeOptions configures a VolumeManager.
type VolumeOptions struct {
	// HelperImage is the image helper containers run. It needs a shell,
	// tar, and chown; a small busybox-based image is enough.
	HelperImage string
	// SandboxUID and SandboxGID own everything inside environment volumes.
	SandboxUID int
	SandboxGID int
	// SnapshotRoots are the directories snapshot archives may live under.
	SnapshotRoots []string
}

// VolumeManager owns the lifecycle of environment volumes: named engine
// volumes that persist a session's home directory across sessions.
type VolumeManager struct {
	engine Engine
	opts   VolumeOptions
}

// NewVolumeManager returns a VolumeManager backed by e.
func NewVolumeManager(e Engine, opts VolumeOptions) *VolumeManager {
	return &VolumeManager{engine: e, opts: opts}
}

// Create makes a new empty environment volume and hands its mountpoint to
// the sandbox user, so the very first session can write to it without any
// recursive ownership fixing later.
func (v *VolumeManager) Create(ctx context.Context, name string) error {
	if err := validate.VolumeName(name); err != nil {
		return err
	}

	_, err := v.engine.VolumeCreate(ctx, volume.CreateOptions{
		Name: name,
		Labels: map[string]string{
			LabelManagedBy: ManagedByValue,
		},
	})
	if err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}

	err = runHelper(ctx, v.engine, helperSpec{
		Image: v.opts.HelperImage,
		User:  "0:0",
		Cmd:   []string{"chown", fmt.Sprintf("%d:%d", v.opts.SandboxUID, v.opts.SandboxGID), helperVolumeTarget},
		Mounts: []mount.Mount{
			{Type: mount.TypeVolume, Source: name, Target: helperVolumeTarget},
		},
	})
	if err != nil {
		v.removeBestEffort(ctx, name)
		return fmt.Errorf("set ownership on volume %s: %w", name, err)
	}

	slog.Info("environment volume created", "volume", name)
	return nil
}

// Delete force-removes an environment volume. A volume that does not exist
// is a distinct non-error outcome: (false, nil).
func (v *VolumeManager) Delete(ctx context.Context, name string) (bool, error) {
	if err := validate.VolumeName(name); err != nil {
		return false, err
	}

	if err := v.engine.VolumeRemove(ctx, name, true); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove volume %s: %w", name, err)
	}

	slog.Info("environment volume deleted", "volume", name)
	return true, nil
}

// Initialize creates an environment volume and seeds it from a snapshot
// archive. The extraction helper runs as the sandbox user, so everything
// it writes is owned by the sandbox user without a chown pass. If seeding
// fails the just-created volume is deleted: no half-initialized volume
// survives.
func (v *VolumeManager) Initialize(ctx context.Context, name, snapshotPath string) error {
	if err := validate.SnapshotPath(snapshotPath, v.opts.SnapshotRoots); err != nil {
		return err
	}
	if err := validate.SnapshotArchive(snapshotPath); err != nil {
		return err
	}
	if err := v.Create(ctx, name); err != nil {
		return err
	}

	err := runHelper(ctx, v.engine, helperSpec{
		Image: v.opts.HelperImage,
		User:  fmt.Sprintf("%d:%d", v.opts.SandboxUID, v.opts.SandboxGID),
		Cmd:   []string{"tar", "-xzf", helperSnapshotTarget, "-C", helperVolumeTarget},
		Mounts: []mount.Mount{
			{Type: mount.TypeVolume, Source: name, Target: helperVolumeTarget},
			{Type: mount.TypeBind, Source: snapshotPath, Target: helperSnapshotTarget, ReadOnly: true},
		},
	})
	if err != nil {
		v.removeBestEffort(ctx, name)
		return fmt.Errorf("seed volume %s from snapshot: %w", name, err)
	}

	slog.Info("environment volume initialized", "volume", name, "snapshot", snapshotPath)
	return nil
}

// Reset deletes and recreates an environment volume, optionally re-seeding
// it from a snapshot. A delete failure aborts the reset so the caller
// never ends up with a silently stale volume.
func (v *VolumeManager) Reset(ctx context.Context, name, snapshotPath string) error {
	if err := validate.VolumeName(name); err != nil {
		return err
	}

	if _, err := v.Delete(ctx, name); err != nil {
		return fmt.Errorf("reset volume %s: %w", name, err)
	}

	if snapshotPath != "" {
		return v.Initialize(ctx, name, snapshotPath)
	}
	return v.Create(ctx, name)
}

func (v *VolumeManager) removeBestEffort(ctx context.Context, name string) {
	if err := v.engine.VolumeRemove(context.WithoutCancel(ctx), name, true); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("volume not cleaned up after failure", "volume", name, "error", err)
	}
}
