package container

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
	"github.com/hashicorp/go-multierror"
	"github.com/zeebo/blake3"
)

// ErrUnknownImage reports a logical image name with no build definition.
// This is a configuration error and is never swallowed.
var ErrUnknownImage = errors.New("unknown logical image")

// ImageBuild describes how one logical image is built: a context
// directory holding a recipe and the entrypoint script it copies in.
type ImageBuild struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
	Entrypoint string `yaml:"entrypoint"`
}

func (b ImageBuild) dockerfile() string {
	if b.Dockerfile != "" {
		return b.Dockerfile
	}
	return "Dockerfile"
}

func (b ImageBuild) entrypoint() string {
	if b.Entrypoint != "" {
		return b.Entrypoint
	}
	return "entrypoint.sh"
}

// ImageCache keeps the managed images fresh. Freshness is decided by
// comparing a content fingerprint of the build inputs against the label
// stamped on the image at build time; the fingerprint is recomputed on
// every check, never cached in memory.
type ImageCache struct {
	engine Engine
	specs  map[string]ImageBuild
}

// NewImageCache returns an ImageCache for the given logical image
// definitions.
func NewImageCache(e Engine, specs map[string]ImageBuild) *ImageCache {
	return &ImageCache{engine: e, specs: specs}
}

// Tag returns the engine tag a logical image is built as.
func (c *ImageCache) Tag(name string) string {
	return name + ":latest"
}

// Fingerprint hashes the build inputs of the named logical image: the
// recipe bytes followed by the entrypoint script bytes.
func (c *ImageCache) Fingerprint(name string) (string, error) {
	spec, ok := c.specs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownImage, name)
	}

	recipe, err := os.ReadFile(filepath.Join(spec.Context, spec.dockerfile()))
	if err != nil {
		return "", fmt.Errorf("read build recipe for %s: %w", name, err)
	}
	entry, err := os.ReadFile(filepath.Join(spec.Context, spec.entrypoint()))
	if err != nil {
		return "", fmt.Errorf("read entrypoint for %s: %w", name, err)
	}

	h := blake3.New()
	h.Write(recipe)
	h.Write(entry)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8]), nil
}

// Ensure makes sure the named logical image exists and matches its current
// fingerprint, rebuilding it when stale. It returns the tag to run.
func (c *ImageCache) Ensure(ctx context.Context, name string) (string, error) {
	fp, err := c.Fingerprint(name)
	if err != nil {
		return "", err
	}
	tag := c.Tag(name)

	inspect, _, err := c.engine.ImageInspectWithRaw(ctx, tag)
	if err == nil && imageFresh(inspect, fp) {
		return tag, nil
	}

	slog.Info("building image", "image", name, "fingerprint", fp)
	if err := c.build(ctx, name, tag, fp); err != nil {
		return "", fmt.Errorf("build image %s: %w", name, err)
	}
	return tag, nil
}

// EnsureAll checks every configured logical image, collecting failures so
// one broken definition does not hide the rest.
func (c *ImageCache) EnsureAll(ctx context.Context) error {
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)

	var merr *multierror.Error
	for _, name := range names {
		if _, err := c.Ensure(ctx, name); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func imageFresh(inspect types.ImageInspect, fp string) bool {
	if inspect.Config == nil {
		return false
	}
	labels := inspect.Config.Labels
	return labels[LabelManagedBy] == ManagedByValue && labels[LabelFingerprint] == fp
}

func (c *ImageCache) build(ctx context.Context, name, tag, fp string) error {
	spec := c.specs[name]

	buildCtx, err := archive.TarWithOptions(spec.Context, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := c.engine.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: spec.dockerfile(),
		Remove:     true,
		Labels: map[string]string{
			LabelManagedBy:   ManagedByValue,
			LabelFingerprint: fp,
		},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return drainBuildOutput(name, resp.Body)
}

// drainBuildOutput consumes the engine's build stream, surfacing in-stream
// errors and keeping the chatter at debug level. Build output never
// reaches IPC callers.
func drainBuildOutput(name string, r io.Reader) error {
	type buildMessage struct {
		Stream      string `json:"stream"`
		ErrorDetail *struct {
			Message string `json:"message"`
		} `json:"errorDetail"`
		Error string `json:"error"`
	}

	dec := json.NewDecoder(r)
	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("engine build failed: %s", msg.Error)
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			slog.Debug("image build", "image", name, "output", line)
		}
	}
}
