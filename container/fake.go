package container

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Fake is an in-memory Engine for tests. It models just enough of the
// engine's behavior for the daemon's call patterns: named containers with
// a running flag, labeled images and volumes, exec sessions with queued
// results, and per-method scripted errors.
type Fake struct {
	mu sync.Mutex

	Containers map[string]*FakeContainer
	Volumes    map[string]volume.Volume
	Networks   map[string]network.Summary
	Images     map[string]types.ImageInspect

	// Creations records every container created, in order, including
	// helpers that are gone by the time a test can look at them.
	Creations []FakeCreation
	// Execs records every exec created, in order.
	Execs []FakeExecRecord
	// Connections records network attachments as "network/containerID".
	Connections []string
	// Pulled records every image pull.
	Pulled []string

	// BuildCount counts ImageBuild calls.
	BuildCount int
	// LastBuildLabels holds the labels of the most recent build.
	LastBuildLabels map[string]string

	// HelperExits maps a command's argv[0] to the exit code ContainerWait
	// reports for containers running it. Unlisted commands exit 0.
	HelperExits map[string]int64
	// HelperLogs maps argv[0] to the log output of such containers.
	HelperLogs map[string]string

	execQueue   []FakeExecResult
	execPending map[string]FakeExecResult
	errs        map[string]error
	nextID      int
}

// FakeContainer is the fake's record of one created container.
type FakeContainer struct {
	ID      string
	Name    string
	Config  *container.Config
	Host    *container.HostConfig
	Running bool
	Exit    int64
	Logs    string
}

// FakeCreation captures one container creation for assertions.
type FakeCreation struct {
	Name   string
	User   string
	Cmd    []string
	Mounts []mount.Mount
}

// FakeExecRecord captures one exec request for assertions.
type FakeExecRecord struct {
	ContainerID string
	User        string
	Cmd         []string
}

// FakeExecResult scripts the outcome of one exec.
type FakeExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Containers:  make(map[string]*FakeContainer),
		Volumes:     make(map[string]volume.Volume),
		Networks:    make(map[string]network.Summary),
		Images:      make(map[string]types.ImageInspect),
		HelperExits: make(map[string]int64),
		HelperLogs:  make(map[string]string),
		execPending: make(map[string]FakeExecResult),
		errs:        make(map[string]error),
	}
}

// QueueExec scripts the result of the next exec, FIFO. An empty queue
// yields a zero-exit empty result.
func (f *Fake) QueueExec(stdout, stderr string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execQueue = append(f.execQueue, FakeExecResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode})
}

// FailWith makes the named method return err until cleared with nil.
func (f *Fake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// ContainerByName returns the fake's record for name, or nil.
func (f *Fake) ContainerByName(name string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fc := range f.Containers {
		if fc.Name == name {
			return fc
		}
	}
	return nil
}

// AddNetwork registers a network, as if it had been created earlier.
func (f *Fake) AddNetwork(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Networks[name] = network.Summary{ID: f.genID(), Name: name}
}

// AddImage registers an image with the given labels, as if it had been
// built earlier.
func (f *Fake) AddImage(ref string, labels map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Images[ref] = types.ImageInspect{
		ID:     "sha256:" + ref,
		Config: &container.Config{Labels: labels},
	}
}

func (f *Fake) scripted(method string) error {
	return f.errs[method]
}

func (f *Fake) genID() string {
	f.nextID++
	return fmt.Sprintf("%032x", f.nextID)
}

// --- container API ---

func (f *Fake) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerCreate"); err != nil {
		return container.CreateResponse{}, err
	}
	for _, fc := range f.Containers {
		if fc.Name == containerName {
			return container.CreateResponse{}, errdefs.Conflict(fmt.Errorf("container name %q already in use", containerName))
		}
	}

	fc := &FakeContainer{
		ID:     f.genID(),
		Name:   containerName,
		Config: config,
		Host:   hostConfig,
	}
	creation := FakeCreation{Name: containerName, User: config.User, Cmd: config.Cmd}
	if hostConfig != nil {
		creation.Mounts = hostConfig.Mounts
	}
	f.Creations = append(f.Creations, creation)
	if len(config.Cmd) > 0 {
		fc.Exit = f.HelperExits[config.Cmd[0]]
		fc.Logs = f.HelperLogs[config.Cmd[0]]
	}
	f.Containers[fc.ID] = fc
	return container.CreateResponse{ID: fc.ID}, nil
}

func (f *Fake) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerStart"); err != nil {
		return err
	}
	fc, ok := f.Containers[containerID]
	if !ok {
		return errdefs.NotFound(fmt.Errorf("no such container: %s", containerID))
	}
	fc.Running = true
	return nil
}

func (f *Fake) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerStop"); err != nil {
		return err
	}
	fc, ok := f.Containers[containerID]
	if !ok {
		return errdefs.NotFound(fmt.Errorf("no such container: %s", containerID))
	}
	fc.Running = false
	return nil
}

func (f *Fake) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerRemove"); err != nil {
		return err
	}
	if _, ok := f.Containers[containerID]; !ok {
		return errdefs.NotFound(fmt.Errorf("no such container: %s", containerID))
	}
	delete(f.Containers, containerID)
	return nil
}

func (f *Fake) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerList"); err != nil {
		return nil, err
	}

	var out []types.Container
	for _, fc := range f.Containers {
		if !options.All && !fc.Running {
			continue
		}
		if !matchesFilters(fc, options.Filters.Get("name"), options.Filters.Get("label"), options.Filters.Get("status")) {
			continue
		}
		out = append(out, types.Container{
			ID:     fc.ID,
			Names:  []string{"/" + fc.Name},
			Image:  fc.Config.Image,
			State:  fc.state(),
			Status: fc.statusText(),
			Labels: fc.Config.Labels,
		})
	}
	return out, nil
}

func matchesFilters(fc *FakeContainer, names, labels, statuses []string) bool {
	for _, n := range names {
		if !strings.Contains(fc.Name, n) {
			return false
		}
	}
	for _, l := range labels {
		key, val, hasVal := strings.Cut(l, "=")
		got, ok := fc.Config.Labels[key]
		if !ok || (hasVal && got != val) {
			return false
		}
	}
	for _, s := range statuses {
		if fc.state() != s {
			return false
		}
	}
	return true
}

func (fc *FakeContainer) state() string {
	if fc.Running {
		return "running"
	}
	return "exited"
}

func (fc *FakeContainer) statusText() string {
	if fc.Running {
		return "Up 1 second"
	}
	return fmt.Sprintf("Exited (%d) 1 second ago", fc.Exit)
}

func (f *Fake) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerInspect"); err != nil {
		return types.ContainerJSON{}, err
	}
	fc, ok := f.Containers[containerID]
	if !ok {
		return types.ContainerJSON{}, errdefs.NotFound(fmt.Errorf("no such container: %s", containerID))
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:      fc.ID,
			Name:    "/" + fc.Name,
			Created: time.Now().UTC().Format(time.RFC3339Nano),
			State: &types.ContainerState{
				Status:   fc.state(),
				Running:  fc.Running,
				ExitCode: int(fc.Exit),
			},
			HostConfig: fc.Host,
		},
		Config: fc.Config,
	}, nil
}

func (f *Fake) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerWait"); err != nil {
		errCh <- err
		return waitCh, errCh
	}
	fc, ok := f.Containers[containerID]
	if !ok {
		errCh <- errdefs.NotFound(fmt.Errorf("no such container: %s", containerID))
		return waitCh, errCh
	}
	fc.Running = false
	waitCh <- container.WaitResponse{StatusCode: fc.Exit}
	return waitCh, errCh
}

func (f *Fake) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerLogs"); err != nil {
		return nil, err
	}
	fc, ok := f.Containers[containerID]
	if !ok {
		return nil, errdefs.NotFound(fmt.Errorf("no such container: %s", containerID))
	}
	return io.NopCloser(strings.NewReader(fc.Logs)), nil
}

// --- exec API ---

func (f *Fake) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerExecCreate"); err != nil {
		return types.IDResponse{}, err
	}
	if _, ok := f.Containers[containerID]; !ok {
		return types.IDResponse{}, errdefs.NotFound(fmt.Errorf("no such container: %s", containerID))
	}

	f.Execs = append(f.Execs, FakeExecRecord{
		ContainerID: containerID,
		User:        options.User,
		Cmd:         options.Cmd,
	})

	var res FakeExecResult
	if len(f.execQueue) > 0 {
		res = f.execQueue[0]
		f.execQueue = f.execQueue[1:]
	}
	id := fmt.Sprintf("exec-%d", len(f.Execs))
	f.execPending[id] = res
	return types.IDResponse{ID: id}, nil
}

func (f *Fake) ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerExecAttach"); err != nil {
		return types.HijackedResponse{}, err
	}
	res := f.execPending[execID]

	var buf bytes.Buffer
	if res.Stdout != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(res.Stdout))
	}
	if res.Stderr != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(res.Stderr))
	}
	return types.HijackedResponse{
		Conn:   nopConn{},
		Reader: bufio.NewReader(&buf),
	}, nil
}

func (f *Fake) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ContainerExecInspect"); err != nil {
		return container.ExecInspect{}, err
	}
	res := f.execPending[execID]
	return container.ExecInspect{ExecID: execID, ExitCode: res.ExitCode}, nil
}

// --- image API ---

func (f *Fake) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ImageInspectWithRaw"); err != nil {
		return types.ImageInspect{}, nil, err
	}
	it, ok := f.Images[imageID]
	if !ok {
		return types.ImageInspect{}, nil, errdefs.NotFound(fmt.Errorf("no such image: %s", imageID))
	}
	return it, nil, nil
}

func (f *Fake) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	if buildContext != nil {
		io.Copy(io.Discard, buildContext)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ImageBuild"); err != nil {
		return types.ImageBuildResponse{}, err
	}

	f.BuildCount++
	f.LastBuildLabels = options.Labels
	for _, tag := range options.Tags {
		f.Images[tag] = types.ImageInspect{
			ID:     "sha256:" + tag,
			Config: &container.Config{Labels: options.Labels},
		}
	}
	return types.ImageBuildResponse{
		Body: io.NopCloser(strings.NewReader(`{"stream":"ok"}`)),
	}, nil
}

func (f *Fake) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("ImagePull"); err != nil {
		return nil, err
	}
	f.Pulled = append(f.Pulled, refStr)
	if _, ok := f.Images[refStr]; !ok {
		f.Images[refStr] = types.ImageInspect{ID: "sha256:" + refStr}
	}
	return io.NopCloser(strings.NewReader("{}")), nil
}

// --- network API ---

func (f *Fake) NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("NetworkList"); err != nil {
		return nil, err
	}
	names := options.Filters.Get("name")
	var out []network.Summary
	for _, nw := range f.Networks {
		match := true
		for _, n := range names {
			if !strings.Contains(nw.Name, n) {
				match = false
			}
		}
		if match {
			out = append(out, nw)
		}
	}
	return out, nil
}

func (f *Fake) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("NetworkCreate"); err != nil {
		return network.CreateResponse{}, err
	}
	id := f.genID()
	f.Networks[name] = network.Summary{ID: id, Name: name, Labels: options.Labels}
	return network.CreateResponse{ID: id}, nil
}

func (f *Fake) NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("NetworkConnect"); err != nil {
		return err
	}
	if _, ok := f.Networks[networkID]; !ok {
		return errdefs.NotFound(fmt.Errorf("network %s not found", networkID))
	}
	f.Connections = append(f.Connections, networkID+"/"+containerID)
	return nil
}

// --- volume API ---

func (f *Fake) VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("VolumeCreate"); err != nil {
		return volume.Volume{}, err
	}
	if existing, ok := f.Volumes[options.Name]; ok {
		return existing, nil
	}
	v := volume.Volume{Name: options.Name, Labels: options.Labels, Driver: "local"}
	f.Volumes[options.Name] = v
	return v, nil
}

func (f *Fake) VolumeRemove(ctx context.Context, volumeID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("VolumeRemove"); err != nil {
		return err
	}
	if _, ok := f.Volumes[volumeID]; !ok {
		return errdefs.NotFound(fmt.Errorf("no such volume: %s", volumeID))
	}
	delete(f.Volumes, volumeID)
	return nil
}

func (f *Fake) Close() error { return nil }

var _ Engine = (*Fake)(nil)

// nopConn satisfies net.Conn for hijacked exec responses.
type nopConn struct{}

func (nopConn) Read(b []byte) (int, error)         { return 0, io.EOF }
func (nopConn) Write(b []byte) (int, error)        { return len(b), nil }
func (nopConn) Close() error                       { return nil }
func (nopConn) LocalAddr() net.Addr                { return &net.UnixAddr{Name: "fake"} }
func (nopConn) RemoteAddr() net.Addr               { return &net.UnixAddr{Name: "fake"} }
func (nopConn) SetDeadline(t time.Time) error      { return nil }
func (nopConn) SetReadDeadline(t time.Time) error  { return nil }
func (nopConn) SetWriteDeadline(t time.Time) error { return nil }
