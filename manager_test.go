package sessiond

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/everydev1618/sessiond/container"
	"github.com/everydev1618/sessiond/tmux"
)

func writeImageContext(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM alpine\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	entry := "#!/bin/sh\ntmux new-session -d -s main\n"
	if err := os.WriteFile(filepath.Join(dir, "entrypoint.sh"), []byte(entry), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SocketPath = filepath.Join(t.TempDir(), "sessiond.sock")
	cfg.DataDir = t.TempDir()
	cfg.LogRoot = t.TempDir()
	cfg.SnapshotRoots = []string{t.TempDir()}
	cfg.Images = map[string]container.ImageBuild{
		"claude-env": {Context: writeImageContext(t)},
	}
	return cfg
}

func newTestManager(t *testing.T) (*Manager, *container.Fake) {
	t.Helper()
	fake := container.NewFake()
	return NewManager(testConfig(t), fake), fake
}

func writeSnapshot(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "env.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte("home")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManagerCreate(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()
	fake.AddNetwork(container.StackNetworkName("alpha"))

	info, err := mgr.Create(ctx, SessionConfig{
		SessionID:    "job-1",
		MemoryStack:  "alpha",
		ClaudePrompt: "fix the build",
		Env:          map[string]string{"TZ": "UTC"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.SessionID != "job-1" || info.Name != "claude-job-1" {
		t.Errorf("info = %+v, want session job-1 named claude-job-1", info)
	}
	if info.Status != "running" {
		t.Errorf("Status = %q, want running", info.Status)
	}
	if info.MemoryStack != "alpha" {
		t.Errorf("MemoryStack = %q, want alpha", info.MemoryStack)
	}

	fc := fake.ContainerByName("claude-job-1")
	if fc == nil {
		t.Fatal("container claude-job-1 not created")
	}
	if !fc.Running {
		t.Error("container not running")
	}
	if got := fc.Config.Labels[container.LabelSession]; got != "job-1" {
		t.Errorf("session label = %q, want job-1", got)
	}
	if got := fc.Config.Labels[container.LabelStack]; got != "alpha" {
		t.Errorf("stack label = %q, want alpha", got)
	}
	if got := fc.Config.Labels[container.LabelManagedBy]; got != container.ManagedByValue {
		t.Errorf("managed-by label = %q", got)
	}

	env := strings.Join(fc.Config.Env, "\n")
	if !strings.Contains(env, "CLAUDE_PROMPT=fix the build") {
		t.Errorf("env missing prompt: %q", env)
	}
	if !strings.Contains(env, "TZ=UTC") {
		t.Errorf("env missing caller variable: %q", env)
	}

	if fake.BuildCount != 1 {
		t.Errorf("BuildCount = %d, want 1", fake.BuildCount)
	}
	wantConn := container.StackNetworkName("alpha") + "/" + fc.ID
	if len(fake.Connections) != 1 || fake.Connections[0] != wantConn {
		t.Errorf("Connections = %v, want [%s]", fake.Connections, wantConn)
	}
}

func TestManagerCreateMissingStackNetwork(t *testing.T) {
	// The stack network not existing must not fail the create.
	mgr, fake := newTestManager(t)

	info, err := mgr.Create(context.Background(), SessionConfig{
		SessionID:   "job-2",
		MemoryStack: "ghost",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Status != "running" {
		t.Errorf("Status = %q, want running", info.Status)
	}
	if len(fake.Connections) != 0 {
		t.Errorf("Connections = %v, want none", fake.Connections)
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "dup"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "dup"}); err == nil {
		t.Fatal("second Create should fail on name conflict")
	}

	// The conflict must not have removed the live session.
	fc := fake.ContainerByName("claude-dup")
	if fc == nil {
		t.Fatal("original container removed by failed duplicate create")
	}
	if !fc.Running {
		t.Error("original container no longer running")
	}
}

func TestManagerCreateStartFailureCleansUp(t *testing.T) {
	mgr, fake := newTestManager(t)
	fake.FailWith("ContainerStart", errors.New("cgroup exploded"))

	_, err := mgr.Create(context.Background(), SessionConfig{SessionID: "job-3"})
	if err == nil {
		t.Fatal("Create should fail when start fails")
	}
	if fc := fake.ContainerByName("claude-job-3"); fc != nil {
		t.Error("half-created container left behind")
	}
}

func TestManagerCreateInvalidSessionID(t *testing.T) {
	mgr, fake := newTestManager(t)

	for _, id := range []string{"", "bad/id", "a;b", "-lead"} {
		if _, err := mgr.Create(context.Background(), SessionConfig{SessionID: id}); err == nil {
			t.Errorf("Create(%q) should fail", id)
		}
	}
	if fake.BuildCount != 0 || len(fake.Creations) != 0 {
		t.Error("validation failures must not touch the engine")
	}
}

func TestManagerCreateWithSnapshot(t *testing.T) {
	mgr, fake := newTestManager(t)
	snap := writeSnapshot(t, mgr.cfg.SnapshotRoots[0])

	if _, err := mgr.Create(context.Background(), SessionConfig{
		SessionID:    "snapjob",
		SnapshotPath: snap,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fc := fake.ContainerByName("claude-snapjob")
	if fc == nil {
		t.Fatal("container not created")
	}
	var found bool
	for _, m := range fc.Host.Mounts {
		if m.Source == snap {
			found = true
			if m.Target != container.SnapshotTarget {
				t.Errorf("snapshot target = %q, want %q", m.Target, container.SnapshotTarget)
			}
			if !m.ReadOnly {
				t.Error("snapshot mount should be read-only")
			}
		}
	}
	if !found {
		t.Errorf("no snapshot mount in %v", fc.Host.Mounts)
	}
}

func TestManagerCreateSnapshotOutsideRoots(t *testing.T) {
	mgr, _ := newTestManager(t)
	snap := writeSnapshot(t, t.TempDir())

	if _, err := mgr.Create(context.Background(), SessionConfig{
		SessionID:    "snapjob",
		SnapshotPath: snap,
	}); err == nil {
		t.Fatal("Create should reject a snapshot outside the allowed roots")
	}
}

func TestManagerCreateVolumeWinsOverSnapshot(t *testing.T) {
	mgr, fake := newTestManager(t)

	// With a volume requested, the snapshot path is ignored entirely and
	// is not even validated.
	if _, err := mgr.Create(context.Background(), SessionConfig{
		SessionID:         "voljob",
		EnvironmentVolume: "env1",
		SnapshotPath:      "/nonexistent/bogus.tar.gz",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fc := fake.ContainerByName("claude-voljob")
	var volumeMounted, snapshotMounted bool
	for _, m := range fc.Host.Mounts {
		if m.Source == "env1" && m.Target == container.HomeDir {
			volumeMounted = true
		}
		if m.Target == container.SnapshotTarget {
			snapshotMounted = true
		}
	}
	if !volumeMounted {
		t.Errorf("volume not mounted at %s: %v", container.HomeDir, fc.Host.Mounts)
	}
	if snapshotMounted {
		t.Error("snapshot mounted despite volume taking precedence")
	}
}

func TestManagerStopIdempotent(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "stopme"}); err != nil {
		t.Fatal(err)
	}

	stopped, err := mgr.Stop(ctx, "stopme")
	if err != nil || !stopped {
		t.Fatalf("Stop = (%v, %v), want (true, nil)", stopped, err)
	}
	if fake.ContainerByName("claude-stopme") != nil {
		t.Error("container still present after stop")
	}

	stopped, err = mgr.Stop(ctx, "stopme")
	if err != nil || stopped {
		t.Fatalf("second Stop = (%v, %v), want (false, nil)", stopped, err)
	}
}

func TestManagerListAndGet(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "a", MemoryStack: "s1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "b"}); err != nil {
		t.Fatal(err)
	}

	infos, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List returned %d sessions, want 2", len(infos))
	}
	byID := map[string]SessionInfo{}
	for _, in := range infos {
		byID[in.SessionID] = in
	}
	if byID["a"].MemoryStack != "s1" {
		t.Errorf("session a stack = %q, want s1", byID["a"].MemoryStack)
	}
	if byID["b"].MemoryStack != "" {
		t.Errorf("session b stack = %q, want empty", byID["b"].MemoryStack)
	}

	info, err := mgr.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.Status != "running" || info.Name != "claude-a" {
		t.Errorf("Get(a) = %+v", info)
	}

	fake.ContainerByName("claude-b").Running = false
	info, err = mgr.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.Status != "exited" {
		t.Errorf("Get(b).Status = %q, want exited", info.Status)
	}

	if _, err := mgr.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerAttachInfo(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "att"}); err != nil {
		t.Fatal(err)
	}

	ai, err := mgr.AttachInfo(ctx, "att")
	if err != nil {
		t.Fatalf("AttachInfo: %v", err)
	}
	want := "docker exec -it claude-att tmux attach-session -t main"
	if ai.AttachCommand != want {
		t.Errorf("AttachCommand = %q, want %q", ai.AttachCommand, want)
	}

	if _, err := mgr.AttachInfo(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("AttachInfo(nope) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerLogsFromFile(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	dir := mgr.cfg.SessionLogDir("logged")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var lines []string
	for i := 0; i < 150; i++ {
		lines = append(lines, "line")
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, SessionLogFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := mgr.Logs(ctx, "logged", 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if res.Source != "file" {
		t.Errorf("Source = %q, want file", res.Source)
	}
	got := strings.Count(res.Content, "\n")
	if got != DefaultLogTail {
		t.Errorf("returned %d lines, want %d", got, DefaultLogTail)
	}

	res, err = mgr.Logs(ctx, "logged", 10)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(res.Content, "\n"); n != 10 {
		t.Errorf("returned %d lines, want 10", n)
	}
}

func TestManagerLogsContainerFallback(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "nofile"}); err != nil {
		t.Fatal(err)
	}
	fake.ContainerByName("claude-nofile").Logs = "shell output\n"

	res, err := mgr.Logs(ctx, "nofile", 50)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if res.Source != "container" {
		t.Errorf("Source = %q, want container", res.Source)
	}
	if res.Content != "shell output\n" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestManagerLogsMissingSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	if _, err := mgr.Logs(context.Background(), "ghost", 10); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Logs(ghost) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerCaptureScreen(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "cap"}); err != nil {
		t.Fatal(err)
	}
	fake.QueueExec("$ ls\x1b[31mred\x1b[0m", "", 0)
	fake.QueueExec("120 40", "", 0)

	screen, err := mgr.CaptureScreen(ctx, "cap")
	if err != nil {
		t.Fatalf("CaptureScreen: %v", err)
	}
	if !strings.Contains(screen.Content, "\x1b[31m") {
		t.Error("ANSI escapes not preserved")
	}
	if screen.Cols != 120 || screen.Rows != 40 {
		t.Errorf("geometry = %dx%d, want 120x40", screen.Cols, screen.Rows)
	}

	if len(fake.Execs) == 0 {
		t.Fatal("no exec recorded")
	}
	first := fake.Execs[0]
	if first.User != mgr.cfg.SandboxUser() {
		t.Errorf("exec user = %q, want %q", first.User, mgr.cfg.SandboxUser())
	}
	if len(first.Cmd) < 2 || first.Cmd[0] != "tmux" || first.Cmd[1] != "capture-pane" {
		t.Errorf("exec cmd = %v, want tmux capture-pane ...", first.Cmd)
	}
}

func TestManagerCaptureScreenErrors(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.CaptureScreen(ctx, "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing session error = %v, want ErrSessionNotFound", err)
	}

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "cap"}); err != nil {
		t.Fatal(err)
	}
	fake.ContainerByName("claude-cap").Running = false
	if _, err := mgr.CaptureScreen(ctx, "cap"); !errors.Is(err, ErrSessionNotRunning) {
		t.Errorf("stopped session error = %v, want ErrSessionNotRunning", err)
	}

	fake.ContainerByName("claude-cap").Running = true
	fake.QueueExec("", "no server running on /tmp/tmux-1000/default", 1)
	if _, err := mgr.CaptureScreen(ctx, "cap"); !errors.Is(err, ErrTmuxNotReady) {
		t.Errorf("early capture error = %v, want ErrTmuxNotReady", err)
	}
}

func TestManagerSendKeys(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "keys"}); err != nil {
		t.Fatal(err)
	}

	if err := mgr.SendKeys(ctx, "keys", "echo hi", true); err != nil {
		t.Fatalf("SendKeys literal: %v", err)
	}
	if err := mgr.SendKeys(ctx, "keys", "Enter", false); err != nil {
		t.Fatalf("SendKeys symbolic: %v", err)
	}

	if len(fake.Execs) != 2 {
		t.Fatalf("got %d execs, want 2", len(fake.Execs))
	}
	literal := strings.Join(fake.Execs[0].Cmd, " ")
	if !strings.Contains(literal, "-l --") {
		t.Errorf("literal send missing -l --: %q", literal)
	}
	symbolic := strings.Join(fake.Execs[1].Cmd, " ")
	if strings.Contains(symbolic, "-l") {
		t.Errorf("symbolic send should not use -l: %q", symbolic)
	}

	if err := mgr.SendKeys(ctx, "ghost", "x", true); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SendKeys(ghost) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerResizeTerminal(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, SessionConfig{SessionID: "rsz"}); err != nil {
		t.Fatal(err)
	}

	if err := mgr.ResizeTerminal(ctx, "rsz", 132, 50); err != nil {
		t.Fatalf("ResizeTerminal: %v", err)
	}
	if len(fake.Execs) != 3 {
		t.Errorf("got %d execs, want 3 resize steps", len(fake.Execs))
	}

	if err := mgr.ResizeTerminal(ctx, "rsz", 0, 50); err == nil {
		t.Error("zero cols should be rejected")
	}
}

func TestManagerCleanupDead(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"live", "dead1", "dead2"} {
		if _, err := mgr.Create(ctx, SessionConfig{SessionID: id}); err != nil {
			t.Fatal(err)
		}
	}
	fake.ContainerByName("claude-dead1").Running = false
	fake.ContainerByName("claude-dead2").Running = false

	removed, err := mgr.CleanupDead(ctx)
	if err != nil {
		t.Fatalf("CleanupDead: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %v, want the two dead containers", removed)
	}
	if fake.ContainerByName("claude-live") == nil {
		t.Error("running session removed by cleanup")
	}
	if fake.ContainerByName("claude-dead1") != nil || fake.ContainerByName("claude-dead2") != nil {
		t.Error("dead containers still present")
	}
}

func TestManagerStartup(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Startup(ctx); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if _, ok := fake.Networks[container.SharedNetworkName]; !ok {
		t.Error("shared network not created")
	}
	if fake.BuildCount != 1 {
		t.Errorf("BuildCount = %d, want 1", fake.BuildCount)
	}

	// A second startup finds everything fresh and rebuilds nothing.
	if err := mgr.Startup(ctx); err != nil {
		t.Fatalf("second Startup: %v", err)
	}
	if fake.BuildCount != 1 {
		t.Errorf("BuildCount after second startup = %d, want 1", fake.BuildCount)
	}
	if len(fake.Networks) != 1 {
		t.Errorf("got %d networks, want 1", len(fake.Networks))
	}
}

func TestManagerVolumesWired(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Volumes().Create(ctx, "env1"); err != nil {
		t.Fatalf("volume create: %v", err)
	}
	if _, ok := fake.Volumes["env1"]; !ok {
		t.Fatal("volume not created")
	}

	// The ownership helper must run with the configured helper image
	// pulled and as root.
	if len(fake.Pulled) == 0 || fake.Pulled[0] != mgr.cfg.HelperImage {
		t.Errorf("Pulled = %v, want helper image %q", fake.Pulled, mgr.cfg.HelperImage)
	}
	if len(fake.Creations) == 0 {
		t.Fatal("no helper container created")
	}
	helper := fake.Creations[0]
	if helper.User != "0:0" {
		t.Errorf("helper user = %q, want 0:0", helper.User)
	}
}

func TestMapSessionErr(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"container missing", container.ErrContainerNotFound, ErrSessionNotFound},
		{"stopped", tmux.ErrNotRunning, ErrSessionNotRunning},
		{"tmux early", tmux.ErrNotReady, ErrTmuxNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapSessionErr(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Errorf("mapSessionErr(nil) = %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("mapSessionErr(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	passthrough := errors.New("engine on fire")
	if got := mapSessionErr(passthrough); !errors.Is(got, passthrough) {
		t.Errorf("unrecognized error rewritten: %v", got)
	}
}

func TestTailLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short input unchanged", "a\nb\n", 5, "a\nb\n"},
		{"trims to last n", "a\nb\nc\nd\n", 2, "c\nd\n"},
		{"no trailing newline", "a\nb\nc", 2, "b\nc"},
		{"empty", "", 3, ""},
		{"exact", "a\nb\n", 2, "a\nb\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tailLines(tt.in, tt.n); got != tt.want {
				t.Errorf("tailLines(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}
