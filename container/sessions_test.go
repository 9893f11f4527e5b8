package container

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func runSession(t *testing.T, s *Sessions, spec SessionSpec) string {
	t.Helper()
	if spec.Image == "" {
		spec.Image = "env:latest"
	}
	if spec.Labels == nil {
		spec.Labels = map[string]string{LabelSession: strings.TrimPrefix(spec.Name, "claude-")}
	}
	id, err := s.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run(%s) error = %v", spec.Name, err)
	}
	return id
}

func TestRunMountPrecedence(t *testing.T) {
	fake := NewFake()
	s := NewSessions(fake)

	runSession(t, s, SessionSpec{
		Name:         "claude-abc",
		VolumeName:   "env1",
		SnapshotPath: "/snapshots/env.tar.gz",
		LogDir:       "/var/log/sessiond/abc",
	})

	mounts := fake.Creations[0].Mounts
	var targets []string
	for _, m := range mounts {
		targets = append(targets, m.Target)
	}
	joined := strings.Join(targets, " ")
	if !strings.Contains(joined, HomeDir) {
		t.Errorf("volume mount missing: targets = %v", targets)
	}
	if strings.Contains(joined, SnapshotTarget) {
		t.Errorf("snapshot mounted despite volume taking precedence: targets = %v", targets)
	}
	if !strings.Contains(joined, LogTarget) {
		t.Errorf("log mount missing: targets = %v", targets)
	}
}

func TestRunSnapshotMount(t *testing.T) {
	fake := NewFake()
	s := NewSessions(fake)

	runSession(t, s, SessionSpec{
		Name:         "claude-abc",
		SnapshotPath: "/snapshots/env.tar.gz",
	})

	mounts := fake.Creations[0].Mounts
	if len(mounts) != 1 {
		t.Fatalf("mounts = %d, want 1", len(mounts))
	}
	if mounts[0].Target != SnapshotTarget {
		t.Errorf("snapshot target = %q, want %q", mounts[0].Target, SnapshotTarget)
	}
	if !mounts[0].ReadOnly {
		t.Error("snapshot mount is writable, want read-only")
	}
}

func TestRunNameCollision(t *testing.T) {
	fake := NewFake()
	s := NewSessions(fake)

	runSession(t, s, SessionSpec{Name: "claude-abc"})
	if _, err := s.Run(context.Background(), SessionSpec{Name: "claude-abc", Image: "env:latest"}); err == nil {
		t.Fatal("second Run with the same name should fail")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	fake := NewFake()
	s := NewSessions(fake)
	ctx := context.Background()

	runSession(t, s, SessionSpec{Name: "claude-abc"})

	removed, err := s.Remove(ctx, "claude-abc")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !removed {
		t.Error("Remove() removed = false, want true")
	}

	removed, err = s.Remove(ctx, "claude-abc")
	if err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if removed {
		t.Error("second Remove() removed = true, want false")
	}
}

func TestListFiltersSessionLabel(t *testing.T) {
	fake := NewFake()
	s := NewSessions(fake)

	runSession(t, s, SessionSpec{Name: "claude-one"})
	runSession(t, s, SessionSpec{Name: "claude-two"})
	// An unlabeled container the daemon does not own.
	runSession(t, s, SessionSpec{Name: "bystander", Labels: map[string]string{}})

	got, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() = %d sessions, want 2", len(got))
	}
	for _, sum := range got {
		if !sum.Running {
			t.Errorf("session %s not running", sum.Name)
		}
		if !strings.HasPrefix(sum.Name, "claude-") {
			t.Errorf("unexpected session %q in list", sum.Name)
		}
	}
}

func TestListExited(t *testing.T) {
	fake := NewFake()
	s := NewSessions(fake)
	ctx := context.Background()

	runSession(t, s, SessionSpec{Name: "claude-live"})
	runSession(t, s, SessionSpec{Name: "claude-dead"})
	fake.ContainerByName("claude-dead").Running = false

	got, err := s.ListExited(ctx)
	if err != nil {
		t.Fatalf("ListExited() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "claude-dead" {
		t.Errorf("ListExited() = %+v, want only claude-dead", got)
	}
}

func TestInspectExactName(t *testing.T) {
	fake := NewFake()
	s := NewSessions(fake)

	runSession(t, s, SessionSpec{Name: "claude-abc"})
	runSession(t, s, SessionSpec{Name: "claude-abc123"})

	sum, err := s.Inspect(context.Background(), "claude-abc")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if sum.Name != "claude-abc" {
		t.Errorf("Inspect() name = %q, want claude-abc", sum.Name)
	}
}

func TestInspectNotFound(t *testing.T) {
	s := NewSessions(NewFake())
	if _, err := s.Inspect(context.Background(), "claude-ghost"); !errors.Is(err, ErrContainerNotFound) {
		t.Errorf("Inspect(absent) error = %v, want ErrContainerNotFound", err)
	}
}

func TestExecRecordsUserAndCommand(t *testing.T) {
	fake := NewFake()
	s := NewSessions(fake)

	runSession(t, s, SessionSpec{Name: "claude-abc"})
	fake.QueueExec("pane contents", "", 0)

	res, err := s.Exec(context.Background(), "claude-abc", "1000:1000", []string{"tmux", "capture-pane", "-p"})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.Stdout != "pane contents" {
		t.Errorf("Exec() stdout = %q, want %q", res.Stdout, "pane contents")
	}
	if res.ExitCode != 0 {
		t.Errorf("Exec() exit = %d, want 0", res.ExitCode)
	}

	if len(fake.Execs) != 1 {
		t.Fatalf("execs recorded = %d, want 1", len(fake.Execs))
	}
	rec := fake.Execs[0]
	if rec.User != "1000:1000" {
		t.Errorf("exec user = %q, want sandbox user", rec.User)
	}
	if rec.Cmd[0] != "tmux" {
		t.Errorf("exec cmd = %v, want tmux invocation", rec.Cmd)
	}
}
