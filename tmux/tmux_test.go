package tmux

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/everydev1618/sessiond/container"
)

func newAdapter(t *testing.T) (*Adapter, *container.Fake) {
	t.Helper()
	fake := container.NewFake()
	sessions := container.NewSessions(fake)
	if _, err := sessions.Run(context.Background(), container.SessionSpec{
		Name:   "claude-abc",
		Image:  "env:latest",
		Labels: map[string]string{container.LabelSession: "abc"},
	}); err != nil {
		t.Fatal(err)
	}
	return NewAdapter(sessions, "1000:1000"), fake
}

func TestCaptureScreen(t *testing.T) {
	a, fake := newAdapter(t)
	fake.QueueExec("$ ls\nfile.txt\n", "", 0)
	fake.QueueExec("120 40\n", "", 0)

	screen, err := a.CaptureScreen(context.Background(), "claude-abc")
	if err != nil {
		t.Fatalf("CaptureScreen() error = %v", err)
	}
	if screen.Content != "$ ls\nfile.txt\n" {
		t.Errorf("Content = %q", screen.Content)
	}
	if screen.Cols != 120 || screen.Rows != 40 {
		t.Errorf("geometry = %dx%d, want 120x40", screen.Cols, screen.Rows)
	}

	capture := fake.Execs[0]
	if capture.User != "1000:1000" {
		t.Errorf("capture user = %q, want sandbox user", capture.User)
	}
	argv := strings.Join(capture.Cmd, " ")
	if !strings.Contains(argv, "capture-pane") || !strings.Contains(argv, "-e") {
		t.Errorf("capture argv = %q, want capture-pane with -e", argv)
	}
}

func TestCaptureScreenGeometryFallback(t *testing.T) {
	a, fake := newAdapter(t)
	fake.QueueExec("pane\n", "", 0)
	fake.QueueExec("", "protocol version mismatch", 1)

	screen, err := a.CaptureScreen(context.Background(), "claude-abc")
	if err != nil {
		t.Fatalf("CaptureScreen() error = %v", err)
	}
	if screen.Cols != DefaultCols || screen.Rows != DefaultRows {
		t.Errorf("geometry = %dx%d, want %dx%d fallback", screen.Cols, screen.Rows, DefaultCols, DefaultRows)
	}
	if screen.Content != "pane\n" {
		t.Errorf("capture discarded on geometry failure: %q", screen.Content)
	}
}

func TestCaptureScreenClassification(t *testing.T) {
	tests := []struct {
		name      string
		stderr    string
		wantReady bool
	}{
		{"server not started", "no server running on /tmp/tmux-1000/default", true},
		{"session missing", "can't find session: main", true},
		{"socket missing", "error connecting to /tmp/tmux-1000/default (No such file or directory)", true},
		{"real failure", "server exited unexpectedly", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, fake := newAdapter(t)
			fake.QueueExec("", tt.stderr, 1)

			_, err := a.CaptureScreen(context.Background(), "claude-abc")
			if err == nil {
				t.Fatal("CaptureScreen() should fail")
			}
			if got := errors.Is(err, ErrNotReady); got != tt.wantReady {
				t.Errorf("errors.Is(err, ErrNotReady) = %v, want %v (err = %v)", got, tt.wantReady, err)
			}
		})
	}
}

func TestCaptureScreenStoppedContainer(t *testing.T) {
	a, fake := newAdapter(t)
	fake.ContainerByName("claude-abc").Running = false

	_, err := a.CaptureScreen(context.Background(), "claude-abc")
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("CaptureScreen(stopped) error = %v, want ErrNotRunning", err)
	}
}

func TestCaptureScreenMissingContainer(t *testing.T) {
	a, _ := newAdapter(t)

	_, err := a.CaptureScreen(context.Background(), "claude-ghost")
	if !errors.Is(err, container.ErrContainerNotFound) {
		t.Errorf("CaptureScreen(absent) error = %v, want ErrContainerNotFound", err)
	}
}

func TestSendKeysLiteral(t *testing.T) {
	a, fake := newAdapter(t)
	fake.QueueExec("", "", 0)

	if err := a.SendKeys(context.Background(), "claude-abc", "echo -n hello", true); err != nil {
		t.Fatalf("SendKeys() error = %v", err)
	}

	want := []string{"tmux", "send-keys", "-t", SessionName, "-l", "--", "echo -n hello"}
	got := fake.Execs[0].Cmd
	if strings.Join(got, "\x00") != strings.Join(want, "\x00") {
		t.Errorf("literal argv = %v, want %v", got, want)
	}
}

func TestSendKeysSymbolic(t *testing.T) {
	a, fake := newAdapter(t)
	fake.QueueExec("", "", 0)

	if err := a.SendKeys(context.Background(), "claude-abc", "C-c Enter", false); err != nil {
		t.Fatalf("SendKeys() error = %v", err)
	}

	want := []string{"tmux", "send-keys", "-t", SessionName, "C-c", "Enter"}
	got := fake.Execs[0].Cmd
	if strings.Join(got, "\x00") != strings.Join(want, "\x00") {
		t.Errorf("symbolic argv = %v, want %v", got, want)
	}
}

func TestSendKeysEmpty(t *testing.T) {
	a, fake := newAdapter(t)
	if err := a.SendKeys(context.Background(), "claude-abc", "", false); err == nil {
		t.Error("SendKeys(\"\") should fail")
	}
	if len(fake.Execs) != 0 {
		t.Error("empty keys reached the container")
	}
}

func TestSendKeysNotReady(t *testing.T) {
	a, fake := newAdapter(t)
	fake.QueueExec("", "no server running on /tmp/tmux-1000/default", 1)

	err := a.SendKeys(context.Background(), "claude-abc", "ls", true)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("SendKeys() error = %v, want ErrNotReady", err)
	}
}

func TestResizeBestEffort(t *testing.T) {
	a, fake := newAdapter(t)
	fake.QueueExec("", "can't find window", 1)
	fake.QueueExec("", "can't find window", 1)
	fake.QueueExec("", "no current client", 1)

	if err := a.Resize(context.Background(), "claude-abc", 132, 43); err != nil {
		t.Fatalf("Resize() error = %v, want nil despite failing steps", err)
	}
	if len(fake.Execs) != 3 {
		t.Errorf("resize steps executed = %d, want 3", len(fake.Execs))
	}

	resize := fake.Execs[1].Cmd
	argv := strings.Join(resize, " ")
	if !strings.Contains(argv, "-x 132") || !strings.Contains(argv, "-y 43") {
		t.Errorf("resize argv = %q, want -x 132 -y 43", argv)
	}
}

func TestResizeInvalidSize(t *testing.T) {
	a, fake := newAdapter(t)
	if err := a.Resize(context.Background(), "claude-abc", 0, 24); err == nil {
		t.Error("Resize(0x24) should fail")
	}
	if len(fake.Execs) != 0 {
		t.Error("invalid size reached the container")
	}
}
