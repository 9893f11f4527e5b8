package sessiond

import (
	"reflect"
	"testing"
)

func TestContainerName(t *testing.T) {
	if got := ContainerName("abc"); got != "claude-abc" {
		t.Errorf("ContainerName(abc) = %q, want claude-abc", got)
	}
}

func TestSessionIDFromContainer(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		wantID string
		wantOK bool
	}{
		{"session container", "claude-abc", "abc", true},
		{"prefix only", "claude-", "", false},
		{"foreign container", "postgres", "", false},
		{"helper container", "sessiond-helper-1234", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := SessionIDFromContainer(tt.in)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("SessionIDFromContainer(%q) = (%q, %v), want (%q, %v)",
					tt.in, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestSessionConfigEnvironment(t *testing.T) {
	tests := []struct {
		name string
		cfg  SessionConfig
		want []string
	}{
		{
			name: "empty",
			cfg:  SessionConfig{},
			want: []string{},
		},
		{
			name: "derived only when set",
			cfg: SessionConfig{
				GitHubToken:  "tok",
				ClaudePrompt: "do things",
			},
			want: []string{"CLAUDE_PROMPT=do things", "GITHUB_TOKEN=tok"},
		},
		{
			name: "caller env merged and sorted",
			cfg: SessionConfig{
				Env:        map[string]string{"ZED": "1", "ALPHA": "2"},
				GitRepoURL: "git@example.com:org/repo.git",
			},
			want: []string{"ALPHA=2", "GIT_REPO_URL=git@example.com:org/repo.git", "ZED=1"},
		},
		{
			name: "derived overrides caller key",
			cfg: SessionConfig{
				Env:          map[string]string{"CLAUDE_PROMPT": "stale"},
				ClaudePrompt: "fresh",
			},
			want: []string{"CLAUDE_PROMPT=fresh"},
		},
		{
			name: "all credentials",
			cfg: SessionConfig{
				GitRepoURL:       "url",
				SSHPrivateKey:    "key",
				GitHubToken:      "ro",
				GitHubTokenWrite: "rw",
				ClaudePrompt:     "p",
			},
			want: []string{
				"CLAUDE_PROMPT=p",
				"GITHUB_TOKEN=ro",
				"GITHUB_TOKEN_WRITE=rw",
				"GIT_REPO_URL=url",
				"SSH_PRIVATE_KEY=key",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.Environment()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Environment() = %v, want %v", got, tt.want)
			}
		})
	}
}
