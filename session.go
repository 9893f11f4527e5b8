package sessiond

import (
	"sort"
	"strings"
)

// ContainerPrefix is prepended to a session ID to form its container
// name.
const ContainerPrefix = "claude-"

// ContainerName derives the container name for a session ID. The
// mapping is deterministic and invertible: the engine's list of
// containers carrying the session label is the session registry.
func ContainerName(sessionID string) string {
	return ContainerPrefix + sessionID
}

// SessionIDFromContainer inverts ContainerName. ok is false for names
// that do not belong to a session.
func SessionIDFromContainer(name string) (string, bool) {
	if !strings.HasPrefix(name, ContainerPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(name, ContainerPrefix)
	return id, id != ""
}

// SessionConfig describes one requested session. It exists only for the
// duration of the create call; nothing persists it.
type SessionConfig struct {
	// SessionID names the session. Required, engine name rules apply.
	SessionID string

	// Image selects a managed image by name. Empty means the
	// configured default image.
	Image string

	// MemoryStack, when set, attaches the session to that stack's
	// network in addition to the shared one, and is recorded as a
	// label for listing.
	MemoryStack string

	// Env are extra environment variables for the session process.
	Env map[string]string

	// Credentials and prompt, each injected as an environment variable
	// only when non-empty.
	GitRepoURL       string
	SSHPrivateKey    string
	GitHubToken      string
	GitHubTokenWrite string
	ClaudePrompt     string

	// SnapshotPath seeds the home directory from a snapshot archive.
	// Ignored when EnvironmentVolume is set.
	SnapshotPath string

	// EnvironmentVolume mounts an existing environment volume as the
	// home directory instead of extracting a snapshot.
	EnvironmentVolume string
}

// Environment merges the caller's variables with the derived credential
// and prompt variables. A derived variable appears only when its source
// field is non-empty. The result is sorted so container specs are
// deterministic.
func (c *SessionConfig) Environment() []string {
	merged := make(map[string]string, len(c.Env)+5)
	for k, v := range c.Env {
		merged[k] = v
	}
	derived := map[string]string{
		"GIT_REPO_URL":       c.GitRepoURL,
		"SSH_PRIVATE_KEY":    c.SSHPrivateKey,
		"GITHUB_TOKEN":       c.GitHubToken,
		"GITHUB_TOKEN_WRITE": c.GitHubTokenWrite,
		"CLAUDE_PROMPT":      c.ClaudePrompt,
	}
	for k, v := range derived {
		if v != "" {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// SessionInfo is the live, engine-derived view of one session.
type SessionInfo struct {
	SessionID   string
	ContainerID string
	Name        string
	Status      string
	MemoryStack string
}

// AttachInfo tells a human how to reach a session's terminal from the
// host.
type AttachInfo struct {
	SessionID     string
	ContainerName string
	AttachCommand string
}

// LogResult carries session output plus which source produced it:
// "file" for the host log mount, "container" for the engine log
// fallback.
type LogResult struct {
	Content string
	Source  string
}
