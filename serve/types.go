package serve

// Action discriminates requests. The set is closed: dispatch goes
// through a static handler table and anything else is rejected by name.
type Action string

const (
	ActionCreate         Action = "create"
	ActionStop           Action = "stop"
	ActionList           Action = "list"
	ActionGet            Action = "get"
	ActionAttachInfo     Action = "attach_info"
	ActionLogs           Action = "logs"
	ActionCaptureScreen  Action = "capture_screen"
	ActionSendKeys       Action = "send_keys"
	ActionResizeTerminal Action = "resize_terminal"
	ActionPing           Action = "ping"
	ActionCleanup        Action = "cleanup"
	ActionCreateVolume   Action = "create_environment_volume"
	ActionDeleteVolume   Action = "delete_environment_volume"
	ActionInitializeEnv  Action = "initialize_environment"
	ActionResetVolume    Action = "reset_environment_volume"
)

// Response statuses. Success statuses vary by action; the three
// distinguishing statuses let pollers tell expected conditions from
// real failures.
const (
	StatusCreated     = "created"
	StatusStopped     = "stopped"
	StatusOK          = "ok"
	StatusDeleted     = "deleted"
	StatusInitialized = "initialized"
	StatusReset       = "reset"

	StatusError        = "error"
	StatusNotFound     = "not_found"
	StatusNotRunning   = "not_running"
	StatusTmuxNotReady = "tmux_not_ready"
)

// Request is the single JSON object a client sends per connection. Only
// Action is always required; the rest are per-action fields.
type Request struct {
	Action            Action            `json:"action"`
	SessionID         string            `json:"session_id,omitempty"`
	Image             string            `json:"image,omitempty"`
	MemoryStack       string            `json:"memory_stack,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
	GitRepoURL        string            `json:"git_repo_url,omitempty"`
	SSHPrivateKey     string            `json:"ssh_private_key,omitempty"`
	GitHubToken       string            `json:"github_token,omitempty"`
	GitHubTokenWrite  string            `json:"github_token_write,omitempty"`
	ClaudePrompt      string            `json:"claude_prompt,omitempty"`
	SnapshotPath      string            `json:"snapshot_path,omitempty"`
	EnvironmentVolume string            `json:"environment_volume,omitempty"`
	VolumeName        string            `json:"volume_name,omitempty"`
	Keys              string            `json:"keys,omitempty"`
	Literal           bool              `json:"literal,omitempty"`
	Cols              int               `json:"cols,omitempty"`
	Rows              int               `json:"rows,omitempty"`
	Tail              int               `json:"tail,omitempty"`
}

// --- Response Types ---

// Response is the envelope every reply carries; action-specific replies
// embed it. SessionID and VolumeName echo the request for correlation.
type Response struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	VolumeName string `json:"volume_name,omitempty"`
}

// CreateResponse is returned when a session is created.
type CreateResponse struct {
	Response
	ContainerName string `json:"container_name"`
	ContainerID   string `json:"container_id,omitempty"`
	MemoryStack   string `json:"memory_stack,omitempty"`
}

// StopResponse reports whether anything was actually removed; stopping
// an absent session succeeds with ContainerStopped false.
type StopResponse struct {
	Response
	ContainerStopped bool `json:"container_stopped"`
}

// SessionView is the wire representation of one session.
type SessionView struct {
	SessionID   string `json:"session_id"`
	ContainerID string `json:"container_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	MemoryStack string `json:"memory_stack,omitempty"`
}

// ListResponse carries every known session.
type ListResponse struct {
	Response
	Sessions []SessionView `json:"sessions"`
}

// GetResponse carries one session.
type GetResponse struct {
	Response
	Session *SessionView `json:"session,omitempty"`
}

// AttachResponse tells the caller how to reach a session's terminal.
type AttachResponse struct {
	Response
	ContainerName string `json:"container_name,omitempty"`
	AttachCommand string `json:"attach_command,omitempty"`
}

// LogsResponse carries session output and which source served it.
type LogsResponse struct {
	Response
	Logs   string `json:"logs"`
	Source string `json:"source,omitempty"`
}

// ScreenResponse carries a terminal capture with its geometry.
type ScreenResponse struct {
	Response
	Screen string `json:"screen"`
	Cols   int    `json:"cols,omitempty"`
	Rows   int    `json:"rows,omitempty"`
}

// CleanupResponse lists the dead session containers that were removed.
type CleanupResponse struct {
	Response
	Removed []string `json:"removed"`
}

// DeleteVolumeResponse reports whether a volume was actually removed;
// deleting an absent volume succeeds with VolumeDeleted false.
type DeleteVolumeResponse struct {
	Response
	VolumeDeleted bool `json:"volume_deleted"`
}
