package serve

import (
	"context"
	"errors"

	sessiond "github.com/everydev1618/sessiond"
)

// errorResponse maps manager sentinel errors to distinguishing response
// statuses; everything else becomes a plain error envelope carrying the
// underlying message.
func errorResponse(err error, sessionID, volumeName string) Response {
	resp := Response{SessionID: sessionID, VolumeName: volumeName}
	switch {
	case errors.Is(err, sessiond.ErrSessionNotFound):
		resp.Status = StatusNotFound
	case errors.Is(err, sessiond.ErrSessionNotRunning):
		resp.Status = StatusNotRunning
	case errors.Is(err, sessiond.ErrTmuxNotReady):
		resp.Status = StatusTmuxNotReady
	default:
		resp.Status = StatusError
		resp.Error = err.Error()
	}
	return resp
}

func viewFrom(info sessiond.SessionInfo) SessionView {
	return SessionView{
		SessionID:   info.SessionID,
		ContainerID: info.ContainerID,
		Name:        info.Name,
		Status:      info.Status,
		MemoryStack: info.MemoryStack,
	}
}

func (s *Server) handleCreate(ctx context.Context, req *Request) any {
	info, err := s.sessions.Create(ctx, sessiond.SessionConfig{
		SessionID:         req.SessionID,
		Image:             req.Image,
		MemoryStack:       req.MemoryStack,
		Env:               req.Env,
		GitRepoURL:        req.GitRepoURL,
		SSHPrivateKey:     req.SSHPrivateKey,
		GitHubToken:       req.GitHubToken,
		GitHubTokenWrite:  req.GitHubTokenWrite,
		ClaudePrompt:      req.ClaudePrompt,
		SnapshotPath:      req.SnapshotPath,
		EnvironmentVolume: req.EnvironmentVolume,
	})
	if err != nil {
		return errorResponse(err, req.SessionID, "")
	}
	return CreateResponse{
		Response:      Response{Status: StatusCreated, SessionID: info.SessionID},
		ContainerName: info.Name,
		ContainerID:   info.ContainerID,
		MemoryStack:   info.MemoryStack,
	}
}

func (s *Server) handleStop(ctx context.Context, req *Request) any {
	stopped, err := s.sessions.Stop(ctx, req.SessionID)
	if err != nil {
		return errorResponse(err, req.SessionID, "")
	}
	return StopResponse{
		Response:         Response{Status: StatusStopped, SessionID: req.SessionID},
		ContainerStopped: stopped,
	}
}

func (s *Server) handleList(ctx context.Context, req *Request) any {
	infos, err := s.sessions.List(ctx)
	if err != nil {
		return errorResponse(err, "", "")
	}
	views := make([]SessionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, viewFrom(info))
	}
	return ListResponse{
		Response: Response{Status: StatusOK},
		Sessions: views,
	}
}

func (s *Server) handleGet(ctx context.Context, req *Request) any {
	info, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return errorResponse(err, req.SessionID, "")
	}
	view := viewFrom(*info)
	return GetResponse{
		Response: Response{Status: StatusOK, SessionID: req.SessionID},
		Session:  &view,
	}
}

func (s *Server) handleAttachInfo(ctx context.Context, req *Request) any {
	ai, err := s.sessions.AttachInfo(ctx, req.SessionID)
	if err != nil {
		return errorResponse(err, req.SessionID, "")
	}
	return AttachResponse{
		Response:      Response{Status: StatusOK, SessionID: req.SessionID},
		ContainerName: ai.ContainerName,
		AttachCommand: ai.AttachCommand,
	}
}

func (s *Server) handleLogs(ctx context.Context, req *Request) any {
	res, err := s.sessions.Logs(ctx, req.SessionID, req.Tail)
	if err != nil {
		return errorResponse(err, req.SessionID, "")
	}
	return LogsResponse{
		Response: Response{Status: StatusOK, SessionID: req.SessionID},
		Logs:     res.Content,
		Source:   res.Source,
	}
}

func (s *Server) handleCaptureScreen(ctx context.Context, req *Request) any {
	screen, err := s.sessions.CaptureScreen(ctx, req.SessionID)
	if err != nil {
		return errorResponse(err, req.SessionID, "")
	}
	return ScreenResponse{
		Response: Response{Status: StatusOK, SessionID: req.SessionID},
		Screen:   screen.Content,
		Cols:     screen.Cols,
		Rows:     screen.Rows,
	}
}

func (s *Server) handleSendKeys(ctx context.Context, req *Request) any {
	if err := s.sessions.SendKeys(ctx, req.SessionID, req.Keys, req.Literal); err != nil {
		return errorResponse(err, req.SessionID, "")
	}
	return Response{Status: StatusOK, SessionID: req.SessionID}
}

func (s *Server) handleResizeTerminal(ctx context.Context, req *Request) any {
	if err := s.sessions.ResizeTerminal(ctx, req.SessionID, req.Cols, req.Rows); err != nil {
		return errorResponse(err, req.SessionID, "")
	}
	return Response{Status: StatusOK, SessionID: req.SessionID}
}

func (s *Server) handlePing(ctx context.Context, req *Request) any {
	return Response{Status: StatusOK}
}

func (s *Server) handleCleanup(ctx context.Context, req *Request) any {
	removed, err := s.sessions.CleanupDead(ctx)
	if err != nil {
		return errorResponse(err, "", "")
	}
	if removed == nil {
		removed = []string{}
	}
	return CleanupResponse{
		Response: Response{Status: StatusOK},
		Removed:  removed,
	}
}

func (s *Server) handleCreateVolume(ctx context.Context, req *Request) any {
	if err := s.volumes.Create(ctx, req.VolumeName); err != nil {
		return errorResponse(err, "", req.VolumeName)
	}
	return Response{Status: StatusCreated, VolumeName: req.VolumeName}
}

func (s *Server) handleDeleteVolume(ctx context.Context, req *Request) any {
	deleted, err := s.volumes.Delete(ctx, req.VolumeName)
	if err != nil {
		return errorResponse(err, "", req.VolumeName)
	}
	return DeleteVolumeResponse{
		Response:      Response{Status: StatusDeleted, VolumeName: req.VolumeName},
		VolumeDeleted: deleted,
	}
}

func (s *Server) handleInitializeEnv(ctx context.Context, req *Request) any {
	if err := s.volumes.Initialize(ctx, req.VolumeName, req.SnapshotPath); err != nil {
		return errorResponse(err, "", req.VolumeName)
	}
	return Response{Status: StatusInitialized, VolumeName: req.VolumeName}
}

func (s *Server) handleResetVolume(ctx context.Context, req *Request) any {
	if err := s.volumes.Reset(ctx, req.VolumeName, req.SnapshotPath); err != nil {
		return errorResponse(err, "", req.VolumeName)
	}
	return Response{Status: StatusReset, VolumeName: req.VolumeName}
}
