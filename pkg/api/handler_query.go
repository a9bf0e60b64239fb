package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

const defaultListLimit = 50

// sessionDetail adds the derived transcript message count and git activity
// count to a plain session row for the session-detail endpoint.
type sessionDetail struct {
	Session          any `json:"session"`
	TranscriptCount  int `json:"transcript_message_count"`
	GitActivityCount int `json:"git_activity_count"`
}

// listWorkspacesHandler handles GET /api/v1/workspaces.
func (s *Server) listWorkspacesHandler(c *echo.Context) error {
	workspaces, err := s.store.Workspaces.List(c.Request().Context(), s.store.Pool, listLimit(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, workspaces)
}

// listWorkspaceSessionsHandler handles GET /api/v1/workspaces/:id/sessions.
func (s *Server) listWorkspaceSessionsHandler(c *echo.Context) error {
	sessions, err := s.store.Sessions.ListByWorkspace(c.Request().Context(), s.store.Pool, c.Param("id"), listLimit(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	sess, err := s.store.Sessions.Get(ctx, s.store.Pool, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	msgCount, err := s.store.Transcripts.CountMessages(ctx, s.store.Pool, sess.ID)
	if err != nil {
		return mapServiceError(err)
	}
	activity, err := s.store.GitActivity.ListBySession(ctx, s.store.Pool, sess.ID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, sessionDetail{
		Session:          sess,
		TranscriptCount:  msgCount,
		GitActivityCount: len(activity),
	})
}

func listLimit(c *echo.Context) int {
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}
