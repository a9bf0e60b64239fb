package api

import (
	"fmt"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/fuel-code/server/pkg/apierr"
	"github.com/fuel-code/server/pkg/domain"
)

// uploadResponse is the wire body of POST /sessions/:id/transcript/upload
// (spec §6).
type uploadResponse struct {
	Status            string `json:"status"`
	S3Key             string `json:"s3_key"`
	PipelineTriggered bool   `json:"pipeline_triggered,omitempty"`
}

// transcriptUploadHandler streams a raw JSONL transcript to the Object Store
// and records its key on the session row (spec §6 "Transcript upload HTTP").
func (s *Server) transcriptUploadHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	sess, err := s.store.Sessions.Get(ctx, s.store.Pool, sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if sess.TranscriptKey != nil {
		return c.JSON(http.StatusOK, uploadResponse{Status: "already_uploaded", S3Key: *sess.TranscriptKey})
	}

	contentLength, err := strconv.ParseInt(c.Request().Header.Get("Content-Length"), 10, 64)
	if err != nil || contentLength <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "missing or zero Content-Length")
	}

	ws, err := s.store.Workspaces.Get(ctx, s.store.Pool, sess.WorkspaceID)
	if err != nil {
		return mapServiceError(err)
	}

	key := "transcripts/" + ws.CanonicalID + "/" + sess.ID + "/raw.jsonl"
	if err := s.objects.Put(ctx, key, c.Request().Body, contentLength); err != nil {
		return mapServiceError(err)
	}
	if err := s.store.Sessions.SetTranscriptKey(ctx, s.store.Pool, sess.ID, key); err != nil {
		return mapServiceError(err)
	}

	triggered := false
	if sess.Lifecycle.Ordinal() >= domain.LifecycleEnded.Ordinal() {
		s.pipeline.Enqueue(sess.ID)
		triggered = true
	}

	return c.JSON(http.StatusAccepted, uploadResponse{Status: "uploaded", S3Key: key, PipelineTriggered: triggered})
}

// reparseHandler re-enqueues a session into the Transcript Pipeline
// regardless of current parse_status, for operator-triggered recovery from
// a bad parse or an updated pricing table.
func (s *Server) reparseHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	if _, err := s.store.Sessions.Get(ctx, s.store.Pool, sessionID); err != nil {
		return mapServiceError(err)
	}
	if err := s.store.Sessions.ResetForReparse(ctx, s.store.Pool, sessionID); err != nil {
		return mapServiceError(err)
	}
	s.pipeline.Enqueue(sessionID)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "reparse_queued"})
}

// archiveHandler flips a session from summarized to archived; it requires
// lifecycle = summarized and rejects any other state with a conflict.
func (s *Server) archiveHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	archived, err := s.store.Sessions.Archive(ctx, s.store.Pool, sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if !archived {
		return mapServiceError(fmt.Errorf("session %s: %w", sessionID, apierr.ErrConflict))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "archived"})
}
