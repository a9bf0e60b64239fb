package api

import (
	"encoding/json"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/fuel-code/server/pkg/apierr"
	"github.com/fuel-code/server/pkg/domain"
)

// maxIngestBodyBytes caps the ingest request body (spec §4.D: "1 MiB body
// limit").
const maxIngestBodyBytes = 1 << 20

// ingestRequest is the wire body of POST /events/ingest (spec §6).
type ingestRequest struct {
	Events []domain.Event `json:"events"`
}

// ingestResponse is the wire body of the 202 response (spec §4.D step 4).
type ingestResponse struct {
	Ingested int `json:"ingested"`
	Rejected int `json:"rejected"`
}

// ingestHandler validates and enqueues an event batch (spec §4.D). It never
// writes to the Event Store directly — persistence happens in the Consumer
// Loop so dedup and side effects stay transactional.
func (s *Server) ingestHandler(c *echo.Context) error {
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxIngestBodyBytes)

	var req ingestRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	resp := ingestResponse{}
	for i := range req.Events {
		e := &req.Events[i]
		if err := validateEvent(e); err != nil {
			resp.Rejected++
			continue
		}
		if e.ID == "" {
			e.ID = domain.NewEventID()
		}
		e.IngestedAt = time.Now().UTC()
		payload, err := json.Marshal(e)
		if err != nil {
			resp.Rejected++
			continue
		}
		if _, err := s.queue.Append(c.Request().Context(), e.ID, payload); err != nil {
			return mapServiceError(err)
		}
		resp.Ingested++
	}

	return c.JSON(http.StatusAccepted, resp)
}

// validateEvent checks an event's shape against the type-indexed schema
// (spec §6 "Per-type data contracts"). Unrecognized types are accepted —
// the processor records them and returns no_handler, which is not a
// rejection.
func validateEvent(e *domain.Event) error {
	if e.Type == "" {
		return errRequiredField("type")
	}
	if e.DeviceID == "" {
		return errRequiredField("device_id")
	}
	if e.WorkspaceID == "" {
		return errRequiredField("workspace_id")
	}
	if e.Timestamp.IsZero() {
		return errRequiredField("timestamp")
	}

	switch e.Type {
	case domain.EventSessionStart:
		var d domain.SessionStartData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.CCSessionID == "" || d.Cwd == "" {
			return errRequiredField("data.cc_session_id/cwd")
		}
	case domain.EventSessionEnd:
		var d domain.SessionEndData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.CCSessionID == "" {
			return errRequiredField("data.cc_session_id")
		}
	case domain.EventGitCommit:
		var d domain.GitCommitData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.CommitSHA == "" {
			return errRequiredField("data.commit_sha")
		}
	case domain.EventGitPush:
		var d domain.GitPushData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.Branch == "" {
			return errRequiredField("data.branch")
		}
	case domain.EventGitCheckout:
		var d domain.GitCheckoutData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.Branch == "" {
			return errRequiredField("data.branch")
		}
	case domain.EventGitMerge:
		var d domain.GitMergeData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.Branch == "" {
			return errRequiredField("data.branch")
		}
	}
	return nil
}

func errRequiredField(field string) error {
	return apierr.NewValidationError("missing or invalid " + field)
}
