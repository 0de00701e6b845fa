package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/exposure"
	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// exposureBody is the request and response body of /exposure.
type exposureBody struct {
	Readable     []string `json:"readable"`
	Controllable []string `json:"controllable"`
}

// readableSnapshots returns the host state of every readable entity in set.
func readableSnapshots(ctx context.Context, host entity.Host, set *exposure.Set) ([]entity.Snapshot, error) {
	all, err := host.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Snapshot, 0, len(all))
	for _, s := range all {
		if set.IsReadable(s.EntityID) {
			out = append(out, s)
		}
	}
	return out, nil
}

// handleListEntities returns the caller's readable entities.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := readableSnapshots(r.Context(), s.host, s.exposure.Current())
	if err != nil {
		s.logger.Error("listing entities failed", "error", err)
		writeInternalError(w, "failed to read entities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// handleCallService is the HTTP fallback for the Sync Channel command.
// The body is always a command_result; the status code reflects the reason.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	var cmd protocol.CommandPayload
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}

	rec := clientFromContext(r.Context())
	if rec == nil {
		writeUnauthorized(w, unauthorisedMessage)
		return
	}

	result, _ := s.dispatcher.Handle(r.Context(), rec.ID, cmd) //nolint:errcheck // classified in result.Reason
	writeJSON(w, statusForResult(result), result)
}

// handleGetExposure returns the current exposure configuration.
func (s *Server) handleGetExposure(w http.ResponseWriter, _ *http.Request) {
	set := s.exposure.Current()
	writeJSON(w, http.StatusOK, exposureBody{
		Readable:     set.Readable(),
		Controllable: set.Controllable(),
	})
}

// handlePutExposure replaces the exposure configuration at runtime. Every
// open session receives a fresh snapshot of the new readable set.
func (s *Server) handlePutExposure(w http.ResponseWriter, r *http.Request) {
	var body exposureBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	set, err := exposure.NewSet(body.Readable, body.Controllable)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	s.exposure.Replace(set)
	s.logger.Info("exposure updated",
		"readable", len(body.Readable),
		"controllable", len(body.Controllable),
	)
	s.recordAudit(r, audit.Entry{
		Action: audit.ActionExposureUpdated,
		Details: map[string]any{
			"readable":     set.Readable(),
			"controllable": set.Controllable(),
		},
	})

	writeJSON(w, http.StatusOK, exposureBody{
		Readable:     set.Readable(),
		Controllable: set.Controllable(),
	})
}
