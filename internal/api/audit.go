package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
)

// recordAudit appends an operator action to the trail, if one is configured.
func (s *Server) recordAudit(r *http.Request, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if e.Source == "" {
		e.Source = audit.SourceAPI
	}
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["request_id"] = id
	}
	s.audit.Record(r.Context(), e)
}

// handleListAudit returns a page of the audit trail, newest first.
//
// Query parameters: action, client_id, entity_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit trail not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		ClientID: q.Get("client_id"),
		EntityID: q.Get("entity_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, name+" must be an integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit trail failed", "error", err)
		writeInternalError(w, "failed to list audit trail")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
