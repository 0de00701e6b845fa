package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/auth"
)

// Credential headers.
const (
	headerAuthorization = "Authorization"
	headerSharedSecret  = "X-Shared-Secret"
	bearerPrefix        = "Bearer "

	// cborContentType is the media type of client registry backups.
	cborContentType = "application/cbor"
)

// unauthorisedMessage is the only failure text a caller ever sees.
const unauthorisedMessage = "invalid or missing credentials"

// registerRequest is the request body for POST /register_client.
type registerRequest struct {
	Name string `json:"name"`
}

// registerResponse carries the raw token. It is never returned again.
type registerResponse struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Token    string `json:"token"`
}

// revokeRequest is the request body for POST /revoke_client.
type revokeRequest struct {
	ClientID string `json:"client_id"`
}

// clientView is the operator view of a ClientRecord. Token material is
// never included.
type clientView struct {
	ClientID  string    `json:"client_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get(headerAuthorization)
	if !strings.HasPrefix(h, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
}

// validateRequest validates the bearer token and logs the failure cause.
func (s *Server) validateRequest(r *http.Request) (*auth.ClientRecord, bool) {
	token := bearerToken(r)
	if token == "" {
		return nil, false
	}
	rec, err := s.auth.Validate(r.Context(), token)
	if err != nil {
		s.logger.Warn("token validation failed",
			"reason", auth.ReasonOf(err),
			"client_id", clientIDOf(err),
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		return nil, false
	}
	return rec, true
}

// clientAuthMiddleware requires a valid client token.
func (s *Server) clientAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := s.validateRequest(r)
		if !ok {
			writeUnauthorized(w, unauthorisedMessage)
			return
		}
		setRequestClient(r.Context(), rec.ID)
		ctx := context.WithValue(r.Context(), ctxKeyClient, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sharedSecretMiddleware requires the shared secret in X-Shared-Secret.
func (s *Server) sharedSecretMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.CheckSharedSecret(r.Header.Get(headerSharedSecret)) {
			s.logger.Warn("shared secret rejected", "path", r.URL.Path)
			writeUnauthorized(w, unauthorisedMessage)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientOrSecretMiddleware accepts either the shared secret or a client token.
func (s *Server) clientOrSecretMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret := r.Header.Get(headerSharedSecret); secret != "" {
			if s.auth.CheckSharedSecret(secret) {
				next.ServeHTTP(w, r)
				return
			}
			writeUnauthorized(w, unauthorisedMessage)
			return
		}
		s.clientAuthMiddleware(next).ServeHTTP(w, r)
	})
}

// clientFromContext returns the client attached by clientAuthMiddleware.
func clientFromContext(ctx context.Context) *auth.ClientRecord {
	rec, _ := ctx.Value(ctxKeyClient).(*auth.ClientRecord) //nolint:errcheck // nil when absent
	return rec
}

// handleAuth validates a bearer token and returns the identity it binds to.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.validateRequest(r)
	if !ok {
		writeUnauthorized(w, unauthorisedMessage)
		return
	}
	setRequestClient(r.Context(), rec.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"client_id": rec.ID,
		"name":      rec.Name,
	})
}

// handleRegisterClient creates a client and returns its token once.
func (s *Server) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec, token, err := s.auth.Register(r.Context(), req.Name)
	switch {
	case errors.Is(err, auth.ErrInvalidName):
		writeValidationError(w, "name must be 1-64 characters")
		return
	case errors.Is(err, auth.ErrDuplicateName):
		writeConflict(w, "a client with this name already exists")
		return
	case err != nil:
		s.logger.Error("client registration failed", "error", err)
		writeInternalError(w, "failed to register client")
		return
	}

	s.recordAudit(r, audit.Entry{
		Action:   audit.ActionClientRegistered,
		ClientID: rec.ID,
		Details:  map[string]any{"name": rec.Name},
	})

	writeJSON(w, http.StatusCreated, registerResponse{
		ClientID: rec.ID,
		Name:     rec.Name,
		Token:    token,
	})
}

// handleRevokeClient revokes a client. Revoking twice succeeds both times.
func (s *Server) handleRevokeClient(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ClientID == "" {
		writeValidationError(w, "client_id is required")
		return
	}

	err := s.auth.Revoke(r.Context(), req.ClientID)
	switch {
	case errors.Is(err, auth.ErrClientNotFound):
		writeNotFound(w, "client not found")
		return
	case err != nil:
		s.logger.Error("client revocation failed", "client_id", req.ClientID, "error", err)
		writeInternalError(w, "failed to revoke client")
		return
	}

	s.recordAudit(r, audit.Entry{Action: audit.ActionClientRevoked, ClientID: req.ClientID})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"client_id": req.ClientID,
		"revoked":   true,
	})
}

// handleListClients returns every client in registration order.
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	recs, err := s.auth.List(r.Context())
	if err != nil {
		s.logger.Error("listing clients failed", "error", err)
		writeInternalError(w, "failed to list clients")
		return
	}

	views := make([]clientView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, clientView{
			ClientID:  rec.ID,
			Name:      rec.Name,
			CreatedAt: rec.CreatedAt,
			Revoked:   rec.Revoked,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clients": views,
		"count":   len(views),
	})
}

// handleBackupClients returns the client registry as an opaque CBOR blob.
func (s *Server) handleBackupClients(w http.ResponseWriter, r *http.Request) {
	blob, err := s.auth.Export(r.Context())
	if err != nil {
		s.logger.Error("client backup failed", "error", err)
		writeInternalError(w, "failed to export clients")
		return
	}
	w.Header().Set("Content-Type", cborContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="graysync-clients.cbor"`)
	w.WriteHeader(http.StatusOK)
	w.Write(blob) //nolint:errcheck // Best-effort write to response
}

// handleRestoreClients merges a blob produced by /clients/backup.
func (s *Server) handleRestoreClients(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}

	n, err := s.auth.Import(r.Context(), blob)
	switch {
	case errors.Is(err, auth.ErrInvalidBackup):
		writeBadRequest(w, "invalid backup")
		return
	case errors.Is(err, auth.ErrDuplicateName):
		writeConflict(w, "backup contains a client name already in use")
		return
	case err != nil:
		s.logger.Error("client restore failed", "error", err)
		writeInternalError(w, "failed to restore clients")
		return
	}

	s.recordAudit(r, audit.Entry{
		Action:  audit.ActionClientsRestored,
		Details: map[string]any{"inserted": n},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"inserted": n,
	})
}
