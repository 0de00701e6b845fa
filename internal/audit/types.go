package audit

import "time"

// Actions recorded in the trail.
const (
	ActionClientRegistered = "client_registered"
	ActionClientRevoked    = "client_revoked"
	ActionClientsRestored  = "clients_restored"
	ActionExposureUpdated  = "exposure_updated"
	ActionCommand          = "command"
)

// Sources of audit entries.
const (
	SourceAPI        = "api"
	SourceDispatcher = "dispatcher"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is a single audit trail record.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	ClientID  string         `json:"client_id,omitempty"`
	EntityID  string         `json:"entity_id,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries List returns. Empty fields match everything.
type Filter struct {
	Action   string
	ClientID string
	EntityID string
	Limit    int // default 50, max 200
	Offset   int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}
