package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository stores and queries audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository implements Repository on the audit_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db. The audit_log migration
// must already be applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create appends e. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, client_id, entity_id, outcome, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action,
		nullableString(e.ClientID), nullableString(e.EntityID),
		e.Outcome, e.Source, details,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.ClientID != "" {
		conditions = append(conditions, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_log " + where //nolint:gosec // WHERE built from fixed conditions with ? placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := "SELECT id, action, client_id, entity_id, outcome, source, details, created_at FROM audit_log " + //nolint:gosec // WHERE built from fixed conditions with ? placeholders
		where + " ORDER BY seq DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var clientID, entityID, details sql.NullString
	var createdAt string

	if err := rows.Scan(&e.ID, &e.Action, &clientID, &entityID,
		&e.Outcome, &e.Source, &details, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning audit entry: %w", err)
	}
	e.ClientID = clientID.String
	e.EntityID = entityID.String

	if details.Valid && details.String != "" {
		var m map[string]any
		if json.Unmarshal([]byte(details.String), &m) == nil {
			e.Details = m
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
