package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClientRepository persists ClientRecords.
type ClientRepository interface {
	Create(ctx context.Context, rec *ClientRecord) error
	GetByID(ctx context.Context, id string) (*ClientRecord, error)
	List(ctx context.Context) ([]ClientRecord, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	Import(ctx context.Context, recs []ClientRecord) (int, error)
}

// SQLiteClientRepository implements ClientRepository using SQLite.
type SQLiteClientRepository struct {
	db *sql.DB
}

// NewClientRepository creates a new SQLite-backed client repository.
func NewClientRepository(db *sql.DB) *SQLiteClientRepository {
	return &SQLiteClientRepository{db: db}
}

const clientColumns = `id, name, token_hash, created_at, expires_at, revoked, revoked_at`

// Create inserts a new record. The id must be unique.
func (r *SQLiteClientRepository) Create(ctx context.Context, rec *ClientRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.TokenHash,
		formatTime(rec.CreatedAt), formatTime(rec.ExpiresAt),
		boolToInt(rec.Revoked), nullTime(rec.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	return nil
}

// GetByID retrieves a record by client id.
func (r *SQLiteClientRepository) GetByID(ctx context.Context, id string) (*ClientRecord, error) {
	rec, err := scanClient(r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("getting client: %w", err)
	}
	return rec, nil
}

// List returns every record in registration order.
func (r *SQLiteClientRepository) List(ctx context.Context) ([]ClientRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	recs := []ClientRecord{}
	for rows.Next() {
		rec, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating clients: %w", err)
	}
	return recs, nil
}

// Revoke sets the revoked flag. Revoking twice keeps the first revoked_at.
func (r *SQLiteClientRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE clients SET revoked = 1, revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("revoking client: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrClientNotFound
	}
	return nil
}

// Import merges records in one transaction. New ids are inserted; for
// existing ids only revocation is merged, so a restore never un-revokes.
// Returns the number of records inserted.
func (r *SQLiteClientRepository) Import(ctx context.Context, recs []ClientRecord) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var before, after int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&before); err != nil {
		return 0, fmt.Errorf("counting clients: %w", err)
	}

	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   revoked = MAX(revoked, excluded.revoked),
			   revoked_at = COALESCE(revoked_at, excluded.revoked_at)`,
			rec.ID, rec.Name, rec.TokenHash,
			formatTime(rec.CreatedAt), formatTime(rec.ExpiresAt),
			boolToInt(rec.Revoked), nullTime(rec.RevokedAt),
		); err != nil {
			return 0, fmt.Errorf("importing client %s: %w", rec.ID, err)
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&after); err != nil {
		return 0, fmt.Errorf("counting clients: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return after - before, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*ClientRecord, error) {
	var rec ClientRecord
	var createdAt, expiresAt string
	var revoked int
	var revokedAt sql.NullString

	if err := row.Scan(&rec.ID, &rec.Name, &rec.TokenHash, &createdAt, &expiresAt, &revoked, &revokedAt); err != nil {
		return nil, err
	}

	rec.Revoked = revoked != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	rec.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	if revokedAt.Valid {
		t, _ := time.Parse(time.RFC3339, revokedAt.String) //nolint:errcheck // format is controlled
		rec.RevokedAt = &t
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
