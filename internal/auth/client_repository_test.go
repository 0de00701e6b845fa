package auth

import (
	"errors"
	"testing"
	"time"
)

func newRecord(id, name string) *ClientRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &ClientRecord{
		ID:        id,
		Name:      name,
		TokenHash: HashToken("token-" + id),
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultTokenTTL),
	}
}

func TestClientRepository_CreateAndGet(t *testing.T) {
	repo := NewClientRepository(testDB(t))
	ctx := t.Context()

	rec := newRecord("c1", "Kitchen")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "c1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Kitchen" || got.TokenHash != rec.TokenHash {
		t.Errorf("GetByID() = %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.ExpiresAt, rec.CreatedAt, rec.ExpiresAt)
	}
	if got.Revoked || got.RevokedAt != nil {
		t.Error("new record should not be revoked")
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrClientNotFound", err)
	}
}

func TestClientRepository_DuplicateID(t *testing.T) {
	repo := NewClientRepository(testDB(t))
	ctx := t.Context()

	if err := repo.Create(ctx, newRecord("c1", "A")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, newRecord("c1", "B")); err == nil {
		t.Error("Create() with duplicate id should fail")
	}
}

func TestClientRepository_ListPreservesInsertionOrder(t *testing.T) {
	repo := NewClientRepository(testDB(t))
	ctx := t.Context()

	// Ids deliberately out of lexical order.
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := repo.Create(ctx, newRecord(id, id)); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	recs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"zeta", "alpha", "mid"}
	if len(recs) != len(want) {
		t.Fatalf("List() returned %d records, want %d", len(recs), len(want))
	}
	for i, id := range want {
		if recs[i].ID != id {
			t.Errorf("List()[%d] = %q, want %q", i, recs[i].ID, id)
		}
	}
}

func TestClientRepository_RevokeIsIdempotent(t *testing.T) {
	repo := NewClientRepository(testDB(t))
	ctx := t.Context()

	if err := repo.Create(ctx, newRecord("c1", "Kitchen")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if err := repo.Revoke(ctx, "c1", first); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := repo.Revoke(ctx, "c1", first.Add(time.Hour)); err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, "c1")
	if !got.Revoked {
		t.Error("record should be revoked")
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(first) {
		t.Errorf("RevokedAt = %v, want %v", got.RevokedAt, first)
	}

	if err := repo.Revoke(ctx, "missing", first); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("Revoke(missing) error = %v, want ErrClientNotFound", err)
	}
}

func TestClientRepository_ImportNeverUnrevokes(t *testing.T) {
	repo := NewClientRepository(testDB(t))
	ctx := t.Context()

	existing := newRecord("c1", "Kitchen")
	if err := repo.Create(ctx, existing); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Revoke(ctx, "c1", time.Now()); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	stale := *existing // not revoked in the backup
	fresh := newRecord("c2", "Garage")

	n, err := repo.Import(ctx, []ClientRecord{stale, *fresh})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Import() inserted %d, want 1", n)
	}

	got, _ := repo.GetByID(ctx, "c1")
	if !got.Revoked {
		t.Error("Import() un-revoked c1")
	}
	if _, err := repo.GetByID(ctx, "c2"); err != nil {
		t.Errorf("GetByID(c2) error = %v", err)
	}
}
