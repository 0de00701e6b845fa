package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sync/migrations"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

// ─── Repository ────────────────────────────────────────────────────

func TestCreate_FillsIDAndTimestamp(t *testing.T) {
	repo := testRepo(t)

	e := &Entry{Action: ActionClientRegistered, ClientID: "c1", Source: SourceAPI}
	if err := repo.Create(t.Context(), e); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if !strings.HasPrefix(e.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestList_NewestFirst(t *testing.T) {
	repo := testRepo(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"c1", "c2", "c3"} {
		e := &Entry{Action: ActionClientRegistered, ClientID: id, Source: SourceAPI, CreatedAt: ts.Add(time.Duration(i) * time.Second)}
		if err := repo.Create(t.Context(), e); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}

	res, err := repo.List(t.Context(), Filter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if res.Total != 3 || len(res.Entries) != 3 {
		t.Fatalf("List() total = %d, entries = %d, want 3", res.Total, len(res.Entries))
	}
	for i, want := range []string{"c3", "c2", "c1"} {
		if res.Entries[i].ClientID != want {
			t.Errorf("Entries[%d].ClientID = %q, want %q", i, res.Entries[i].ClientID, want)
		}
	}
	if !res.Entries[2].CreatedAt.Equal(ts) {
		t.Errorf("CreatedAt = %v, want %v", res.Entries[2].CreatedAt, ts)
	}
	if res.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, defaultLimit)
	}
}

func TestList_Filters(t *testing.T) {
	repo := testRepo(t)
	entries := []Entry{
		{Action: ActionClientRegistered, ClientID: "c1", Source: SourceAPI},
		{Action: ActionCommand, ClientID: "c1", EntityID: "light.lamp1", Outcome: "success", Source: SourceDispatcher},
		{Action: ActionCommand, ClientID: "c2", EntityID: "light.lamp1", Outcome: "not_exposed", Source: SourceDispatcher},
		{Action: ActionCommand, ClientID: "c2", EntityID: "switch.fan", Outcome: "success", Source: SourceDispatcher},
	}
	for i := range entries {
		if err := repo.Create(t.Context(), &entries[i]); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"action", Filter{Action: ActionCommand}, 3},
		{"client", Filter{ClientID: "c1"}, 2},
		{"entity", Filter{EntityID: "light.lamp1"}, 2},
		{"combined", Filter{Action: ActionCommand, ClientID: "c2", EntityID: "switch.fan"}, 1},
		{"no match", Filter{ClientID: "c9"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(t.Context(), tt.filter)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if res.Total != tt.want || len(res.Entries) != tt.want {
				t.Errorf("List() total = %d, entries = %d, want %d", res.Total, len(res.Entries), tt.want)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo := testRepo(t)
	for range 5 {
		if err := repo.Create(t.Context(), &Entry{Action: ActionCommand, Source: SourceDispatcher}); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	res, err := repo.List(t.Context(), Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if res.Total != 5 || len(res.Entries) != 1 {
		t.Errorf("List() total = %d, entries = %d, want 5 and 1", res.Total, len(res.Entries))
	}

	res, err = repo.List(t.Context(), Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("clamped limit/offset = %d/%d, want %d/0", res.Limit, res.Offset, maxLimit)
	}
}

// ─── Recorder ──────────────────────────────────────────────────────

func TestRecorder_RecordCommand(t *testing.T) {
	repo := testRepo(t)
	rec := NewRecorder(repo)

	rec.RecordCommand("c1", "light.lamp1", "read_only", 1500*time.Microsecond)

	res, err := rec.List(t.Context(), Filter{Action: ActionCommand})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(res.Entries))
	}
	e := res.Entries[0]
	if e.ClientID != "c1" || e.EntityID != "light.lamp1" || e.Outcome != "read_only" || e.Source != SourceDispatcher {
		t.Errorf("entry = %+v", e)
	}
	if e.Details["latency_ms"] != 1.5 {
		t.Errorf("latency_ms = %v, want 1.5", e.Details["latency_ms"])
	}
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *Entry) error { return errors.New("disk full") }
func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

type captureLogger struct{ warnings []string }

func (c *captureLogger) Warn(msg string, _ ...any) { c.warnings = append(c.warnings, msg) }

func TestRecorder_FailureIsLogged(t *testing.T) {
	rec := NewRecorder(failingRepo{})
	log := &captureLogger{}
	rec.SetLogger(log)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rec.Record(ctx, Entry{Action: ActionClientRevoked, Source: SourceAPI})

	if len(log.warnings) != 1 {
		t.Errorf("warnings = %v, want one", log.warnings)
	}
}
