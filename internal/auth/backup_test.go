package auth

import (
	"errors"
	"testing"
)

func TestExportImport(t *testing.T) {
	ctx := t.Context()
	src, _ := testService(t, Options{})

	kitchen, kitchenToken, _ := src.Register(ctx, "Kitchen")
	garage, _, _ := src.Register(ctx, "Garage")
	if err := src.Revoke(ctx, garage.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	blob, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	dst, _ := testService(t, Options{})
	var closed []string
	dst.OnRevoke(func(id string) { closed = append(closed, id) })

	n, err := dst.Import(ctx, blob)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Import() inserted %d, want 2", n)
	}

	// Tokens issued before the backup keep working after a restore.
	got, err := dst.Validate(ctx, kitchenToken)
	if err != nil {
		t.Fatalf("Validate() after restore error = %v", err)
	}
	if got.ID != kitchen.ID {
		t.Errorf("Validate() = %q, want %q", got.ID, kitchen.ID)
	}
	if !dst.IsRevoked(garage.ID) {
		t.Error("revocation lost in restore")
	}
	if len(closed) != 1 || closed[0] != garage.ID {
		t.Errorf("revoke listeners = %v, want [%s]", closed, garage.ID)
	}

	recs, _ := dst.List(ctx)
	if len(recs) != 2 || recs[0].ID != kitchen.ID {
		t.Errorf("restored order = %+v", recs)
	}

	// Importing the same blob again inserts nothing.
	if n, err := dst.Import(ctx, blob); err != nil || n != 0 {
		t.Errorf("second Import() = %d, %v; want 0, nil", n, err)
	}
}

func TestImport_InvalidBlob(t *testing.T) {
	svc, _ := testService(t, Options{})
	if _, err := svc.Import(t.Context(), []byte("definitely not cbor")); !errors.Is(err, ErrInvalidBackup) {
		t.Errorf("Import() error = %v, want ErrInvalidBackup", err)
	}
}

func TestImport_UniqueNamePolicy(t *testing.T) {
	ctx := t.Context()
	src, _ := testService(t, Options{})
	kitchen, _, _ := src.Register(ctx, "Kitchen")
	src.Register(ctx, "Garage") //nolint:errcheck // fixture
	blob, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	// A clashing name on a new id rejects the whole blob.
	strict, _ := testService(t, Options{UniqueNames: true})
	if _, _, err := strict.Register(ctx, "kitchen"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := strict.Import(ctx, blob); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Import() error = %v, want ErrDuplicateName", err)
	}
	if recs, _ := strict.List(ctx); len(recs) != 1 {
		t.Errorf("records after rejected import = %d, want 1", len(recs))
	}

	// Re-importing records that already exist is not a clash.
	restored, _ := testService(t, Options{UniqueNames: true})
	if n, err := restored.Import(ctx, blob); err != nil || n != 2 {
		t.Fatalf("Import() = %d, %v; want 2, nil", n, err)
	}
	if n, err := restored.Import(ctx, blob); err != nil || n != 0 {
		t.Errorf("second Import() = %d, %v; want 0, nil", n, err)
	}
	if _, _, err := restored.Register(ctx, "KITCHEN"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Register() after restore error = %v, want ErrDuplicateName", err)
	}
	if _, ok := restored.Get(kitchen.ID); !ok {
		t.Error("restored record not cached")
	}

	// Without the policy duplicates are accepted.
	loose, _ := testService(t, Options{})
	loose.Register(ctx, "Kitchen") //nolint:errcheck // fixture
	if n, err := loose.Import(ctx, blob); err != nil || n != 2 {
		t.Errorf("Import() without policy = %d, %v; want 2, nil", n, err)
	}
}
