package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNew_AppliesMigrations(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if want := migrations[len(migrations)-1].version; v != want {
		t.Fatalf("expected schema version %d, got %d", want, v)
	}

	if _, err := s.DB().ExecContext(ctx,
		`INSERT INTO topics (position, topic, updated_at) VALUES (0, 'x', '')`); err != nil {
		t.Fatalf("topics table not usable: %v", err)
	}
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memlake.db")

	s, err := New(ctx, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	first, _ := s.SchemaVersion(ctx)
	s.Close()

	s, err = New(ctx, path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()

	second, _ := s.SchemaVersion(ctx)
	if first != second {
		t.Fatalf("schema version changed on reopen: %d -> %d", first, second)
	}
}

func TestLoadMigrations_Sorted(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].version >= migrations[i].version {
			t.Fatalf("migrations out of order at %d", i)
		}
	}
}
