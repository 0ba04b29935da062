package storage

import (
	"testing"
	"testing/fstest"

	"github.com/culturebridge/learning-engine/migrations"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_rewards.sql": {Data: []byte("SELECT 2;")},
		"001_init.sql":    {Data: []byte("SELECT 1;")},
		"README.md":       {Data: []byte("docs")},
		"003_later.sql":   {Data: []byte("SELECT 3;")},
	}

	pending, err := pendingMigrations(fsys, map[string]bool{"002_rewards.sql": true})
	if err != nil {
		t.Fatalf("pendingMigrations failed: %v", err)
	}

	want := []string{"001_init.sql", "003_later.sql"}
	if len(pending) != len(want) {
		t.Fatalf("expected %v, got %v", want, pending)
	}
	for i := range want {
		if pending[i] != want[i] {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i], want[i])
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	pending, err := pendingMigrations(migrations.FS, nil)
	if err != nil {
		t.Fatalf("pendingMigrations failed: %v", err)
	}
	if len(pending) == 0 || pending[0] != "001_init.sql" {
		t.Errorf("expected embedded 001_init.sql first, got %v", pending)
	}
}
