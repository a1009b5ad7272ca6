package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/multi-agent/agent-shell/internal/config"
	apperrors "github.com/multi-agent/agent-shell/pkg/errors"
)

func TestLoadAppliedVersions_NilPool(t *testing.T) {
	_, err := loadAppliedVersions(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestApplyOneMigration_NilPool(t *testing.T) {
	err := applyOneMigration(context.Background(), nil, fstest.MapFS{}, "001_init.sql")
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestListMigrations_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"010_b.sql":    {Data: []byte("SELECT 1")},
		"002_a.sql":    {Data: []byte("SELECT 1")},
		"README.md":    {Data: []byte("docs")},
		"nested/x.sql": {Data: []byte("SELECT 1")},
	}
	got, err := listMigrations(fsys)
	if err != nil {
		t.Fatalf("listMigrations: %v", err)
	}
	if len(got) != 2 || got[0] != "002_a.sql" || got[1] != "010_b.sql" {
		t.Fatalf("migrations = %v", got)
	}
}

func TestPendingMigrations(t *testing.T) {
	got := pendingMigrations([]string{"001.sql", "002.sql", "003.sql"}, map[string]bool{"002.sql": true})
	if len(got) != 2 || got[0] != "001.sql" || got[1] != "003.sql" {
		t.Fatalf("pending = %v", got)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := listMigrations(Migrations())
	if err != nil {
		t.Fatalf("listMigrations: %v", err)
	}
	if len(got) == 0 || got[0] != "001_transcript_entries.sql" {
		t.Fatalf("embedded migrations = %v", got)
	}
}

func TestNewPool_RequiresConnString(t *testing.T) {
	_, err := NewPool(context.Background(), &config.Config{})
	if !apperrors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
