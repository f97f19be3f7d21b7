package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/clinicbook/clinicbook/migrations"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"001_core.sql":     {Data: []byte("CREATE TABLE speciality (id UUID PRIMARY KEY);")},
		"002_doctors.sql":  {Data: []byte("CREATE TABLE doctor (id UUID PRIMARY KEY);")},
		"003_schedule.sql": {Data: []byte("CREATE TABLE schedule (id UUID PRIMARY KEY);")},
	}

	migs, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migs))
	}
	if migs[0].Version != 1 || migs[0].Name != "001_core.sql" {
		t.Errorf("unexpected first migration: %+v", migs[0])
	}
	if migs[0].SQL != "CREATE TABLE speciality (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migs[0].SQL)
	}
	if migs[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migs[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migs, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	expected := []int{1, 2, 5, 10}
	if len(migs) != len(expected) {
		t.Fatalf("expected %d migrations, got %d", len(expected), len(migs))
	}
	for i, v := range expected {
		if migs[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migs[i].Version)
		}
	}
}

func TestLoadMigrations_SkipsInvalidNames(t *testing.T) {
	fsys := fstest.MapFS{
		"001_valid.sql":      {Data: []byte("SELECT 1;")},
		"readme.sql":         {Data: []byte("-- no version prefix")},
		"notes.txt":          {Data: []byte("not sql")},
		"abc_invalid.sql":    {Data: []byte("-- non-numeric prefix")},
		"002_also_valid.sql": {Data: []byte("SELECT 2;")},
		"sub/003_nested.sql": {Data: []byte("SELECT 3;")},
	}

	migs, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migs))
	}
	if migs[0].Version != 1 || migs[1].Version != 2 {
		t.Errorf("unexpected versions %d, %d", migs[0].Version, migs[1].Version)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := NewMigrator(nil, fsys).LoadMigrations()
	if err == nil || !strings.Contains(err.Error(), "duplicate migration version 1") {
		t.Errorf("expected duplicate version error, got %v", err)
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	migs, err := NewMigrator(nil, os.DirFS(t.TempDir())).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) != 0 {
		t.Errorf("expected 0 migrations from empty dir, got %d", len(migs))
	}
}

func TestLoadMigrations_DirFS(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_core.sql"), []byte("SELECT 1;"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	migs, err := NewMigrator(nil, os.DirFS(dir)).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) != 1 || migs[0].Version != 1 {
		t.Errorf("unexpected migrations: %+v", migs)
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, os.DirFS("/nonexistent/path/that/does/not/exist")).LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := NewMigrator(nil, migrations.FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) == 0 {
		t.Fatal("expected embedded migrations")
	}
	if migs[0].Version != 1 {
		t.Errorf("expected first embedded version 1, got %d", migs[0].Version)
	}
	for _, table := range []string{"speciality", "doctor", "app_user", "appointment", "schedule"} {
		if !strings.Contains(migs[0].SQL, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("expected core migration to create %s", table)
		}
	}
}

func TestPending(t *testing.T) {
	migs := []Migration{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 4}}
	applied := map[int]time.Time{1: time.Now()}

	all := pending(migs, applied, 0)
	if len(all) != 3 || all[0].Version != 2 {
		t.Errorf("expected versions 2..4 pending, got %+v", all)
	}

	upTo := pending(migs, applied, 3)
	if len(upTo) != 2 || upTo[1].Version != 3 {
		t.Errorf("expected versions 2..3 pending, got %+v", upTo)
	}
}

func TestBuildStatus(t *testing.T) {
	at := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	migs := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_indexes.sql"},
	}

	statuses := buildStatus(migs, map[int]time.Time{1: at})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected 002 pending, got %+v", statuses[1])
	}
	if statuses[1].Name != "002_indexes.sql" {
		t.Errorf("expected name 002_indexes.sql, got %s", statuses[1].Name)
	}
}
