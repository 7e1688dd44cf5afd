package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenGormSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub-bots.db")
	db, err := OpenGorm("sqlite", path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open gorm sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
}

func TestOpenGormInvalidDriver(t *testing.T) {
	if _, err := OpenGorm("mysql", "x", zerolog.Nop()); err == nil {
		t.Fatalf("expected invalid driver error")
	}
}

func TestOpenGormPostgresRequiresDSN(t *testing.T) {
	if _, err := OpenGorm("postgres", "  ", zerolog.Nop()); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestOpenGormSQLiteCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "path", "hub-bots.db")

	db, err := OpenGorm("sqlite", dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("open gorm sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("expected parent dir to be created: %v", err)
	}
}

func TestSQLiteFilePath(t *testing.T) {
	cases := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{dsn: ":memory:", onDisk: false},
		{dsn: "file::memory:?cache=shared", onDisk: false},
		{dsn: "file:data/bots.db?mode=memory", onDisk: false},
		{dsn: "data/bots.db?_pragma=busy_timeout(5000)", path: "data/bots.db", onDisk: true},
		{dsn: "file:/var/lib/bots.db?cache=shared", path: "/var/lib/bots.db", onDisk: true},
		{dsn: "file:data/bots.db", path: "data/bots.db", onDisk: true},
	}
	for _, tc := range cases {
		path, ok := sqliteFilePath(tc.dsn)
		if ok != tc.onDisk {
			t.Fatalf("dsn %q: expected onDisk=%v, got %v", tc.dsn, tc.onDisk, ok)
		}
		if path != tc.path {
			t.Fatalf("dsn %q: expected path %q, got %q", tc.dsn, tc.path, path)
		}
	}
}
