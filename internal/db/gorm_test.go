package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSQLiteFilePath(t *testing.T) {
	cases := []struct {
		dsn  string
		path string
		ok   bool
	}{
		{dsn: "", ok: false},
		{dsn: ":memory:", ok: false},
		{dsn: "file::memory:?cache=shared", ok: false},
		{dsn: "file:test.db?mode=memory", ok: false},
		{dsn: "data/reel.db", path: "data/reel.db", ok: true},
		{dsn: "data/reel.db?_pragma=busy_timeout(5000)", path: "data/reel.db", ok: true},
		{dsn: "file:/var/lib/reel/reel.db?cache=shared", path: "/var/lib/reel/reel.db", ok: true},
		{dsn: "file:relative.db", path: "relative.db", ok: true},
	}
	for _, tc := range cases {
		path, ok := sqliteFilePath(tc.dsn)
		if ok != tc.ok || path != tc.path {
			t.Fatalf("sqliteFilePath(%q) = %q, %v; want %q, %v", tc.dsn, path, ok, tc.path, tc.ok)
		}
	}
}

func TestOpenGormCreatesSQLiteDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "reel.db")
	db, err := OpenGorm("sqlite", path, nil)
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected sqlite dir created: %v", err)
	}
}

func TestOpenGormRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenGorm("mysql", "dsn", nil); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := OpenGorm("postgres", "", nil); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}
