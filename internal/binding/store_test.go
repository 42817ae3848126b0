package binding

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	dbpkg "reelstack.local/reel-gateway/internal/db"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	gormStore, err := NewGormStore("sqlite", filepath.Join(t.TempDir(), "bindings.db"), nil)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	t.Cleanup(func() { _ = gormStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   gormStore,
	}
}

func TestStoreBindLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Lookup(ctx, "KEY-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			created, err := store.Bind(ctx, Binding{LicenseKey: "KEY-1", Device: "device-aaaa", PCName: "desk", Login: "angler"})
			if err != nil {
				t.Fatalf("bind: %v", err)
			}
			if created.BoundAt.IsZero() || created.LastSeenAt.IsZero() {
				t.Fatalf("expected timestamps, got %+v", created)
			}

			touched, err := store.Bind(ctx, Binding{LicenseKey: "KEY-1", Device: "device-aaaa", Login: "angler2"})
			if err != nil {
				t.Fatalf("rebind same device: %v", err)
			}
			if touched.Login != "angler2" || touched.PCName != "desk" {
				t.Fatalf("expected login updated and pc name kept, got %+v", touched)
			}

			_, err = store.Bind(ctx, Binding{LicenseKey: "KEY-1", Device: "device-bbbb", PCName: "laptop"})
			if !errors.Is(err, ErrDeviceMismatch) {
				t.Fatalf("expected ErrDeviceMismatch, got %v", err)
			}
			if !strings.Contains(err.Error(), "pc=desk") {
				t.Fatalf("expected mismatch to name bound pc, got %v", err)
			}

			loaded, err := store.Lookup(ctx, "KEY-1")
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if loaded.Device != "device-aaaa" {
				t.Fatalf("binding changed after mismatch: %+v", loaded)
			}
		})
	}
}

func TestStoreRebindAndUnbind(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Rebind(ctx, "KEY-2", "a", "b"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.Bind(ctx, Binding{LicenseKey: "KEY-2", Device: "old-device"}); err != nil {
				t.Fatalf("bind: %v", err)
			}
			if _, err := store.Rebind(ctx, "KEY-2", "wrong-device", "new-device"); !errors.Is(err, ErrDeviceMismatch) {
				t.Fatalf("expected ErrDeviceMismatch, got %v", err)
			}
			moved, err := store.Rebind(ctx, "KEY-2", "old-device", "new-device")
			if err != nil {
				t.Fatalf("rebind: %v", err)
			}
			if moved.Device != "new-device" {
				t.Fatalf("expected new device, got %+v", moved)
			}

			if err := store.Unbind(ctx, "KEY-2"); err != nil {
				t.Fatalf("unbind: %v", err)
			}
			if err := store.Unbind(ctx, "KEY-2"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on second unbind, got %v", err)
			}
		})
	}
}

func TestStoreBindValidation(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Bind(context.Background(), Binding{LicenseKey: "KEY-3"}); err == nil {
				t.Fatalf("expected device required error")
			}
			if _, err := store.Bind(context.Background(), Binding{Device: "d"}); err == nil {
				t.Fatalf("expected license key required error")
			}
		})
	}
}

func TestGormStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.db")
	store, err := NewGormStore("sqlite", path, nil)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	if _, err := store.Bind(context.Background(), Binding{LicenseKey: "KEY-4", Device: "dev", Login: "angler"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewGormStore("sqlite", path, nil)
	if err != nil {
		t.Fatalf("reopen gorm store: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	b, err := reopened.Lookup(context.Background(), "KEY-4")
	if err != nil {
		t.Fatalf("lookup after reopen: %v", err)
	}
	if b.Login != "angler" || b.Device != "dev" {
		t.Fatalf("unexpected binding after reopen: %+v", b)
	}
}

func TestGormStoreClosesDatabaseWhenMigrationFails(t *testing.T) {
	db, err := dbpkg.OpenGorm("sqlite", filepath.Join(t.TempDir(), "bindings.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// A view squatting on the table name makes CREATE TABLE fail.
	if err := db.Exec("CREATE VIEW hwid_bindings AS SELECT 1 AS license_key").Error; err != nil {
		t.Fatalf("create view: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}

	if _, err := newGormStore(db); err == nil {
		t.Fatalf("expected migration error")
	}
	if err := sqlDB.Ping(); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("expected database closed after failed migration, got %v", err)
	}
}
