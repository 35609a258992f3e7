package db

import (
	"path/filepath"
	"testing"
)

func TestOpen_SQLitePath(t *testing.T) {
	conn, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
}

func TestOpen_FileSQLiteUsesWAL(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var mode string
	if errMode := conn.Raw("PRAGMA journal_mode").Scan(&mode).Error; errMode != nil {
		t.Fatalf("read journal mode: %v", errMode)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	if _, err := Open("   "); err == nil {
		t.Fatal("expected empty dsn to be rejected")
	}
}

func TestDialectFor(t *testing.T) {
	if got := dialectFor("postgres://u:p@localhost/audit"); got != DialectPostgres {
		t.Fatalf("expected postgres for url dsn, got %q", got)
	}
	if got := dialectFor("host=localhost user=audit"); got != DialectPostgres {
		t.Fatalf("expected postgres for key=value dsn, got %q", got)
	}
	if got := dialectFor("audit.db"); got != DialectSQLite {
		t.Fatalf("expected sqlite for plain path, got %q", got)
	}
}

func TestMigrate_NilConnection(t *testing.T) {
	if err := Migrate(nil); err == nil {
		t.Fatal("expected nil connection to be rejected")
	}
}
