package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"medminder/internal/storage/storetest"
	logx "medminder/pkg/logx"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Dialect: SQLite, Path: filepath.Join(t.TempDir(), "medminder.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) storetest.Backend { return openTemp(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "medminder.db")
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), Config{Dialect: SQLite, Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&n); err != nil {
			t.Fatalf("count migrations: %v", err)
		}
		if n != 1 {
			t.Fatalf("open #%d: %d migrations recorded", i, n)
		}
		_ = s.Close()
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	pg := &Store{dialect: Postgres}
	if got := pg.q(`SELECT a FROM t WHERE x = ? AND y = ?`); got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("postgres rebind=%q", got)
	}
	lite := &Store{dialect: SQLite}
	if got := lite.q(`x = ?`); got != `x = ?` {
		t.Fatalf("sqlite rebind=%q", got)
	}
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()
	got := splitStatements("-- header; ignored\nCREATE TABLE a (x INT);\n\nCREATE INDEX i ON a (x);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE INDEX i ON a (x)" {
		t.Fatalf("statements=%q", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Dialect: SQLite}, logx.Nop()); err == nil {
		t.Fatalf("expected error without path")
	}
	if _, err := Open(context.Background(), Config{Dialect: Postgres}, logx.Nop()); err == nil {
		t.Fatalf("expected error without dsn")
	}
}
