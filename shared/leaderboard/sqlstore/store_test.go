package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard/leaderboardtest"
	"github.com/google/uuid"
)

func TestContractSQLite(t *testing.T) {
	leaderboardtest.RunContract(t, func(t *testing.T, dir string) leaderboard.Store {
		store, err := OpenSQLite(filepath.Join(dir, "stats.db"))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		return store
	})
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(""); err == nil {
		t.Fatal("expected empty path error")
	}
	if _, err := OpenPostgres(" "); err == nil {
		t.Fatal("expected empty dsn error")
	}
	if _, err := Open(Dialect("oracle"), "x"); err == nil {
		t.Fatal("expected unknown dialect error")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stats.db")
	for i := 0; i < 2; i++ {
		store, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		var count int
		if err := store.db.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&count); err != nil {
			t.Fatalf("count migrations: %v", err)
		}
		if count != 2 {
			t.Fatalf("applied migrations = %d, want 2", count)
		}
		_ = store.Close()
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &Store{dialect: Postgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("postgres rebind = %q", got)
	}
	lite := &Store{dialect: SQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	got := splitStatements(extractUpMigration("-- +migrate Up\nCREATE TABLE a (x INT);\n\nCREATE INDEX i ON a (x);\n-- +migrate Down\nDROP TABLE a;"))
	if len(got) != 2 {
		t.Fatalf("statements = %q, want 2", got)
	}
}

func TestResetKeepsArchiveTimestamp(t *testing.T) {
	t.Parallel()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	entity := uuid.New()

	before := time.Now().Add(-time.Second)
	if err := store.RecordRun(ctx, "lava-run", entity, "A", time.Second); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := store.ResetEntity(ctx, "lava-run", entity); err != nil {
		t.Fatalf("reset: %v", err)
	}
	archive, ok, err := store.GetArchive(ctx, "lava-run", entity)
	if err != nil || !ok {
		t.Fatalf("archive ok=%v err=%v", ok, err)
	}
	if archive.DeletedAt.Before(before) {
		t.Fatalf("deletedAt = %v, want after %v", archive.DeletedAt, before)
	}
	if archive.Unfinished != nil {
		t.Fatalf("unfinished = %v, want nil", *archive.Unfinished)
	}
}

func TestOpenBackfillsSortNames(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stats.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	emile, ebert := uuid.New(), uuid.New()
	if err := store.RecordRun(ctx, "lava-run", emile, "Émile", 2*time.Second); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.RecordRun(ctx, "lava-run", ebert, "ébert", 2*time.Second); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Rows written before sort_name existed carry the column default.
	if _, err := store.db.Exec(`UPDATE players SET sort_name = ''`); err != nil {
		t.Fatalf("clear sort names: %v", err)
	}
	_ = store.Close()

	store, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	var sortName string
	if err := store.db.QueryRow(`SELECT sort_name FROM players WHERE id = ?`, emile.String()).Scan(&sortName); err != nil {
		t.Fatalf("read sort name: %v", err)
	}
	if sortName != leaderboard.SortName("Émile", emile) {
		t.Fatalf("sort name = %q, want %q", sortName, leaderboard.SortName("Émile", emile))
	}
	entries, err := store.GetEntries(ctx, "lava-run")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Entity != ebert || entries[1].Entity != emile {
		t.Fatalf("entries = %+v, want ébert then Émile", entries)
	}
}
