package migrate

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func memDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRun_CreatesReadingTables(t *testing.T) {
	db := memDB(t)
	ctx := context.Background()

	applied, err := Run(ctx, db, quiet)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(applied) == 0 || applied[0].Version != "0001" {
		t.Fatalf("applied = %+v, want 0001 first", applied)
	}

	for _, table := range []string{"temperature", "pressure"} {
		if _, err := db.Exec("INSERT INTO "+table+" (value) VALUES (?)", 1.5); err != nil {
			t.Errorf("insert into %s: %v", table, err)
		}
		var createdAt string
		if err := db.QueryRow("SELECT created_at FROM " + table).Scan(&createdAt); err != nil || createdAt == "" {
			t.Errorf("%s.created_at = %q, %v; want store-assigned timestamp", table, createdAt, err)
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := memDB(t)
	ctx := context.Background()

	if _, err := Run(ctx, db, quiet); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	applied, err := Run(ctx, db, quiet)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second Run() applied %d migrations, want 0", len(applied))
	}
}

func TestRun_OrderAndSkipping(t *testing.T) {
	db := memDB(t)
	fsys := fstest.MapFS{
		"sql/0002_second.sql": {Data: []byte(`INSERT INTO log (step) VALUES ('second');`)},
		"sql/0001_first.sql":  {Data: []byte(`CREATE TABLE log (step TEXT); INSERT INTO log (step) VALUES ('first');`)},
		"sql/README.md":       {Data: []byte(`ignored`)},
		"sql/bad_name.sql":    {Data: []byte(`SELECT nonsense FROM nowhere;`)},
	}

	applied, err := run(context.Background(), db, fsys, quiet)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(applied) != 2 || applied[0].Name != "first" || applied[1].Name != "second" {
		t.Fatalf("applied = %+v", applied)
	}

	rows, err := db.Query(`SELECT step FROM log ORDER BY rowid`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	var steps []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatalf("scan: %v", err)
		}
		steps = append(steps, s)
	}
	if len(steps) != 2 || steps[0] != "first" || steps[1] != "second" {
		t.Errorf("steps = %v, want [first second]", steps)
	}
}

func TestRun_FailedMigrationNotRecorded(t *testing.T) {
	db := memDB(t)
	fsys := fstest.MapFS{
		"sql/0001_broken.sql": {Data: []byte(`CREATE TABLE ok (id INTEGER); THIS IS NOT SQL;`)},
	}

	if _, err := run(context.Background(), db, fsys, quiet); err == nil {
		t.Fatal("run() error = nil, want failure")
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("schema_migrations rows = %d, want 0", n)
	}
}
