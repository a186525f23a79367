package sqlgateway

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	logx "zubot/pkg/logx"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "gw.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExecuteRejectsWriteAsReadOnly(t *testing.T) {
	g := New(openTestDB(t), Config{}, logx.Nop())
	defer g.Stop()

	_, err := g.Execute(context.Background(), "insert into widgets(name) values ('a')", nil, true, 1, 10)
	if err == nil {
		t.Fatalf("expected rejection of a write statement submitted as read_only")
	}
}

func TestExecuteWriteThenRead(t *testing.T) {
	g := New(openTestDB(t), Config{}, logx.Nop())
	defer g.Stop()
	ctx := context.Background()

	res, err := g.Execute(ctx, "insert into widgets(name) values (?)", []any{"gadget"}, false, 2, 10)
	if err != nil {
		t.Fatalf("Execute insert: %v", err)
	}
	if !res.OK || res.RowsAffected != 1 {
		t.Fatalf("unexpected write result: %+v", res)
	}

	res, err = g.Execute(ctx, "select id, name from widgets", nil, true, 2, 10)
	if err != nil {
		t.Fatalf("Execute select: %v", err)
	}
	if !res.OK || res.RowCount != 1 || res.Rows[0]["name"] != "gadget" {
		t.Fatalf("unexpected read result: %+v", res)
	}
}

func TestExecuteTruncatesAtMaxRows(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 5; i++ {
		if _, err := db.Exec("insert into widgets(name) values (?)", "w"); err != nil {
			t.Fatalf("seed insert: %v", err)
		}
	}
	g := New(db, Config{}, logx.Nop())
	defer g.Stop()

	res, err := g.Execute(context.Background(), "select id from widgets", nil, true, 2, 3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowCount != 3 || !res.Truncated {
		t.Fatalf("expected truncated result of 3 rows, got %+v", res)
	}
}
