package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), "", filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_NoneConfigured(t *testing.T) {
	if _, err := Open(context.Background(), "", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Open() error = %v, want ErrUnavailable", err)
	}
	var d *DB
	if d.Mode() != "none" {
		t.Errorf("nil DB Mode() = %q", d.Mode())
	}
	if _, err := d.Migrate(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("nil DB Migrate() error = %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	res, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !res.Applied || res.Version != 2 {
		t.Errorf("first Migrate() = %+v, want applied at version 2", res)
	}

	res, err = db.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if res.Applied || res.Version != 2 {
		t.Errorf("second Migrate() = %+v, want no-op at version 2", res)
	}

	for _, table := range []string{"users", "posts"} {
		var n int
		if err := db.SQL.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	insert := `INSERT INTO users (id, username, password_hash, display_name, role, created_at, updated_at)
	           VALUES (?,?,?,?,?,?,?)`
	if _, err := db.SQL.Exec(insert, "1", "Dana", "h", "Dana", "user", now, now); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := db.SQL.Exec(insert, "2", "dana", "h", "Dana", "user", now, now)
	if err == nil {
		t.Fatal("case-insensitive duplicate username accepted")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false", err)
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("IsUniqueViolation(plain error) = true")
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	lite := &DB{Dialect: SQLite}

	q := `SELECT * FROM posts WHERE id=? AND title <> '?' AND status=?`
	if got, want := pg.Rebind(q), `SELECT * FROM posts WHERE id=$1 AND title <> '?' AND status=$2`; got != want {
		t.Errorf("Rebind() = %q, want %q", got, want)
	}
	if got := lite.Rebind(q); got != q {
		t.Errorf("sqlite Rebind() changed the query: %q", got)
	}
	if pg.ForUpdate() != " FOR UPDATE" || lite.ForUpdate() != "" {
		t.Error("ForUpdate() suffix mismatch")
	}
}
