package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/starford/minicycle/internal/apperr"
)

func tempSQLite(t *testing.T, quota int64) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "minicycle.db"), quota)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRoundTrip(t *testing.T) {
	db := tempSQLite(t, 0)
	if got, err := db.Read(KeyDocument); err != nil || got != nil {
		t.Fatalf("Read absent = %q, %v", got, err)
	}
	if err := db.Write(KeyDocument, []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := db.Write(KeyDocument, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	got, err := db.Read(KeyDocument)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("Read = %q", got)
	}

	_ = db.Write("another", []byte("x"))
	keys, err := db.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "another" {
		t.Errorf("keys = %v", keys)
	}

	if err := db.Remove("another"); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.Read("another"); got != nil {
		t.Error("expected removed key to be absent")
	}
}

func TestSQLiteQuota(t *testing.T) {
	db := tempSQLite(t, 8)
	if err := db.Write("a", []byte("1234")); err != nil {
		t.Fatal(err)
	}
	if err := db.Write("b", []byte("12345")); !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if got, _ := db.Read("b"); got != nil {
		t.Error("rejected write must not be stored")
	}
}
