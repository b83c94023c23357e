package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSizeBytes(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "archive.db")
	if err := os.WriteFile(db, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := SizeBytes(db)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("db only: got %d bytes, want 5", got)
	}

	if err := os.WriteFile(db+"-wal", []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = SizeBytes(db)
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("db + wal: got %d bytes, want 8", got)
	}
}

func TestSizeBytes_missing(t *testing.T) {
	got, err := SizeBytes(filepath.Join(t.TempDir(), "nope.db"))
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("missing: got %d, want 0", got)
	}
	if got, _ := SizeBytes(""); got != 0 {
		t.Errorf("empty path: got %d, want 0", got)
	}
}
