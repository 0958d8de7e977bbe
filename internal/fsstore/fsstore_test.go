package fsstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONAtomicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "record.json")

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	in := record{Name: "alpha", Count: 3}
	if err := WriteJSONAtomic(path, in, FileOptions{}); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}

	var out record
	ok, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !ok {
		t.Fatalf("ReadJSON() ok = false, want true")
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var out map[string]any
	ok, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	if err != nil {
		t.Fatalf("ReadJSON(absent) error = %v", err)
	}
	if ok {
		t.Fatalf("ReadJSON(absent) ok = true, want false")
	}
}

func TestReadJSONEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	var out map[string]any
	ok, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON(empty) error = %v", err)
	}
	if ok {
		t.Fatalf("ReadJSON(empty) ok = true, want false")
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("Remove(absent) error = %v", err)
	}
}

func TestWriteJSONAtomicRejectsEmptyPath(t *testing.T) {
	if err := WriteJSONAtomic("   ", map[string]any{}, FileOptions{}); err == nil {
		t.Fatalf("WriteJSONAtomic(empty path) expected error")
	}
}
