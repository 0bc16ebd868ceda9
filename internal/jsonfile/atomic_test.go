package jsonfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWrite_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	data := map[string]any{"project": "demo", "version": 1}
	if err := Write(path, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var result map[string]any
	if err := Read(path, &result); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if result["project"] != "demo" {
		t.Errorf("project: got %v, want %q", result["project"], "demo")
	}
}

func TestWrite_CreatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := Write(path, map[string]string{"rev": "one"}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := Write(path, map[string]string{"rev": "two"}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	var bak map[string]string
	if err := Read(path+".bak", &bak); err != nil {
		t.Fatalf("Read .bak failed: %v", err)
	}
	if bak["rev"] != "one" {
		t.Errorf("backup rev: got %q, want %q", bak["rev"], "one")
	}

	var cur map[string]string
	if err := Read(path, &cur); err != nil {
		t.Fatalf("Read current failed: %v", err)
	}
	if cur["rev"] != "two" {
		t.Errorf("current rev: got %q, want %q", cur["rev"], "two")
	}
}

func TestWriteRaw_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := WriteRaw(path, []byte("{not json")); err == nil {
		t.Fatal("expected validation error for invalid JSON")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("target file should not exist after failed write")
	}
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := Write(path, map[string]int{"n": 1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "state.json" {
			t.Errorf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestRead_Missing(t *testing.T) {
	var out map[string]any
	if err := Read(filepath.Join(t.TempDir(), "absent.json"), &out); err == nil {
		t.Fatal("expected error reading missing file")
	}
}
