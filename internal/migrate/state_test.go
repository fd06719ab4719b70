package migrate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadStateEmptyPath(t *testing.T) {
	state, warnings, err := LoadState("")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if state.Len() != 0 {
		t.Errorf("Len = %d, want 0", state.Len())
	}
}

func TestLoadStateMissingFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.json")
	if _, _, err := LoadState(path); err == nil {
		t.Error("expected error for missing checkpoint file")
	}
}

func TestLoadStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	state := NewState()
	state.Insert("https://src/1", "https://dst/10")
	state.Insert("https://src/2", "https://dst/11")
	if err := state.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, warnings, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if dest, ok := loaded.Lookup("https://src/1"); !ok || dest != "https://dst/10" {
		t.Errorf("Lookup = %q, %v", dest, ok)
	}
	if loaded.Len() != 2 {
		t.Errorf("Len = %d, want 2", loaded.Len())
	}
}

func TestLoadStateWritesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	if err := os.WriteFile(path, []byte(`{"a":"b"}`), 0600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := LoadState(path); err != nil {
		t.Fatal(err)
	}

	backups, err := filepath.Glob(path + ".*.bak")
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 {
		t.Fatalf("backups = %v, want exactly one", backups)
	}
	data, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":"b"}` {
		t.Errorf("backup content = %q", data)
	}
}

func TestLoadStateCorruptStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}

	state, warnings, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if state.Len() != 0 {
		t.Errorf("Len = %d, want 0 after corrupt load", state.Len())
	}
	if len(warnings) == 0 {
		t.Error("expected a warning for corrupt checkpoint")
	}
}

func TestInsertFirstWriterWins(t *testing.T) {
	state := NewState()
	state.Insert("id", "https://dst/1")
	state.Insert("id", "https://dst/2")

	if dest, _ := state.Lookup("id"); dest != "https://dst/1" {
		t.Errorf("Lookup = %q, want first insert preserved", dest)
	}

	state.Merge(map[string]string{"id": "https://dst/3", "other": "https://dst/4"})
	if dest, _ := state.Lookup("id"); dest != "https://dst/1" {
		t.Errorf("Lookup after merge = %q, want first insert preserved", dest)
	}
	if dest, _ := state.Lookup("other"); dest != "https://dst/4" {
		t.Errorf("Lookup(other) = %q", dest)
	}
}

func TestLookupTriesIdentitiesInOrder(t *testing.T) {
	state := NewState()
	state.Insert("api-url", "https://dst/5")

	dest, ok := state.Lookup("", "web-url", "api-url")
	if !ok || dest != "https://dst/5" {
		t.Errorf("Lookup = %q, %v", dest, ok)
	}
	if _, ok := state.Lookup("nothing"); ok {
		t.Error("Lookup should miss for unknown identity")
	}
}

func TestSaveEmptyPathIsNoOp(t *testing.T) {
	state := NewState()
	state.Insert("a", "b")
	if err := state.Save(""); err != nil {
		t.Fatal(err)
	}
}
