package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigEmpty(t *testing.T) {
	cfg, warnings, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if cfg.Types == nil || cfg.Repos == nil {
		t.Error("maps not initialized")
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, "map.json", `{
		"types": {"User Story": "story"},
		"users": {"alice@contoso.com": "alice-gh"},
		"repos": {"R1": "svc"}
	}`)

	cfg, warnings, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if got := cfg.Types["User Story"]; got != "story" {
		t.Errorf("Types = %q, want story", got)
	}
	if got := cfg.Repos["R1"]; got != "svc" {
		t.Errorf("Repos = %q, want svc", got)
	}
}

func TestLoadConfigUnknownKeys(t *testing.T) {
	path := writeConfig(t, "map.json", `{"types": {}, "bogus": 1, "extra": {}}`)

	_, warnings, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", warnings)
	}
	if !strings.Contains(warnings[0], "bogus") || !strings.Contains(warnings[1], "extra") {
		t.Errorf("warnings %v do not name the unknown fields in order", warnings)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "map.yaml", "states:\n  Done: done\nunknown: true\n")

	cfg, warnings, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.States["Done"]; got != "done" {
		t.Errorf("States = %q, want done", got)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "unknown") {
		t.Errorf("warnings = %v, want one naming the unknown field", warnings)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := writeConfig(t, "map.json", `{"types": `)
	if _, _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestColumnsMergeIntoStates(t *testing.T) {
	path := writeConfig(t, "map.json", `{
		"states": {"Active": "in-progress"},
		"columns": {"Active": "Doing", "New": "Todo"}
	}`)

	cfg, _, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	// An explicit state label is never overwritten by a column name.
	if got := cfg.States["Active"]; got != "in-progress" {
		t.Errorf("States[Active] = %q, want in-progress", got)
	}
	if got := cfg.States["New"]; got != "Todo" {
		t.Errorf("States[New] = %q, want Todo", got)
	}
}

func TestTypeLabel(t *testing.T) {
	cfg := NewConfig()
	cfg.Types["Bug"] = "defect"

	if got := cfg.TypeLabel("Bug"); got != "defect" {
		t.Errorf("TypeLabel(Bug) = %q, want defect", got)
	}
	if got := cfg.TypeLabel("User Story"); got != "user story" {
		t.Errorf("TypeLabel(User Story) = %q, want user story", got)
	}
}

func TestUserLogin(t *testing.T) {
	cfg := NewConfig()
	cfg.Users["alice@contoso.com"] = "alice-gh"

	tests := []struct {
		uniqueName string
		suffix     string
		want       string
	}{
		{"alice@contoso.com", "_corp", "alice-gh"},
		{"bob@contoso.com", "_corp", "bob_corp"},
		{"bob@contoso.com", "", "bob"},
		{"no-at-sign", "_corp", "no-at-sign_corp"},
	}
	for _, tt := range tests {
		if got := cfg.UserLogin(tt.uniqueName, tt.suffix); got != tt.want {
			t.Errorf("UserLogin(%q, %q) = %q, want %q", tt.uniqueName, tt.suffix, got, tt.want)
		}
	}
}
