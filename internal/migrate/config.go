// Package migrate implements the migration engine: it reconciles Azure
// DevOps work items against existing GitHub issues, builds issue content,
// and drives idempotent create/update operations with checkpointing.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the per-run mapping tables. All fields are optional and
// independently default to empty; loading never overwrites a populated
// field with an empty one.
type Config struct {
	// Types maps a work-item type to a destination label.
	Types map[string]string `json:"types,omitempty" yaml:"types,omitempty"`
	// States maps a work-item state to a destination label.
	States map[string]string `json:"states,omitempty" yaml:"states,omitempty"`
	// Columns maps a work-item state to a project board column.
	Columns map[string]string `json:"columns,omitempty" yaml:"columns,omitempty"`
	// Users maps an Azure DevOps uniqueName (email) to a GitHub login.
	Users map[string]string `json:"users,omitempty" yaml:"users,omitempty"`
	// Tags maps a work-item tag to a destination label.
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	// Repos maps an internal repository GUID to its repository name under
	// the destination owner, for resolving vstfs cross-references.
	Repos map[string]string `json:"repos,omitempty" yaml:"repos,omitempty"`
}

// configKeys is the set of recognized top-level config fields.
var configKeys = map[string]bool{
	"types":   true,
	"states":  true,
	"columns": true,
	"users":   true,
	"tags":    true,
	"repos":   true,
}

// NewConfig returns a config with all maps initialized and empty.
func NewConfig() *Config {
	return &Config{
		Types:   map[string]string{},
		States:  map[string]string{},
		Columns: map[string]string{},
		Users:   map[string]string{},
		Tags:    map[string]string{},
		Repos:   map[string]string{},
	}
}

// LoadConfig reads the mapping config from path. JSON by default; .yaml and
// .yml files are parsed as YAML. Unknown top-level keys produce warnings,
// never errors. An empty path returns an empty config.
func LoadConfig(path string) (*Config, []string, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}

	var warnings []string
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var raw map[string]yaml.Node
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("parsing config: %w", err)
		}
		warnings = unknownKeys(rawKeys(raw))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, nil, fmt.Errorf("parsing config: %w", err)
		}
	} else {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("parsing config: %w", err)
		}
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		warnings = unknownKeys(keys)
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.normalize()
	cfg.mergeColumnsIntoStates()
	return cfg, warnings, nil
}

func rawKeys(raw map[string]yaml.Node) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	return keys
}

func unknownKeys(keys []string) []string {
	var warnings []string
	sort.Strings(keys)
	for _, k := range keys {
		if !configKeys[k] {
			warnings = append(warnings, fmt.Sprintf("config: unknown field %q ignored", k))
		}
	}
	return warnings
}

// normalize replaces nil maps with empty ones so lookups never nil-check.
func (c *Config) normalize() {
	if c.Types == nil {
		c.Types = map[string]string{}
	}
	if c.States == nil {
		c.States = map[string]string{}
	}
	if c.Columns == nil {
		c.Columns = map[string]string{}
	}
	if c.Users == nil {
		c.Users = map[string]string{}
	}
	if c.Tags == nil {
		c.Tags = map[string]string{}
	}
	if c.Repos == nil {
		c.Repos = map[string]string{}
	}
}

// mergeColumnsIntoStates copies every state→column entry into the
// state→label map where the latter has no entry for that state. Runs once
// at load; existing state labels are never overwritten.
func (c *Config) mergeColumnsIntoStates() {
	for state, column := range c.Columns {
		if _, ok := c.States[state]; !ok {
			c.States[state] = column
		}
	}
}

// TypeLabel returns the destination label for a work-item type, falling
// back to the lower-cased type name.
func (c *Config) TypeLabel(workItemType string) string {
	if label, ok := c.Types[workItemType]; ok {
		return label
	}
	return strings.ToLower(workItemType)
}

// UserLogin resolves a destination login for an Azure DevOps uniqueName.
// Without an explicit mapping the local part before the @ is used, with the
// optional suffix appended.
func (c *Config) UserLogin(uniqueName, suffix string) string {
	if login, ok := c.Users[uniqueName]; ok {
		return login
	}
	login := uniqueName
	if at := strings.Index(uniqueName, "@"); at > 0 {
		login = uniqueName[:at]
	}
	return login + suffix
}
