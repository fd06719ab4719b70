package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/codemill/ado2gh/internal/github"
)

// State is the migration checkpoint: a partial function from source-item
// identity strings to destination issue URLs. Several identity strings
// (canonical web URL, internal API URL) may alias the same destination.
//
// It also carries the per-run caches for destination issue snapshots and
// repository metadata. Only the identity map is persisted.
type State struct {
	mapping map[string]string

	// Run-scoped caches, never persisted.
	Issues     map[string]*github.Issue // destination URL → snapshot
	Labels     map[string]bool          // repo label names
	Milestones map[string]int           // milestone title → number
}

// NewState returns an empty state with initialized caches.
func NewState() *State {
	return &State{
		mapping:    map[string]string{},
		Issues:     map[string]*github.Issue{},
		Labels:     map[string]bool{},
		Milestones: map[string]int{},
	}
}

// LoadState reads a checkpoint file. Behavior by path:
//   - empty path: start empty (checkpointing disabled or first run)
//   - existing file: copy to a timestamped backup, then parse; a parse
//     failure warns and starts empty instead of aborting the run
//   - set but missing: error. An operator who names a checkpoint expects
//     it to exist, so a typo is fatal rather than silently starting fresh
func LoadState(path string) (*State, []string, error) {
	state := NewState()
	if path == "" {
		return state, nil, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("checkpoint file %s does not exist", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var warnings []string
	backup := fmt.Sprintf("%s.%d.bak", path, time.Now().Unix())
	if err := os.WriteFile(backup, data, 0600); err != nil {
		warnings = append(warnings, fmt.Sprintf("checkpoint backup failed: %v", err))
	}

	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		warnings = append(warnings, fmt.Sprintf("checkpoint %s is not valid JSON, starting empty: %v", path, err))
		return state, warnings, nil
	}

	state.mapping = mapping
	if state.mapping == nil {
		state.mapping = map[string]string{}
	}
	return state, warnings, nil
}

// Save persists the identity map to path. Called after every processed item
// so a crash loses at most one item's progress. No-op when path is empty.
func (s *State) Save(path string) error {
	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// Lookup returns the destination URL mapped to any of the given identity
// strings, trying them in order.
func (s *State) Lookup(identities ...string) (string, bool) {
	for _, id := range identities {
		if id == "" {
			continue
		}
		if dest, ok := s.mapping[id]; ok {
			return dest, true
		}
	}
	return "", false
}

// Insert records identity → destURL unless the identity is already mapped.
// First writer wins: a heuristic guess must not clobber a curated or
// previously-established mapping.
func (s *State) Insert(identity, destURL string) {
	if identity == "" || destURL == "" {
		return
	}
	if _, ok := s.mapping[identity]; ok {
		return
	}
	s.mapping[identity] = destURL
}

// Merge bulk-inserts a mapping with the same first-writer-wins rule.
func (s *State) Merge(mapping map[string]string) {
	for identity, dest := range mapping {
		s.Insert(identity, dest)
	}
}

// Len reports the number of recorded identity mappings.
func (s *State) Len() int {
	return len(s.mapping)
}

// CacheIssue stores a destination issue snapshot under its URL.
func (s *State) CacheIssue(issue *github.Issue) {
	if issue != nil && issue.HTMLURL != "" {
		s.Issues[issue.HTMLURL] = issue
	}
}
