package us

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const stateFile = ".import-state.json"

// importState records resume information for one market's import:
// which session the current pass targets, which symbols returned nothing
// for it, and the last session fully imported.
type importState struct {
	Session          string   `json:"session"`
	CompletedThrough string   `json:"completed_through,omitempty"`
	Empty            []string `json:"empty,omitempty"`

	path  string
	empty map[string]struct{}
}

// loadImportState reads the state at path; a missing file is an empty state.
func loadImportState(path string) (*importState, error) {
	st := &importState{path: path, empty: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import state: %w", err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decoding import state %s: %w", path, err)
	}
	for _, s := range st.Empty {
		st.empty[s] = struct{}{}
	}
	return st, nil
}

// reset starts a new session, forgetting symbols that were empty before.
func (st *importState) reset(session string) {
	st.Session = session
	st.Empty = nil
	st.empty = make(map[string]struct{})
}

func (st *importState) isEmpty(symbol string) bool {
	_, ok := st.empty[symbol]
	return ok
}

func (st *importState) markEmpty(symbols []string) {
	for _, s := range symbols {
		st.empty[s] = struct{}{}
	}
}

// pending filters out symbols already known to be empty this session.
func (st *importState) pending(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !st.isEmpty(s) {
			out = append(out, s)
		}
	}
	return out
}

// save writes the state atomically via a temp file and rename.
func (st *importState) save() error {
	st.Empty = st.Empty[:0]
	for s := range st.empty {
		st.Empty = append(st.Empty, s)
	}
	sort.Strings(st.Empty)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding import state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing import state: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return fmt.Errorf("renaming import state: %w", err)
	}
	return nil
}
