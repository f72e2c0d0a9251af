package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// agentState is what survives restarts: the credential the server last
// acknowledged. The client ID comes from config, not state, so a machine
// can be re-imaged without losing its identity assignment.
type agentState struct {
	Password string `json:"password"`
}

func loadState(path string) (*agentState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state agentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// saveState writes atomically via a backup rename, so a crash mid-write
// never leaves the agent without a usable credential.
func saveState(path string, state *agentState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	backup := path + ".bak"
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, backup); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		if _, restoreErr := os.Stat(backup); restoreErr == nil {
			_ = os.Rename(backup, path)
		}
		return err
	}

	if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
