// Package appsettings implements the settings.{get,save} round-trip
// (SPEC_FULL.md §C): a thin read/write over api-settings.json, validated
// against the Provider/Model data model (spec §3) so a save can't point
// the default selection at a provider or model that doesn't exist.
package appsettings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Settings is the on-disk schema for api-settings.json: the user-facing
// preferences layered on top of the provider registry and agent defaults.
type Settings struct {
	DefaultProvider     string   `json:"default_provider,omitempty"`
	DefaultModel        string   `json:"default_model,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	RestrictToWorkspace *bool    `json:"restrict_to_workspace,omitempty"`
}

// Store owns api-settings.json.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Get loads the current settings. A missing file returns zero-value
// Settings, not an error — a fresh install has no saved preferences yet.
func (s *Store) Get() (*Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("read api settings: %w", err)
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse api settings: %w", err)
	}
	return &out, nil
}

// Save validates the default provider/model selection (when set) against
// knownProviders/knownModels before writing — an unknown selection is
// rejected rather than silently persisted (spec §3 Provider/Model
// composite id `providerId::modelId`).
func (s *Store) Save(next *Settings, knownProviders map[string][]string) error {
	if next.DefaultProvider != "" {
		models, ok := knownProviders[next.DefaultProvider]
		if !ok {
			return fmt.Errorf("save settings: unknown provider %q", next.DefaultProvider)
		}
		if next.DefaultModel != "" {
			found := false
			for _, m := range models {
				if m == next.DefaultModel {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("save settings: unknown model %q for provider %q", next.DefaultModel, next.DefaultProvider)
			}
		}
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal api settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create api settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "api-settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp api settings file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write api settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync api settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close api settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename api settings into place: %w", err)
	}
	cleanup = false
	return nil
}
