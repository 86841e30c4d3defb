// Package providerreg implements the Provider Registry (data model §3):
// the set of configured LLM providers/models and an ordered fallback chain
// wrapped in a circuit breaker per provider so a failing provider is
// skipped quickly rather than retried into a cascading stall. Providers are
// not probed for availability; a provider is found unavailable only when a
// Chat call through it fails.
package providerreg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// ModelInfo describes one selectable model under a provider.
type ModelInfo struct {
	Name             string `json:"name"`
	ContextWindow    int    `json:"context_window"`
	SupportsThinking bool   `json:"supports_thinking"`
}

// ProviderConfig is one entry of the persisted llm-providers-settings.json
// (6, "persisted state files").
type ProviderConfig struct {
	Name    string      `json:"name"`
	BaseURL string      `json:"base_url,omitempty"`
	APIKey  string      `json:"api_key,omitempty"`
	Models  []ModelInfo `json:"models"`
	Default bool        `json:"default"`
}

// SettingsFile is the on-disk schema for llm-providers-settings.json.
type SettingsFile struct {
	Providers []ProviderConfig `json:"providers"`
}

type entry struct {
	cfg      ProviderConfig
	provider providers.Provider
	breaker  *gobreaker.CircuitBreaker
}

// Registry holds every configured provider plus a breaker-wrapped
// fallback chain ordered by registration order.
type Registry struct {
	order   []string
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a provider to the registry and the end of the fallback
// chain, with a fresh circuit breaker named after it.
func (r *Registry) Register(cfg ProviderConfig, p providers.Provider) {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	r.entries[cfg.Name] = &entry{cfg: cfg, provider: p, breaker: cb}
	r.order = append(r.order, cfg.Name)
}

// Get returns a registered provider by name.
func (r *Registry) Get(name string) (providers.Provider, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Names returns every registered provider name in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Models lists the models advertised for a provider.
func (r *Registry) Models(name string) []ModelInfo {
	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	return e.cfg.Models
}

// Default returns the provider marked default, or the first registered
// provider if none is marked.
func (r *Registry) Default() (providers.Provider, string, bool) {
	for _, name := range r.order {
		if r.entries[name].cfg.Default {
			return r.entries[name].provider, name, true
		}
	}
	if len(r.order) == 0 {
		return nil, "", false
	}
	first := r.order[0]
	return r.entries[first].provider, first, true
}

// Chat tries providers in registration order, skipping any whose breaker
// is open, and counts a request error against that provider's breaker,
// which opens after 3 consecutive failures. Returns the first
// success; if every provider fails or is tripped, returns the last error.
func (r *Registry) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, string, error) {
	var lastErr error
	for _, name := range r.order {
		e := r.entries[name]
		result, err := e.breaker.Execute(func() (interface{}, error) {
			return e.provider.Chat(ctx, req)
		})
		if err != nil {
			lastErr = fmt.Errorf("provider %s: %w", name, err)
			continue
		}
		return result.(*providers.ChatResponse), name, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no providers registered")
	}
	return nil, "", lastErr
}

// LoadSettings reads llm-providers-settings.json. Missing file is not an
// error — an empty SettingsFile is returned so a fresh install starts
// with zero configured providers.
func LoadSettings(path string) (*SettingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SettingsFile{}, nil
		}
		return nil, fmt.Errorf("read provider settings: %w", err)
	}
	var f SettingsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse provider settings: %w", err)
	}
	return &f, nil
}

// SaveSettings atomically writes llm-providers-settings.json (same
// temp-file + rename discipline as session persistence, per 6).
func SaveSettings(path string, f *SettingsFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal provider settings: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "llm-providers-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
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
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename settings into place: %w", err)
	}
	cleanup = false
	return nil
}
