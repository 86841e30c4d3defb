package providerreg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

type stubProvider struct {
	name string
	err  error
}

func (s *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: "ok from " + s.name}, nil
}
func (s *stubProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Chat(ctx, req)
}
func (s *stubProvider) DefaultModel() string { return "m" }
func (s *stubProvider) Name() string         { return s.name }

func TestChatFallsBackOnFailure(t *testing.T) {
	reg := New()
	reg.Register(ProviderConfig{Name: "primary"}, &stubProvider{name: "primary", err: errors.New("down")})
	reg.Register(ProviderConfig{Name: "secondary"}, &stubProvider{name: "secondary"})

	resp, name, err := reg.Chat(context.Background(), providers.ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "secondary", name)
	require.Equal(t, "ok from secondary", resp.Content)
}

func TestDefaultPrefersMarkedProvider(t *testing.T) {
	reg := New()
	reg.Register(ProviderConfig{Name: "a"}, &stubProvider{name: "a"})
	reg.Register(ProviderConfig{Name: "b", Default: true}, &stubProvider{name: "b"})

	_, name, ok := reg.Default()
	require.True(t, ok)
	require.Equal(t, "b", name)
}

func TestLoadSettingsMissingFileReturnsEmpty(t *testing.T) {
	f, err := LoadSettings(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Empty(t, f.Providers)
}

func TestSaveAndLoadSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llm-providers-settings.json")

	want := &SettingsFile{Providers: []ProviderConfig{{Name: "anthropic", Default: true, Models: []ModelInfo{{Name: "claude", ContextWindow: 200000}}}}}
	require.NoError(t, SaveSettings(path, want))

	got, err := LoadSettings(path)
	require.NoError(t, err)
	require.Equal(t, want.Providers, got.Providers)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1) // no leftover temp file
}
