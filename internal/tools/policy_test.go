package tools

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw/internal/config"
)

func TestPolicyEngineFullProfileAllowsEverything(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewExecTool("/tmp", false))
	reg.Register(NewWebFetchTool(WebFetchConfig{}))

	pe := NewPolicyEngine(&config.ToolsConfig{})
	defs := pe.FilterTools(reg, "", "anthropic", nil, nil, false, false)
	require.Len(t, defs, 2)
}

func TestPolicyEngineMinimalProfileRestricts(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewExecTool("/tmp", false))
	reg.Register(NewSessionStatusTool())

	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "minimal"})
	defs := pe.FilterTools(reg, "", "anthropic", nil, nil, false, false)
	require.Len(t, defs, 1)
	require.Equal(t, "session_status", defs[0].Function.Name)
}

func TestPolicyEngineSubagentDenyList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewExecTool("/tmp", false))
	reg.Register(NewWebFetchTool(WebFetchConfig{}))

	pe := NewPolicyEngine(&config.ToolsConfig{})
	defs := pe.FilterTools(reg, "", "anthropic", nil, nil, true, false)
	for _, d := range defs {
		require.NotEqual(t, "exec", d.Function.Name)
	}
}

func TestPolicyEngineCodingProfileKeepsSandboxAndWebAndMemory(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewRunCodeTool("/tmp"))
	reg.Register(NewExecTool("/tmp", false))
	reg.Register(NewWebFetchTool(WebFetchConfig{}))
	reg.Register(NewWebSearchTool(WebSearchConfig{}))
	reg.Register(NewMemoryTool("/tmp", false))
	reg.Register(NewReadFileTool("/tmp", false))
	reg.Register(NewSessionStatusTool())
	reg.Register(NewSessionsListTool())

	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "coding"})
	defs := pe.FilterTools(reg, "", "anthropic", nil, nil, false, false)

	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Function.Name] = true
	}
	for _, want := range []string{"run_code", "exec", "web_fetch", "web_search", "memory_append", "read_file", "session_status", "sessions_list"} {
		require.Truef(t, names[want], "%q should survive the coding profile", want)
	}
}

func TestPolicyEngineMessagingProfileRestrictsToSessionTools(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewSessionsListTool())
	reg.Register(NewSessionsHistoryTool())
	reg.Register(NewSessionsSendTool())
	reg.Register(NewSessionStatusTool())
	reg.Register(NewExecTool("/tmp", false))
	reg.Register(NewWebFetchTool(WebFetchConfig{}))

	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "messaging"})
	defs := pe.FilterTools(reg, "", "anthropic", nil, nil, false, false)
	require.Len(t, defs, 4)
	for _, d := range defs {
		require.NotEqual(t, "exec", d.Function.Name)
		require.NotEqual(t, "web_fetch", d.Function.Name)
	}
}
