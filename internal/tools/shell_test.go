package tools

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecToolExtractCommand(t *testing.T) {
	tool := NewExecTool("/tmp", false)

	cmd, ok := tool.ExtractCommand(map[string]interface{}{"command": "ls -la"})
	require.True(t, ok)
	require.Equal(t, "ls -la", cmd)

	_, ok = tool.ExtractCommand(map[string]interface{}{"command": ""})
	require.False(t, ok)

	_, ok = tool.ExtractCommand(map[string]interface{}{})
	require.False(t, ok)
}
