package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCodeToolScriptDialectReturnsLastExpression(t *testing.T) {
	tool := NewRunCodeTool(t.TempDir())
	res := tool.Execute(context.Background(), map[string]interface{}{"code": "1 + 1"})
	require.False(t, res.IsError)
	require.Equal(t, "2", res.ForLLM)
}

func TestRunCodeToolRequiresCode(t *testing.T) {
	tool := NewRunCodeTool(t.TempDir())
	res := tool.Execute(context.Background(), map[string]interface{}{})
	require.True(t, res.IsError)
}
