package codesandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScriptingSandboxEvaluatesExpression(t *testing.T) {
	sb := NewScriptingSandbox(t.TempDir())
	res, err := sb.Run(context.Background(), "1 + 2")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "3", res.Output)
}

func TestScriptingSandboxCapturesConsoleLogs(t *testing.T) {
	sb := NewScriptingSandbox(t.TempDir())
	res, err := sb.Run(context.Background(), `console.log("hello"); return 1`)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Contains(t, res.Logs, "hello")
}

func TestScriptingSandboxFsRoutesThroughGuard(t *testing.T) {
	ws := t.TempDir()
	sb := NewScriptingSandbox(ws)
	res, err := sb.Run(context.Background(), `fs.readFile("../../../etc/passwd")`)
	require.NoError(t, err)
	// escape attempt surfaces as a nil/error return, not a crash or leak.
	require.NotEmpty(t, res)
}

func TestScriptingSandboxTimesOut(t *testing.T) {
	sb := NewScriptingSandbox(t.TempDir())
	sb.Timeout = 10 * time.Millisecond
	res, err := sb.Run(context.Background(), `while true do end`)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "timed out")
}

func TestScriptingSandboxHasNoBaseLibrary(t *testing.T) {
	sb := NewScriptingSandbox(t.TempDir())
	res, err := sb.Run(context.Background(), `print("x")`)
	require.NoError(t, err)
	require.False(t, res.Success) // print is not registered — no base lib opened
}
