package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw/internal/approval"
	"github.com/nextlevelbuilder/goclaw/internal/classifier"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
)

type echoTool struct{}

func (echoTool) Name() string                             { return "echo" }
func (echoTool) Description() string                      { return "echo" }
func (echoTool) Parameters() map[string]interface{}       { return map[string]interface{}{} }
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	msg, _ := args["message"].(string)
	return tools.NewResult(msg)
}

type execLikeTool struct{}

func (execLikeTool) Name() string                       { return "exec" }
func (execLikeTool) Description() string                { return "exec" }
func (execLikeTool) Parameters() map[string]interface{} { return map[string]interface{}{} }
func (execLikeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	cmd, _ := args["command"].(string)
	return tools.NewResult("ran: " + cmd)
}
func (execLikeTool) ExtractCommand(args map[string]interface{}) (string, bool) {
	cmd, ok := args["command"].(string)
	return cmd, ok
}

func TestDispatchUnknownTool(t *testing.T) {
	d := New(NewRegistry(), nil, nil)
	res := d.Dispatch(context.Background(), "nope", nil, CallContext{})
	require.True(t, res.IsError)
}

func TestDispatchSafeCommandPassesThrough(t *testing.T) {
	reg := NewRegistry()
	reg.Register(execLikeTool{})
	d := New(reg, classifier.New(), approval.New())

	res := d.Dispatch(context.Background(), "exec", map[string]interface{}{"command": "ls -la"}, CallContext{})
	require.False(t, res.IsError)
	require.Equal(t, "ran: ls -la", res.ForLLM)
}

func TestDispatchBlockedCommandRejected(t *testing.T) {
	reg := NewRegistry()
	reg.Register(execLikeTool{})
	d := New(reg, classifier.New(), approval.New())

	cc := CallContext{Chat: classifier.ChatGroup}
	res := d.Dispatch(context.Background(), "exec", map[string]interface{}{"command": "rm -rf /"}, cc)
	require.True(t, res.IsError)
	require.Contains(t, res.ForLLM, "blocked by safety policy")
}

// S3: a dangerous command in a group chat is rejected as blocked, not approval.
func TestDispatchDangerousInGroupBlocked(t *testing.T) {
	reg := NewRegistry()
	reg.Register(execLikeTool{})
	d := New(reg, classifier.New(), approval.New())

	cc := CallContext{Chat: classifier.ChatGroup}
	res := d.Dispatch(context.Background(), "exec", map[string]interface{}{"command": "chmod -R 777 /"}, cc)
	require.True(t, res.IsError)
	require.Contains(t, res.ForLLM, "private chat")
}

// 4.4 step 3: the permission hook fires with the coordinator's approval id
// before gateCommand blocks, so the host can surface permission.required
// immediately instead of only after the wait resolves.
func TestDispatchPermissionHookFiresBeforeBlocking(t *testing.T) {
	reg := NewRegistry()
	reg.Register(execLikeTool{})
	approvals := approval.New()
	d := New(reg, classifier.New(), approvals)

	var hookID, hookCommand string
	var hookCC CallContext
	d.SetPermissionHook(func(cc CallContext, approvalID, command, reason string) {
		hookID = approvalID
		hookCommand = command
		hookCC = cc
		go approvals.Respond(approvalID, true)
	})

	cc := CallContext{SessionID: "sess-1", ToolUseID: "tool-1"}
	res := d.Dispatch(context.Background(), "exec", map[string]interface{}{"command": "chmod -R 777 /"}, cc)

	require.False(t, res.IsError)
	require.NotEmpty(t, hookID)
	require.Equal(t, "chmod -R 777 /", hookCommand)
	require.Equal(t, "sess-1", hookCC.SessionID)
	require.Equal(t, "tool-1", hookCC.ToolUseID)
}

// invariant 11 / S8: oversized output is truncated with an elision marker,
// never silently dropped.
func TestDispatchTruncatesOversizedOutput(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})
	d := New(reg, nil, nil)

	big := strings.Repeat("a", outputByteLimit+1000)
	res := d.Dispatch(context.Background(), "echo", map[string]interface{}{"message": big}, CallContext{})
	require.False(t, res.IsError)
	require.Less(t, len(res.ForLLM), len(big))
	require.Contains(t, res.ForLLM, "bytes elided")
}

func TestDispatchSmallOutputUntouched(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})
	d := New(reg, nil, nil)

	res := d.Dispatch(context.Background(), "echo", map[string]interface{}{"message": "hi"}, CallContext{})
	require.Equal(t, "hi", res.ForLLM)
}

func TestToolDefsUnfilteredWithoutPolicy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})
	reg.Register(execLikeTool{})
	d := New(reg, nil, nil)

	defs := d.ToolDefs("anthropic")
	require.Len(t, defs, 2)
}

func TestToolDefsFilteredByPolicy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})
	reg.Register(execLikeTool{})
	d := New(reg, nil, nil)

	policyTools := tools.NewRegistry()
	policyTools.Register(echoTool{})
	policyTools.Register(execLikeTool{})
	d.SetPolicy(tools.NewPolicyEngine(&config.ToolsConfig{Profile: "minimal"}), policyTools)

	defs := d.ToolDefs("anthropic")
	require.Empty(t, defs)
}
