package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/codesandbox"
)

// RunCodeTool exposes the Code Sandbox (4.5) as a callable tool: a script
// dialect (in-process Lua, no timers/network/process/reflection) and a
// subprocess dialect (a real interpreter binary run with the workspace as
// its working directory; its file access is not confined). The LLM picks a
// dialect per call; unset defaults to script.
type RunCodeTool struct {
	script     codesandbox.Sandbox
	subprocess codesandbox.Sandbox
}

func NewRunCodeTool(workspace string) *RunCodeTool {
	return &RunCodeTool{
		script:     codesandbox.NewScriptingSandbox(workspace),
		subprocess: codesandbox.NewSubprocessSandbox(workspace),
	}
}

func (t *RunCodeTool) Name() string { return "run_code" }

func (t *RunCodeTool) Description() string {
	return "Run a short script in the workspace. " +
		`Dialect "script" runs Lua in-process with no network/process/timer access; ` +
		`dialect "subprocess" spawns a real interpreter with a wall-clock timeout.`
}

func (t *RunCodeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Source code to execute.",
			},
			"dialect": map[string]interface{}{
				"type":        "string",
				"description": `Sandbox dialect: "script" (default, in-process Lua) or "subprocess" (spawned interpreter).`,
				"enum":        []string{"script", "subprocess"},
			},
		},
		"required": []string{"code"},
	}
}

func (t *RunCodeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return ErrorResult("code is required")
	}

	dialect, _ := args["dialect"].(string)
	sb := t.script
	if dialect == "subprocess" {
		sb = t.subprocess
	}

	res, err := sb.Run(ctx, code)
	if err != nil {
		return ErrorResult(fmt.Sprintf("sandbox error: %v", err))
	}
	if !res.Success {
		msg := res.Error
		if len(res.Logs) > 0 {
			msg = fmt.Sprintf("%s\nlogs:\n%s", msg, strings.Join(res.Logs, "\n"))
		}
		return ErrorResult(msg)
	}

	var sb2 strings.Builder
	if res.Output != "" {
		sb2.WriteString(res.Output)
	}
	if len(res.Logs) > 0 {
		if sb2.Len() > 0 {
			sb2.WriteString("\n\n")
		}
		sb2.WriteString("logs:\n")
		sb2.WriteString(strings.Join(res.Logs, "\n"))
	}
	return NewResult(sb2.String())
}
