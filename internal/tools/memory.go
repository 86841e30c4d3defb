package tools

import (
	"context"
	"fmt"
	"os"
	"time"
)

// MemoryTool appends a timestamped markdown section to the workspace-local
// MEMORY.md, confined through the same Path Guard as read_file
// (supplemented feature, SPEC_FULL.md §C — MEMORY.md is named in the data
// model but given no operations of its own).
type MemoryTool struct {
	workspace string
	restrict  bool
}

func NewMemoryTool(workspace string, restrict bool) *MemoryTool {
	return &MemoryTool{workspace: workspace, restrict: restrict}
}

func (t *MemoryTool) Name() string { return "memory_append" }

func (t *MemoryTool) Description() string {
	return "Append a note to this workspace's MEMORY.md as a new timestamped section"
}

func (t *MemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short heading for this memory entry",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Markdown body to record",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}
	title, _ := args["title"].(string)
	if title == "" {
		title = "Note"
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}
	resolved, err := resolvePath("MEMORY.md", workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}

	section := fmt.Sprintf("\n## %s — %s\n\n%s\n", title, time.Now().UTC().Format(time.RFC3339), content)

	f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to open MEMORY.md: %v", err))
	}
	defer f.Close()

	if _, err := f.WriteString(section); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write MEMORY.md: %v", err))
	}

	return SilentResult(fmt.Sprintf("appended %q to MEMORY.md", title))
}
