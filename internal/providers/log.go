package providers

import (
	"log/slog"
	"time"
)

// logCall records one outbound LLM request at Debug level on success and
// Warn on failure, matching the ambient-stack logging requirement that
// every component's operations carry a "component" attribute (SPEC_FULL.md
// §A). Providers have no per-instance logger threaded through them — they
// are constructed from plain settings, not a runtime context — so this logs
// through slog.Default() the same way internal/config does for package-
// level helpers with no natural owner to hold a logger field.
func logCall(provider, model string, streaming bool, start time.Time, resp *ChatResponse, err error) {
	elapsed := time.Since(start)
	if err != nil {
		slog.Warn("provider call failed",
			"component", "providers",
			"provider", provider,
			"model", model,
			"streaming", streaming,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return
	}
	attrs := []any{
		"component", "providers",
		"provider", provider,
		"model", model,
		"streaming", streaming,
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if resp != nil {
		attrs = append(attrs, "finish_reason", resp.FinishReason, "tool_calls", len(resp.ToolCalls))
		if resp.Usage != nil {
			attrs = append(attrs, "input_tokens", resp.Usage.PromptTokens, "output_tokens", resp.Usage.CompletionTokens)
		}
	}
	slog.Debug("provider call completed", attrs...)
}
