// Package orchestrator implements the Runner Orchestrator (4.7): the
// component that owns every live session's runner, drives its
// Think-Act-Observe loop against a provider and the Tool Dispatcher, and
// exposes abort/resolvePermission to the Host Protocol layer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/goclaw/internal/approval"
	"github.com/nextlevelbuilder/goclaw/internal/classifier"
	"github.com/nextlevelbuilder/goclaw/internal/dispatch"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/session"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/goclaw/internal/orchestrator")

// EventFunc is how the orchestrator reports stream events upward to the
// Host Protocol layer: one call per StreamMessage plus one at status
// transitions (4.9's server-event "stream.*" / "session.status" family).
type EventFunc func(sessionID string, msg session.StreamMessage)

// TaskEventFunc reports multi-thread task lifecycle events upward — a task
// isn't a session, so it gets its own narrow event channel instead of
// piggybacking on EventFunc's StreamMessage shape.
type TaskEventFunc func(taskID, event string, payload any)

// RunnerHandle is what the orchestrator exposes per live session — the
// host never manipulates a runner's internals directly.
type RunnerHandle struct {
	cancel func()
}

func (h *RunnerHandle) abort() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

// Orchestrator owns sessionId -> RunnerHandle and drives runs.
type Orchestrator struct {
	mu      sync.Mutex
	handles map[string]*RunnerHandle

	tasksMu sync.Mutex
	tasks   map[string]*MultiThreadTask

	approvalsMu      sync.Mutex
	pendingApprovals map[string]string // approvalID -> sessionID, for PendingPerms bookkeeping

	sessions   *session.Store
	dispatcher *dispatch.Dispatcher
	approvals  *approval.Coordinator
	provider   providers.Provider
	onEvent    EventFunc
	onTask     TaskEventFunc
	logger     *slog.Logger
}

func New(sessions *session.Store, dispatcher *dispatch.Dispatcher, approvals *approval.Coordinator, provider providers.Provider, onEvent EventFunc, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		handles:          make(map[string]*RunnerHandle),
		tasks:            make(map[string]*MultiThreadTask),
		pendingApprovals: make(map[string]string),
		sessions:         sessions,
		dispatcher:       dispatcher,
		approvals:        approvals,
		provider:         provider,
		onEvent:          onEvent,
		logger:           logger,
	}
	dispatcher.SetPermissionHook(o.emitPermissionRequired)
	return o
}

// emitPermissionRequired is the dispatch.PermissionHook wired into the
// Dispatcher: it records the pending approval against the session and
// forwards a permission_required stream message before gateCommand blocks
// (4.4 step 3, 4.9).
func (o *Orchestrator) emitPermissionRequired(cc dispatch.CallContext, approvalID, command, reason string) {
	o.approvalsMu.Lock()
	o.pendingApprovals[approvalID] = cc.SessionID
	o.approvalsMu.Unlock()

	o.sessions.Update(cc.SessionID, func(s *session.Session) {
		s.PendingPerms[approvalID] = true
	})
	o.emit(cc.SessionID, session.StreamMessage{
		Kind:      session.MsgPermissionRequired,
		ToolUseID: cc.ToolUseID,
		Payload: map[string]any{
			"approval_id": approvalID,
			"command":     command,
			"reason":      reason,
		},
	})
}

// SetTaskEventFunc wires the multi-thread task lifecycle callback. Optional
// — a nil callback leaves task notifications as log lines only.
func (o *Orchestrator) SetTaskEventFunc(onTask TaskEventFunc) {
	o.onTask = onTask
}

func (o *Orchestrator) emitTask(taskID, event string, payload any) {
	if o.onTask != nil {
		o.onTask(taskID, event, payload)
	}
}

func (o *Orchestrator) emit(sessionID string, msg session.StreamMessage) {
	o.sessions.RecordMessage(sessionID, msg)
	if o.onEvent != nil {
		o.onEvent(sessionID, msg)
	}
}

// Start begins (or continues) a run: records the user prompt, marks the
// session running, and spawns the runner goroutine (step 1 of 4.7).
func (o *Orchestrator) Start(parent context.Context, sessionID, prompt string) error {
	sess := o.sessions.Get(sessionID)
	if sess == nil {
		return fmt.Errorf("start: unknown session %s", sessionID)
	}

	// session.stop followed by session.start for the same id must drain
	// the old runner before the new one can emit anything (5, ordering
	// guarantee) — aborting and waiting for the handle to be replaced
	// under the lock below gives us that.
	o.Stop(sessionID)

	ctx, cancel := context.WithCancel(parent)
	handle := &RunnerHandle{cancel: cancel}

	o.mu.Lock()
	o.handles[sessionID] = handle
	o.mu.Unlock()

	o.sessions.Update(sessionID, func(s *session.Session) { s.Status = session.StatusRunning })
	o.emit(sessionID, session.StreamMessage{Kind: session.MsgUserPrompt, Content: prompt})

	go o.runLoop(ctx, sessionID, handle)
	return nil
}

// Stop aborts the current runner for a session, if any (step 5 of 4.7).
// Idempotent: calling it with no active runner is a no-op.
func (o *Orchestrator) Stop(sessionID string) {
	o.mu.Lock()
	handle, ok := o.handles[sessionID]
	delete(o.handles, sessionID)
	o.mu.Unlock()

	if !ok {
		return
	}
	handle.abort()
	o.approvals.CancelAll(sessionID)
	o.sessions.Update(sessionID, func(s *session.Session) { s.Status = session.StatusIdle })
	o.emit(sessionID, session.StreamMessage{Kind: session.MsgStatus, Content: "idle"})
}

// ResolvePermission delivers a permission.response to the approval
// coordinator, unblocking whatever tool call is waiting on it (step 3).
func (o *Orchestrator) ResolvePermission(approvalID string, approved bool) bool {
	ok := o.approvals.Respond(approvalID, approved)

	o.approvalsMu.Lock()
	sessionID, tracked := o.pendingApprovals[approvalID]
	delete(o.pendingApprovals, approvalID)
	o.approvalsMu.Unlock()

	if tracked {
		o.sessions.Update(sessionID, func(s *session.Session) {
			delete(s.PendingPerms, approvalID)
		})
	}
	return ok
}

// EditAt implements edit-at-index (4.7): abort the current runner,
// truncate the log after i, rewrite the message at i, and restart with
// the truncated history as context.
func (o *Orchestrator) EditAt(ctx context.Context, sessionID string, i int, newPrompt string) error {
	o.Stop(sessionID)
	o.sessions.TruncateAfter(sessionID, i)
	o.sessions.UpdateAt(sessionID, i, func(m *session.StreamMessage) { m.Content = newPrompt })
	return o.Start(ctx, sessionID, newPrompt)
}

// runLoop drives the Think-Act-Observe cycle: stream a response from the
// provider, execute any requested tool calls through the dispatcher
// (yielding permission.required for approval-tier commands), append
// results, and repeat until the provider reports no further tool calls.
func (o *Orchestrator) runLoop(ctx context.Context, sessionID string, handle *RunnerHandle) {
	ctx, span := tracer.Start(ctx, "runner.run", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	defer func() {
		o.mu.Lock()
		if o.handles[sessionID] == handle {
			delete(o.handles, sessionID)
		}
		o.mu.Unlock()
	}()

	var messages []providers.Message
	for _, m := range o.sessions.Get(sessionID).Messages {
		messages = append(messages, toProviderMessage(m))
	}

	const maxTurns = 50
	var usage providers.Usage
	for turn := 0; turn < maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := o.provider.Chat(ctx, providers.ChatRequest{Messages: messages, Tools: o.dispatcher.ToolDefs(o.provider.Name())})
		if err != nil {
			if ctx.Err() != nil {
				return // aborted: no post-abort event (5, ordering guarantee)
			}
			o.fail(sessionID, err)
			return
		}
		if resp.Usage != nil {
			usage.PromptTokens += resp.Usage.PromptTokens
			usage.CompletionTokens += resp.Usage.CompletionTokens
		}

		if resp.Content != "" {
			o.emit(sessionID, session.StreamMessage{Kind: session.MsgAssistantText, Content: resp.Content})
			messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content})
		}

		if len(resp.ToolCalls) == 0 {
			o.complete(sessionID, usage)
			return
		}

		sess := o.sessions.Get(sessionID)
		cc := dispatch.CallContext{SessionID: sessionID, Cwd: sess.WorkspaceRoot, ChatID: sess.ChatID}
		if sess.GroupChat {
			cc.Chat = classifier.ChatGroup
		} else {
			cc.Chat = classifier.ChatPrivate
		}

		for _, call := range resp.ToolCalls {
			o.emit(sessionID, session.StreamMessage{Kind: session.MsgToolCall, ToolName: call.Name, ToolUseID: call.ID, Payload: call.Arguments})

			cc.ToolUseID = call.ID
			result := o.dispatcher.Dispatch(ctx, call.Name, call.Arguments, cc)
			if ctx.Err() != nil {
				return
			}

			o.emit(sessionID, session.StreamMessage{Kind: session.MsgToolResult, ToolName: call.Name, ToolUseID: call.ID, Content: result.ForLLM})
			messages = append(messages, providers.Message{Role: "tool", Content: result.ForLLM, ToolCallID: call.ID})
		}
	}

	o.fail(sessionID, fmt.Errorf("run exceeded %d turns without completing", maxTurns))
}

func (o *Orchestrator) complete(sessionID string, usage providers.Usage) {
	o.sessions.Update(sessionID, func(s *session.Session) {
		s.Status = session.StatusCompleted
		s.InputTokens += int64(usage.PromptTokens)
		s.OutputTokens += int64(usage.CompletionTokens)
	})
	o.emit(sessionID, session.StreamMessage{Kind: session.MsgResult, Payload: map[string]any{
		"input_tokens":  usage.PromptTokens,
		"output_tokens": usage.CompletionTokens,
	}})
}

func (o *Orchestrator) fail(sessionID string, err error) {
	o.logger.Error("runner failed", "session", sessionID, "error", err)
	o.sessions.Update(sessionID, func(s *session.Session) { s.Status = session.StatusError })
	o.emit(sessionID, session.StreamMessage{Kind: session.MsgStatus, Content: "error: " + err.Error()})
}

func toProviderMessage(m session.StreamMessage) providers.Message {
	switch m.Kind {
	case session.MsgUserPrompt:
		return providers.Message{Role: "user", Content: m.Content}
	case session.MsgToolResult:
		return providers.Message{Role: "tool", Content: m.Content, ToolCallID: m.ToolUseID}
	default:
		return providers.Message{Role: "assistant", Content: m.Content}
	}
}
