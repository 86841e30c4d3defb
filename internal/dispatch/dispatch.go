// Package dispatch implements the Tool Dispatcher (4.4): a registry of
// tools filtered per-call by the policy engine, with command-classifier
// and approval-coordinator routing for shell-executing tools and
// size-bounded output for every tool result.
package dispatch

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/goclaw/internal/approval"
	"github.com/nextlevelbuilder/goclaw/internal/classifier"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/goclaw/internal/dispatch")

// Tool is anything the dispatcher can invoke by name.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *tools.Result
}

// CommandTool is implemented by tools whose arguments carry a shell
// command string that must pass through the Command Classifier before
// Execute runs — e.g. exec. Tools that don't touch a shell (read_file,
// web_fetch, ...) don't implement this and skip classification entirely.
type CommandTool interface {
	Tool
	ExtractCommand(args map[string]interface{}) (command string, ok bool)
}

// Registry holds every tool known to this process, keyed by name.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// All returns every registered tool, for callers that need the full Tool
// value rather than just its name (e.g. building a provider tool-def list).
func (r *Registry) All() []Tool {
	all := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		all = append(all, t)
	}
	return all
}

// ToProviderDef converts a dispatch Tool into the schema shape an LLM
// provider call expects.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// outputByteLimit is the truncation threshold (invariant 11 / scenario S8):
// results over this size are trimmed to their first and last halves with
// an elision marker, never silently dropped.
const outputByteLimit = 100 * 1024
const outputTailBytes = 50 * 1024

// Dispatcher executes a named tool call: classifying commands, routing
// through the approval coordinator when required, and truncating
// oversized output before it reaches the provider.
type Dispatcher struct {
	registry   *Registry
	classifier *classifier.Classifier
	approvals  *approval.Coordinator

	policy      *tools.PolicyEngine
	policyTools *tools.Registry

	permissionHook PermissionHook
}

func New(registry *Registry, c *classifier.Classifier, approvals *approval.Coordinator) *Dispatcher {
	return &Dispatcher{registry: registry, classifier: c, approvals: approvals}
}

// SetPermissionHook wires the callback fired the instant a command is
// registered with the approval coordinator, before gateCommand blocks.
func (d *Dispatcher) SetPermissionHook(hook PermissionHook) {
	d.permissionHook = hook
}

// SetPolicy wires a policy engine so ToolDefs filters its output by the
// global tools.allow/deny/profile config instead of exposing everything.
// policyTools mirrors the dispatch registry's contents by tool name.
func (d *Dispatcher) SetPolicy(pe *tools.PolicyEngine, policyTools *tools.Registry) {
	d.policy = pe
	d.policyTools = policyTools
}

// ToolDefs returns the provider-facing schema for every tool this
// dispatcher exposes to the given provider, after policy filtering (4.4's
// "policy engine filters tools per-call"). Without a policy engine it
// returns every registered tool unfiltered.
func (d *Dispatcher) ToolDefs(providerName string) []providers.ToolDefinition {
	if d.policy != nil && d.policyTools != nil {
		return d.policy.FilterTools(d.policyTools, "", providerName, nil, nil, false, false)
	}
	all := d.registry.All()
	defs := make([]providers.ToolDefinition, 0, len(all))
	for _, t := range all {
		defs = append(defs, ToProviderDef(t))
	}
	return defs
}

// CallContext carries the per-invocation identity the classifier and
// approval coordinator need — who is calling, from where, in what chat.
type CallContext struct {
	SessionID string
	ChatID    string
	Cwd       string
	Chat      classifier.ChatContext
	ToolUseID string // correlates a permission-required event back to its tool call
}

// PermissionHook is called the moment a command is registered with the
// approval coordinator, before gateCommand blocks waiting on the result —
// this is what lets the id reach the host as a permission.required event
// instead of only surfacing once the wait times out (4.4 step 3, 4.9).
type PermissionHook func(cc CallContext, approvalID, command, reason string)

// Dispatch runs one tool call end to end: lookup, classification +
// approval gating for command tools, execution, and output truncation.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]interface{}, cc CallContext) *tools.Result {
	ctx, span := tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("session.id", cc.SessionID),
	))
	defer span.End()

	t, ok := d.registry.Get(name)
	if !ok {
		span.SetAttributes(attribute.Bool("tool.error", true))
		return tools.ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if cmdTool, isCmd := t.(CommandTool); isCmd {
		if command, has := cmdTool.ExtractCommand(args); has {
			if res := d.gateCommand(ctx, command, cc); res != nil {
				span.SetAttributes(attribute.Bool("tool.error", res.IsError))
				return res
			}
		}
	}

	result := t.Execute(ctx, args)
	preTruncateLen := len(result.ForLLM)
	truncate(result)
	span.SetAttributes(
		attribute.Bool("tool.error", result.IsError),
		attribute.Bool("tool.truncated", len(result.ForLLM) != preTruncateLen),
	)
	return result
}

// gateCommand classifies a command and, if it requires approval, blocks
// until the coordinator resolves it or times out. Returns a non-nil
// Result only when the call must be rejected outright (blocked, denied,
// or the approval wait itself failed); nil means proceed to Execute.
func (d *Dispatcher) gateCommand(ctx context.Context, command string, cc CallContext) *tools.Result {
	if d.classifier == nil {
		return nil
	}
	verdict := d.classifier.Classify(command, cc.Chat)
	switch verdict.Tier {
	case classifier.TierBlocked:
		return tools.ErrorResult(fmt.Sprintf("command blocked by safety policy: %s", verdict.Reason))
	case classifier.TierApproval:
		if d.approvals == nil {
			return tools.ErrorResult("command requires approval but no approval coordinator is configured")
		}
		approvalID, resultCh := d.approvals.RequestApproval(cc.SessionID, cc.ChatID, command, cc.Cwd, verdict.Reason)
		if d.permissionHook != nil {
			d.permissionHook(cc, approvalID, command, verdict.Reason)
		}
		select {
		case approved := <-resultCh:
			if !approved {
				return tools.ErrorResult("command denied by user")
			}
			return nil
		case <-ctx.Done():
			return tools.ErrorResult("command approval wait cancelled")
		}
	default:
		return nil
	}
}

// truncate cuts ForLLM content over 100KiB down to its first 50KiB and last 50KiB,
// splicing an elision marker between the surviving halves (invariant 11).
func truncate(r *tools.Result) {
	if r == nil || len(r.ForLLM) <= outputByteLimit {
		return
	}
	head := r.ForLLM[:outputByteLimit-outputTailBytes]
	tail := r.ForLLM[len(r.ForLLM)-outputTailBytes:]
	elided := len(r.ForLLM) - len(head) - len(tail)
	r.ForLLM = fmt.Sprintf("%s\n\n... [%d bytes elided] ...\n\n%s", head, elided, tail)
}
