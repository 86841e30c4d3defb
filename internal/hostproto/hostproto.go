// Package hostproto implements the Host Protocol (4.9): newline-delimited
// UTF-8 JSON over stdin/stdout, one message per line. Unlike a WebSocket
// hub fanning events out to many browser clients, this protocol speaks to
// exactly one host process over a pipe — but the event-naming idiom and
// graceful-shutdown discipline follow the same pattern.
package hostproto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Inbound client-event kinds (4.9), covering the session/permission/
// message/settings/model/file-change/task/provider/skill surface.
const (
	EventSessionList         = "session.list"
	EventSessionHistory      = "session.history"
	EventSessionStart        = "session.start"
	EventSessionContinue     = "session.continue"
	EventSessionStop         = "session.stop"
	EventSessionDelete       = "session.delete"
	EventSessionPin          = "session.pin"
	EventSessionUpdate       = "session.update"
	EventSessionUpdateCwd    = "session.update-cwd"
	EventPermissionResp      = "permission.response"
	EventMessageEdit         = "message.edit"
	EventSettingsGet         = "settings.get"
	EventSettingsSave        = "settings.save"
	EventModelsGet           = "models.get"
	EventFileChangesConfirm  = "file_changes.confirm"
	EventFileChangesRollback = "file_changes.rollback"
	EventThreadList          = "thread.list"
	EventTaskCreate          = "task.create"
	EventTaskStart           = "task.start"
	EventTaskStop            = "task.stop"
	EventTaskDelete          = "task.delete"
	EventProvidersGet        = "llm.providers.get"
	EventProvidersSave       = "llm.providers.save"
	EventModelsTest          = "llm.models.test"
	EventModelsFetch         = "llm.models.fetch"
	EventModelsCheck         = "llm.models.check"
	EventSkillsGet           = "skills.get"
	EventSkillsRefresh       = "skills.refresh"
	EventSkillsToggle        = "skills.toggle"
	EventSkillsSetMarket     = "skills.set-marketplace"
)

// Outbound server-event kinds (4.9).
const (
	OutSessionList           = "session.list"
	OutSessionHistory        = "session.history"
	OutSessionStatus         = "session.status"
	OutSessionDeleted        = "session.deleted"
	OutSessionSync           = "session.sync"
	OutStreamUserPrompt      = "stream.user_prompt"
	OutStreamMessage         = "stream.message"
	OutPermissionRequired    = "permission.required"
	OutRunnerError           = "runner.error"
	OutSettingsLoaded        = "settings.loaded"
	OutModelsLoaded          = "models.loaded"
	OutModelsError           = "models.error"
	OutTaskCreated           = "task.created"
	OutTaskStatus            = "task.status"
	OutTaskDeleted           = "task.deleted"
	OutTaskError             = "task.error"
	OutFileChangesConfirmed  = "file_changes.confirmed"
	OutFileChangesRolledback = "file_changes.rolledback"
	OutFileChangesError      = "file_changes.error"
	OutSkillsLoaded          = "skills.loaded"
	OutSkillsError           = "skills.error"
)

// InboundMessage is the discriminated union envelope read from stdin.
type InboundMessage struct {
	Type    string          `json:"type"` // "client-event" | "scheduler-response"
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// RequestID correlates a scheduler-response to a prior out-of-band
	// request the host made of the scheduler.
	RequestID string `json:"request_id,omitempty"`
}

// OutboundMessage is the envelope written to stdout.
type OutboundMessage struct {
	Type      string          `json:"type"` // "server-event" | "log"
	Event     string          `json:"event,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// log-only fields
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// Handler processes one decoded inbound client-event. Returning an error
// does not terminate the connection — only a malformed line does that
// (fail-fast per 4.9); handler errors surface as a runner.error event.
type Handler func(ctx context.Context, msg InboundMessage) error

// Conn drives the stdio read loop and serializes writes to stdout.
type Conn struct {
	r          *bufio.Reader
	w          io.Writer
	writeMu    sync.Mutex
	logger     *slog.Logger
	streamRate *rate.Limiter
}

func New(r io.Reader, w io.Writer, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{r: bufio.NewReader(r), w: w, logger: logger}
}

// SetStreamRateLimit caps the rate of stream.message events written to the
// host (5's outbound admission gate, generalized from the chat-bot bridge's
// per-send minimum interval to the stdio transport itself) — a runaway
// think-act-observe loop streaming many chunks per second can otherwise
// flood the host faster than it can render them. Other event kinds
// (permission.required, task.*, errors) are never throttled.
func (c *Conn) SetStreamRateLimit(r rate.Limit, burst int) {
	c.streamRate = rate.NewLimiter(r, burst)
}

// Send writes one outbound message as a single JSON line. Writes are
// serialized so concurrent session goroutines never interleave partial
// lines (5, backpressure: outbound writes are serialized).
func (c *Conn) Send(msg OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write outbound message: %w", err)
	}
	return nil
}

// SendEvent is a convenience wrapper for the common server-event case.
func (c *Conn) SendEvent(sessionID, event string, payload any) error {
	if event == OutStreamMessage && c.streamRate != nil {
		_ = c.streamRate.Wait(context.Background())
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return c.Send(OutboundMessage{Type: "server-event", Event: event, SessionID: sessionID, Payload: data})
}

// Log emits a log-type outbound message.
func (c *Conn) Log(level, message string) error {
	return c.Send(OutboundMessage{Type: "log", Level: level, Message: message})
}

// Serve reads newline-delimited JSON from stdin until EOF, ctx
// cancellation, or a malformed line. A malformed line is fatal — the
// host is expected to restart this process cleanly (4.9).
func (c *Conn) Serve(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := c.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil
			}
			if err != io.EOF {
				return fmt.Errorf("read stdin: %w", err)
			}
		}

		trimmed := trimNewline(line)
		if trimmed == "" {
			if err == io.EOF {
				return nil
			}
			continue // empty line is a no-op
		}

		var msg InboundMessage
		if jsonErr := json.Unmarshal([]byte(trimmed), &msg); jsonErr != nil {
			return fmt.Errorf("malformed protocol line: %w", jsonErr)
		}

		if handleErr := handle(ctx, msg); handleErr != nil {
			c.logger.Error("client-event handler failed", "event", msg.Event, "error", handleErr)
			_ = c.SendEvent("", OutRunnerError, map[string]string{"error": handleErr.Error()})
		}

		if err == io.EOF {
			return nil
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
