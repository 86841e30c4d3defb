package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/nextlevelbuilder/goclaw/internal/appsettings"
	"github.com/nextlevelbuilder/goclaw/internal/hostproto"
	"github.com/nextlevelbuilder/goclaw/internal/orchestrator"
	"github.com/nextlevelbuilder/goclaw/internal/session"
)

// orchestratorChildPayload is the wire shape of one task.create child spec.
type orchestratorChildPayload struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// runBot is the default mode (6): speak the Host Protocol over
// stdin/stdout, driving sessions through the Runner Orchestrator.
func runBot(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := hostproto.New(os.Stdin, os.Stdout, nil)
	conn.SetStreamRateLimit(20, 40)

	rt, err := newRuntime(ctx, func(sessionID string, msg session.StreamMessage) {
		event := hostproto.OutStreamMessage
		if msg.Kind == session.MsgPermissionRequired {
			event = hostproto.OutPermissionRequired
		}
		_ = conn.SendEvent(sessionID, event, msg)
	})
	if err != nil {
		return err
	}

	rt.orch.SetTaskEventFunc(func(taskID, event string, payload any) {
		out := hostproto.OutTaskStatus
		switch event {
		case "created":
			out = hostproto.OutTaskCreated
		case "deleted":
			out = hostproto.OutTaskDeleted
		case "error":
			out = hostproto.OutTaskError
		}
		_ = conn.SendEvent(taskID, out, payload)
	})

	rt.scheduler.Start(ctx)
	defer rt.scheduler.Stop()

	return conn.Serve(ctx, func(ctx context.Context, msg hostproto.InboundMessage) error {
		return handleClientEvent(ctx, rt, conn, msg)
	})
}

func handleClientEvent(ctx context.Context, rt *runtime, conn *hostproto.Conn, msg hostproto.InboundMessage) error {
	switch msg.Event {
	case hostproto.EventSessionList:
		return conn.SendEvent("", hostproto.OutSessionList, rt.sessions.List())

	case hostproto.EventSessionStart, hostproto.EventSessionContinue:
		var payload struct {
			SessionID string `json:"session_id"`
			Prompt    string `json:"prompt"`
			Model     string `json:"model"`
			ChatID    string `json:"chat_id"`
			GroupChat bool   `json:"group_chat"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		sessionID := payload.SessionID
		if sessionID == "" {
			sess := rt.sessions.Create("", rt.workspace, payload.Model)
			sessionID = sess.ID
		}
		if payload.ChatID != "" {
			rt.sessions.Update(sessionID, func(s *session.Session) {
				s.ChatID = payload.ChatID
				s.GroupChat = payload.GroupChat
			})
		}
		return rt.orch.Start(ctx, sessionID, payload.Prompt)

	case hostproto.EventSessionStop:
		var payload struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		rt.orch.Stop(payload.SessionID)
		return nil

	case hostproto.EventPermissionResp:
		var payload struct {
			ApprovalID string `json:"approval_id"`
			Approved   bool   `json:"approved"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		rt.orch.ResolvePermission(payload.ApprovalID, payload.Approved)
		return nil

	case hostproto.EventTaskCreate:
		var payload struct {
			TaskID       string                     `json:"task_id"`
			Mode         string                     `json:"mode"`
			AutoSummary  bool                       `json:"auto_summary"`
			SummaryModel string                     `json:"summary_model"`
			Children     []orchestratorChildPayload `json:"children"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		taskID := payload.TaskID
		if taskID == "" {
			taskID = uuid.NewString()
		}
		children := make([]orchestrator.ChildSpec, 0, len(payload.Children))
		for _, c := range payload.Children {
			children = append(children, orchestrator.ChildSpec{Model: c.Model, Prompt: c.Prompt})
		}
		_, err := rt.orch.CreateTask(ctx, taskID, rt.workspace, orchestrator.TaskMode(payload.Mode), children, payload.AutoSummary, payload.SummaryModel)
		return err

	case hostproto.EventTaskStart:
		// Children start as part of task.create; task.start is a no-op
		// once a task exists (children are already running).
		return nil

	case hostproto.EventTaskStop:
		var payload struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		return rt.orch.StopTask(payload.TaskID)

	case hostproto.EventTaskDelete:
		var payload struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		return rt.orch.DeleteTask(payload.TaskID)

	case hostproto.EventSettingsGet:
		settings, err := rt.appSettings.Get()
		if err != nil {
			return err
		}
		return conn.SendEvent("", hostproto.OutSettingsLoaded, settings)

	case hostproto.EventSettingsSave:
		var next appsettings.Settings
		if err := json.Unmarshal(msg.Payload, &next); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		known := make(map[string][]string)
		for _, name := range rt.providers.Names() {
			models := rt.providers.Models(name)
			names := make([]string, 0, len(models))
			for _, m := range models {
				names = append(names, m.Name)
			}
			known[name] = names
		}
		if err := rt.appSettings.Save(&next, known); err != nil {
			return err
		}
		return conn.SendEvent("", hostproto.OutSettingsLoaded, &next)

	case hostproto.EventSkillsGet:
		s, err := rt.skills.Get()
		if err != nil {
			return conn.SendEvent("", hostproto.OutSkillsError, map[string]string{"error": err.Error()})
		}
		return conn.SendEvent("", hostproto.OutSkillsLoaded, s)

	case hostproto.EventSkillsRefresh:
		s, err := rt.skills.Refresh(nil)
		if err != nil {
			return conn.SendEvent("", hostproto.OutSkillsError, map[string]string{"error": err.Error()})
		}
		return conn.SendEvent("", hostproto.OutSkillsLoaded, s)

	case hostproto.EventSkillsToggle:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		s, err := rt.skills.Toggle(payload.ID)
		if err != nil {
			return conn.SendEvent("", hostproto.OutSkillsError, map[string]string{"error": err.Error()})
		}
		return conn.SendEvent("", hostproto.OutSkillsLoaded, s)

	case hostproto.EventSkillsSetMarket:
		var payload struct {
			URL string `json:"marketplace_url"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		s, err := rt.skills.SetMarketplace(payload.URL)
		if err != nil {
			return conn.SendEvent("", hostproto.OutSkillsError, map[string]string{"error": err.Error()})
		}
		return conn.SendEvent("", hostproto.OutSkillsLoaded, s)

	case hostproto.EventMessageEdit:
		var payload struct {
			SessionID string `json:"session_id"`
			Index     int    `json:"index"`
			Prompt    string `json:"prompt"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
		return rt.orch.EditAt(ctx, payload.SessionID, payload.Index, payload.Prompt)

	default:
		// Forward-compat: unknown client-event types are ignored, not
		// fatal (only a malformed line is fatal, per 4.9).
		return nil
	}
}
