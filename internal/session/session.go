// Package session implements the Session Store (4.6): the in-memory
// exclusive owner of live sessions, their message logs, and their pending
// file changes, with a single sync-event callback forwarding mutations to
// a host-owned persistent store.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state (data model, 3).
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// MessageKind is the StreamMessage tagged-variant discriminator (3).
type MessageKind string

const (
	MsgUserPrompt         MessageKind = "user_prompt"
	MsgAssistantText      MessageKind = "assistant_text"
	MsgToolCall           MessageKind = "tool_call"
	MsgToolResult         MessageKind = "tool_result"
	MsgResult             MessageKind = "result"
	MsgStatus             MessageKind = "status"
	MsgPermissionRequired MessageKind = "permission_required"
)

// StreamMessage is one entry in a session's append-only message log.
// Messages are mutated only via UpdateAt/TruncateAfter (7).
type StreamMessage struct {
	Kind      MessageKind    `json:"kind"`
	Content   string         `json:"content,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// FileChangeStatus is the FileChange lifecycle (3).
type FileChangeStatus string

const (
	FileChangePending   FileChangeStatus = "pending"
	FileChangeConfirmed FileChangeStatus = "confirmed"
)

// FileChange records a recorded edit not yet confirmed.
type FileChange struct {
	Path      string           `json:"path"`
	Additions int              `json:"additions"`
	Deletions int              `json:"deletions"`
	Status    FileChangeStatus `json:"status"`
}

// Session is the live, in-memory record the orchestrator and dispatcher
// mutate. Field access outside Store is read-only — callers must go
// through Store's methods to mutate, so the sync callback always fires.
type Session struct {
	ID            string
	Title         string
	WorkspaceRoot string // absolute, canonicalized; empty = no workspace selected
	AllowedTools  []string
	Model         string
	Temperature   *float64
	ThreadID      string // set when this session is a MultiThreadTask child
	ChatID        string // opaque chat-bot identifier the host supplied at session.start
	GroupChat     bool   // true when ChatID names a group/channel rather than a 1:1 DM
	Status        Status
	InputTokens   int64
	OutputTokens  int64
	Messages      []StreamMessage
	PendingPerms  map[string]bool // tool_use_id -> awaiting approval
	FileChanges   map[string]*FileChange
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncKind is the sync-event discriminator (4.6).
type SyncKind string

const (
	SyncCreate  SyncKind = "create"
	SyncUpdate  SyncKind = "update"
	SyncMessage SyncKind = "message"
	SyncTodos   SyncKind = "todos"
)

// SyncFunc is the single callback the host uses to forward mutations to
// its own persistent store. Set exactly once at startup — this is the one
// process-global the design notes (9) carve out as acceptable.
type SyncFunc func(kind SyncKind, sessionID string, payload any)

// Store is the Session Store: single-writer discipline, with external
// readers obtaining an immutable snapshot for history responses.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	sync     SyncFunc
}

func New(sync SyncFunc) *Store {
	return &Store{sessions: make(map[string]*Session), sync: sync}
}

func (s *Store) emit(kind SyncKind, sessionID string, payload any) {
	if s.sync != nil {
		s.sync(kind, sessionID, payload)
	}
}

// Create makes a new Session with a fresh id.
func (s *Store) Create(title, workspaceRoot, model string) *Session {
	now := time.Now()
	sess := &Session{
		ID:            uuid.NewString(),
		Title:         title,
		WorkspaceRoot: workspaceRoot,
		Model:         model,
		Status:        StatusIdle,
		PendingPerms:  make(map[string]bool),
		FileChanges:   make(map[string]*FileChange),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	snap := snapshot(sess)
	s.emit(SyncCreate, sess.ID, snap)
	return snap
}

// Get returns an immutable snapshot of a session, or nil if absent.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return snapshot(sess)
}

// List returns immutable snapshots of every live session.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, snapshot(sess))
	}
	return out
}

// Update mutates session fields via the given patch function under the
// store's write lock, then emits a sync update event.
func (s *Store) Update(id string, patch func(*Session)) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	patch(sess)
	sess.UpdatedAt = time.Now()
	snap := snapshot(sess)
	s.mu.Unlock()

	s.emit(SyncUpdate, id, snap)
	return true
}

// Delete removes a session entirely.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		s.emit(SyncUpdate, id, nil)
	}
	return ok
}

// RecordMessage appends a message and emits a sync message event.
func (s *Store) RecordMessage(id string, msg StreamMessage) bool {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.emit(SyncMessage, id, msg)
	return true
}

// TruncateAfter drops every message after index i (inclusive semantics:
// messages[0..i] survive). Used by edit-at-index (7, invariant 7).
func (s *Store) TruncateAfter(id string, i int) bool {
	return s.Update(id, func(sess *Session) {
		if i < 0 {
			sess.Messages = nil
			return
		}
		if i+1 < len(sess.Messages) {
			sess.Messages = sess.Messages[:i+1]
		}
	})
}

// UpdateAt rewrites the message at index i in place — the log's length is
// unchanged (invariant 7).
func (s *Store) UpdateAt(id string, i int, patch func(*StreamMessage)) bool {
	return s.Update(id, func(sess *Session) {
		if i < 0 || i >= len(sess.Messages) {
			return
		}
		patch(&sess.Messages[i])
	})
}

// AddFileChanges merges delta into the session's pending file-change set,
// summing additions/deletions by path.
func (s *Store) AddFileChanges(id string, delta []FileChange) bool {
	return s.Update(id, func(sess *Session) {
		for _, d := range delta {
			if existing, ok := sess.FileChanges[d.Path]; ok {
				existing.Additions += d.Additions
				existing.Deletions += d.Deletions
			} else {
				cp := d
				cp.Status = FileChangePending
				sess.FileChanges[d.Path] = &cp
			}
		}
	})
}

// ConfirmFileChanges seals every pending file change for a session.
func (s *Store) ConfirmFileChanges(id string) bool {
	return s.Update(id, func(sess *Session) {
		for _, fc := range sess.FileChanges {
			fc.Status = FileChangeConfirmed
		}
	})
}

// ClearFileChanges discards every recorded file change (rollback, or
// task-level "share web cache" isolation at consensus-run start).
func (s *Store) ClearFileChanges(id string) bool {
	return s.Update(id, func(sess *Session) {
		sess.FileChanges = make(map[string]*FileChange)
	})
}

// snapshot returns a deep-enough copy for external readers: slices and
// maps are copied so a caller cannot mutate live store state.
func snapshot(sess *Session) *Session {
	cp := *sess
	cp.Messages = append([]StreamMessage(nil), sess.Messages...)
	cp.AllowedTools = append([]string(nil), sess.AllowedTools...)
	cp.PendingPerms = make(map[string]bool, len(sess.PendingPerms))
	for k, v := range sess.PendingPerms {
		cp.PendingPerms[k] = v
	}
	cp.FileChanges = make(map[string]*FileChange, len(sess.FileChanges))
	for k, v := range sess.FileChanges {
		fc := *v
		cp.FileChanges[k] = &fc
	}
	return &cp
}
