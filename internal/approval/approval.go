// Package approval implements the Approval Coordinator (4.3): an
// asynchronous human-in-the-loop protocol for commands the Command
// Classifier flags as requiring operator consent.
package approval

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/errs"
)

// DefaultTimeout is T_approval from 4.3: 60s, tunable, but must stay
// strictly below the host RPC timeout.
const DefaultTimeout = 60 * time.Second

// PendingCommand is the record described in the data model (3). Lifetime
// is bounded by Timeout; it is consumed at most once.
type PendingCommand struct {
	ID        string
	SessionID string
	ChatID    string
	Command   string
	Cwd       string
	Reason    string
	CreatedAt time.Time
}

type pending struct {
	cmd      PendingCommand
	resultCh chan bool
	once     sync.Once
	timer    *time.Timer
}

// Coordinator owns the map of outstanding PendingCommands. Safe for
// concurrent use; each entry resolves exactly once (invariant 4).
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*pending
	timeout time.Duration
}

// New builds a Coordinator with T_approval = DefaultTimeout. Pass a
// different timeout only for tests that need to observe the timeout path
// quickly.
func New() *Coordinator {
	return &Coordinator{entries: make(map[string]*pending), timeout: DefaultTimeout}
}

func NewWithTimeout(timeout time.Duration) *Coordinator {
	return &Coordinator{entries: make(map[string]*pending), timeout: timeout}
}

// RequestApproval registers a PendingCommand and returns its id plus a
// future that resolves to the operator's decision (or false on timeout).
// The returned channel is closed after the single value it yields is
// delivered via the returned receive — callers should read from it exactly
// once.
func (c *Coordinator) RequestApproval(sessionID, chatID, command, cwd, reason string) (string, <-chan bool) {
	id := uuid.NewString()
	resultCh := make(chan bool, 1)

	p := &pending{
		cmd: PendingCommand{
			ID:        id,
			SessionID: sessionID,
			ChatID:    chatID,
			Command:   command,
			Cwd:       cwd,
			Reason:    reason,
			CreatedAt: time.Now(),
		},
		resultCh: resultCh,
	}

	c.mu.Lock()
	c.entries[id] = p
	c.mu.Unlock()

	p.timer = time.AfterFunc(c.timeout, func() {
		c.resolve(id, false)
	})

	return id, resultCh
}

// Respond resolves id with the operator's decision. Returns true if this
// call was the one that resolved the entry (the second of a concurrent
// approve+deny pair returns false, satisfying invariant 4).
func (c *Coordinator) Respond(id string, approved bool) bool {
	return c.resolve(id, approved)
}

func (c *Coordinator) resolve(id string, approved bool) bool {
	c.mu.Lock()
	p, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	fired := false
	p.once.Do(func() {
		fired = true
		if p.timer != nil {
			p.timer.Stop()
		}
		p.resultCh <- approved
		close(p.resultCh)
	})
	return fired
}

// List returns the pending commands for a session, for display to the
// host/operator.
func (c *Coordinator) List(sessionID string) []PendingCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []PendingCommand
	for _, p := range c.entries {
		if p.cmd.SessionID == sessionID {
			out = append(out, p.cmd)
		}
	}
	return out
}

// CancelAll resolves every outstanding future for a session to false —
// used on session abort, so no command a user never got to decide on is
// left dangling.
func (c *Coordinator) CancelAll(sessionID string) {
	c.mu.Lock()
	var ids []string
	for id, p := range c.entries {
		if p.cmd.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.resolve(id, false)
	}
}

// Denied is the error returned by a caller awaiting the approval future
// when it resolves to false, whether by explicit denial, timeout, or
// CancelAll.
var Denied = errs.NewPermission("command denied")
