// Package scheduler implements the persistent Scheduler (4.8): a
// relational store of ScheduledTasks, a 30s tick loop, a pre-notification
// window, and the "every <int><unit>" / "daily HH:MM" schedule grammar.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TickInterval is the scheduler's fixed tick period (4.8).
const TickInterval = 30 * time.Second

// Task is the persisted ScheduledTask record (data model, 3).
type Task struct {
	ID           string
	Title        string
	Prompt       string // empty means "no prompt to run"
	Schedule     string
	NextRun      int64 // epoch millis
	Recurring    bool
	NotifyBefore *int // minutes; nil means no pre-notification
	Enabled      bool
	CreatedAt    int64
	UpdatedAt    int64
}

// Store persists Tasks. Implementations must make Fire's next_run advance
// and the enabled flag update happen inside one transaction per task, so a
// crash mid-tick cannot double-execute (invariant 10).
type Store interface {
	List(ctx context.Context) ([]*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	Create(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
	// Fire atomically applies the post-execution state transition: if
	// recurring, recompute next_run; else set enabled=false. Must run in
	// one transaction with any caller-side "mark executed" bookkeeping.
	Fire(ctx context.Context, id string, recompute func(current *Task) (nextRun int64, recurring bool)) error
}

// NotificationFunc emits a notification for a task: the pre-notification
// for a task about to fire, and the reminder when it fires.
type NotificationFunc func(ctx context.Context, t *Task)

// ExecuteFunc is the configured task-execution callback — typically routes
// through the Runner Orchestrator. Returning an error only logs; it must
// never stop the tick loop (4.8).
type ExecuteFunc func(ctx context.Context, t *Task) error

// Scheduler runs the 30s tick loop over a Store.
type Scheduler struct {
	store       Store
	notify      NotificationFunc
	execute     ExecuteFunc
	nowFunc     func() time.Time
	logger      *slog.Logger
	tickPeriod  time.Duration

	mu       sync.Mutex
	notified map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

type Option func(*Scheduler)

func WithNowFunc(f func() time.Time) Option { return func(s *Scheduler) { s.nowFunc = f } }
func WithTickPeriod(d time.Duration) Option { return func(s *Scheduler) { s.tickPeriod = d } }
func WithLogger(l *slog.Logger) Option      { return func(s *Scheduler) { s.logger = l } }

func New(store Store, notify NotificationFunc, execute ExecuteFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		notify:     notify,
		execute:    execute,
		nowFunc:    time.Now,
		logger:     slog.Default(),
		tickPeriod: TickInterval,
		notified:   make(map[string]bool),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one notification phase followed by one execution phase.
// Failure of a single task's execution is logged, never propagated — the
// tick loop itself cannot fail.
func (s *Scheduler) Tick(ctx context.Context) {
	tasks, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("scheduler: list failed", "error", err)
		return
	}

	now := s.nowFunc().UnixMilli()
	s.notificationPhase(ctx, tasks, now)
	s.executionPhase(ctx, tasks, now)
}

func (s *Scheduler) notificationPhase(ctx context.Context, tasks []*Task, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		if !t.Enabled || t.NotifyBefore == nil {
			continue
		}
		windowStart := t.NextRun - int64(*t.NotifyBefore)*60_000
		if windowStart <= now && now < t.NextRun && !s.notified[t.ID] {
			s.notified[t.ID] = true
			if s.notify != nil {
				s.notify(ctx, t)
			}
		}
	}
}

func (s *Scheduler) executionPhase(ctx context.Context, tasks []*Task, now int64) {
	for _, t := range tasks {
		if !t.Enabled || t.NextRun > now {
			continue
		}

		s.mu.Lock()
		delete(s.notified, t.ID)
		s.mu.Unlock()

		if s.notify != nil {
			s.notify(ctx, t)
		}

		if t.Prompt != "" && s.execute != nil {
			if err := s.execute(ctx, t); err != nil {
				s.logger.Error("scheduler: task execution failed", "task_id", t.ID, "error", err)
			}
		}

		err := s.store.Fire(ctx, t.ID, func(current *Task) (int64, bool) {
			if !current.Recurring {
				return current.NextRun, false
			}
			next, ok := CalculateNext(current.Schedule, s.nowFunc())
			if !ok {
				return current.NextRun, false
			}
			return next.UnixMilli(), true
		})
		if err != nil {
			s.logger.Error("scheduler: fire failed", "task_id", t.ID, "error", err)
		}
	}
}
