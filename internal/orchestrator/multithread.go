package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/session"
)

// TaskMode distinguishes the two MultiThreadTask fan-out shapes (4.7).
type TaskMode string

const (
	ModeConsensus      TaskMode = "consensus"
	ModeDifferentTasks TaskMode = "different_tasks"
)

// ChildSpec is one child session to spawn for a different_tasks run; for
// consensus every child shares the same Model and Prompt.
type ChildSpec struct {
	Model  string
	Prompt string
}

// MultiThreadTask tracks one task's N child sessions and its aggregate
// status.
type MultiThreadTask struct {
	ID           string
	Mode         TaskMode
	ChildIDs     []string
	AutoSummary  bool
	SummaryModel string
	Status       session.Status
}

// StartMultiThreadTask creates N child sessions per mode, starts each
// concurrently, and returns the task record. Status aggregation runs
// whenever a child's status changes — callers observe that via onEvent
// and should call Aggregate to recompute.
func (o *Orchestrator) StartMultiThreadTask(ctx context.Context, taskID, workspaceRoot string, mode TaskMode, children []ChildSpec, autoSummary bool, summaryModel string) (*MultiThreadTask, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("multi-thread task %s: no children specified", taskID)
	}

	task := &MultiThreadTask{ID: taskID, Mode: mode, AutoSummary: autoSummary, SummaryModel: summaryModel, Status: session.StatusRunning}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range children {
		sess := o.sessions.Create(fmt.Sprintf("task:%s", taskID), workspaceRoot, c.Model)
		o.sessions.Update(sess.ID, func(s *session.Session) { s.ThreadID = taskID })

		mu.Lock()
		task.ChildIDs = append(task.ChildIDs, sess.ID)
		mu.Unlock()

		wg.Add(1)
		go func(sessionID, prompt string) {
			defer wg.Done()
			_ = o.Start(ctx, sessionID, prompt)
		}(sess.ID, c.Prompt)
	}
	wg.Wait()

	return task, nil
}

// Aggregate recomputes a MultiThreadTask's status from its children's
// current status, per §3: completed only once every child is completed;
// error if any child errored; otherwise running.
func (o *Orchestrator) Aggregate(task *MultiThreadTask) session.Status {
	allCompleted := true
	anyError := false
	for _, id := range task.ChildIDs {
		sess := o.sessions.Get(id)
		if sess == nil {
			continue
		}
		switch sess.Status {
		case session.StatusError:
			anyError = true
		case session.StatusCompleted:
		default:
			allCompleted = false
		}
	}

	switch {
	case anyError:
		task.Status = session.StatusError
	case allCompleted:
		task.Status = session.StatusCompleted
	default:
		task.Status = session.StatusRunning
	}
	return task.Status
}

// MaybeSummarize implements the auto-summary step: once a task reaches
// completed with AutoSummary set, spawn one additional session against
// SummaryModel with a prompt built from every child's transcript, and
// append it to the task's child list (open question c: child, not
// sibling).
func (o *Orchestrator) MaybeSummarize(ctx context.Context, workspaceRoot string, task *MultiThreadTask) error {
	if task.Status != session.StatusCompleted || !task.AutoSummary {
		return nil
	}

	prompt := "Summarize the following transcripts:\n\n"
	for _, id := range task.ChildIDs {
		sess := o.sessions.Get(id)
		if sess == nil {
			continue
		}
		prompt += fmt.Sprintf("--- session %s ---\n", id)
		for _, m := range sess.Messages {
			prompt += string(m.Kind) + ": " + m.Content + "\n"
		}
	}

	summarySess := o.sessions.Create(fmt.Sprintf("task:%s:summary", task.ID), workspaceRoot, task.SummaryModel)
	o.sessions.Update(summarySess.ID, func(s *session.Session) { s.ThreadID = task.ID })
	task.ChildIDs = append(task.ChildIDs, summarySess.ID)

	return o.Start(ctx, summarySess.ID, prompt)
}

// CreateTask registers a new MultiThreadTask, fans its children out via
// StartMultiThreadTask, and starts a background watcher that recomputes
// Aggregate and fires MaybeSummarize as children finish (task.create, 4.7).
func (o *Orchestrator) CreateTask(ctx context.Context, taskID, workspaceRoot string, mode TaskMode, children []ChildSpec, autoSummary bool, summaryModel string) (*MultiThreadTask, error) {
	task, err := o.StartMultiThreadTask(ctx, taskID, workspaceRoot, mode, children, autoSummary, summaryModel)
	if err != nil {
		o.emitTask(taskID, "error", map[string]string{"error": err.Error()})
		return nil, err
	}

	o.tasksMu.Lock()
	o.tasks[taskID] = task
	o.tasksMu.Unlock()

	o.emitTask(taskID, "created", task)
	go o.watchTask(ctx, workspaceRoot, task)
	return task, nil
}

// watchTask polls child status until the task reaches a terminal state,
// emitting task.status on every change and running the auto-summary step
// once (open question c: summary session joins the task as a child).
func (o *Orchestrator) watchTask(ctx context.Context, workspaceRoot string, task *MultiThreadTask) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	summarized := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.tasksMu.Lock()
		_, live := o.tasks[task.ID]
		o.tasksMu.Unlock()
		if !live {
			return
		}

		prev := task.Status
		status := o.Aggregate(task)
		if status != prev {
			o.emitTask(task.ID, "status", task)
		}

		if status == session.StatusCompleted && task.AutoSummary && !summarized {
			summarized = true
			if err := o.MaybeSummarize(ctx, workspaceRoot, task); err != nil {
				o.emitTask(task.ID, "error", map[string]string{"error": err.Error()})
				continue
			}
			o.emitTask(task.ID, "status", task)
			continue
		}

		if status == session.StatusCompleted || status == session.StatusError {
			return
		}
	}
}

// StopTask aborts every live child runner without removing the task from
// the registry (task.stop, 4.7) — the task stays visible as stopped.
func (o *Orchestrator) StopTask(taskID string) error {
	o.tasksMu.Lock()
	task, ok := o.tasks[taskID]
	o.tasksMu.Unlock()
	if !ok {
		return fmt.Errorf("stop task: unknown task %s", taskID)
	}

	for _, id := range task.ChildIDs {
		o.Stop(id)
	}
	task.Status = session.StatusIdle
	o.emitTask(taskID, "status", task)
	return nil
}

// DeleteTask stops every child, drops their sessions, and removes the
// task from the registry (task.delete, 4.7).
func (o *Orchestrator) DeleteTask(taskID string) error {
	o.tasksMu.Lock()
	task, ok := o.tasks[taskID]
	delete(o.tasks, taskID)
	o.tasksMu.Unlock()
	if !ok {
		return fmt.Errorf("delete task: unknown task %s", taskID)
	}

	for _, id := range task.ChildIDs {
		o.Stop(id)
		o.sessions.Delete(id)
	}
	o.emitTask(taskID, "deleted", nil)
	return nil
}

// GetTask returns the live MultiThreadTask record for taskID, or nil.
func (o *Orchestrator) GetTask(taskID string) *MultiThreadTask {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()
	return o.tasks[taskID]
}
