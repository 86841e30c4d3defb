package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func newMemStore(tasks ...*Task) *memStore {
	m := &memStore{tasks: make(map[string]*Task)}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memStore) List(ctx context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Get(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	cp := *t
	return &cp, nil
}

func (m *memStore) Create(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) Update(ctx context.Context, t *Task) error {
	return m.Create(ctx, t)
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memStore) Fire(ctx context.Context, id string, recompute func(*Task) (int64, bool)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	nextRun, recurring := recompute(t)
	t.NextRun = nextRun
	t.Enabled = recurring
	return nil
}

func TestTickFiresDueTaskAndReschedules(t *testing.T) {
	now := time.Now()
	task := &Task{
		ID: "t1", Title: "ping", Prompt: "say hi",
		Schedule: "every 30m", NextRun: now.Add(-time.Minute).UnixMilli(),
		Recurring: true, Enabled: true,
	}
	store := newMemStore(task)

	var executed []string
	s := New(store, nil, func(ctx context.Context, t *Task) error {
		executed = append(executed, t.ID)
		return nil
	}, WithNowFunc(func() time.Time { return now }))

	s.Tick(context.Background())

	require.Equal(t, []string{"t1"}, executed)
	updated, _ := store.Get(context.Background(), "t1")
	require.True(t, updated.NextRun > now.UnixMilli())
	require.True(t, updated.Enabled)
}

func TestTickDisablesNonRecurringAfterFire(t *testing.T) {
	now := time.Now()
	task := &Task{ID: "t1", Schedule: "every 30m", NextRun: now.Add(-time.Minute).UnixMilli(), Recurring: false, Enabled: true}
	store := newMemStore(task)

	s := New(store, nil, func(ctx context.Context, t *Task) error { return nil }, WithNowFunc(func() time.Time { return now }))
	s.Tick(context.Background())

	updated, _ := store.Get(context.Background(), "t1")
	require.False(t, updated.Enabled)
}

// invariant 9: exactly one notification fires per armed cycle within the window.
func TestNotifyBeforeFiresOnceInWindow(t *testing.T) {
	now := time.Now()
	notifyMin := 10
	task := &Task{
		ID: "t1", NotifyBefore: &notifyMin, Enabled: true,
		NextRun: now.Add(5 * time.Minute).UnixMilli(), Schedule: "every 1h",
	}
	store := newMemStore(task)

	var notifications int
	s := New(store, func(ctx context.Context, t *Task) { notifications++ }, nil, WithNowFunc(func() time.Time { return now }))

	s.Tick(context.Background())
	s.Tick(context.Background())
	s.Tick(context.Background())

	require.Equal(t, 1, notifications)
}

func TestFailingTaskDoesNotStopTick(t *testing.T) {
	now := time.Now()
	t1 := &Task{ID: "a", Prompt: "x", Schedule: "every 1m", NextRun: now.Add(-time.Second).UnixMilli(), Recurring: true, Enabled: true}
	t2 := &Task{ID: "b", Prompt: "y", Schedule: "every 1m", NextRun: now.Add(-time.Second).UnixMilli(), Recurring: true, Enabled: true}
	store := newMemStore(t1, t2)

	var ran []string
	s := New(store, nil, func(ctx context.Context, t *Task) error {
		ran = append(ran, t.ID)
		if t.ID == "a" {
			return context.DeadlineExceeded
		}
		return nil
	}, WithNowFunc(func() time.Time { return now }))

	s.Tick(context.Background())
	require.ElementsMatch(t, []string{"a", "b"}, ran)
}
