package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw/internal/approval"
	"github.com/nextlevelbuilder/goclaw/internal/dispatch"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/session"
)

type stubProvider struct {
	responses []*providers.ChatResponse
	i         int
}

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if p.i >= len(p.responses) {
		return &providers.ChatResponse{FinishReason: "stop"}, nil
	}
	r := p.responses[p.i]
	p.i++
	return r, nil
}
func (p *stubProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}
func (p *stubProvider) DefaultModel() string { return "stub" }
func (p *stubProvider) Name() string         { return "stub" }

func waitForStatus(t *testing.T, store *session.Store, id string, want session.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Get(id).Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %s (was %s)", id, want, store.Get(id).Status)
}

func TestStartRunsToCompletion(t *testing.T) {
	store := session.New(nil)
	sess := store.Create("t", "", "stub")

	provider := &stubProvider{responses: []*providers.ChatResponse{
		{Content: "hello", FinishReason: "stop"},
	}}
	reg := dispatch.NewRegistry()
	d := dispatch.New(reg, nil, nil)
	o := New(store, d, approval.New(), provider, nil, nil)

	require.NoError(t, o.Start(context.Background(), sess.ID, "hi"))
	waitForStatus(t, store, sess.ID, session.StatusCompleted)
}

func TestStopIsIdempotent(t *testing.T) {
	store := session.New(nil)
	sess := store.Create("t", "", "stub")
	o := New(store, dispatch.New(dispatch.NewRegistry(), nil, nil), approval.New(), &stubProvider{}, nil, nil)

	o.Stop(sess.ID)
	o.Stop(sess.ID)
	require.Equal(t, session.StatusIdle, store.Get(sess.ID).Status)
}
