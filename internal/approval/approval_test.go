package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestApprovalResolvesOnRespond(t *testing.T) {
	c := New()
	id, future := c.RequestApproval("sess-1", "chat-1", "rm -rf .", "/w", "destructive delete")

	require.True(t, c.Respond(id, true))

	select {
	case approved := <-future:
		require.True(t, approved)
	case <-time.After(time.Second):
		t.Fatal("future never resolved")
	}
}

// invariant 4: concurrent approve+deny is serialized; the second call
// returns false.
func TestRespondIsSingleFire(t *testing.T) {
	c := New()
	id, _ := c.RequestApproval("sess-1", "chat-1", "sudo rm -rf /", "/w", "privesc")

	first := c.Respond(id, true)
	second := c.Respond(id, false)

	require.True(t, first)
	require.False(t, second)
}

// invariant 5: no response within T_approval resolves to false.
func TestApprovalTimesOut(t *testing.T) {
	c := NewWithTimeout(20 * time.Millisecond)
	_, future := c.RequestApproval("sess-1", "chat-1", "rm -rf .", "/w", "destructive delete")

	select {
	case approved := <-future:
		require.False(t, approved)
	case <-time.After(time.Second):
		t.Fatal("future never resolved after timeout")
	}
}

func TestCancelAllResolvesSessionEntriesToFalse(t *testing.T) {
	c := New()
	_, f1 := c.RequestApproval("sess-1", "chat-1", "cmd1", "/w", "r1")
	_, f2 := c.RequestApproval("sess-1", "chat-1", "cmd2", "/w", "r2")
	_, otherSession := c.RequestApproval("sess-2", "chat-2", "cmd3", "/w", "r3")

	c.CancelAll("sess-1")

	require.False(t, <-f1)
	require.False(t, <-f2)
	require.Empty(t, c.List("sess-1"))
	require.Len(t, c.List("sess-2"), 1)

	// sess-2's entry is untouched by the cancel.
	c.Respond(c.List("sess-2")[0].ID, true)
	require.True(t, <-otherSession)
}

func TestListFiltersBySession(t *testing.T) {
	c := New()
	c.RequestApproval("sess-1", "chat-1", "cmd", "/w", "reason")
	c.RequestApproval("sess-2", "chat-2", "other", "/w", "reason")
	list := c.List("sess-1")
	require.Len(t, list, 1)
	require.Equal(t, "cmd", list[0].Command)
}
