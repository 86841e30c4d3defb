package session

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCreateEmitsSyncCreate(t *testing.T) {
	var gotKind SyncKind
	var gotID string
	store := New(func(kind SyncKind, sessionID string, payload any) {
		gotKind, gotID = kind, sessionID
	})

	sess := store.Create("title", "/workspace", "claude-sonnet")
	require.Equal(t, SyncCreate, gotKind)
	require.Equal(t, sess.ID, gotID)
	require.Equal(t, StatusIdle, sess.Status)
}

// invariant 7: UpdateAt rewrites in place, the log length never changes.
func TestUpdateAtPreservesLength(t *testing.T) {
	store := New(nil)
	sess := store.Create("t", "", "")
	store.RecordMessage(sess.ID, StreamMessage{Kind: MsgUserPrompt, Content: "a"})
	store.RecordMessage(sess.ID, StreamMessage{Kind: MsgAssistantText, Content: "b"})
	store.RecordMessage(sess.ID, StreamMessage{Kind: MsgAssistantText, Content: "c"})

	before := len(store.Get(sess.ID).Messages)
	store.UpdateAt(sess.ID, 1, func(m *StreamMessage) { m.Content = "edited" })
	after := store.Get(sess.ID)

	require.Equal(t, before, len(after.Messages))
	require.Equal(t, "edited", after.Messages[1].Content)
	require.Equal(t, "a", after.Messages[0].Content)
	require.Equal(t, "c", after.Messages[2].Content)
}

func TestTruncateAfterDropsTail(t *testing.T) {
	store := New(nil)
	sess := store.Create("t", "", "")
	for _, c := range []string{"a", "b", "c", "d"} {
		store.RecordMessage(sess.ID, StreamMessage{Kind: MsgAssistantText, Content: c})
	}

	store.TruncateAfter(sess.ID, 1)
	got := store.Get(sess.ID)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "b", got.Messages[1].Content)
}

func TestAddFileChangesMergesByPath(t *testing.T) {
	store := New(nil)
	sess := store.Create("t", "", "")

	store.AddFileChanges(sess.ID, []FileChange{{Path: "a.go", Additions: 3, Deletions: 1}})
	store.AddFileChanges(sess.ID, []FileChange{{Path: "a.go", Additions: 2, Deletions: 0}, {Path: "b.go", Additions: 5}})

	got := store.Get(sess.ID)
	require.Len(t, got.FileChanges, 2)
	require.Equal(t, 5, got.FileChanges["a.go"].Additions)
	require.Equal(t, 1, got.FileChanges["a.go"].Deletions)
	require.Equal(t, FileChangePending, got.FileChanges["a.go"].Status)
	require.Equal(t, 5, got.FileChanges["b.go"].Additions)

	// Merge must be exact, not just additions-summed: diff the full
	// FileChange so a stray field (status flipped, wrong path key) fails
	// the test even if additions/deletions happen to line up.
	want := map[string]*FileChange{
		"a.go": {Path: "a.go", Additions: 5, Deletions: 1, Status: FileChangePending},
		"b.go": {Path: "b.go", Additions: 5, Deletions: 0, Status: FileChangePending},
	}
	if diff := cmp.Diff(want, got.FileChanges); diff != "" {
		t.Errorf("FileChanges mismatch (-want +got):\n%s", diff)
	}
}

func TestConfirmFileChangesSealsAll(t *testing.T) {
	store := New(nil)
	sess := store.Create("t", "", "")
	store.AddFileChanges(sess.ID, []FileChange{{Path: "a.go", Additions: 1}})

	store.ConfirmFileChanges(sess.ID)
	got := store.Get(sess.ID)
	require.Equal(t, FileChangeConfirmed, got.FileChanges["a.go"].Status)
}

func TestSnapshotIsIndependentOfLiveState(t *testing.T) {
	store := New(nil)
	sess := store.Create("t", "", "")
	snap := store.Get(sess.ID)
	snap.Title = "mutated locally"

	got := store.Get(sess.ID)
	require.Equal(t, "t", got.Title)
}
