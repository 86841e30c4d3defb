package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifySafeCommand(t *testing.T) {
	c := New()
	v := c.Classify("ls -la", ChatPrivate)
	require.Equal(t, TierSafe, v.Tier)
}

func TestClassifyDangerousInPrivateIsApproval(t *testing.T) {
	c := New()
	v := c.Classify("rm -rf .", ChatPrivate)
	require.Equal(t, TierApproval, v.Tier)
}

// S3: a dangerous command in a group chat classifies blocked with a hint.
func TestClassifyDangerousInGroupIsBlocked(t *testing.T) {
	c := New()
	v := c.Classify("rm -rf .", ChatGroup)
	require.Equal(t, TierBlocked, v.Tier)
	require.Contains(t, v.Reason, "private chat")
}

// S5: printenv is always blocked via the configurable blocked set, even
// though it's classified through the same classifier, never approval.
func TestClassifyBlockedEnvDump(t *testing.T) {
	dir := t.TempDir()
	patternsFile := filepath.Join(dir, "blocked-patterns.json")
	require.NoError(t, os.WriteFile(patternsFile, []byte(`{
		"description": "test",
		"version": 1,
		"lastUpdated": "2026-01-01",
		"patterns": [
			{"id": "env-dump", "category": "exfil", "pattern": "\\bprintenv\\b", "reason": "leaks environment secrets"}
		]
	}`), 0o644))

	c := New()
	require.NoError(t, c.LoadBlockedPatterns(patternsFile))

	v := c.Classify("printenv", ChatPrivate)
	require.Equal(t, TierBlocked, v.Tier)
}

func TestClassifyTotality(t *testing.T) {
	c := New()
	for _, cmd := range []string{"ls", "rm -rf /", "printenv", "echo hi"} {
		v := c.Classify(cmd, ChatPrivate)
		require.Contains(t, []Tier{TierSafe, TierApproval, TierBlocked}, v.Tier)
	}
}
