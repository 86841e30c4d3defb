package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// S6: daily 09:00, current local time 10:00 -> next_run is tomorrow 09:00.
func TestCalculateNextDailyAdvancesWhenPast(t *testing.T) {
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.Local)
	next, ok := CalculateNext("daily 09:00", now)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 7, 31, 9, 0, 0, 0, time.Local), next)
}

func TestCalculateNextDailySameDayWhenFuture(t *testing.T) {
	now := time.Date(2026, 7, 30, 7, 0, 0, 0, time.Local)
	next, ok := CalculateNext("daily 09:00", now)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 7, 30, 9, 0, 0, 0, time.Local), next)
}

// S7: every 30m, fired at T -> next_run = T + 30*60*1000.
func TestCalculateNextEvery(t *testing.T) {
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next, ok := CalculateNext("every 30m", now)
	require.True(t, ok)
	require.Equal(t, now.Add(30*time.Minute), next)
}

func TestCalculateNextUnrecognizedReturnsFalse(t *testing.T) {
	_, ok := CalculateNext("bogus schedule", time.Now())
	require.False(t, ok)
}
