package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dify-portal/golang/models"
)

func seedHistory(t *testing.T, s *Store, rows [][]string) {
	t.Helper()
	require.NoError(t, s.EnsureUser(testUser))
	appendRawRows(t, s.historyPath(testUser), rows)
}

func TestPruneDropsExpiredEntries(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	old := base.AddDate(0, 0, -20).Format(models.TimeLayout)
	edge := base.AddDate(0, 0, -14).Format(models.TimeLayout)
	fresh := base.AddDate(0, 0, -2).Format(models.TimeLayout)
	seedHistory(t, s, [][]string{
		{old, models.RoleUser, "seisan", "t1", "", "expired"},
		{edge, models.RoleUser, "seisan", "t1", "", "on the boundary"},
		{fresh, models.RoleBot, "seisan", "t1", "", "recent"},
		{"not-a-timestamp", models.RoleBot, "seisan", "t1", "", "unparsable"},
	})

	require.NoError(t, s.Prune(testUser))

	items, err := s.ReadHistory(testUser, "t1", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "on the boundary", items[0].Content)
	assert.Equal(t, "recent", items[1].Content)
	assert.Equal(t, "unparsable", items[2].Content, "malformed timestamps are conservatively retained")
}

func TestPruneRunsOncePerDay(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	require.NoError(t, s.Prune(testUser))

	// a stale row slipped in after today's prune survives until tomorrow
	old := base.AddDate(0, 0, -30).Format(models.TimeLayout)
	appendRawRows(t, s.historyPath(testUser), [][]string{
		{old, models.RoleUser, "seisan", "t1", "", "stale"},
	})
	require.NoError(t, s.Prune(testUser))
	items, err := s.ReadHistory(testUser, "t1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1, "second prune on the same day must be a no-op")

	now = base.AddDate(0, 0, 1)
	require.NoError(t, s.Prune(testUser))
	items, err = s.ReadHistory(testUser, "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAppendTriggersPruneAndMarker(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, err := s.AppendHistory(testUser, models.RoleUser, "seisan", "t1", "", "hello")
	require.NoError(t, err)

	b, err := os.ReadFile(s.prunePath(testUser))
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", string(b))
}
