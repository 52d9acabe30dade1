package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dify-portal/golang/models"
)

const testUser = "1234567"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(Config{
		UsersDir:     filepath.Join(dir, "users"),
		NoticePath:   filepath.Join(dir, "notice.txt"),
		DefaultModel: "seisan",
		KnownModel: func(k string) bool {
			return k == "seisan" || k == "hozen"
		},
	})
}

// appendRawRows writes history rows directly, bypassing AppendHistory's
// timestamping and pruning side effects.
func appendRawRows(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	for _, row := range rows {
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())
}

func TestEnsureUserIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureUser(testUser))
	require.NoError(t, s.EnsureUser(testUser))

	_, err := s.AppendHistory(testUser, models.RoleUser, "seisan", "t1", "", "hello")
	require.NoError(t, err)

	require.NoError(t, s.EnsureUser(testUser))
	items, err := s.ReadHistory(testUser, "t1", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	contents := []string{
		"hello",
		"日本語のメッセージです、改行も\n含みます",
		`quotes "inside", and commas`,
		"trailing space ",
	}
	for _, c := range contents {
		_, err := s.AppendHistory(testUser, models.RoleUser, "seisan", "t1", "", c)
		require.NoError(t, err)
	}

	items, err := s.ReadHistory(testUser, "t1", 0)
	require.NoError(t, err)
	require.Len(t, items, len(contents))
	for i, c := range contents {
		assert.Equal(t, c, items[i].Content)
		assert.Equal(t, models.RoleUser, items[i].Role)
		assert.Equal(t, "t1", items[i].ThreadID)
	}
}

func TestReadHistoryWindow(t *testing.T) {
	s := newTestStore(t)
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.AppendHistory(testUser, models.RoleUser, "seisan", "t1", "", c)
		require.NoError(t, err)
	}
	items, err := s.ReadHistory(testUser, "t1", 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].Content)
	assert.Equal(t, "e", items[2].Content)

	items, err = s.ReadHistory(testUser, "", 200)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHistoryFiltersByThread(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendHistory(testUser, models.RoleUser, "seisan", "t1", "", "one")
	require.NoError(t, err)
	_, err = s.AppendHistory(testUser, models.RoleBot, "seisan", "t2", "", "two")
	require.NoError(t, err)

	items, err := s.ReadHistory(testUser, "t2", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "two", items[0].Content)
}

func TestMalformedRowsDegrade(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureUser(testUser))
	ts := s.now().Format(models.TimeLayout)
	appendRawRows(t, s.historyPath(testUser), [][]string{
		{ts, models.RoleUser, "", "t1"}, // short row, missing columns
		{ts, models.RoleBot, "unknown-model", "t1", "", "answer"},
	})

	items, err := s.ReadHistory(testUser, "t1", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "", items[0].Content)
	assert.Equal(t, "seisan", items[0].ModelKey)
	assert.Equal(t, "unknown-model", items[1].ModelKey)
}

func TestThreadListingSortedByActivity(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertThread(testUser, "t1", "first", "2026-01-01T10:00:00"))
	require.NoError(t, s.UpsertThread(testUser, "t2", "second", "2026-01-02T10:00:00"))
	require.NoError(t, s.UpsertThread(testUser, "t3", "third", "2026-01-03T10:00:00"))

	threads, err := s.ListThreads(testUser, 100)
	require.NoError(t, err)
	require.Len(t, threads, 3)
	assert.Equal(t, "t3", threads[0].ThreadID)
	assert.Equal(t, "t1", threads[2].ThreadID)

	// appending activity moves a thread to the front
	require.NoError(t, s.UpsertThread(testUser, "t1", "", "2026-01-04T10:00:00"))
	threads, err = s.ListThreads(testUser, 100)
	require.NoError(t, err)
	assert.Equal(t, "t1", threads[0].ThreadID)

	threads, err = s.ListThreads(testUser, 2)
	require.NoError(t, err)
	assert.Len(t, threads, 2)

	// limit clamps instead of failing
	threads, err = s.ListThreads(testUser, 0)
	require.NoError(t, err)
	assert.Len(t, threads, 1)
	threads, err = s.ListThreads(testUser, 10_000)
	require.NoError(t, err)
	assert.Len(t, threads, 3)
}

func TestUpsertThreadFirstPreviewWins(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertThread(testUser, "t1", "", "2026-01-01T10:00:00"))
	require.NoError(t, s.UpsertThread(testUser, "t1", "filled later", "2026-01-01T10:01:00"))
	require.NoError(t, s.UpsertThread(testUser, "t1", "ignored", "2026-01-01T10:02:00"))

	threads, err := s.ListThreads(testUser, 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "filled later", threads[0].Preview)
	assert.Equal(t, "2026-01-01T10:02:00", threads[0].UpdatedAt)
	assert.Equal(t, "2026-01-01T10:00:00", threads[0].CreatedAt)
}

func TestRenameThread(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertThread(testUser, "t1", "preview", "2026-01-01T10:00:00"))

	require.ErrorIs(t, s.RenameThread(testUser, "missing", "name"), ErrNotFound)
	require.ErrorIs(t, s.RenameThread(testUser, "t1", "   "), ErrNotFound)

	long := strings.Repeat("あ", 25)
	require.NoError(t, s.RenameThread(testUser, "t1", long))
	threads, err := s.ListThreads(testUser, 10)
	require.NoError(t, err)
	assert.Equal(t, long, threads[0].Name)
	assert.Equal(t, strings.Repeat("あ", 20), threads[0].Preview)
}

func TestDeleteThreadCascades(t *testing.T) {
	s := newTestStore(t)
	for _, tid := range []string{"t1", "t2"} {
		_, err := s.AppendHistory(testUser, models.RoleUser, "seisan", tid, "", "msg "+tid)
		require.NoError(t, err)
		require.NoError(t, s.UpsertThread(testUser, tid, "msg "+tid, "2026-01-01T10:00:00"))
		require.NoError(t, s.SetConversationID(testUser, tid, "seisan", "cid-"+tid, "2026-01-01T10:00:00"))
	}

	require.NoError(t, s.DeleteThread(testUser, "t1"))

	items, err := s.ReadHistory(testUser, "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	items, err = s.ReadHistory(testUser, "t2", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	cid, err := s.GetConversationID(testUser, "t1", "seisan")
	require.NoError(t, err)
	assert.Empty(t, cid)
	cid, err = s.GetConversationID(testUser, "t2", "seisan")
	require.NoError(t, err)
	assert.Equal(t, "cid-t2", cid)

	require.ErrorIs(t, s.RenameThread(testUser, "t1", "name"), ErrNotFound)
	require.ErrorIs(t, s.DeleteThread(testUser, "t1"), ErrNotFound)
}

func TestConversationMappingCompositeKey(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetConversationID(testUser, "t1", "seisan", "cid-a", "2026-01-01T10:00:00"))
	require.NoError(t, s.SetConversationID(testUser, "t1", "hozen", "cid-b", "2026-01-01T10:00:00"))

	cid, err := s.GetConversationID(testUser, "t1", "seisan")
	require.NoError(t, err)
	assert.Equal(t, "cid-a", cid)
	cid, err = s.GetConversationID(testUser, "t1", "hozen")
	require.NoError(t, err)
	assert.Equal(t, "cid-b", cid)

	// upsert overwrites in place, no duplicate rows
	require.NoError(t, s.SetConversationID(testUser, "t1", "seisan", "cid-c", "2026-01-01T11:00:00"))
	mappings, err := s.loadMappingLocked(testUser)
	require.NoError(t, err)
	assert.Len(t, mappings, 2)
	cid, err = s.GetConversationID(testUser, "t1", "seisan")
	require.NoError(t, err)
	assert.Equal(t, "cid-c", cid)
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.UserExists(testUser))

	require.NoError(t, s.CreateUser(testUser, "secret99"))
	assert.True(t, s.UserExists(testUser))
	require.ErrorIs(t, s.CreateUser(testUser, "other"), ErrExists)

	u, err := s.LoadUser(testUser)
	require.NoError(t, err)
	assert.Equal(t, testUser, u.UserID)
	assert.Equal(t, "seisan", u.ModelKey)
	assert.NotEmpty(t, u.CreatedAt)
	assert.True(t, isBcryptHash(u.Password), "password must be stored hashed")

	assert.True(t, s.VerifyUser(testUser, "secret99"))
	assert.False(t, s.VerifyUser(testUser, "wrong"))
	assert.False(t, s.VerifyUser("0000000", "secret99"))

	u.ModelKey = "hozen"
	require.NoError(t, s.SaveUser(u))
	u, err = s.LoadUser(testUser)
	require.NoError(t, err)
	assert.Equal(t, "hozen", u.ModelKey)

	_, err = s.LoadUser("9999999")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLegacyPlaintextPasswordUpgrade(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureUser(testUser))
	legacy := models.User{
		UserID:    testUser,
		Password:  "plain-old-pw",
		ModelKey:  "seisan",
		CreatedAt: "2025-01-01T00:00:00",
	}
	require.NoError(t, writeTable(s.userPath(testUser), models.UserFields, [][]string{legacy.Row()}))

	assert.False(t, s.VerifyUser(testUser, "nope"))
	assert.True(t, s.VerifyUser(testUser, "plain-old-pw"))

	u, err := s.LoadUser(testUser)
	require.NoError(t, err)
	assert.True(t, isBcryptHash(u.Password), "plaintext row must be upgraded on login")
	assert.True(t, s.VerifyUser(testUser, "plain-old-pw"))
}

func TestLoadUserDefaultsUnknownModel(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureUser(testUser))
	row := []string{testUser, "pw", "deprecated-model"}
	require.NoError(t, writeTable(s.userPath(testUser), models.UserFields, [][]string{row}))

	u, err := s.LoadUser(testUser)
	require.NoError(t, err)
	assert.Equal(t, "seisan", u.ModelKey)
	assert.NotEmpty(t, u.CreatedAt)
}

func TestNotice(t *testing.T) {
	s := newTestStore(t)
	version, content := s.Notice()
	assert.NotEqual(t, "0", version)
	assert.Empty(t, content)

	require.NoError(t, os.WriteFile(s.noticePath, []byte("メンテナンスのお知らせ"), 0o644))
	version, content = s.Notice()
	assert.Equal(t, "メンテナンスのお知らせ", content)
	assert.NotEmpty(t, version)
}

func TestAtomicWriteReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	require.NoError(t, atomicWriteFile(path, []byte("first"), 0o644))
	require.NoError(t, atomicWriteFile(path, []byte("second"), 0o644))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
