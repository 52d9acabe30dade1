package store

import (
	"sort"
	"strings"

	"dify-portal/golang/models"
)

func (s *Store) loadThreadsLocked(userID string) ([]models.Thread, error) {
	if err := s.ensureLocked(userID); err != nil {
		return nil, err
	}
	rows, err := readRows(s.threadsPath(userID))
	if err != nil {
		return nil, err
	}
	out := make([]models.Thread, 0, len(rows))
	for _, row := range rows {
		t := models.DecodeThreadRow(row)
		t.ThreadID = strings.TrimSpace(t.ThreadID)
		if t.ThreadID == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) saveThreadsLocked(userID string, threads []models.Thread) error {
	rows := make([][]string, 0, len(threads))
	for _, t := range threads {
		rows = append(rows, t.Row())
	}
	return writeTable(s.threadsPath(userID), models.ThreadFields, rows)
}

// UpsertThread refreshes updated_at for an existing thread, filling the
// preview only while it is still blank (the first non-empty preview wins).
// A new thread is inserted with created_at = updated_at = ts.
func (s *Store) UpsertThread(userID, threadID, preview, ts string) error {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	threads, err := s.loadThreadsLocked(userID)
	if err != nil {
		return err
	}
	for i := range threads {
		if threads[i].ThreadID != threadID {
			continue
		}
		if preview != "" && strings.TrimSpace(threads[i].Preview) == "" {
			threads[i].Preview = preview
		}
		threads[i].UpdatedAt = ts
		return s.saveThreadsLocked(userID, threads)
	}
	threads = append(threads, models.Thread{
		ThreadID:  threadID,
		Preview:   preview,
		CreatedAt: ts,
		UpdatedAt: ts,
	})
	return s.saveThreadsLocked(userID, threads)
}

// ListThreads returns threads sorted by updated_at descending, truncated to
// limit. The limit is clamped to [1, 200].
func (s *Store) ListThreads(userID string, limit int) ([]models.Thread, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	threads, err := s.loadThreadsLocked(userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt > threads[j].UpdatedAt
	})
	if len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// ThreadExists reports whether the thread id is present in the index.
func (s *Store) ThreadExists(userID, threadID string) bool {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	threads, err := s.loadThreadsLocked(userID)
	if err != nil {
		return false
	}
	for _, t := range threads {
		if t.ThreadID == threadID {
			return true
		}
	}
	return false
}

// RenameThread sets the display name and regenerates the preview from its
// first characters. Returns ErrNotFound for an unknown thread id or a name
// that is empty after trimming.
func (s *Store) RenameThread(userID, threadID, name string) error {
	name = strings.TrimSpace(name)
	if threadID == "" || name == "" {
		return ErrNotFound
	}
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	threads, err := s.loadThreadsLocked(userID)
	if err != nil {
		return err
	}
	for i := range threads {
		if threads[i].ThreadID != threadID {
			continue
		}
		threads[i].Name = name
		threads[i].Preview = models.Preview(name)
		threads[i].UpdatedAt = s.now().Format(models.TimeLayout)
		return s.saveThreadsLocked(userID, threads)
	}
	return ErrNotFound
}

// DeleteThread removes the thread row and cascades to its history and
// conversation-mapping rows. Each affected table is rewritten atomically.
// Returns ErrNotFound when the thread id is absent.
func (s *Store) DeleteThread(userID, threadID string) error {
	if threadID == "" {
		return ErrNotFound
	}
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	threads, err := s.loadThreadsLocked(userID)
	if err != nil {
		return err
	}
	kept := threads[:0]
	for _, t := range threads {
		if t.ThreadID != threadID {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(threads) {
		return ErrNotFound
	}
	if err := s.saveThreadsLocked(userID, kept); err != nil {
		return err
	}

	histRows, err := readRows(s.historyPath(userID))
	if err != nil {
		return err
	}
	keptHist := make([][]string, 0, len(histRows))
	for _, row := range histRows {
		e := models.DecodeHistoryRow(row, s.defaultModel)
		if strings.TrimSpace(e.ThreadID) == threadID {
			continue
		}
		e.ThreadID = strings.TrimSpace(e.ThreadID)
		keptHist = append(keptHist, e.Row())
	}
	if err := writeTable(s.historyPath(userID), models.HistoryFields, keptHist); err != nil {
		return err
	}

	mappings, err := s.loadMappingLocked(userID)
	if err != nil {
		return err
	}
	keptMap := make([][]string, 0, len(mappings))
	for _, m := range mappings {
		if m.ThreadID == threadID {
			continue
		}
		keptMap = append(keptMap, m.Row())
	}
	return writeTable(s.mappingPath(userID), models.MappingFields, keptMap)
}
