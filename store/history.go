package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"dify-portal/golang/models"
)

// AppendHistory appends one turn to the user's history log and returns its
// timestamp. The write is a direct append, not a rewrite. Pruning runs as a
// side effect; a pruning failure is logged but never fails the append.
func (s *Store) AppendHistory(userID, role, modelKey, threadID, conversationID, content string) (string, error) {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ensureLocked(userID); err != nil {
		return "", err
	}
	ts := s.now().Format(models.TimeLayout)
	entry := models.HistoryEntry{
		Timestamp:      ts,
		Role:           role,
		ModelKey:       modelKey,
		ThreadID:       threadID,
		ConversationID: conversationID,
		Content:        content,
	}

	f, err := os.OpenFile(s.historyPath(userID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open history log: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(entry.Row()); err != nil {
		f.Close()
		return "", fmt.Errorf("append history row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("append history row: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close history log: %w", err)
	}

	if err := s.pruneLocked(userID); err != nil {
		s.logger.Warn("history prune failed", "user", userID, "error", err)
	}
	return ts, nil
}

// ReadHistory returns the entries of one thread in write order. When limit
// is positive only the last limit entries are returned. An empty thread id
// yields no entries.
func (s *Store) ReadHistory(userID, threadID string, limit int) ([]models.HistoryEntry, error) {
	if threadID == "" {
		return nil, nil
	}
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ensureLocked(userID); err != nil {
		return nil, err
	}
	rows, err := readRows(s.historyPath(userID))
	if err != nil {
		return nil, err
	}
	var out []models.HistoryEntry
	for _, row := range rows {
		e := models.DecodeHistoryRow(row, s.defaultModel)
		if strings.TrimSpace(e.ThreadID) != threadID {
			continue
		}
		e.ThreadID = threadID
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ReadAllHistory returns every entry of one thread in write order.
func (s *Store) ReadAllHistory(userID, threadID string) ([]models.HistoryEntry, error) {
	return s.ReadHistory(userID, threadID, 0)
}
