package store

import (
	"os"
	"strings"
	"time"

	"dify-portal/golang/models"
)

// retentionDays is the history retention window.
const retentionDays = 14

// pruneDateLayout is the calendar-day granularity of the prune marker.
const pruneDateLayout = "2006-01-02"

// Prune removes history entries older than the retention window, at most
// once per calendar day per user. Entries whose timestamp does not parse
// are conservatively retained.
func (s *Store) Prune(userID string) error {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.pruneLocked(userID)
}

func (s *Store) pruneLocked(userID string) error {
	if err := s.ensureLocked(userID); err != nil {
		return err
	}

	today := s.now().Format(pruneDateLayout)
	if s.readLastPrune(userID) == today {
		return nil
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)

	rows, err := readRows(s.historyPath(userID))
	if err != nil {
		return err
	}
	kept := make([][]string, 0, len(rows))
	for _, row := range rows {
		e := models.DecodeHistoryRow(row, s.defaultModel)
		t, err := time.Parse(models.TimeLayout, strings.TrimSpace(e.Timestamp))
		if err == nil && t.Before(cutoff) {
			continue
		}
		kept = append(kept, e.Row())
	}
	if err := writeTable(s.historyPath(userID), models.HistoryFields, kept); err != nil {
		return err
	}

	// best effort: a marker write failure must not fail the caller
	if err := os.WriteFile(s.prunePath(userID), []byte(today), 0o644); err != nil {
		s.logger.Warn("prune marker write failed", "user", userID, "error", err)
	}
	return nil
}

func (s *Store) readLastPrune(userID string) string {
	b, err := os.ReadFile(s.prunePath(userID))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
