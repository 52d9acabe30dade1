package store

import (
	"strings"

	"dify-portal/golang/models"
)

func (s *Store) loadMappingLocked(userID string) ([]models.ConversationMapping, error) {
	if err := s.ensureLocked(userID); err != nil {
		return nil, err
	}
	rows, err := readRows(s.mappingPath(userID))
	if err != nil {
		return nil, err
	}
	out := make([]models.ConversationMapping, 0, len(rows))
	for _, row := range rows {
		m := models.DecodeMappingRow(row, s.defaultModel)
		m.ThreadID = strings.TrimSpace(m.ThreadID)
		m.ModelKey = strings.TrimSpace(m.ModelKey)
		m.ConversationID = strings.TrimSpace(m.ConversationID)
		if m.ThreadID == "" || m.ModelKey == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) saveMappingLocked(userID string, mappings []models.ConversationMapping) error {
	rows := make([][]string, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, m.Row())
	}
	return writeTable(s.mappingPath(userID), models.MappingFields, rows)
}

// GetConversationID looks up the upstream conversation id for the composite
// key (thread, model). An unknown pair yields the empty string.
func (s *Store) GetConversationID(userID, threadID, modelKey string) (string, error) {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	mappings, err := s.loadMappingLocked(userID)
	if err != nil {
		return "", err
	}
	for _, m := range mappings {
		if m.ThreadID == threadID && m.ModelKey == modelKey {
			return m.ConversationID, nil
		}
	}
	return "", nil
}

// SetConversationID upserts the mapping row for (thread, model).
func (s *Store) SetConversationID(userID, threadID, modelKey, conversationID, ts string) error {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	mappings, err := s.loadMappingLocked(userID)
	if err != nil {
		return err
	}
	for i := range mappings {
		if mappings[i].ThreadID == threadID && mappings[i].ModelKey == modelKey {
			mappings[i].ConversationID = conversationID
			mappings[i].UpdatedAt = ts
			return s.saveMappingLocked(userID, mappings)
		}
	}
	mappings = append(mappings, models.ConversationMapping{
		ThreadID:       threadID,
		ModelKey:       modelKey,
		ConversationID: conversationID,
		UpdatedAt:      ts,
	})
	return s.saveMappingLocked(userID, mappings)
}
