// Package models defines the typed records persisted by the flat-file store
// and their CSV row encodings. Decoding is lenient: missing or malformed
// fields are mapped to documented defaults so that one bad historical row
// never aborts a read.
package models

import "time"

// TimeLayout is the timestamp format used everywhere in the persisted
// tables: ISO-8601 at second precision, no zone. Lexicographic order of
// these strings matches temporal order, which the thread listing relies on.
const TimeLayout = "2006-01-02T15:04:05"

// PreviewRunes is the maximum length of a thread preview.
const PreviewRunes = 20

// Column layouts of the per-user tables. The header rows written to disk
// use exactly these names, in this order; existing user directories from
// earlier deployments stay readable.
var (
	UserFields    = []string{"user_id", "password", "model_key", "created_at"}
	HistoryFields = []string{"timestamp", "role", "model_key", "thread_id", "dify_conversation_id", "content"}
	ThreadFields  = []string{"thread_id", "name", "preview", "created_at", "updated_at"}
	MappingFields = []string{"thread_id", "model_key", "dify_conversation_id", "updated_at"}
)

// Roles of a history entry.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// User is one per-user profile record.
type User struct {
	UserID    string `json:"user_id"`
	Password  string `json:"-"`
	ModelKey  string `json:"model_key"`
	CreatedAt string `json:"created_at"`
}

// Row encodes the record in UserFields order.
func (u User) Row() []string {
	return []string{u.UserID, u.Password, u.ModelKey, u.CreatedAt}
}

// HistoryEntry is one persisted chat turn. JSON tags match the shape the
// history API returns.
type HistoryEntry struct {
	Timestamp      string `json:"created_at"`
	Role           string `json:"role"`
	ModelKey       string `json:"model_key"`
	ThreadID       string `json:"thread_id"`
	ConversationID string `json:"-"`
	Content        string `json:"content"`
}

// Row encodes the record in HistoryFields order.
func (e HistoryEntry) Row() []string {
	return []string{e.Timestamp, e.Role, e.ModelKey, e.ThreadID, e.ConversationID, e.Content}
}

// Thread is one row of the per-user thread index.
type Thread struct {
	ThreadID  string `json:"thread_id"`
	Name      string `json:"name"`
	Preview   string `json:"preview"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Row encodes the record in ThreadFields order.
func (t Thread) Row() []string {
	return []string{t.ThreadID, t.Name, t.Preview, t.CreatedAt, t.UpdatedAt}
}

// ConversationMapping links a local thread to the upstream conversation it
// belongs to. The composite key is (thread id, model key): switching models
// starts a distinct upstream conversation for the same thread.
type ConversationMapping struct {
	ThreadID       string `json:"thread_id"`
	ModelKey       string `json:"model_key"`
	ConversationID string `json:"dify_conversation_id"`
	UpdatedAt      string `json:"updated_at"`
}

// Row encodes the record in MappingFields order.
func (m ConversationMapping) Row() []string {
	return []string{m.ThreadID, m.ModelKey, m.ConversationID, m.UpdatedAt}
}

// field returns row[i], or "" when the row is too short.
func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// DecodeUserRow decodes a user.csv row. An empty user id falls back to
// fallbackID (the directory name), an empty or unknown model key falls
// back to defaultModel, and a missing created_at is stamped now.
func DecodeUserRow(row []string, fallbackID, defaultModel string, known func(string) bool, now time.Time) User {
	u := User{
		UserID:    field(row, 0),
		Password:  field(row, 1),
		ModelKey:  field(row, 2),
		CreatedAt: field(row, 3),
	}
	if u.UserID == "" {
		u.UserID = fallbackID
	}
	if u.ModelKey == "" || (known != nil && !known(u.ModelKey)) {
		u.ModelKey = defaultModel
	}
	if u.CreatedAt == "" {
		u.CreatedAt = now.Format(TimeLayout)
	}
	return u
}

// DecodeHistoryRow decodes a history.csv row, defaulting a missing model
// key to defaultModel.
func DecodeHistoryRow(row []string, defaultModel string) HistoryEntry {
	e := HistoryEntry{
		Timestamp:      field(row, 0),
		Role:           field(row, 1),
		ModelKey:       field(row, 2),
		ThreadID:       field(row, 3),
		ConversationID: field(row, 4),
		Content:        field(row, 5),
	}
	if e.ModelKey == "" {
		e.ModelKey = defaultModel
	}
	return e
}

// DecodeThreadRow decodes a threads.csv row.
func DecodeThreadRow(row []string) Thread {
	return Thread{
		ThreadID:  field(row, 0),
		Name:      field(row, 1),
		Preview:   field(row, 2),
		CreatedAt: field(row, 3),
		UpdatedAt: field(row, 4),
	}
}

// DecodeMappingRow decodes a thread_map.csv row, defaulting a missing
// model key to defaultModel.
func DecodeMappingRow(row []string, defaultModel string) ConversationMapping {
	m := ConversationMapping{
		ThreadID:       field(row, 0),
		ModelKey:       field(row, 1),
		ConversationID: field(row, 2),
		UpdatedAt:      field(row, 3),
	}
	if m.ModelKey == "" {
		m.ModelKey = defaultModel
	}
	return m
}

// Preview truncates s to the first PreviewRunes runes.
func Preview(s string) string {
	r := []rune(s)
	if len(r) > PreviewRunes {
		r = r[:PreviewRunes]
	}
	return string(r)
}
