package store

import (
	"os"
	"strconv"
)

// Notice returns the shared broadcast notice and its version, which is the
// file's modification time in unix seconds. The file is lazily created
// empty; read failures degrade to version "0" with empty content.
func (s *Store) Notice() (version, content string) {
	if _, err := os.Stat(s.noticePath); os.IsNotExist(err) {
		if err := os.WriteFile(s.noticePath, nil, 0o644); err != nil {
			s.logger.Warn("notice file create failed", "error", err)
		}
	}
	st, err := os.Stat(s.noticePath)
	if err != nil {
		return "0", ""
	}
	b, err := os.ReadFile(s.noticePath)
	if err != nil {
		return "0", ""
	}
	return strconv.FormatInt(st.ModTime().Unix(), 10), string(b)
}
