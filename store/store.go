// Package store implements per-user flat-file persistence: one directory per
// user holding four CSV tables (profile, history log, thread index,
// conversation mapping) plus a last-pruned-date marker. Multi-row tables are
// rewritten through an atomic temp-file-and-rename protocol; the history log
// is append-only outside pruning and thread deletion.
//
// All load/rewrite/replace cycles for a user are serialized by a per-user
// mutex, so concurrent requests for the same user cannot lose updates to the
// thread index or the conversation mapping.
package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dify-portal/golang/models"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists indicates a create hit an already existing record.
	ErrExists = errors.New("already exists")
)

// Config carries the dependencies of a Store.
type Config struct {
	// UsersDir is the directory holding one subdirectory per user id.
	UsersDir string
	// NoticePath is the shared broadcast notice file.
	NoticePath string
	// DefaultModel substitutes missing or unknown model keys during decode.
	DefaultModel string
	// KnownModel reports whether a model key is in the catalog. Optional.
	KnownModel func(string) bool
	// Logger receives non-fatal storage warnings. Optional.
	Logger *slog.Logger
	// Now is the clock; defaults to time.Now. Tests override it.
	Now func() time.Time
}

// Store is the per-user flat-file store.
type Store struct {
	usersDir     string
	noticePath   string
	defaultModel string
	knownModel   func(string) bool
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	userMu map[string]*sync.Mutex
}

// New creates a Store. The users directory is created lazily per user.
func New(cfg Config) *Store {
	s := &Store{
		usersDir:     cfg.UsersDir,
		noticePath:   cfg.NoticePath,
		defaultModel: cfg.DefaultModel,
		knownModel:   cfg.KnownModel,
		logger:       cfg.Logger,
		now:          cfg.Now,
		userMu:       make(map[string]*sync.Mutex),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// lock returns the mutex serializing all table access for one user.
func (s *Store) lock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.userMu[userID] = mu
	}
	return mu
}

func (s *Store) userDir(userID string) string {
	return filepath.Join(s.usersDir, userID)
}

func (s *Store) userPath(userID string) string {
	return filepath.Join(s.userDir(userID), "user.csv")
}

func (s *Store) historyPath(userID string) string {
	return filepath.Join(s.userDir(userID), "history.csv")
}

func (s *Store) threadsPath(userID string) string {
	return filepath.Join(s.userDir(userID), "threads.csv")
}

func (s *Store) mappingPath(userID string) string {
	return filepath.Join(s.userDir(userID), "thread_map.csv")
}

func (s *Store) prunePath(userID string) string {
	return filepath.Join(s.userDir(userID), ".last_prune.txt")
}

// EnsureUser lazily creates the user directory and header-only tables.
// Idempotent; existing rows are never touched.
func (s *Store) EnsureUser(userID string) error {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.ensureLocked(userID)
}

func (s *Store) ensureLocked(userID string) error {
	if err := os.MkdirAll(s.userDir(userID), 0o755); err != nil {
		return fmt.Errorf("create user directory: %w", err)
	}
	if err := ensureTable(s.historyPath(userID), models.HistoryFields); err != nil {
		return err
	}
	if err := ensureTable(s.threadsPath(userID), models.ThreadFields); err != nil {
		return err
	}
	return ensureTable(s.mappingPath(userID), models.MappingFields)
}

// ensureTable creates a header-only table if none exists.
func ensureTable(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeTable(path, header, nil)
}

// readRows reads all data rows of a table, skipping the header. Individual
// malformed rows are dropped rather than failing the read.
func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open table %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// one bad row degrades, the rest of the table still loads
			continue
		}
		if first {
			first = false
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// writeTable builds the complete table in memory and replaces the file
// atomically.
func writeTable(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode table: %w", err)
	}
	return atomicWriteFile(path, buf.Bytes(), 0o644)
}
