package store

import (
	"crypto/subtle"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"dify-portal/golang/models"
)

// UserExists reports whether a profile record exists for the id.
func (s *Store) UserExists(userID string) bool {
	_, err := os.Stat(s.userPath(userID))
	return err == nil
}

// LoadUser reads the profile record, substituting defaults for missing or
// malformed fields. Returns ErrNotFound when the user was never registered.
func (s *Store) LoadUser(userID string) (models.User, error) {
	if !s.UserExists(userID) {
		return models.User{}, ErrNotFound
	}
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ensureLocked(userID); err != nil {
		return models.User{}, err
	}
	rows, err := readRows(s.userPath(userID))
	if err != nil {
		return models.User{}, err
	}
	if len(rows) == 0 {
		return models.User{}, ErrNotFound
	}
	return models.DecodeUserRow(rows[0], userID, s.defaultModel, s.knownModel, s.now()), nil
}

// SaveUser rewrites the single-row profile table.
func (s *Store) SaveUser(u models.User) error {
	mu := s.lock(u.UserID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ensureLocked(u.UserID); err != nil {
		return err
	}
	if u.ModelKey == "" {
		u.ModelKey = s.defaultModel
	}
	return writeTable(s.userPath(u.UserID), models.UserFields, [][]string{u.Row()})
}

// CreateUser registers a new user with a bcrypt password hash and the
// default model selection. Returns ErrExists for a duplicate id.
func (s *Store) CreateUser(userID, password string) error {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(s.userPath(userID)); err == nil {
		return ErrExists
	}
	if err := s.ensureLocked(userID); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u := models.User{
		UserID:    userID,
		Password:  string(hash),
		ModelKey:  s.defaultModel,
		CreatedAt: s.now().Format(models.TimeLayout),
	}
	return writeTable(s.userPath(userID), models.UserFields, [][]string{u.Row()})
}

// VerifyUser checks the password against the stored credential. Legacy rows
// holding a plaintext password are still accepted and upgraded to a bcrypt
// hash on the first successful login.
func (s *Store) VerifyUser(userID, password string) bool {
	u, err := s.LoadUser(userID)
	if err != nil {
		return false
	}
	stored := u.Password
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return false
	}
	if hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost); err == nil {
		u.Password = string(hash)
		if err := s.SaveUser(u); err != nil {
			s.logger.Warn("password hash upgrade failed", "user", userID, "error", err)
		}
	}
	return true
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
