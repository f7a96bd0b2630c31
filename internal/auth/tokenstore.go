// Package auth owns the OAuth credential lifecycle: durable token storage,
// the PKCE authorization-code flow and single-flight token refresh.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"jammy/internal/core"
)

// validityMargin is the safety margin before expiry: a token within one
// minute of expiring is already treated as invalid.
const validityMargin = 60 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// TokenStore persists the single OAuth credential and derived local
// preference state in SQLite. The auth flow is the only writer.
type TokenStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	mu         sync.RWMutex
	cached     *core.Credential
	authorized bool
}

// NewTokenStore opens (and if needed initializes) the credential store at
// path. Pass ":memory:" for an ephemeral store.
func NewTokenStore(path string, logger *zap.Logger) (*TokenStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize token store schema: %w", err)
	}

	s := &TokenStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if cred, err := s.readCredential(); err == nil && cred != nil {
		s.cached = cred
		s.authorized = true
	}

	return s, nil
}

func (s *TokenStore) Close() error {
	return s.db.Close()
}

// Save stores the credential, deriving the absolute expiry from expiresIn
// at the moment of receipt, and marks the store authorized.
func (s *TokenStore) Save(accessToken, refreshToken string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred := &core.Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    s.now().Add(expiresIn),
	}

	_, err := s.db.Exec(
		`INSERT INTO credentials (id, access_token, refresh_token, expires_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET access_token = ?, refresh_token = ?, expires_at = ?`,
		cred.AccessToken, cred.RefreshToken, cred.ExpiresAt.Unix(),
		cred.AccessToken, cred.RefreshToken, cred.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	s.cached = cred
	s.authorized = true

	s.logger.Debug("Credential saved",
		zap.Time("expiresAt", cred.ExpiresAt))

	return nil
}

// Load returns the persisted credential, or nil when none exists.
func (s *TokenStore) Load() (*core.Credential, error) {
	s.mu.RLock()
	if s.cached != nil {
		cred := *s.cached
		s.mu.RUnlock()
		return &cred, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.readCredential()
	if err != nil {
		return nil, err
	}
	s.cached = cred
	if cred == nil {
		return nil, nil
	}
	out := *cred
	return &out, nil
}

// IsValid reports whether a credential exists and is outside the one-minute
// expiry margin. At exactly the margin boundary the credential is invalid.
func (s *TokenStore) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cached == nil {
		return false
	}
	return s.now().Add(validityMargin).Before(s.cached.ExpiresAt)
}

// Authorized reports whether a credential has been saved and not cleared.
func (s *TokenStore) Authorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// Clear erases the credential and all derived preference state. Used on
// logout and on irrecoverable auth failure.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM credentials`); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM preferences`); err != nil {
		return fmt.Errorf("failed to clear preferences: %w", err)
	}

	s.cached = nil
	s.authorized = false

	s.logger.Info("Credential store cleared")
	return nil
}

// SetPreference stores a local preference value (e.g. the pending PKCE
// verifier or the preview-only flag). Wiped by Clear.
func (s *TokenStore) SetPreference(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set preference %q: %w", key, err)
	}
	return nil
}

// Preference returns the stored value for key, or "" when unset.
func (s *TokenStore) Preference(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read preference %q: %w", key, err)
	}
	return value, nil
}

func (s *TokenStore) readCredential() (*core.Credential, error) {
	var (
		access, refresh string
		expiresAt       int64
	)
	err := s.db.QueryRow(
		`SELECT access_token, refresh_token, expires_at FROM credentials WHERE id = 1`,
	).Scan(&access, &refresh, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	return &core.Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Unix(expiresAt, 0),
	}, nil
}
