// Package auth keeps the backend access and refresh tokens between runs.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/spool"
)

// Tokens is the persisted credential pair.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Status describes the stored access token without revealing it.
type Status struct {
	LoggedIn  bool       `json:"logged_in"`
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
}

// Store persists Tokens to a JSON file. The zero value is not usable; use
// NewStore.
type Store struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Login replaces the stored tokens.
func (s *Store) Login(access, refresh string) error {
	if access == "" {
		return scerrors.NewInvalidRequest("access token is required")
	}
	t := &Tokens{AccessToken: access, RefreshToken: refresh}
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := spool.SaveFileAtomic(s.path, b, 0o600); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}
	logging.Infow("auth: logged in", "token_file", s.path)
	return nil
}

// Logout forgets the tokens and removes the file.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing tokens: %w", err)
	}
	logging.Infow("auth: logged out", "token_file", s.path)
	return nil
}

// Token returns the stored tokens, or nil when logged out. The file is read
// on every call so a daemon picks up logins made from the CLI.
func (s *Store) Token() (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tokens: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", s.path, err)
	}
	if t.AccessToken == "" {
		return nil, nil
	}
	return &t, nil
}

// Require returns the access token for an authenticated request, or
// Unauthorized when there is none or its exp claim has passed. The token is
// parsed without verification; the backend stays the authority.
func (s *Store) Require() (string, error) {
	t, err := s.Token()
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", scerrors.NewUnauthorized("not logged in")
	}
	st := s.inspect(t.AccessToken)
	if st.Expired {
		return "", scerrors.NewUnauthorized("access token expired")
	}
	return t.AccessToken, nil
}

// Status reports the current login state.
func (s *Store) Status() (Status, error) {
	t, err := s.Token()
	if err != nil || t == nil {
		return Status{}, err
	}
	return s.inspect(t.AccessToken), nil
}

// inspect reads sub and exp from a JWT. Opaque tokens count as valid with
// no known expiry.
func (s *Store) inspect(token string) Status {
	st := Status{LoggedIn: true}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		logging.Debugw("auth: access token is not a JWT", "err", err)
		return st
	}
	if sub, err := claims.GetSubject(); err == nil {
		st.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		at := exp.Time
		st.ExpiresAt = &at
		st.Expired = !s.now().Before(at)
	}
	return st
}
