// Package session holds the client's authentication state: the bearer
// token pair, its persistence across restarts, and the identity derived
// from the access token.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/withgift/storefront/pkg/logger"
)

// ErrNoSession is returned when an operation needs a session and none exists.
var ErrNoSession = errors.New("no active session")

// Session is the persisted token pair.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Store owns the process-wide session. All mutation funnels through Set and
// Clear; readers never mutate. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	session  Session
	path     string
	log      *logger.Logger
	watchers []chan struct{}
}

// NewStore creates a session store persisting to the given file path.
func NewStore(path string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &Store{path: path, log: log}
}

// Load rehydrates the session from disk. A missing file is not an error;
// it just means no one is logged in.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt session file is treated as logged out rather than
		// wedging startup.
		s.log.WithError(err).Warn("session file unreadable, starting logged out")
		return nil
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	s.notify()
	return nil
}

// Set stores a new token pair and persists it. Called on login and on
// successful refresh.
func (s *Store) Set(accessToken, refreshToken string) error {
	s.mu.Lock()
	s.session = Session{AccessToken: accessToken, RefreshToken: refreshToken}
	sess := s.session
	s.mu.Unlock()

	if err := s.persist(sess); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Clear drops the session and removes the persisted state. Called on
// logout and on unrecoverable refresh failure.
func (s *Store) Clear() {
	s.mu.Lock()
	s.session = Session{}
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).Warn("failed to remove persisted session")
	}
	s.notify()
}

// Token returns the current access token and whether one is present.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken, s.session.AccessToken != ""
}

// RefreshToken returns the current refresh token and whether one is present.
func (s *Store) RefreshToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.RefreshToken, s.session.RefreshToken != ""
}

// UserID returns the subject claim of the access token. The signature is
// not verified here; the server owns validation and the claim is only used
// for self-identification in chat.
func (s *Store) UserID() (string, error) {
	token, ok := s.Token()
	if !ok {
		return "", ErrNoSession
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("access token has no subject claim")
	}
	return sub, nil
}

// Watch returns a channel that receives a signal on every session
// transition (login, refresh, logout). The channel is buffered; slow
// observers coalesce signals rather than block mutations.
func (s *Store) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) persist(sess Session) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
