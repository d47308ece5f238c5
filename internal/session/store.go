package session

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/zap"
)

// Session is the authenticated state of the console. Empty fields are absent.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserProfile  map[string]any
}

// Store is the single authoritative session of the process.
//
// Reads are served from an in-memory snapshot; writes go to the Backend first
// and become visible only once persisted. Every write and every clear advances
// the generation, which lets a late authentication failure tell whether the
// session it was issued under is still current.
type Store struct {
	mu         sync.RWMutex
	backend    Backend
	logger     *zap.Logger
	current    Session
	generation uint64
}

// NewStore creates a Store over backend. Call Load to hydrate persisted state.
func NewStore(backend Backend, logger *zap.Logger) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Load replaces the snapshot with whatever the backend holds.
// A corrupt user_info entry is dropped rather than failing the load.
func (s *Store) Load(ctx context.Context) error {
	entries, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	loaded := Session{
		AccessToken:  entries[KeyToken],
		RefreshToken: entries[KeyRefreshToken],
	}
	if raw := entries[KeyUserInfo]; raw != "" {
		var profile map[string]any
		if err := json.Unmarshal([]byte(raw), &profile); err != nil {
			s.logger.Warn("session.user_info_corrupt", zap.Error(err))
		} else {
			loaded.UserProfile = profile
		}
	}

	s.mu.Lock()
	s.current = loaded
	s.generation++
	s.mu.Unlock()

	s.logger.Info("session.loaded", zap.Bool("authenticated", loaded.AccessToken != ""))
	return nil
}

// SetSession overwrites the fields present in update and leaves the others untouched.
func (s *Store) SetSession(ctx context.Context, update Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Session{
		AccessToken:  s.current.AccessToken,
		RefreshToken: s.current.RefreshToken,
		UserProfile:  s.current.UserProfile,
	}
	if update.AccessToken != "" {
		next.AccessToken = update.AccessToken
	}
	if update.RefreshToken != "" {
		next.RefreshToken = update.RefreshToken
	}
	if update.UserProfile != nil {
		next.UserProfile = maps.Clone(update.UserProfile)
	}

	entries, err := next.entries()
	if err != nil {
		return err
	}
	if err := s.backend.Save(ctx, entries); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.current = next
	s.generation++
	return nil
}

// Replace swaps in sess as the whole session. Fields empty in sess end up absent.
func (s *Store) Replace(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Session{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		UserProfile:  maps.Clone(sess.UserProfile),
	}
	entries, err := next.entries()
	if err != nil {
		return err
	}
	if err := s.backend.Save(ctx, entries); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.current = next
	s.generation++
	return nil
}

// Clear removes all fields at once. The snapshot is cleared even when the
// backend fails, so a dead token is never sent again by this process.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

// Invalidate clears the session only if it is still at generation.
// It reports whether there was a session to clear.
func (s *Store) Invalidate(ctx context.Context, generation uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation || s.current.empty() {
		return false, nil
	}
	return true, s.clearLocked(ctx)
}

func (s *Store) clearLocked(ctx context.Context) error {
	s.current = Session{}
	s.generation++
	if err := s.backend.Clear(ctx); err != nil {
		s.logger.Error("session.clear_failed", zap.Error(err))
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Info("session.cleared", zap.Uint64("generation", s.generation))
	return nil
}

// Credential returns the access token and the generation it belongs to.
func (s *Store) Credential() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AccessToken, s.generation
}

// Generation returns the current session generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// AccessToken returns the stored access token.
func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AccessToken, s.current.AccessToken != ""
}

// RefreshToken returns the stored refresh token.
func (s *Store) RefreshToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.RefreshToken, s.current.RefreshToken != ""
}

// UserProfile returns a shallow copy of the cached profile.
func (s *Store) UserProfile() (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.UserProfile == nil {
		return nil, false
	}
	return maps.Clone(s.current.UserProfile), true
}

// IsAuthenticated is true iff an access token is present.
func (s *Store) IsAuthenticated() bool {
	_, ok := s.AccessToken()
	return ok
}

// Snapshot returns a copy of the whole session with its generation.
func (s *Store) Snapshot() (Session, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{
		AccessToken:  s.current.AccessToken,
		RefreshToken: s.current.RefreshToken,
		UserProfile:  maps.Clone(s.current.UserProfile),
	}, s.generation
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

func (sess Session) empty() bool {
	return sess.AccessToken == "" && sess.RefreshToken == "" && len(sess.UserProfile) == 0
}

func (sess Session) entries() (map[string]string, error) {
	entries := make(map[string]string, len(allKeys))
	if sess.AccessToken != "" {
		entries[KeyToken] = sess.AccessToken
	}
	if sess.RefreshToken != "" {
		entries[KeyRefreshToken] = sess.RefreshToken
	}
	if sess.UserProfile != nil {
		b, err := json.Marshal(sess.UserProfile)
		if err != nil {
			return nil, fmt.Errorf("encode user profile: %w", err)
		}
		entries[KeyUserInfo] = string(b)
	}
	return entries, nil
}
