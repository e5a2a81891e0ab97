package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"contenthub.org/internal/events"
	"contenthub.org/internal/obs"
)

const defaultIOTimeout = 5 * time.Second

var (
	// ErrIncompletePair is returned when a write would leave one token without
	// its partner.
	ErrIncompletePair = errors.New("credentials: access and refresh tokens must be written together")
	// ErrNotAuthenticated is returned by mutations that need an existing session.
	ErrNotAuthenticated = errors.New("credentials: no active session")
)

// Backend is durable key/value storage for the session. Save must apply all
// sets and deletes atomically.
type Backend interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, set map[string]string, del []string) error
	Close() error
}

// Watcher is implemented by backends that can notice changes made by other
// processes.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Option configures Store.
type Option func(*Store)

// WithIOTimeout bounds each backend call.
func WithIOTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Store is the single shared credential holder. All methods are synchronous;
// readers see either the previous or the next complete session, never a mix.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	pub     events.Publisher
	session Session
	// writes counts local mutations so Reload can tell when its backend read
	// has been overtaken.
	writes  uint64
	timeout time.Duration
}

// Open loads the persisted session from backend. pub may be nil.
func Open(ctx context.Context, backend Backend, pub events.Publisher, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("credentials: backend is required")
	}
	s := &Store{backend: backend, pub: pub, timeout: defaultIOTimeout}
	for _, opt := range opts {
		opt(s)
	}
	values, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.session = decodeSession(values)
	return s, nil
}

// Read returns a copy of the current session.
func (s *Store) Read() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.clone()
}

// AccessToken returns the current bearer, or "" when logged out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken
}

// Write replaces the session wholesale. The in-memory session is replaced even
// if persisting fails; the persistence error is returned.
func (s *Store) Write(accessToken, refreshToken string, user *User) error {
	accessToken = strings.TrimSpace(accessToken)
	refreshToken = strings.TrimSpace(refreshToken)
	if accessToken == "" || refreshToken == "" {
		return ErrIncompletePair
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.clone(),
		Elevated:     s.session.Elevated,
	}
	return s.commitLocked(next)
}

// UpdateUser replaces the stored user snapshot, keeping the tokens.
func (s *Store) UpdateUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.session.Authenticated() {
		return ErrNotAuthenticated
	}
	next := s.session.clone()
	next.User = user.clone()
	return s.commitLocked(next)
}

// SetElevated persists the elevated-privilege flag.
func (s *Store) SetElevated(elevated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.session.clone()
	next.Elevated = elevated
	return s.commitLocked(next)
}

// Clear destroys the session and broadcasts a logout.
func (s *Store) Clear() error {
	return s.ClearWithReason(events.ReasonLogout)
}

// ClearWithReason destroys the session and broadcasts reason.
func (s *Store) ClearWithReason(reason events.Reason) error {
	s.mu.Lock()
	s.session = Session{}
	s.writes++
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	err := s.backend.Save(ctx, nil, allKeys)
	cancel()
	s.mu.Unlock()

	s.publish(reason)
	if err != nil {
		return fmt.Errorf("credentials: clear: %w", err)
	}
	return nil
}

// Reload re-reads the backend. If the token pair changed underneath us (for
// example another process logged out) a session-changed event is published.
// A read overtaken by a local Write or Clear is dropped: the local mutation
// is newer and has already been persisted.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.RLock()
	seen := s.writes
	s.mu.RUnlock()

	values, err := s.load(ctx)
	if err != nil {
		return err
	}
	next := decodeSession(values)

	s.mu.Lock()
	if s.writes != seen {
		s.mu.Unlock()
		obs.Logger().Debug("credentials reload overtaken by local write")
		return nil
	}
	changed := next.AccessToken != s.session.AccessToken || next.RefreshToken != s.session.RefreshToken
	s.session = next
	s.mu.Unlock()

	if changed {
		s.publish(events.ReasonExternal)
	}
	return nil
}

// Watch reloads the session whenever the backend reports an external change.
// It returns immediately for backends that cannot watch.
func (s *Store) Watch(ctx context.Context) error {
	w, ok := s.backend.(Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func() {
		if err := s.Reload(ctx); err != nil {
			obs.Logger().Warn("credentials reload failed", zap.Error(err))
		}
	})
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) commitLocked(next Session) error {
	values, err := encodeSession(next)
	if err != nil {
		return err
	}
	var del []string
	if next.User == nil {
		del = append(del, KeyUser)
	}
	s.session = next
	s.writes++

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.backend.Save(ctx, values, del); err != nil {
		return fmt.Errorf("credentials: persist: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) (map[string]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	values, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("credentials: load: %w", err)
	}
	return values, nil
}

func (s *Store) publish(reason events.Reason) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(events.Event{Reason: reason})
}
