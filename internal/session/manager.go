package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"contenthub.org/internal/apiclient"
	"contenthub.org/internal/audit"
	"contenthub.org/internal/credentials"
	"contenthub.org/internal/events"
	"contenthub.org/internal/obs"
)

// State of the renewal machine.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNoRefreshToken means renewal was attempted without a stored refresh
	// token.
	ErrNoRefreshToken = errors.New("session: no refresh token stored")
	// ErrSessionCleared means the session was destroyed while the request
	// was in flight.
	ErrSessionCleared = errors.New("session: credentials were cleared")
	errBadTokenPair   = errors.New("session: server returned an incomplete token pair")
)

// Navigator sends the user back to the login entry point after a forced
// logout.
type Navigator interface {
	RedirectToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToLogin() { f() }

// Endpoints are the auth routes of the remote API.
type Endpoints struct {
	Login         string
	Register      string
	Refresh       string
	Logout        string
	PasswordReset string
	Me            string
}

// DefaultEndpoints match the development API.
var DefaultEndpoints = Endpoints{
	Login:         "/auth/login",
	Register:      "/auth/register",
	Refresh:       "/auth/refresh",
	Logout:        "/auth/logout",
	PasswordReset: "/auth/password-reset",
	Me:            "/auth/me",
}

// Option configures Manager.
type Option func(*Manager)

// WithCoalescing toggles merging of concurrent renewals. It is on by default;
// turning it off lets every 401 run its own renewal.
func WithCoalescing(on bool) Option {
	return func(m *Manager) { m.coalesce = on }
}

// WithNavigator installs the forced-logout redirect.
func WithNavigator(n Navigator) Option {
	return func(m *Manager) { m.nav = n }
}

// WithPublisher sets where login events go. Logout and expiry are published
// by the credential store itself.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

// WithEndpoints overrides the auth routes.
func WithEndpoints(e Endpoints) Option {
	return func(m *Manager) { m.endpoints = e }
}

// Manager owns the token lifecycle: login, transparent renewal and logout.
// It is the Renewer behind the authenticated client.
type Manager struct {
	creds     *credentials.Store
	anon      *apiclient.Client
	authed    *apiclient.Client
	pub       events.Publisher
	nav       Navigator
	endpoints Endpoints
	coalesce  bool

	group singleflight.Group
	state atomic.Int32
}

// New builds the manager plus the anonymous and authenticated clients that
// share cfg.
func New(cfg apiclient.Config, creds *credentials.Store, opts ...Option) (*Manager, error) {
	if creds == nil {
		return nil, errors.New("session: credential store is required")
	}
	m := &Manager{
		creds:     creds,
		endpoints: DefaultEndpoints,
		coalesce:  true,
	}
	for _, opt := range opts {
		opt(m)
	}

	anon, err := apiclient.New(cfg, apiclient.ModeAnonymous)
	if err != nil {
		return nil, err
	}
	authed, err := apiclient.New(cfg, apiclient.ModeAuthenticated,
		apiclient.WithTokens(creds),
		apiclient.WithRenewer(m),
	)
	if err != nil {
		return nil, err
	}
	m.anon = anon
	m.authed = authed
	return m, nil
}

// Client returns the authenticated client.
func (m *Manager) Client() *apiclient.Client { return m.authed }

// Anonymous returns the client used for auth flows.
func (m *Manager) Anonymous() *apiclient.Client { return m.anon }

// State reports the renewal machine state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Session returns the current credentials snapshot.
func (m *Manager) Session() credentials.Session { return m.creds.Read() }

type tokenResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         *credentials.User `json:"user,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Renew implements apiclient.Renewer. stale is the bearer the failed request
// carried, or "" when it went out without one.
func (m *Manager) Renew(ctx context.Context, stale string) (string, error) {
	if !m.coalesce {
		return m.renew(ctx)
	}

	cur := m.creds.Read()
	switch {
	case cur.AccessToken == "" && stale == "":
		// Rejected without credentials: nothing to renew with.
		return "", m.fail(ctx, ErrNoRefreshToken)
	case cur.AccessToken == "":
		return "", ErrSessionCleared
	case cur.AccessToken != stale:
		// Someone already rotated the pair after this request went out.
		obs.RecordRenewal("coalesced")
		return cur.AccessToken, nil
	}

	v, err, _ := m.group.Do(cur.RefreshToken, func() (any, error) {
		if again := m.creds.Read(); again.AccessToken != stale {
			if again.AccessToken == "" {
				return "", ErrSessionCleared
			}
			return again.AccessToken, nil
		}
		return m.renew(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	token, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("session: unexpected renewal result %T", v)
	}
	return token, nil
}

func (m *Manager) renew(ctx context.Context) (string, error) {
	m.state.Store(int32(StateRefreshing))

	cur := m.creds.Read()
	if cur.RefreshToken == "" {
		return "", m.fail(ctx, ErrNoRefreshToken)
	}
	var resp tokenResponse
	if err := m.anon.Post(ctx, m.endpoints.Refresh, refreshRequest{RefreshToken: cur.RefreshToken}, &resp); err != nil {
		return "", m.fail(ctx, err)
	}
	user := cur.User
	if resp.User != nil {
		user = resp.User
	}
	if err := m.store(resp, user); err != nil {
		return "", m.fail(ctx, err)
	}

	m.state.Store(int32(StateIdle))
	obs.RecordRenewal("ok")
	obs.Logger().Info("access token renewed", zap.String("user_id", cur.UserID()))
	_ = audit.LogEvent(audit.WithUserID(ctx, cur.UserID()), "session.renewed", nil)
	return resp.AccessToken, nil
}

// fail runs the terminal path: clear credentials (which broadcasts), mark
// Failed and redirect. It returns cause unchanged.
func (m *Manager) fail(ctx context.Context, cause error) error {
	userID := m.creds.Read().UserID()
	m.state.Store(int32(StateFailed))
	obs.RecordRenewal("failed")
	obs.Logger().Warn("token renewal failed, forcing logout",
		zap.String("user_id", userID),
		zap.Error(cause),
	)
	if err := m.creds.ClearWithReason(events.ReasonExpired); err != nil {
		obs.Logger().Warn("clear credentials after failed renewal", zap.Error(err))
	}
	_ = audit.LogEvent(audit.WithUserID(ctx, userID), "session.expired", map[string]any{
		"cause": apiclient.FormatError(cause),
	})
	if m.nav != nil {
		m.nav.RedirectToLogin()
	}
	return cause
}

// store writes a token pair. Persistence failures are logged: the in-memory
// session is already usable.
func (m *Manager) store(resp tokenResponse, user *credentials.User) error {
	err := m.creds.Write(resp.AccessToken, resp.RefreshToken, user)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credentials.ErrIncompletePair):
		return errBadTokenPair
	default:
		obs.Logger().Warn("persist session", zap.Error(err))
		return nil
	}
}

func (m *Manager) publish(reason events.Reason) {
	if m.pub != nil {
		m.pub.Publish(events.Event{Reason: reason})
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
