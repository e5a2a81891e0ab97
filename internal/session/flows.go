package session

import (
	"context"

	"go.uber.org/zap"

	"contenthub.org/internal/audit"
	"contenthub.org/internal/credentials"
	"contenthub.org/internal/events"
	"contenthub.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ProfilePatch carries the editable profile fields. Nil fields are left as
// they are.
type ProfilePatch struct {
	DisplayName *string `json:"displayName,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

// Login exchanges credentials for a token pair and fires one session-changed
// event. Validation failures come back as *apiclient.ValidationError.
func (m *Manager) Login(ctx context.Context, email, password string) (*credentials.User, error) {
	var resp tokenResponse
	req := loginRequest{Email: normalizeEmail(email), Password: password}
	if err := m.anon.Post(ctx, m.endpoints.Login, req, &resp); err != nil {
		return nil, err
	}
	return m.begin(ctx, resp, "session.login")
}

// Register creates an account; the server signs the new user in.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*credentials.User, error) {
	req.Email = normalizeEmail(req.Email)
	var resp tokenResponse
	if err := m.anon.Post(ctx, m.endpoints.Register, req, &resp); err != nil {
		return nil, err
	}
	return m.begin(ctx, resp, "session.register")
}

func (m *Manager) begin(ctx context.Context, resp tokenResponse, event string) (*credentials.User, error) {
	if err := m.store(resp, resp.User); err != nil {
		return nil, err
	}
	m.state.Store(int32(StateIdle))
	m.publish(events.ReasonLogin)

	user := m.creds.Read().User
	var userID string
	if user != nil {
		userID = user.ID
	}
	_ = audit.LogEvent(audit.WithUserID(ctx, userID), event, nil)
	return user, nil
}

// RequestPasswordReset asks the server to mail a reset link.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	body := map[string]string{"email": normalizeEmail(email)}
	return m.anon.Post(ctx, m.endpoints.PasswordReset, body, nil)
}

// Logout revokes the refresh token on a best-effort basis and always clears
// local credentials.
func (m *Manager) Logout(ctx context.Context) error {
	cur := m.creds.Read()
	if cur.RefreshToken != "" {
		if err := m.anon.Post(ctx, m.endpoints.Logout, refreshRequest{RefreshToken: cur.RefreshToken}, nil); err != nil {
			obs.Logger().Info("server logout failed", zap.Error(err))
		}
	}
	err := m.creds.Clear()
	m.state.Store(int32(StateIdle))
	_ = audit.LogEvent(audit.WithUserID(ctx, cur.UserID()), "session.logout", nil)
	return err
}

// RefreshProfile reloads the current user from the server.
func (m *Manager) RefreshProfile(ctx context.Context) (*credentials.User, error) {
	var user credentials.User
	if err := m.authed.Get(ctx, m.endpoints.Me, &user); err != nil {
		return nil, err
	}
	if err := m.creds.UpdateUser(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile saves profile edits and keeps the stored user in sync with
// the server's answer.
func (m *Manager) UpdateProfile(ctx context.Context, patch ProfilePatch) (*credentials.User, error) {
	var user credentials.User
	if err := m.authed.Patch(ctx, m.endpoints.Me, patch, &user); err != nil {
		return nil, err
	}
	if err := m.creds.UpdateUser(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetElevated persists the elevated-privilege flag.
func (m *Manager) SetElevated(elevated bool) error {
	return m.creds.SetElevated(elevated)
}
