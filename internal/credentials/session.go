package credentials

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Persisted keys. Absence of the two token keys is the canonical logged-out
// state.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	KeyElevated     = "elevated"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyElevated}

// User is the denormalized snapshot of the authenticated identity.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Session is the client's view of its credentials. Token presence means
// "possibly authenticated"; nothing here is verified.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *User
	Elevated     bool
}

// Authenticated reports whether a token pair is present.
func (s Session) Authenticated() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// UserID returns the id of the stored user, if any.
func (s Session) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// AccessExpiresAt decodes the exp claim of a JWT access token without
// verifying it. Only meant for display.
func (s Session) AccessExpiresAt() (time.Time, bool) {
	if s.AccessToken == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (s Session) clone() Session {
	s.User = s.User.clone()
	return s
}

func encodeSession(s Session) (map[string]string, error) {
	values := map[string]string{
		KeyAccessToken:  s.AccessToken,
		KeyRefreshToken: s.RefreshToken,
		KeyElevated:     strconv.FormatBool(s.Elevated),
	}
	if s.User != nil {
		raw, err := json.Marshal(s.User)
		if err != nil {
			return nil, fmt.Errorf("encode user: %w", err)
		}
		values[KeyUser] = string(raw)
	}
	return values, nil
}

// decodeSession never yields half a token pair: a record holding only one
// token decodes as logged out.
func decodeSession(values map[string]string) Session {
	s := Session{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}
	if !s.Authenticated() {
		s.AccessToken, s.RefreshToken = "", ""
	}
	if raw := values[KeyUser]; raw != "" {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			s.User = &u
		}
	}
	if b, err := strconv.ParseBool(values[KeyElevated]); err == nil {
		s.Elevated = b
	}
	return s
}
