package devapi

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"contenthub.org/internal/ids"
)

const issuer = "contenthub-devapi"

var (
	// ErrInvalidToken covers every access or refresh token rejection.
	ErrInvalidToken = errors.New("invalid token")
	// ErrBadCredentials is returned for an unknown email or wrong password.
	ErrBadCredentials = errors.New("invalid email or password")
)

// Claims are carried by access tokens.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is what login, register and refresh hand out.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type refreshRecord struct {
	userID    string
	hash      string
	expiresAt time.Time
	revoked   bool
}

// tokens issues HS256 access tokens and opaque rotating refresh tokens of
// the form "<id>.<secret>". Only the sha256 of the secret is kept.
type tokens struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	live    map[string]struct{} // access token jti
	refresh map[string]*refreshRecord
}

func newTokens(secret string, accessTTL, refreshTTL time.Duration) (*tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("devapi: jwt secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("devapi: token ttl must be greater than zero")
	}
	return &tokens{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		live:       make(map[string]struct{}),
		refresh:    make(map[string]*refreshRecord),
	}, nil
}

func (t *tokens) mint(u *account) (TokenPair, error) {
	now := t.now().UTC()
	jti := uuid.NewString()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
			ID:        jti,
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign token: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return TokenPair{}, err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	id := ids.New()
	refreshExp := now.Add(t.refreshTTL)

	t.mu.Lock()
	t.live[jti] = struct{}{}
	t.refresh[id] = &refreshRecord{userID: u.ID, hash: hashSecret(secret), expiresAt: refreshExp}
	t.mu.Unlock()

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     id + "." + secret,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// authenticate verifies an access token and returns its claims.
func (t *tokens) authenticate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	t.mu.Lock()
	_, live := t.live[claims.ID]
	t.mu.Unlock()
	if !live {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// rotate consumes a refresh token and returns the owning user id. The token
// is revoked whether or not the secret matched.
func (t *tokens) rotate(raw string) (string, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return "", ErrInvalidToken
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.refresh[id]
	if !ok || rec.revoked || t.now().After(rec.expiresAt) {
		return "", ErrInvalidToken
	}
	rec.revoked = true
	if !secureCompareHash(rec.hash, secret) {
		return "", ErrInvalidToken
	}
	return rec.userID, nil
}

// revoke drops a refresh token on logout. Unknown tokens are ignored.
func (t *tokens) revoke(raw string) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.refresh[id]; ok && secureCompareHash(rec.hash, secret) {
		rec.revoked = true
	}
}

// expireAccess invalidates every access token issued so far.
func (t *tokens) expireAccess() {
	t.mu.Lock()
	t.live = make(map[string]struct{})
	t.mu.Unlock()
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	if !ids.Valid(parts[0]) {
		return "", "", errors.New("invalid refresh token id")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expected, secret string) bool {
	actual := hashSecret(secret)
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}

func hashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
