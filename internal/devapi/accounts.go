package devapi

import (
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"contenthub.org/internal/content"
	"contenthub.org/internal/credentials"
	"contenthub.org/internal/ids"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

const minPasswordLen = 8

type account struct {
	ID           string
	Email        string
	PasswordHash string
	Username     string
	DisplayName  string
	Role         string
	AvatarURL    string
	Bio          string
	CreatedAt    time.Time
}

func (a *account) user() *credentials.User {
	return &credentials.User{
		ID:          a.ID,
		Email:       a.Email,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		AvatarURL:   a.AvatarURL,
		Bio:         a.Bio,
	}
}

// accounts is an in-process user directory.
type accounts struct {
	mu      sync.RWMutex
	byID    map[string]*account
	byEmail map[string]string
	resets  []string
}

func newAccounts() *accounts {
	return &accounts{
		byID:    make(map[string]*account),
		byEmail: make(map[string]string),
	}
}

type registerInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func (in *registerInput) validate() error {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	f := content.FieldErrors{}
	if err := validEmail(in.Email); err != "" {
		f["email"] = err
	}
	if len(in.Password) < minPasswordLen {
		f["password"] = "must be at least 8 characters"
	}
	if len(f) > 0 {
		return &content.ValidationError{Fields: f}
	}
	return nil
}

func (s *accounts) create(in registerInput, role string) (*account, error) {
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[in.Email]; ok {
		return nil, ErrEmailTaken
	}
	display := in.DisplayName
	if display == "" {
		display = in.Username
	}
	a := &account{
		ID:           ids.New(),
		Email:        in.Email,
		PasswordHash: hash,
		Username:     in.Username,
		DisplayName:  display,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	s.byID[a.ID] = a
	s.byEmail[a.Email] = a.ID
	return a, nil
}

func (s *accounts) authenticate(email, password string) (*account, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalizeEmail(email)]
	var a *account
	if ok {
		a = s.byID[id]
	}
	s.mu.RUnlock()
	if a == nil {
		return nil, ErrBadCredentials
	}
	if err := verifyPassword(a.PasswordHash, password); err != nil {
		return nil, ErrBadCredentials
	}
	return a, nil
}

func (s *accounts) find(id string) (*account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

type profilePatch struct {
	DisplayName *string `json:"displayName"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatarUrl"`
}

func (s *accounts) update(id string, p profilePatch) (*account, error) {
	f := content.FieldErrors{}
	if p.DisplayName != nil && strings.TrimSpace(*p.DisplayName) == "" {
		f["displayName"] = "must not be blank"
	}
	if p.Bio != nil && len(*p.Bio) > 500 {
		f["bio"] = "is too long"
	}
	if len(f) > 0 {
		return nil, &content.ValidationError{Fields: f}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.DisplayName != nil {
		a.DisplayName = strings.TrimSpace(*p.DisplayName)
	}
	if p.Bio != nil {
		a.Bio = *p.Bio
	}
	if p.AvatarURL != nil {
		a.AvatarURL = strings.TrimSpace(*p.AvatarURL)
	}
	c := *a
	return &c, nil
}

// requestReset records the address; the dev server sends no mail.
func (s *accounts) requestReset(email string) {
	s.mu.Lock()
	s.resets = append(s.resets, email)
	s.mu.Unlock()
}

func (s *accounts) resetRequests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.resets...)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) string {
	if email == "" {
		return "is required"
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return "is not a valid email address"
	}
	return ""
}
