package content

import (
	"errors"
	"time"
)

// Entity is anything a resource store can hold.
type Entity interface {
	EntityID() string
}

// Post is a short user post.
type Post struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"authorId"`
	Author        string    `json:"author,omitempty"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Tags          []string  `json:"tags,omitempty"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	CommentsCount int       `json:"commentsCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Reaction
}

func (p Post) EntityID() string { return p.ID }

// Blog is a long-form article.
type Blog struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Author    string    `json:"author,omitempty"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Body      string    `json:"body"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Reaction
}

func (b Blog) EntityID() string { return b.ID }

// Comment belongs to a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	AuthorID  string    `json:"authorId"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Reaction
}

func (c Comment) EntityID() string { return c.ID }

// Event is a scheduled meetup. Events carry no reactions.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Online      bool      `json:"online"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (e Event) EntityID() string { return e.ID }

// Expert is a public profile of a domain specialist.
type Expert struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Headline  string    `json:"headline,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Skills    []string  `json:"skills,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Rating    float64   `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
}

func (e Expert) EntityID() string { return e.ID }

// Page is the list envelope returned by collection endpoints.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// FieldErrors maps a payload field to a human message.
type FieldErrors map[string]string

// ErrInvalid is wrapped by ValidationError.
var ErrInvalid = errors.New("invalid payload")

// ValidationError carries field-level failures.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string { return "validation failed" }
func (e *ValidationError) Unwrap() error { return ErrInvalid }

func (f FieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}
