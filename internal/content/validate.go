package content

import (
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLen   = 200
	maxBodyLen    = 20000
	maxCommentLen = 2000
	maxTags       = 10
)

// Validate checks a post payload before it is stored.
func (p Post) Validate() error {
	f := FieldErrors{}
	requireText(f, "title", p.Title, maxTitleLen)
	requireText(f, "body", p.Body, maxBodyLen)
	if len(p.Tags) > maxTags {
		f["tags"] = "too many tags"
	}
	return f.err()
}

func (b Blog) Validate() error {
	f := FieldErrors{}
	requireText(f, "title", b.Title, maxTitleLen)
	requireText(f, "body", b.Body, maxBodyLen)
	return f.err()
}

func (c Comment) Validate() error {
	f := FieldErrors{}
	if strings.TrimSpace(c.PostID) == "" {
		f["postId"] = "is required"
	}
	requireText(f, "body", c.Body, maxCommentLen)
	return f.err()
}

func (e Event) Validate() error {
	f := FieldErrors{}
	requireText(f, "title", e.Title, maxTitleLen)
	if e.StartsAt.IsZero() {
		f["startsAt"] = "is required"
	}
	if !e.EndsAt.IsZero() && e.EndsAt.Before(e.StartsAt) {
		f["endsAt"] = "must not be before startsAt"
	}
	if !e.Online && strings.TrimSpace(e.Location) == "" {
		f["location"] = "is required for in-person events"
	}
	return f.err()
}

func (e Expert) Validate() error {
	f := FieldErrors{}
	requireText(f, "name", e.Name, maxTitleLen)
	if e.Rating < 0 || e.Rating > 5 {
		f["rating"] = "must be between 0 and 5"
	}
	return f.err()
}

func requireText(f FieldErrors, field, v string, max int) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		f[field] = "is required"
	case utf8.RuneCountInString(v) > max:
		f[field] = "is too long"
	}
}
