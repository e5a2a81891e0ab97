package devapi

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"contenthub.org/internal/content"
	"contenthub.org/internal/ids"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

var ErrForbidden = errors.New("forbidden")

type validator interface {
	Validate() error
}

// hooks adapt the generic collection to one entity type.
type hooks[T content.Entity] struct {
	// create stamps server-owned fields on a new entity.
	create func(v *T, id, authorID, author string, now time.Time)
	// update copies server-owned fields from cur onto next.
	update func(cur T, next *T, now time.Time)
	// owner returns the author id, or "" when anyone may edit.
	owner func(v T) string
	// match filters listings by free text and extra parameters.
	match func(v T, q string, params url.Values) bool
}

// collection keeps entities newest first. Reactions are stored per viewer and
// folded into the entity when it is served.
type collection[T content.Entity] struct {
	name string
	h    hooks[T]

	mu        sync.RWMutex
	items     map[string]T
	order     []string
	reactions map[string]map[string]content.Kind
}

func newCollection[T content.Entity](name string, h hooks[T], reactive bool) *collection[T] {
	c := &collection[T]{
		name:  name,
		h:     h,
		items: make(map[string]T),
	}
	if reactive {
		c.reactions = make(map[string]map[string]content.Kind)
	}
	return c
}

func (c *collection[T]) reactive() bool { return c.reactions != nil }

type listQuery struct {
	Page    int
	PerPage int
	Query   string
	Params  url.Values
}

func (c *collection[T]) list(q listQuery, viewer string) content.Page[T] {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	text := strings.ToLower(strings.TrimSpace(q.Query))

	c.mu.RLock()
	defer c.mu.RUnlock()
	matched := make([]T, 0, len(c.order))
	for _, id := range c.order {
		v := c.items[id]
		if c.h.match != nil && !c.h.match(v, text, q.Params) {
			continue
		}
		matched = append(matched, v)
	}

	total := len(matched)
	start := (q.Page - 1) * q.PerPage
	if start > total {
		start = total
	}
	end := start + q.PerPage
	if end > total {
		end = total
	}
	out := make([]T, 0, end-start)
	for _, v := range matched[start:end] {
		out = append(out, c.viewLocked(v, viewer))
	}
	pages := 0
	if total > 0 {
		pages = (total + q.PerPage - 1) / q.PerPage
	}
	return content.Page[T]{Items: out, Page: q.Page, PerPage: q.PerPage, Total: total, TotalPages: pages}
}

func (c *collection[T]) get(id, viewer string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return c.viewLocked(v, viewer), nil
}

func (c *collection[T]) create(v T, author *account) (T, error) {
	if err := validate(v); err != nil {
		var zero T
		return zero, err
	}
	id := ids.New()
	name := author.DisplayName
	if name == "" {
		name = author.Username
	}
	c.h.create(&v, id, author.ID, name, time.Now().UTC())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = v
	c.order = append([]string{id}, c.order...)
	return c.viewLocked(v, author.ID), nil
}

func (c *collection[T]) update(id string, next T, editor string) (T, error) {
	var zero T
	if err := validate(next); err != nil {
		return zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.items[id]
	if !ok {
		return zero, ErrNotFound
	}
	if owner := c.ownerOf(cur); owner != "" && owner != editor {
		return zero, ErrForbidden
	}
	c.h.update(cur, &next, time.Now().UTC())
	c.items[id] = next
	return c.viewLocked(next, editor), nil
}

func (c *collection[T]) delete(id, editor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.items[id]
	if !ok {
		return ErrNotFound
	}
	if owner := c.ownerOf(cur); owner != "" && owner != editor {
		return ErrForbidden
	}
	delete(c.items, id)
	if c.reactions != nil {
		delete(c.reactions, id)
	}
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// toggle applies a like or dislike from viewer. The same kind twice removes
// the reaction; the opposite kind replaces it.
func (c *collection[T]) toggle(id, viewer string, kind content.Kind) (content.Reaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return content.Reaction{}, ErrNotFound
	}
	byUser := c.reactions[id]
	if byUser == nil {
		byUser = make(map[string]content.Kind)
		c.reactions[id] = byUser
	}
	if cur, ok := byUser[viewer]; ok && cur == kind {
		delete(byUser, viewer)
	} else {
		byUser[viewer] = kind
	}
	return c.reactionLocked(id, viewer), nil
}

func (c *collection[T]) ownerOf(v T) string {
	if c.h.owner == nil {
		return ""
	}
	return c.h.owner(v)
}

func (c *collection[T]) reactionLocked(id, viewer string) content.Reaction {
	var r content.Reaction
	for user, k := range c.reactions[id] {
		switch k {
		case content.KindLike:
			r.LikesCount++
			r.IsLiked = r.IsLiked || user == viewer
		case content.KindDislike:
			r.DislikesCount++
			r.IsDisliked = r.IsDisliked || user == viewer
		}
	}
	return r
}

// viewLocked folds the viewer's reaction state into a copy of v.
func (c *collection[T]) viewLocked(v T, viewer string) T {
	if !c.reactive() {
		return v
	}
	if rv, ok := any(&v).(content.Reactive); ok {
		*rv.Reactions() = c.reactionLocked(v.EntityID(), viewer)
	}
	return v
}

func validate(v any) error {
	if val, ok := v.(validator); ok {
		return val.Validate()
	}
	return nil
}

func containsFold(q string, fields ...string) bool {
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func postHooks() hooks[content.Post] {
	return hooks[content.Post]{
		create: func(v *content.Post, id, authorID, author string, now time.Time) {
			v.ID, v.AuthorID, v.Author = id, authorID, author
			v.CommentsCount = 0
			v.CreatedAt, v.UpdatedAt = now, now
		},
		update: func(cur content.Post, next *content.Post, now time.Time) {
			next.ID, next.AuthorID, next.Author = cur.ID, cur.AuthorID, cur.Author
			next.CommentsCount = cur.CommentsCount
			next.CreatedAt, next.UpdatedAt = cur.CreatedAt, now
		},
		owner: func(v content.Post) string { return v.AuthorID },
		match: func(v content.Post, q string, p url.Values) bool {
			if tag := p.Get("tag"); tag != "" && !hasTag(v.Tags, tag) {
				return false
			}
			return containsFold(q, v.Title, v.Body)
		},
	}
}

func blogHooks() hooks[content.Blog] {
	return hooks[content.Blog]{
		create: func(v *content.Blog, id, authorID, author string, now time.Time) {
			v.ID, v.AuthorID, v.Author = id, authorID, author
			v.CreatedAt, v.UpdatedAt = now, now
		},
		update: func(cur content.Blog, next *content.Blog, now time.Time) {
			next.ID, next.AuthorID, next.Author = cur.ID, cur.AuthorID, cur.Author
			next.CreatedAt, next.UpdatedAt = cur.CreatedAt, now
		},
		owner: func(v content.Blog) string { return v.AuthorID },
		match: func(v content.Blog, q string, _ url.Values) bool {
			return containsFold(q, v.Title, v.Summary, v.Body)
		},
	}
}

func commentHooks() hooks[content.Comment] {
	return hooks[content.Comment]{
		create: func(v *content.Comment, id, authorID, author string, now time.Time) {
			v.ID, v.AuthorID, v.Author = id, authorID, author
			v.CreatedAt = now
		},
		update: func(cur content.Comment, next *content.Comment, _ time.Time) {
			next.ID, next.AuthorID, next.Author = cur.ID, cur.AuthorID, cur.Author
			next.PostID = cur.PostID
			next.CreatedAt = cur.CreatedAt
		},
		owner: func(v content.Comment) string { return v.AuthorID },
		match: func(v content.Comment, q string, p url.Values) bool {
			if post := p.Get("postId"); post != "" && v.PostID != post {
				return false
			}
			return containsFold(q, v.Body)
		},
	}
}

func eventHooks() hooks[content.Event] {
	return hooks[content.Event]{
		create: func(v *content.Event, id, _, _ string, now time.Time) {
			v.ID = id
			v.CreatedAt = now
		},
		update: func(cur content.Event, next *content.Event, _ time.Time) {
			next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
		},
		match: func(v content.Event, q string, p url.Values) bool {
			if p.Get("upcoming") == "true" && v.StartsAt.Before(time.Now()) {
				return false
			}
			return containsFold(q, v.Title, v.Description, v.Location)
		},
	}
}

func expertHooks() hooks[content.Expert] {
	return hooks[content.Expert]{
		create: func(v *content.Expert, id, _, _ string, now time.Time) {
			v.ID = id
			v.CreatedAt = now
		},
		update: func(cur content.Expert, next *content.Expert, _ time.Time) {
			next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
		},
		match: func(v content.Expert, q string, p url.Values) bool {
			if skill := p.Get("skill"); skill != "" && !hasTag(v.Skills, skill) {
				return false
			}
			return containsFold(q, append([]string{v.Name, v.Headline, v.Bio}, v.Skills...)...)
		},
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
