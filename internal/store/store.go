package store

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"contenthub.org/internal/apiclient"
	"contenthub.org/internal/content"
	"contenthub.org/internal/obs"
)

// ErrNotToggleable is returned by reaction helpers on stores whose entities
// carry no reactions.
var ErrNotToggleable = errors.New("store: resource does not support reactions")

// Requester is the slice of the API client a store needs.
type Requester interface {
	Get(ctx context.Context, path string, out any, opts ...apiclient.RequestOption) error
	Post(ctx context.Context, path string, body, out any, opts ...apiclient.RequestOption) error
	Put(ctx context.Context, path string, body, out any, opts ...apiclient.RequestOption) error
	Delete(ctx context.Context, path string, out any, opts ...apiclient.RequestOption) error
}

// Endpoints are path templates; "{id}" is replaced by the escaped entity id.
// Leave Like and Dislike empty for resources without reactions.
type Endpoints struct {
	Collection string
	Item       string
	Like       string
	Dislike    string
	Envelope   bool
}

// ResourceEndpoints returns the conventional REST layout under collection.
func ResourceEndpoints(collection string, reactions bool) Endpoints {
	ep := Endpoints{Collection: collection, Item: collection + "/{id}"}
	if reactions {
		ep.Like = ep.Item + "/like"
		ep.Dislike = ep.Item + "/dislike"
	}
	return ep
}

func (e Endpoints) item(tpl, id string) string {
	return strings.ReplaceAll(tpl, "{id}", url.PathEscape(id))
}

// Filters narrow a collection fetch.
type Filters struct {
	Page    int
	PerPage int
	Query   string
	Extra   url.Values
}

func (f Filters) values() url.Values {
	v := url.Values{}
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(f.PerPage))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		v.Set("q", q)
	}
	for k, vs := range f.Extra {
		for _, s := range vs {
			v.Add(k, s)
		}
	}
	return v
}

// PageInfo is the pagination metadata of the last applied fetch.
type PageInfo struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// Snapshot is a copy of a store's state, safe to keep and read.
type Snapshot[T content.Entity] struct {
	Items   []T
	Current *T
	Loading bool
	Error   string
	Page    PageInfo
}

// Option configures a Store.
type Option func(*options)

type options struct {
	optimistic bool
}

// WithOptimisticToggles flips reactions locally before the server answers.
// The server's pair still wins, and a failed request restores the previous
// state.
func WithOptimisticToggles() Option {
	return func(o *options) { o.optimistic = true }
}

// Store caches one resource type: an ordered list plus the entity being
// viewed. Every copy of an entity is kept in step after each mutation.
type Store[T content.Entity] struct {
	name       string
	api        Requester
	ep         Endpoints
	optimistic bool
	reactive   bool

	mu       sync.Mutex
	items    []T
	current  *T
	fetching bool // newest Fetch still in flight
	getting  int  // Get calls in flight
	err      string
	page     PageInfo
	issued   uint64
}

// New builds a store named name (used in logs and metrics).
func New[T content.Entity](name string, api Requester, ep Endpoints, opts ...Option) *Store[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var zero T
	_, reactive := any(&zero).(content.Reactive)
	return &Store[T]{
		name:       name,
		api:        api,
		ep:         ep,
		optimistic: o.optimistic,
		reactive:   reactive,
	}
}

// Name returns the resource name.
func (s *Store[T]) Name() string { return s.name }

// Toggleable reports whether the store supports like/dislike.
func (s *Store[T]) Toggleable() bool {
	return s.reactive && s.ep.Like != "" && s.ep.Dislike != ""
}

func (s *Store[T]) requestOpts(extra ...apiclient.RequestOption) []apiclient.RequestOption {
	if s.ep.Envelope {
		return append(extra, apiclient.Enveloped())
	}
	return extra
}

// Fetch replaces the list. Every call is tagged with a generation number and
// only the most recently issued fetch may apply its result; a superseded
// response is dropped and Fetch returns nil for it.
func (s *Store[T]) Fetch(ctx context.Context, f Filters) error {
	s.mu.Lock()
	s.issued++
	gen := s.issued
	s.fetching = true
	s.mu.Unlock()

	var page content.Page[T]
	err := s.api.Get(ctx, s.ep.Collection, &page, s.requestOpts(apiclient.WithQuery(f.values()))...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.issued {
		obs.RecordStaleResponse(s.name)
		obs.Logger().Debug("stale fetch discarded",
			zap.String("resource", s.name),
			zap.Uint64("generation", gen),
			zap.Uint64("latest", s.issued),
		)
		return nil
	}
	s.fetching = false
	if err != nil {
		s.err = apiclient.FormatError(err)
		return err
	}
	for i := range page.Items {
		normalize(&page.Items[i])
	}
	s.items = page.Items
	s.page = PageInfo{
		Page:       page.Page,
		PerPage:    page.PerPage,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
	s.err = ""
	if s.current != nil {
		if i := s.indexLocked((*s.current).EntityID()); i >= 0 {
			cur := s.items[i]
			s.current = &cur
		}
	}
	return nil
}

// Get loads one entity into Current.
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.Lock()
	s.getting++
	s.mu.Unlock()

	var v T
	err := s.api.Get(ctx, s.ep.item(s.ep.Item, id), &v, s.requestOpts()...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.getting--
	if err != nil {
		s.err = apiclient.FormatError(err)
		var zero T
		return zero, err
	}
	normalize(&v)
	s.err = ""
	s.current = &v
	s.replaceLocked(v)
	return v, nil
}

// Create posts payload and prepends the result. Items are untouched on
// failure.
func (s *Store[T]) Create(ctx context.Context, payload any) (T, error) {
	var v T
	err := s.api.Post(ctx, s.ep.Collection, payload, &v, s.requestOpts()...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = apiclient.FormatError(err)
		var zero T
		return zero, err
	}
	normalize(&v)
	s.err = ""
	s.items = append([]T{v}, s.items...)
	return v, nil
}

// Update replaces every cached copy with the server's version.
func (s *Store[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	var v T
	err := s.api.Put(ctx, s.ep.item(s.ep.Item, id), payload, &v, s.requestOpts()...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = apiclient.FormatError(err)
		var zero T
		return zero, err
	}
	normalize(&v)
	s.err = ""
	s.replaceLocked(v)
	if s.current != nil && (*s.current).EntityID() == v.EntityID() {
		cur := v
		s.current = &cur
	}
	return v, nil
}

// Delete removes the entity from Items and clears Current on a match.
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	err := s.api.Delete(ctx, s.ep.item(s.ep.Item, id), nil, s.requestOpts()...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = apiclient.FormatError(err)
		return err
	}
	s.err = ""
	kept := s.items[:0:0]
	for _, it := range s.items {
		if it.EntityID() != id {
			kept = append(kept, it)
		}
	}
	s.items = kept
	if s.current != nil && (*s.current).EntityID() == id {
		s.current = nil
	}
	return nil
}

// ToggleLike toggles the like flag and applies the server's answer to every
// cached copy.
func (s *Store[T]) ToggleLike(ctx context.Context, id string) (content.Reaction, error) {
	return s.toggle(ctx, id, content.KindLike)
}

// ToggleDislike is ToggleLike for the dislike flag.
func (s *Store[T]) ToggleDislike(ctx context.Context, id string) (content.Reaction, error) {
	return s.toggle(ctx, id, content.KindDislike)
}

func (s *Store[T]) toggle(ctx context.Context, id string, kind content.Kind) (content.Reaction, error) {
	if !s.Toggleable() {
		return content.Reaction{}, ErrNotToggleable
	}
	tpl := s.ep.Like
	if kind == content.KindDislike {
		tpl = s.ep.Dislike
	}

	var (
		before, guess content.Reaction
		flipped       bool
	)
	if s.optimistic {
		s.mu.Lock()
		if r, ok := s.reactionLocked(id); ok {
			before, guess, flipped = r, r.Toggle(kind), true
			s.applyLocked(id, guess)
		}
		s.mu.Unlock()
	}

	var got content.Reaction
	err := s.api.Post(ctx, s.ep.item(tpl, id), nil, &got, s.requestOpts()...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if flipped {
			// Only roll back if nothing else touched the entity meanwhile.
			if r, ok := s.reactionLocked(id); ok && r == guess {
				s.applyLocked(id, before)
			}
		}
		s.err = apiclient.FormatError(err)
		return content.Reaction{}, err
	}
	got = got.Normalize()
	s.applyLocked(id, got)
	return got, nil
}

// ClearPersonal drops per-viewer reaction flags from every cached entity.
// Counters are kept.
func (s *Store[T]) ClearPersonal() {
	if !s.reactive {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if r, ok := any(&s.items[i]).(content.Reactive); ok {
			*r.Reactions() = r.Reactions().Anonymous()
		}
	}
	if s.current != nil {
		if r, ok := any(s.current).(content.Reactive); ok {
			*r.Reactions() = r.Reactions().Anonymous()
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *Store[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot[T]{
		Items:   append([]T(nil), s.items...),
		Loading: s.fetching || s.getting > 0,
		Error:   s.err,
		Page:    s.page,
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

// SetCurrent selects a cached item as Current without a request. It reports
// whether the id was found.
func (s *Store[T]) SetCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	cur := s.items[i]
	s.current = &cur
	return true
}

// Reset empties the store. In-flight fetches issued before Reset are
// discarded.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.items = nil
	s.current = nil
	s.fetching = false
	s.err = ""
	s.page = PageInfo{}
}

func (s *Store[T]) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].EntityID() == id {
			return i
		}
	}
	return -1
}

func (s *Store[T]) replaceLocked(v T) {
	for i := range s.items {
		if s.items[i].EntityID() == v.EntityID() {
			s.items[i] = v
		}
	}
}

func (s *Store[T]) reactionLocked(id string) (content.Reaction, bool) {
	if s.current != nil && (*s.current).EntityID() == id {
		if r, ok := any(s.current).(content.Reactive); ok {
			return *r.Reactions(), true
		}
	}
	if i := s.indexLocked(id); i >= 0 {
		if r, ok := any(&s.items[i]).(content.Reactive); ok {
			return *r.Reactions(), true
		}
	}
	return content.Reaction{}, false
}

// applyLocked writes r into every copy of id: the list entry and Current.
func (s *Store[T]) applyLocked(id string, r content.Reaction) {
	for i := range s.items {
		if s.items[i].EntityID() != id {
			continue
		}
		if rx, ok := any(&s.items[i]).(content.Reactive); ok {
			*rx.Reactions() = r
		}
	}
	if s.current != nil && (*s.current).EntityID() == id {
		if rx, ok := any(s.current).(content.Reactive); ok {
			*rx.Reactions() = r
		}
	}
}

func normalize[T any](v *T) {
	if r, ok := any(v).(content.Reactive); ok {
		*r.Reactions() = r.Reactions().Normalize()
	}
}
