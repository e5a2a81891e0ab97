package store

import (
	"context"

	"go.uber.org/zap"

	"contenthub.org/internal/content"
	"contenthub.org/internal/events"
	"contenthub.org/internal/obs"
)

// Subscriber is the receiving half of the session events bus.
type Subscriber interface {
	Subscribe(ctx context.Context) <-chan events.Event
}

// Registry holds one store per resource. Stores share nothing but the
// client; each has its own lock.
type Registry struct {
	Posts    *Store[content.Post]
	Blogs    *Store[content.Blog]
	Comments *Store[content.Comment]
	Events   *Store[content.Event]
	Experts  *Store[content.Expert]
}

// NewRegistry wires the five resource stores to api.
func NewRegistry(api Requester, opts ...Option) *Registry {
	return &Registry{
		Posts:    New[content.Post]("posts", api, ResourceEndpoints("/posts", true), opts...),
		Blogs:    New[content.Blog]("blogs", api, ResourceEndpoints("/blogs", true), opts...),
		Comments: New[content.Comment]("comments", api, ResourceEndpoints("/comments", true), opts...),
		Events:   New[content.Event]("events", api, ResourceEndpoints("/events", false), opts...),
		Experts:  New[content.Expert]("experts", api, ResourceEndpoints("/experts", false), opts...),
	}
}

type personal interface {
	ClearPersonal()
}

func (r *Registry) personal() []personal {
	return []personal{r.Posts, r.Blogs, r.Comments}
}

// Watch clears viewer-specific reaction flags on every session change until
// ctx ends.
func (r *Registry) Watch(ctx context.Context, sub Subscriber) {
	for evt := range sub.Subscribe(ctx) {
		for _, s := range r.personal() {
			s.ClearPersonal()
		}
		obs.Logger().Debug("cleared personal reactions",
			zap.String("reason", string(evt.Reason)),
		)
	}
}

// Reset empties every store.
func (r *Registry) Reset() {
	r.Posts.Reset()
	r.Blogs.Reset()
	r.Comments.Reset()
	r.Events.Reset()
	r.Experts.Reset()
}
