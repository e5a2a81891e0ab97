package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"contenthub.org/internal/apiclient"
	"contenthub.org/internal/content"
	"contenthub.org/internal/events"
	"contenthub.org/internal/obs"
)

// fakeAPI routes calls to per-path handlers and round-trips results through
// JSON like the real client.
type fakeAPI struct {
	mu     sync.Mutex
	routes map[string]func(body any) (any, error)
	calls  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{routes: make(map[string]func(any) (any, error))}
}

func (f *fakeAPI) on(method, path string, fn func(body any) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = fn
}

func (f *fakeAPI) call(method, path string, body, out any) error {
	f.mu.Lock()
	key := method + " " + path
	fn, ok := f.routes[key]
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if !ok {
		return &apiclient.ServerError{Status: http.StatusNotFound, Message: "no route " + key}
	}
	res, err := fn(body)
	if err != nil || out == nil || res == nil {
		return err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeAPI) Get(_ context.Context, path string, out any, _ ...apiclient.RequestOption) error {
	return f.call(http.MethodGet, path, nil, out)
}

func (f *fakeAPI) Post(_ context.Context, path string, body, out any, _ ...apiclient.RequestOption) error {
	return f.call(http.MethodPost, path, body, out)
}

func (f *fakeAPI) Put(_ context.Context, path string, body, out any, _ ...apiclient.RequestOption) error {
	return f.call(http.MethodPut, path, body, out)
}

func (f *fakeAPI) Delete(_ context.Context, path string, out any, _ ...apiclient.RequestOption) error {
	return f.call(http.MethodDelete, path, nil, out)
}

func post(id string, r content.Reaction) content.Post {
	return content.Post{ID: id, Title: "title " + id, Body: "body", Reaction: r}
}

func seededPosts(t *testing.T, api *fakeAPI, opts ...Option) *Store[content.Post] {
	t.Helper()
	api.on(http.MethodGet, "/posts", func(any) (any, error) {
		return content.Page[content.Post]{
			Items: []content.Post{
				post("p1", content.Reaction{IsLiked: true, LikesCount: 5, DislikesCount: 1}),
				post("p2", content.Reaction{LikesCount: 2}),
			},
			Page: 1, PerPage: 20, Total: 2, TotalPages: 1,
		}, nil
	})
	api.on(http.MethodGet, "/posts/p1", func(any) (any, error) {
		return post("p1", content.Reaction{IsLiked: true, LikesCount: 5, DislikesCount: 1}), nil
	})
	s := New[content.Post]("posts", api, ResourceEndpoints("/posts", true), opts...)
	if err := s.Fetch(context.Background(), Filters{Page: 1}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := s.Get(context.Background(), "p1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	return s
}

func assertConsistent(t *testing.T, snap Snapshot[content.Post], id string) {
	t.Helper()
	for _, it := range snap.Items {
		if !it.Reaction.Valid() {
			t.Fatalf("invalid reaction on %s: %+v", it.ID, it.Reaction)
		}
		if snap.Current != nil && it.ID == id && snap.Current.ID == id && it.Reaction != snap.Current.Reaction {
			t.Fatalf("list %+v and detail %+v diverged", it.Reaction, snap.Current.Reaction)
		}
	}
}

func TestToggleLikeUpdatesBothCopies(t *testing.T) {
	api := newFakeAPI()
	s := seededPosts(t, api)

	api.on(http.MethodPost, "/posts/p1/like", func(any) (any, error) {
		return content.Reaction{LikesCount: 4, DislikesCount: 1}, nil
	})

	got, err := s.ToggleLike(context.Background(), "p1")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got.IsLiked || got.LikesCount != 4 {
		t.Fatalf("unexpected reaction %+v", got)
	}

	snap := s.Snapshot()
	if snap.Items[0].IsLiked || snap.Items[0].LikesCount != 4 {
		t.Fatalf("list copy not updated: %+v", snap.Items[0].Reaction)
	}
	if snap.Current == nil || snap.Current.IsLiked || snap.Current.LikesCount != 4 {
		t.Fatalf("detail copy not updated: %+v", snap.Current)
	}
	if snap.Items[1].LikesCount != 2 {
		t.Fatal("other entities must be untouched")
	}
	assertConsistent(t, snap, "p1")
}

func TestToggleRepairsServerInvalidPair(t *testing.T) {
	api := newFakeAPI()
	s := seededPosts(t, api)
	api.on(http.MethodPost, "/posts/p1/dislike", func(any) (any, error) {
		return content.Reaction{IsLiked: true, IsDisliked: true, LikesCount: 4, DislikesCount: 2}, nil
	})

	got, err := s.ToggleDislike(context.Background(), "p1")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got.IsLiked && got.IsDisliked {
		t.Fatal("both flags set after reconciliation")
	}
	assertConsistent(t, s.Snapshot(), "p1")
}

func TestOptimisticToggleRollsBackOnFailure(t *testing.T) {
	api := newFakeAPI()
	s := seededPosts(t, api, WithOptimisticToggles())

	release := make(chan struct{})
	observed := make(chan content.Reaction, 1)
	api.on(http.MethodPost, "/posts/p1/dislike", func(any) (any, error) {
		observed <- s.Snapshot().Current.Reaction
		<-release
		return nil, &apiclient.NetworkError{Op: "POST /posts/p1/dislike", Err: errors.New("connection reset")}
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.ToggleDislike(context.Background(), "p1")
		done <- err
	}()

	guess := <-observed
	if !guess.IsDisliked || guess.IsLiked || guess.LikesCount != 4 || guess.DislikesCount != 2 {
		t.Fatalf("unexpected optimistic state %+v", guess)
	}
	close(release)

	if err := <-done; err == nil {
		t.Fatal("expected toggle error")
	}
	snap := s.Snapshot()
	want := content.Reaction{IsLiked: true, LikesCount: 5, DislikesCount: 1}
	if snap.Current.Reaction != want || snap.Items[0].Reaction != want {
		t.Fatalf("expected rollback to %+v, got list=%+v detail=%+v", want, snap.Items[0].Reaction, snap.Current.Reaction)
	}
	if snap.Error != "Unable to reach the server. Check your connection." {
		t.Fatalf("unexpected error string %q", snap.Error)
	}
}

func TestOptimisticToggleReconcilesToServer(t *testing.T) {
	api := newFakeAPI()
	s := seededPosts(t, api, WithOptimisticToggles())
	// The server disagrees with the local guess (someone else liked too).
	api.on(http.MethodPost, "/posts/p2/like", func(any) (any, error) {
		return content.Reaction{IsLiked: true, LikesCount: 9}, nil
	})
	if _, err := s.ToggleLike(context.Background(), "p2"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := s.Snapshot().Items[1].Reaction; got != (content.Reaction{IsLiked: true, LikesCount: 9}) {
		t.Fatalf("expected server pair, got %+v", got)
	}
}

func TestNonToggleableStore(t *testing.T) {
	api := newFakeAPI()
	reg := NewRegistry(api)
	if _, err := reg.Events.ToggleLike(context.Background(), "e1"); !errors.Is(err, ErrNotToggleable) {
		t.Fatalf("expected ErrNotToggleable, got %v", err)
	}
	if _, err := reg.Experts.ToggleDislike(context.Background(), "x1"); !errors.Is(err, ErrNotToggleable) {
		t.Fatalf("expected ErrNotToggleable, got %v", err)
	}
	if !reg.Posts.Toggleable() || !reg.Comments.Toggleable() || !reg.Blogs.Toggleable() {
		t.Fatal("posts, blogs and comments must be toggleable")
	}
}

func TestCreatePrependsAndFailureLeavesItems(t *testing.T) {
	api := newFakeAPI()
	s := seededPosts(t, api)

	api.on(http.MethodPost, "/posts", func(body any) (any, error) {
		in := body.(content.Post)
		in.ID = "p3"
		return in, nil
	})
	created, err := s.Create(context.Background(), content.Post{Title: "new", Body: "b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := s.Snapshot()
	if created.ID != "p3" || len(snap.Items) != 3 || snap.Items[0].ID != "p3" || snap.Items[1].ID != "p1" {
		t.Fatalf("unexpected items %+v", snap.Items)
	}

	api.on(http.MethodPost, "/posts", func(any) (any, error) {
		return nil, &apiclient.ValidationError{
			ServerError: apiclient.ServerError{Status: 422, Message: "Invalid input"},
			Fields:      map[string]string{"title": "is required"},
		}
	})
	_, err = s.Create(context.Background(), content.Post{})
	ve, ok := apiclient.AsValidation(err)
	if !ok || ve.Fields["title"] != "is required" {
		t.Fatalf("validation error must reach the caller intact, got %v", err)
	}
	snap = s.Snapshot()
	if len(snap.Items) != 3 {
		t.Fatalf("failed create changed items: %d", len(snap.Items))
	}
	if snap.Error != "Invalid input (title: is required)" {
		t.Fatalf("unexpected error %q", snap.Error)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	api := newFakeAPI()
	s := seededPosts(t, api)

	api.on(http.MethodPut, "/posts/p1", func(any) (any, error) {
		p := post("p1", content.Reaction{IsLiked: true, LikesCount: 5, DislikesCount: 1})
		p.Title = "edited"
		return p, nil
	})
	if _, err := s.Update(context.Background(), "p1", map[string]string{"title": "edited"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap := s.Snapshot()
	if snap.Items[0].Title != "edited" || snap.Current.Title != "edited" {
		t.Fatalf("update not applied everywhere: %+v / %+v", snap.Items[0], snap.Current)
	}

	api.on(http.MethodDelete, "/posts/p1", func(any) (any, error) { return nil, nil })
	if err := s.Delete(context.Background(), "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap = s.Snapshot()
	if len(snap.Items) != 1 || snap.Items[0].ID != "p2" {
		t.Fatalf("unexpected items %+v", snap.Items)
	}
	if snap.Current != nil {
		t.Fatal("current must be cleared when its entity is deleted")
	}
}

func TestFetchFailureSetsError(t *testing.T) {
	api := newFakeAPI()
	api.on(http.MethodGet, "/blogs", func(any) (any, error) {
		return nil, &apiclient.ServerError{Status: 500, Message: "database is down"}
	})
	s := New[content.Blog]("blogs", api, ResourceEndpoints("/blogs", true))
	if err := s.Fetch(context.Background(), Filters{}); err == nil {
		t.Fatal("expected error")
	}
	snap := s.Snapshot()
	if snap.Loading || snap.Error != "database is down" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

// A slow early fetch must not clobber a faster later one.
func TestStaleFetchIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	slow := make(chan struct{})
	started := make(chan struct{})
	var n int
	var mu sync.Mutex
	api.on(http.MethodGet, "/posts", func(any) (any, error) {
		mu.Lock()
		n++
		call := n
		mu.Unlock()
		if call == 1 {
			close(started)
			<-slow
			return content.Page[content.Post]{Items: []content.Post{post("old", content.Reaction{})}}, nil
		}
		return content.Page[content.Post]{Items: []content.Post{post("new", content.Reaction{})}, Page: 2}, nil
	})

	s := New[content.Post]("posts-stale-test", api, ResourceEndpoints("/posts", true))

	first := make(chan error, 1)
	go func() { first <- s.Fetch(context.Background(), Filters{Query: "a"}) }()
	<-started

	if err := s.Fetch(context.Background(), Filters{Query: "ab"}); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	close(slow)
	if err := <-first; err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Items) != 1 || snap.Items[0].ID != "new" || snap.Page.Page != 2 {
		t.Fatalf("stale response applied: %+v", snap)
	}
	if snap.Loading {
		t.Fatal("loading must be false once the latest fetch resolved")
	}
	expected := `
# HELP contenthub_store_stale_responses_total Fetch responses discarded because a newer fetch was issued.
# TYPE contenthub_store_stale_responses_total counter
contenthub_store_stale_responses_total{resource="posts-stale-test"} 1
`
	if err := testutil.GatherAndCompare(obs.Registry(), strings.NewReader(expected), "contenthub_store_stale_responses_total"); err != nil {
		t.Fatalf("stale counter: %v", err)
	}
}

func TestGetKeepsPendingFetchLoading(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	started := make(chan struct{})
	api.on(http.MethodGet, "/posts", func(any) (any, error) {
		close(started)
		<-release
		return content.Page[content.Post]{Items: []content.Post{post("p1", content.Reaction{})}, Page: 1}, nil
	})
	api.on(http.MethodGet, "/posts/p2", func(any) (any, error) {
		return post("p2", content.Reaction{}), nil
	})

	s := New[content.Post]("posts", api, ResourceEndpoints("/posts", true))
	fetched := make(chan error, 1)
	go func() { fetched <- s.Fetch(context.Background(), Filters{}) }()
	<-started

	if _, err := s.Get(context.Background(), "p2"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !s.Snapshot().Loading {
		t.Fatal("list fetch is still in flight, loading must stay true")
	}

	close(release)
	if err := <-fetched; err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap := s.Snapshot(); snap.Loading || len(snap.Items) != 1 || snap.Current == nil || snap.Current.ID != "p2" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestWatchClearsPersonalFlags(t *testing.T) {
	api := newFakeAPI()
	reg := NewRegistry(api)
	api.on(http.MethodGet, "/posts", func(any) (any, error) {
		return content.Page[content.Post]{Items: []content.Post{post("p1", content.Reaction{IsLiked: true, LikesCount: 3})}}, nil
	})
	if err := reg.Posts.Fetch(context.Background(), Filters{}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	reg.Posts.SetCurrent("p1")

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Watch(ctx, bus)

	deadline := time.Now().Add(time.Second)
	for bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish(events.Event{Reason: events.ReasonLogout})

	for time.Now().Before(deadline) {
		snap := reg.Posts.Snapshot()
		if !snap.Items[0].IsLiked && !snap.Current.IsLiked {
			if snap.Items[0].LikesCount != 3 {
				t.Fatal("counters must be kept")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("personal flags not cleared after session change")
}

func TestStoreOverHTTPClient(t *testing.T) {
	var mu sync.Mutex
	liked := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/comments":
			if r.URL.Query().Get("postId") != "p1" || r.URL.Query().Get("per_page") != "5" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(content.Page[content.Comment]{Items: []content.Comment{
				{ID: "c 1", PostID: "p1", Body: "hi", Reaction: content.Reaction{IsLiked: liked, LikesCount: 1}},
			}})
		case r.Method == http.MethodPost && r.URL.EscapedPath() == "/comments/c%201/like":
			liked = !liked
			_ = json.NewEncoder(w).Encode(content.Reaction{IsLiked: liked})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := apiclient.New(apiclient.Config{BaseURL: server.URL}, apiclient.ModeAnonymous)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	reg := NewRegistry(client)
	extra := map[string][]string{"postId": {"p1"}}
	if err := reg.Comments.Fetch(context.Background(), Filters{PerPage: 5, Extra: extra}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, err := reg.Comments.ToggleLike(context.Background(), "c 1")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got.IsLiked || reg.Comments.Snapshot().Items[0].IsLiked {
		t.Fatalf("expected unliked comment, got %+v", got)
	}
}
