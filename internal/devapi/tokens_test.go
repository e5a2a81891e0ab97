package devapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"contenthub.org/internal/content"
)

func newTestTokens(t *testing.T) *tokens {
	t.Helper()
	tok, err := newTokens("secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	return tok
}

func TestMintAndAuthenticate(t *testing.T) {
	tok := newTestTokens(t)
	pair, err := tok.mint(&account{ID: "u1", Role: "member"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := tok.authenticate(pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != "member" || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !strings.Contains(pair.RefreshToken, ".") {
		t.Fatalf("refresh token should be id.secret, got %q", pair.RefreshToken)
	}

	tok.expireAccess()
	if _, err := tok.authenticate(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestAuthenticateRejectsForeignAndExpiredTokens(t *testing.T) {
	tok := newTestTokens(t)

	other, err := newTokens("other-secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	foreign, err := other.mint(&account{ID: "u1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := tok.authenticate(foreign.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature accepted: %v", err)
	}

	pair, err := tok.mint(&account{ID: "u1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	tok.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := tok.authenticate(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1", Issuer: issuer})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := tok.authenticate(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned token accepted: %v", err)
	}
}

func TestRefreshTokenRotatesOnce(t *testing.T) {
	tok := newTestTokens(t)
	pair, err := tok.mint(&account{ID: "u1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	userID, err := tok.rotate(pair.RefreshToken)
	if err != nil || userID != "u1" {
		t.Fatalf("rotate: %q %v", userID, err)
	}
	if _, err := tok.rotate(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reuse accepted: %v", err)
	}

	second, err := tok.mint(&account{ID: "u1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	id := strings.SplitN(second.RefreshToken, ".", 2)[0]
	if _, err := tok.rotate(id + ".wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret accepted: %v", err)
	}
	if _, err := tok.rotate(second.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("a guessed secret must burn the token")
	}
	if _, err := tok.rotate("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage accepted: %v", err)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	lim := newIPLimiter(1, 1)
	h := lim.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/posts", nil)
	other.Header.Set("X-Forwarded-For", "10.0.0.2, 10.0.0.1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client should have its own bucket, got %d", rec.Code)
	}

	if newIPLimiter(0, 10) != nil {
		t.Fatal("zero rate should disable limiting")
	}
}

func TestToggleSemantics(t *testing.T) {
	c := newCollection("posts", postHooks(), true)
	p, err := c.create(content.Post{Title: "t", Body: "b"}, &account{ID: "author"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	steps := []struct {
		viewer string
		kind   content.Kind
		want   content.Reaction
	}{
		{"a", content.KindLike, content.Reaction{IsLiked: true, LikesCount: 1}},
		{"b", content.KindLike, content.Reaction{IsLiked: true, LikesCount: 2}},
		{"a", content.KindDislike, content.Reaction{IsDisliked: true, LikesCount: 1, DislikesCount: 1}},
		{"a", content.KindDislike, content.Reaction{LikesCount: 1}},
		{"b", content.KindLike, content.Reaction{}},
	}
	for i, s := range steps {
		got, err := c.toggle(p.ID, s.viewer, s.kind)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d: got %+v want %+v", i, got, s.want)
		}
	}
	if _, err := c.toggle("missing", "a", content.KindLike); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	c := newCollection("posts", postHooks(), true)
	author := &account{ID: "author"}
	for _, title := range []string{"one", "two", "three"} {
		if _, err := c.create(content.Post{Title: title, Body: "b"}, author); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	page := c.list(listQuery{Page: 1, PerPage: 2}, "")
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 || page.Items[0].Title != "three" {
		t.Fatalf("unexpected first page %+v", page)
	}
	page = c.list(listQuery{Page: 2, PerPage: 2}, "")
	if len(page.Items) != 1 || page.Items[0].Title != "one" {
		t.Fatalf("unexpected second page %+v", page)
	}
	page = c.list(listQuery{Page: 9, PerPage: 2}, "")
	if len(page.Items) != 0 || page.Total != 3 {
		t.Fatalf("out of range page %+v", page)
	}
}
