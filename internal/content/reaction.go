package content

// Kind selects which engagement flag a toggle targets.
type Kind string

const (
	KindLike    Kind = "like"
	KindDislike Kind = "dislike"
)

// Reaction is the engagement state shared by posts, blogs and comments.
// IsLiked and IsDisliked are mutually exclusive; the counters are owned by the
// server.
type Reaction struct {
	IsLiked       bool `json:"isLiked"`
	IsDisliked    bool `json:"isDisliked"`
	LikesCount    int  `json:"likesCount"`
	DislikesCount int  `json:"dislikesCount"`
}

// Reactive is implemented by pointers to entities that embed Reaction.
type Reactive interface {
	Reactions() *Reaction
}

// Reactions exposes the embedded reaction for in-place reconciliation.
func (r *Reaction) Reactions() *Reaction { return r }

// Valid reports whether the flags are mutually exclusive and counters are
// non-negative.
func (r Reaction) Valid() bool {
	return !(r.IsLiked && r.IsDisliked) && r.LikesCount >= 0 && r.DislikesCount >= 0
}

// Normalize repairs an impossible state. When both flags are set neither can
// be trusted, so both are cleared.
func (r Reaction) Normalize() Reaction {
	if r.IsLiked && r.IsDisliked {
		r.IsLiked, r.IsDisliked = false, false
	}
	if r.LikesCount < 0 {
		r.LikesCount = 0
	}
	if r.DislikesCount < 0 {
		r.DislikesCount = 0
	}
	return r
}

// Toggle predicts the outcome of toggling kind: the same kind again removes
// the reaction, the opposite kind switches it. The result is a local guess;
// the server answer always replaces it.
func (r Reaction) Toggle(kind Kind) Reaction {
	r = r.Normalize()
	switch kind {
	case KindLike:
		switch {
		case r.IsLiked:
			r.IsLiked = false
			r.LikesCount--
		case r.IsDisliked:
			r.IsDisliked = false
			r.DislikesCount--
			r.IsLiked = true
			r.LikesCount++
		default:
			r.IsLiked = true
			r.LikesCount++
		}
	case KindDislike:
		switch {
		case r.IsDisliked:
			r.IsDisliked = false
			r.DislikesCount--
		case r.IsLiked:
			r.IsLiked = false
			r.LikesCount--
			r.IsDisliked = true
			r.DislikesCount++
		default:
			r.IsDisliked = true
			r.DislikesCount++
		}
	}
	return r.Normalize()
}

// Anonymous drops the per-viewer flags and keeps the public counters.
func (r Reaction) Anonymous() Reaction {
	r.IsLiked, r.IsDisliked = false, false
	return r
}
