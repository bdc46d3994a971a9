package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// FeedVariant selects the join rule a feed applies to the creation stream.
type FeedVariant string

const (
	// FeedExplore passes every creation through.
	FeedExplore FeedVariant = "explore"
	// FeedBought keeps creations the viewer purchased.
	FeedBought FeedVariant = "bought"
	// FeedListed keeps creations published by the viewer.
	FeedListed FeedVariant = "listed"
	// FeedBookmarked keeps creations the viewer currently has bookmarked.
	FeedBookmarked FeedVariant = "bookmarked"
)

func (v FeedVariant) Valid() bool {
	switch v {
	case FeedExplore, FeedBought, FeedListed, FeedBookmarked:
		return true
	default:
		return false
	}
}

// NeedsViewer reports whether the join rule is relative to a viewer address.
func (v FeedVariant) NeedsViewer() bool {
	return v == FeedBought || v == FeedListed || v == FeedBookmarked
}

// JoinPolicy parameterizes the record joiner.
type JoinPolicy struct {
	Variant FeedVariant
	Viewer  common.Address
}

type FeedState int

const (
	FeedStateIdle FeedState = iota
	FeedStateLoading
	FeedStateError
)

func (s FeedState) String() string {
	switch s {
	case FeedStateIdle:
		return "idle"
	case FeedStateLoading:
		return "loading"
	case FeedStateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s FeedState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PageCursor tracks how much of the creation stream a feed has consumed.
type PageCursor struct {
	FeedID        string `json:"feedId"`
	NextRawOffset int64  `json:"nextRawOffset"`
	Exhausted     bool   `json:"exhausted"`
}

// Advance moves the cursor past a fetched page of raw events.
func (c *PageCursor) Advance(raw, pageSize int) {
	if c.Exhausted {
		return
	}
	if raw > 0 {
		c.NextRawOffset += int64(raw)
	}
	if raw < pageSize {
		c.Exhausted = true
	}
}

// DropStats counts candidates discarded while building pages.
type DropStats struct {
	NotFound   int `json:"notFound"`
	Malformed  int `json:"malformed"`
	Transport  int `json:"transport"`
	Duplicates int `json:"duplicates"`
}

// FeedView is an immutable snapshot of a feed.
type FeedView struct {
	FeedID      string         `json:"feedId"`
	Variant     FeedVariant    `json:"variant"`
	Viewer      common.Address `json:"viewer"`
	State       FeedState      `json:"state"`
	HasMore     bool           `json:"hasMore"`
	Cursor      PageCursor     `json:"cursor"`
	Posts       []Post         `json:"posts"`
	Err         string         `json:"error,omitempty"`
	Dropped     DropStats      `json:"dropped"`
	PendingLive int            `json:"pendingLive"`
}

func (v FeedView) SubjectIDs() []int64 {
	ids := make([]int64, 0, len(v.Posts))
	for _, p := range v.Posts {
		ids = append(ids, p.SubjectID)
	}
	return ids
}
