package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/basedfeed"
	"github.com/totegamma/basedfeed/internal/domain"
)

// PurchaseIndex holds, per subject, the first purchase made by one viewer.
type PurchaseIndex map[int64]domain.RawEvent

// Add indexes purchase events made by viewer. Earlier purchases win.
func (idx PurchaseIndex) Add(viewer common.Address, events []domain.RawEvent) {
	for _, e := range events {
		if e.Kind != domain.EventKindPurchase || e.Actor != viewer {
			continue
		}
		if prev, ok := idx[e.SubjectID]; ok && prev.LogIndex <= e.LogIndex {
			continue
		}
		idx[e.SubjectID] = e
	}
}

// RecordJoiner correlates a page of creation events with the other event
// kinds according to a JoinPolicy.
type RecordJoiner struct {
	bookmarks   BookmarkState
	concurrency int
}

func NewRecordJoiner(bookmarks BookmarkState, concurrency int) *RecordJoiner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &RecordJoiner{
		bookmarks:   bookmarks,
		concurrency: concurrency,
	}
}

// Join returns candidate posts in creation-log order. Candidates whose
// creation carries no content URI are returned with an empty ContentID so the
// caller can account for them as malformed.
func (j *RecordJoiner) Join(ctx context.Context, policy domain.JoinPolicy, creations []domain.RawEvent, purchases PurchaseIndex) ([]domain.Post, error) {

	ordered := make([]domain.RawEvent, 0, len(creations))
	for _, c := range creations {
		if c.Kind == domain.EventKindCreation {
			ordered = append(ordered, c)
		}
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].LogIndex < ordered[b].LogIndex
	})

	keep := make([]bool, len(ordered))
	switch policy.Variant {
	case domain.FeedExplore:
		for i := range ordered {
			keep[i] = true
		}
	case domain.FeedListed:
		for i, c := range ordered {
			keep[i] = c.Actor == policy.Viewer
		}
	case domain.FeedBought:
		for i, c := range ordered {
			_, keep[i] = purchases[c.SubjectID]
		}
	case domain.FeedBookmarked:
		var err error
		keep, err = j.lookupBookmarks(ctx, policy.Viewer, ordered)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown feed variant %q", policy.Variant)
	}

	posts := make([]domain.Post, 0, len(ordered))
	for i, c := range ordered {
		if !keep[i] {
			continue
		}

		contentID := ""
		if uri := c.ContentURI(); uri != "" {
			contentID = basedfeed.ContentIDFromURI(uri)
		}
		post := domain.NewPost(c, contentID)

		switch policy.Variant {
		case domain.FeedBought:
			purchase := purchases[c.SubjectID]
			post.Price = purchase.Price()
			acquiredAt := purchase.Timestamp()
			post.AcquiredAt = &acquiredAt
		case domain.FeedBookmarked:
			post.Bookmarked = true
		}

		posts = append(posts, post)
	}

	return posts, nil
}

func (j *RecordJoiner) lookupBookmarks(ctx context.Context, viewer common.Address, creations []domain.RawEvent) ([]bool, error) {
	if j.bookmarks == nil {
		return nil, fmt.Errorf("bookmark state not configured")
	}

	keep := make([]bool, len(creations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for i, c := range creations {
		g.Go(func() error {
			ok, err := j.bookmarks.IsBookmarked(gctx, viewer, c.SubjectID)
			if err != nil {
				return domain.TransportError{Op: fmt.Sprintf("bookmark lookup %d", c.SubjectID), Err: err}
			}
			keep[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keep, nil
}
