package usecase

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/totegamma/basedfeed/internal/domain"
)

func newTestFeedUsecase(source *mockEventSource, state *mockState, mutations *mockMutations) *FeedUsecase {
	var s SubjectState
	if state != nil {
		s = state
	}
	var m MutationGateway
	if mutations != nil {
		m = mutations
	}
	return NewFeedUsecase(source, newMockResolver(), s, m, FeedOptions{PageSize: 8, Concurrency: 2, PurchaseBatch: 4}, time.Minute)
}

func TestFeedUsecaseOpen(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1, 2, 3)...)
	uc := newTestFeedUsecase(source, newMockState(), &mockMutations{})

	view, err := uc.Open(context.Background(), domain.FeedExplore, viewer, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if view.FeedID == "" {
		t.Fatalf("expected a feed id")
	}
	if len(view.Posts) != 3 || view.State != domain.FeedStateIdle {
		t.Fatalf("unexpected first page %+v", view)
	}

	got, err := uc.Get(view.FeedID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.FeedID != view.FeedID || len(got.Posts) != 3 {
		t.Fatalf("unexpected view %+v", got)
	}
}

func TestFeedUsecaseOpenValidation(t *testing.T) {
	uc := newTestFeedUsecase(newMockEventSource(), nil, nil)
	ctx := context.Background()

	if _, err := uc.Open(ctx, "trending", viewer, 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for unknown variant, got %v", err)
	}
	if _, err := uc.Open(ctx, domain.FeedListed, common.Address{}, 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request without viewer, got %v", err)
	}
	if _, err := uc.Open(ctx, domain.FeedBookmarked, viewer, 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request without bookmark state, got %v", err)
	}
}

func TestFeedUsecaseOpenReportsFirstPageFailureInView(t *testing.T) {
	source := newMockEventSource()
	source.setFail(domain.EventKindCreation, errors.New("rpc down"))
	uc := newTestFeedUsecase(source, nil, nil)

	view, err := uc.Open(context.Background(), domain.FeedExplore, common.Address{}, 0)
	if err != nil {
		t.Fatalf("open must not fail on a page error: %v", err)
	}
	if view.State != domain.FeedStateError || view.Err == "" {
		t.Fatalf("expected error state got %s (%q)", view.State, view.Err)
	}

	source.setFail(domain.EventKindCreation, nil)
	source.add(creations(other, 1)...)
	next, err := uc.Next(context.Background(), view.FeedID)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if len(next.Posts) != 1 || next.State != domain.FeedStateIdle {
		t.Fatalf("unexpected view after retry %+v", next)
	}
}

func TestFeedUsecaseNextAndRefresh(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1, 2, 3)...)
	uc := newTestFeedUsecase(source, nil, nil)
	ctx := context.Background()

	view, err := uc.Open(ctx, domain.FeedExplore, common.Address{}, 2)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if len(view.Posts) != 2 {
		t.Fatalf("expected page size 2 got %d posts", len(view.Posts))
	}

	view, err = uc.Next(ctx, view.FeedID)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if len(view.Posts) != 3 || view.HasMore {
		t.Fatalf("expected exhausted feed with 3 posts got %+v", view.Cursor)
	}

	source.push(creation(4, other))
	view, err = uc.Refresh(ctx, view.FeedID)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if len(view.Posts) != 2 || view.PendingLive != 0 || !view.HasMore {
		t.Fatalf("refresh should restart from the beginning, got %+v", view)
	}
}

func TestFeedUsecaseUnknownSession(t *testing.T) {
	uc := newTestFeedUsecase(newMockEventSource(), nil, &mockMutations{})
	ctx := context.Background()

	if _, err := uc.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
	if _, err := uc.Next(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
	if _, err := uc.ToggleBookmark(ctx, "missing", 1, true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
	if err := uc.Close("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestFeedUsecaseClose(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1)...)
	uc := newTestFeedUsecase(source, nil, nil)

	view, err := uc.Open(context.Background(), domain.FeedExplore, common.Address{}, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := uc.Close(view.FeedID); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := uc.Get(view.FeedID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("closed feed still reachable: %v", err)
	}
}

func TestFeedUsecaseToggleBookmark(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1, 2)...)
	state := newMockState()
	state.counts[1] = 2
	mutations := &mockMutations{}
	uc := newTestFeedUsecase(source, state, mutations)
	ctx := context.Background()

	view, err := uc.Open(ctx, domain.FeedExplore, viewer, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	view, err = uc.ToggleBookmark(ctx, view.FeedID, 1, true)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	post, _ := findPost(view, 1)
	if !post.Bookmarked || post.BookmarkCount != 3 {
		t.Fatalf("expected bookmarked with count 3 got %+v", post)
	}
	if len(mutations.toggles) != 1 || !mutations.toggles[0] {
		t.Fatalf("unexpected submissions %v", mutations.toggles)
	}

	// already in the desired state
	if _, err := uc.ToggleBookmark(ctx, view.FeedID, 1, true); err != nil {
		t.Fatalf("noop toggle failed: %v", err)
	}
	if len(mutations.toggles) != 1 {
		t.Fatalf("noop toggle must not submit, got %v", mutations.toggles)
	}

	session, err := uc.Session(view.FeedID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if n := len(session.Mutator.Pending()); n != 0 {
		t.Fatalf("expected all edits settled, %d pending", n)
	}
}

func TestFeedUsecaseToggleBookmarkRollback(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1)...)
	state := newMockState()
	state.bookmarks[1] = true
	state.counts[1] = 1
	mutations := &mockMutations{err: errors.New("user rejected transaction")}
	uc := newTestFeedUsecase(source, state, mutations)
	ctx := context.Background()

	view, err := uc.Open(ctx, domain.FeedExplore, viewer, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	view, err = uc.ToggleBookmark(ctx, view.FeedID, 1, false)
	if !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("expected write error got %v", err)
	}
	post, _ := findPost(view, 1)
	if !post.Bookmarked || post.BookmarkCount != 1 {
		t.Fatalf("expected rollback to bookmarked/1 got %+v", post)
	}
}

func TestFeedUsecaseToggleBookmarkFramesStayConsistent(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1)...)
	state := newMockState()
	state.counts[1] = 4
	mutations := &mockMutations{err: errors.New("user rejected transaction")}
	uc := newTestFeedUsecase(source, state, mutations)
	ctx := context.Background()

	view, err := uc.Open(ctx, domain.FeedExplore, viewer, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	session, err := uc.Session(view.FeedID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}

	type frame struct {
		bookmarked bool
		count      int64
	}
	var mu sync.Mutex
	var frames []frame
	cancel := session.Aggregator.Watch(func(v domain.FeedView) {
		post, ok := findPost(v, 1)
		if !ok {
			return
		}
		mu.Lock()
		frames = append(frames, frame{post.Bookmarked, post.BookmarkCount})
		mu.Unlock()
	})
	defer cancel()

	if _, err := uc.ToggleBookmark(ctx, view.FeedID, 1, true); !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("expected write error got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []frame{{true, 5}, {false, 4}}
	if len(frames) != len(want) {
		t.Fatalf("expected frames %v got %v", want, frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Fatalf("expected frames %v got %v", want, frames)
		}
	}
}

func TestFeedUsecasePurchase(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1, 2)...)
	state := newMockState()
	state.stock[2] = 0
	mutations := &mockMutations{}
	uc := newTestFeedUsecase(source, state, mutations)
	ctx := context.Background()

	view, err := uc.Open(ctx, domain.FeedExplore, viewer, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	view, err = uc.Purchase(ctx, view.FeedID, 1)
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	post, _ := findPost(view, 1)
	if post.StockRemaining != 4 {
		t.Fatalf("expected stock 4 got %d", post.StockRemaining)
	}

	if _, err := uc.Purchase(ctx, view.FeedID, 2); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected sold out error got %v", err)
	}
	if len(mutations.purchases) != 1 {
		t.Fatalf("sold out purchase must not submit, got %v", mutations.purchases)
	}
}

func TestFeedUsecasePurchaseRollback(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1)...)
	mutations := &mockMutations{err: domain.WriteError{Op: "buyArticle", Err: errors.New("reverted")}}
	uc := newTestFeedUsecase(source, newMockState(), mutations)
	ctx := context.Background()

	view, err := uc.Open(ctx, domain.FeedExplore, viewer, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	view, err = uc.Purchase(ctx, view.FeedID, 1)
	var writeErr domain.WriteError
	if !errors.As(err, &writeErr) || writeErr.Op != "buyArticle" {
		t.Fatalf("expected the gateway write error to pass through, got %v", err)
	}
	post, _ := findPost(view, 1)
	if post.StockRemaining != 5 {
		t.Fatalf("expected stock restored to 5 got %d", post.StockRemaining)
	}
}

func TestFeedUsecaseMutationsDisabled(t *testing.T) {
	source := newMockEventSource()
	source.add(creations(other, 1)...)
	uc := newTestFeedUsecase(source, nil, nil)
	ctx := context.Background()

	view, err := uc.Open(ctx, domain.FeedExplore, viewer, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := uc.ToggleBookmark(ctx, view.FeedID, 1, true); !errors.Is(err, ErrMutationDisabled) {
		t.Fatalf("expected mutations disabled got %v", err)
	}
	if _, err := uc.Publish(ctx, "Qm1", big.NewInt(1), 1); !errors.Is(err, ErrMutationDisabled) {
		t.Fatalf("expected mutations disabled got %v", err)
	}
}

func TestFeedUsecasePublish(t *testing.T) {
	mutations := &mockMutations{}
	uc := newTestFeedUsecase(newMockEventSource(), nil, mutations)
	ctx := context.Background()

	id, err := uc.Publish(ctx, "QmNew", big.NewInt(100), 3)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if id != 1 || len(mutations.created) != 1 || mutations.created[0] != "QmNew" {
		t.Fatalf("unexpected publish result %d %v", id, mutations.created)
	}

	cases := []struct {
		name      string
		contentID string
		price     *big.Int
		stock     int64
	}{
		{"missing content", "", big.NewInt(1), 1},
		{"nil price", "Qm", nil, 1},
		{"negative price", "Qm", big.NewInt(-1), 1},
		{"zero stock", "Qm", big.NewInt(1), 0},
	}
	for _, tc := range cases {
		if _, err := uc.Publish(ctx, tc.contentID, tc.price, tc.stock); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected invalid request got %v", tc.name, err)
		}
	}

	mutations.err = errors.New("insufficient funds")
	if _, err := uc.Publish(ctx, "QmNew", big.NewInt(100), 3); !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("expected write error got %v", err)
	}
}

func TestFeedUsecaseContent(t *testing.T) {
	uc := newTestFeedUsecase(newMockEventSource(), nil, nil)
	record, err := uc.Content(context.Background(), "QmAbc")
	if err != nil {
		t.Fatalf("content failed: %v", err)
	}
	if record.ContentID != "QmAbc" || record.Name == "" {
		t.Fatalf("unexpected record %+v", record)
	}
}
