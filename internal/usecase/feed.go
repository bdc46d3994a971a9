package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/totegamma/basedfeed/internal/domain"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMutationDisabled = errors.New("mutations not configured")
)

const defaultSessionIdle = 15 * time.Minute

// FeedSession couples a feed with the mutator editing its view.
type FeedSession struct {
	Aggregator *FeedAggregator
	Mutator    *OptimisticMutator
}

type FeedUsecase struct {
	source    EventSource
	content   ContentResolver
	state     SubjectState
	mutations MutationGateway
	opts      FeedOptions
	sessions  *cache.Cache
}

// NewFeedUsecase wires the feed pipeline. state and mutations may be nil:
// without state the bookmarked feed is unavailable and posts are not
// enriched, without mutations every write is rejected.
func NewFeedUsecase(
	source EventSource,
	content ContentResolver,
	state SubjectState,
	mutations MutationGateway,
	opts FeedOptions,
	sessionIdle time.Duration,
) *FeedUsecase {
	if sessionIdle <= 0 {
		sessionIdle = defaultSessionIdle
	}
	sessions := cache.New(sessionIdle, sessionIdle/2)
	sessions.OnEvicted(func(id string, v any) {
		if s, ok := v.(*FeedSession); ok {
			s.Aggregator.Close()
		}
	})
	return &FeedUsecase{
		source:    source,
		content:   content,
		state:     state,
		mutations: mutations,
		opts:      opts.withDefaults(),
		sessions:  sessions,
	}
}

// Open creates a feed session and loads its first page. A failing first page
// is reported through the returned view, not as an error.
func (uc *FeedUsecase) Open(ctx context.Context, variant domain.FeedVariant, viewer common.Address, pageSize int) (domain.FeedView, error) {
	ctx, span := tracer.Start(ctx, "Feed.Usecase.Open")
	defer span.End()

	if !variant.Valid() {
		return domain.FeedView{}, fmt.Errorf("%w: unknown feed variant %q", ErrInvalidRequest, variant)
	}
	if variant.NeedsViewer() && viewer == (common.Address{}) {
		return domain.FeedView{}, fmt.Errorf("%w: feed %s requires a viewer", ErrInvalidRequest, variant)
	}
	if variant == domain.FeedBookmarked && uc.state == nil {
		return domain.FeedView{}, fmt.Errorf("%w: bookmark state not configured", ErrInvalidRequest)
	}

	opts := uc.opts
	if pageSize > 0 {
		opts.PageSize = pageSize
	}

	var bookmarks BookmarkState
	if uc.state != nil {
		bookmarks = uc.state
	}

	id := uuid.NewString()
	agg := NewFeedAggregator(
		id,
		domain.JoinPolicy{Variant: variant, Viewer: viewer},
		uc.source,
		NewRecordJoiner(bookmarks, opts.Concurrency),
		uc.content,
		uc.state,
		opts,
	)

	// the live subscription outlives the request that opened the feed
	if err := agg.Start(context.WithoutCancel(ctx)); err != nil {
		slog.WarnContext(
			ctx, "live subscription unavailable",
			slog.String("feed", id),
			slog.String("error", err.Error()),
			slog.String("module", "feed"),
		)
	}

	session := &FeedSession{
		Aggregator: agg,
		Mutator:    NewOptimisticMutator(agg),
	}
	uc.sessions.Set(id, session, cache.DefaultExpiration)

	if err := agg.RequestNextPage(ctx); err != nil {
		span.RecordError(err)
	}
	return agg.Snapshot(), nil
}

// Session returns a live feed session and extends its idle deadline.
func (uc *FeedUsecase) Session(id string) (*FeedSession, error) {
	v, found := uc.sessions.Get(id)
	if !found {
		return nil, domain.NotFoundError{Resource: "feed"}
	}
	session := v.(*FeedSession)
	uc.sessions.Set(id, session, cache.DefaultExpiration)
	return session, nil
}

func (uc *FeedUsecase) Get(id string) (domain.FeedView, error) {
	session, err := uc.Session(id)
	if err != nil {
		return domain.FeedView{}, err
	}
	return session.Aggregator.Snapshot(), nil
}

func (uc *FeedUsecase) Next(ctx context.Context, id string) (domain.FeedView, error) {
	ctx, span := tracer.Start(ctx, "Feed.Usecase.Next")
	defer span.End()

	session, err := uc.Session(id)
	if err != nil {
		return domain.FeedView{}, err
	}
	err = session.Aggregator.RequestNextPage(ctx)
	return session.Aggregator.Snapshot(), err
}

// Refresh restarts the feed from the beginning of the log and loads one page.
func (uc *FeedUsecase) Refresh(ctx context.Context, id string) (domain.FeedView, error) {
	ctx, span := tracer.Start(ctx, "Feed.Usecase.Refresh")
	defer span.End()

	session, err := uc.Session(id)
	if err != nil {
		return domain.FeedView{}, err
	}
	if !session.Aggregator.Refresh() {
		return session.Aggregator.Snapshot(), nil
	}
	err = session.Aggregator.RequestNextPage(ctx)
	return session.Aggregator.Snapshot(), err
}

func (uc *FeedUsecase) Close(id string) error {
	if _, found := uc.sessions.Get(id); !found {
		return domain.NotFoundError{Resource: "feed"}
	}
	uc.sessions.Delete(id)
	return nil
}

func findPost(view domain.FeedView, subjectID int64) (domain.Post, bool) {
	for _, p := range view.Posts {
		if p.SubjectID == subjectID {
			return p, true
		}
	}
	return domain.Post{}, false
}

// ToggleBookmark flips the bookmark of a post optimistically and settles the
// edit with the outcome of the remote write.
func (uc *FeedUsecase) ToggleBookmark(ctx context.Context, feedID string, subjectID int64, desired bool) (domain.FeedView, error) {
	ctx, span := tracer.Start(ctx, "Feed.Usecase.ToggleBookmark")
	defer span.End()

	if uc.mutations == nil {
		return domain.FeedView{}, ErrMutationDisabled
	}
	session, err := uc.Session(feedID)
	if err != nil {
		return domain.FeedView{}, err
	}
	agg, mut := session.Aggregator, session.Mutator

	post, ok := findPost(agg.Snapshot(), subjectID)
	if !ok {
		return domain.FeedView{}, domain.NotFoundError{Resource: "post"}
	}
	if post.Bookmarked == desired {
		return agg.Snapshot(), nil
	}

	count := post.BookmarkCount + 1
	if !desired {
		count = post.BookmarkCount - 1
	}
	if count < 0 {
		count = 0
	}

	// flag and counter move together
	edits, err := mut.ApplyAll(
		subjectID,
		FieldChange{Field: domain.FieldBookmarked, Pending: desired},
		FieldChange{Field: domain.FieldBookmarkCount, Pending: count},
	)
	if err != nil {
		return domain.FeedView{}, err
	}

	err = uc.mutations.SubmitBookmarkToggle(ctx, subjectID, desired)
	return uc.settle(ctx, session, err, edits...)
}

// Purchase buys one unit of a post, showing the decreased stock immediately.
func (uc *FeedUsecase) Purchase(ctx context.Context, feedID string, subjectID int64) (domain.FeedView, error) {
	ctx, span := tracer.Start(ctx, "Feed.Usecase.Purchase")
	defer span.End()

	if uc.mutations == nil {
		return domain.FeedView{}, ErrMutationDisabled
	}
	session, err := uc.Session(feedID)
	if err != nil {
		return domain.FeedView{}, err
	}

	post, ok := findPost(session.Aggregator.Snapshot(), subjectID)
	if !ok {
		return domain.FeedView{}, domain.NotFoundError{Resource: "post"}
	}
	if post.StockRemaining <= 0 {
		return domain.FeedView{}, fmt.Errorf("%w: article %d is sold out", ErrInvalidRequest, subjectID)
	}

	stockEdit, err := session.Mutator.Apply(subjectID, domain.FieldStockRemaining, post.StockRemaining-1)
	if err != nil {
		return domain.FeedView{}, err
	}

	err = uc.mutations.SubmitPurchase(ctx, subjectID)
	return uc.settle(ctx, session, err, stockEdit)
}

func (uc *FeedUsecase) settle(ctx context.Context, session *FeedSession, writeErr error, edits ...string) (domain.FeedView, error) {
	if writeErr == nil {
		for _, id := range edits {
			_ = session.Mutator.Commit(id)
		}
		return session.Aggregator.Snapshot(), nil
	}

	if err := session.Mutator.RollbackAll(edits...); err != nil {
		slog.ErrorContext(
			ctx, "rollback failed",
			slog.String("edits", strings.Join(edits, ",")),
			slog.String("error", err.Error()),
			slog.String("module", "feed"),
		)
	}
	if !errors.Is(writeErr, domain.ErrWrite) {
		writeErr = domain.WriteError{Op: "submit", Err: writeErr}
	}
	return session.Aggregator.Snapshot(), writeErr
}

// Publish creates a new article on chain and returns its subject id.
func (uc *FeedUsecase) Publish(ctx context.Context, contentID string, price *big.Int, stock int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "Feed.Usecase.Publish")
	defer span.End()

	if uc.mutations == nil {
		return 0, ErrMutationDisabled
	}
	if contentID == "" {
		return 0, fmt.Errorf("%w: content id is required", ErrInvalidRequest)
	}
	if price == nil || price.Sign() < 0 {
		return 0, fmt.Errorf("%w: price must be non-negative", ErrInvalidRequest)
	}
	if stock <= 0 {
		return 0, fmt.Errorf("%w: stock must be positive", ErrInvalidRequest)
	}

	id, err := uc.mutations.SubmitCreate(ctx, contentID, price, stock)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, domain.ErrWrite) {
			err = domain.WriteError{Op: "create", Err: err}
		}
		return 0, err
	}
	return id, nil
}

// Content resolves a single metadata record.
func (uc *FeedUsecase) Content(ctx context.Context, contentID string) (domain.ContentRecord, error) {
	record, err := uc.content.Resolve(ctx, contentID)
	if err != nil {
		return domain.ContentRecord{}, err
	}
	if err := record.Validate(); err != nil {
		return domain.ContentRecord{}, err
	}
	return record, nil
}
