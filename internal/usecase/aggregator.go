package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/basedfeed/internal/domain"
)

var tracer = otel.Tracer("feed")

const (
	DefaultPageSize      = 8
	DefaultConcurrency   = 4
	defaultPurchaseBatch = 256
)

type FeedOptions struct {
	PageSize      int
	Concurrency   int
	PurchaseBatch int
}

func (o FeedOptions) withDefaults() FeedOptions {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.PurchaseBatch <= 0 {
		o.PurchaseBatch = defaultPurchaseBatch
	}
	return o
}

// FeedAggregator pages through the creation stream of the event log and
// maintains the append-only post sequence of one feed instance.
//
// Pages are built off-lock and appended atomically; a feed never has more
// than one page in flight.
type FeedAggregator struct {
	id      string
	policy  domain.JoinPolicy
	source  EventSource
	joiner  *RecordJoiner
	content ContentResolver
	state   SubjectState
	opts    FeedOptions

	mu             sync.Mutex
	status         domain.FeedState
	cursor         domain.PageCursor
	posts          []domain.Post
	index          map[int64]int
	lastErr        error
	dropped        domain.DropStats
	pendingLive    int
	purchases      PurchaseIndex
	purchaseOffset int64
	watchers       map[int]func(domain.FeedView)
	nextWatcher    int
	unsubscribe    func()

	// held across snapshot and delivery so watchers see frames in order
	deliverMu sync.Mutex
}

// NewFeedAggregator builds an idle feed. state may be nil, in which case posts
// carry the values recorded in their creation events.
func NewFeedAggregator(
	id string,
	policy domain.JoinPolicy,
	source EventSource,
	joiner *RecordJoiner,
	content ContentResolver,
	state SubjectState,
	opts FeedOptions,
) *FeedAggregator {
	return &FeedAggregator{
		id:        id,
		policy:    policy,
		source:    source,
		joiner:    joiner,
		content:   content,
		state:     state,
		opts:      opts.withDefaults(),
		status:    domain.FeedStateIdle,
		cursor:    domain.PageCursor{FeedID: id},
		index:     make(map[int64]int),
		purchases: make(PurchaseIndex),
		watchers:  make(map[int]func(domain.FeedView)),
	}
}

func (a *FeedAggregator) ID() string { return a.id }

func (a *FeedAggregator) Policy() domain.JoinPolicy { return a.policy }

// Start subscribes to live creation appends. Appends never move the cursor;
// they are only counted until the consumer refreshes the feed.
func (a *FeedAggregator) Start(ctx context.Context) error {
	unsubscribe, err := a.source.Subscribe(ctx, domain.EventKindCreation, a.onAppend)
	if err != nil {
		return err
	}
	a.mu.Lock()
	prev := a.unsubscribe
	a.unsubscribe = unsubscribe
	a.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

func (a *FeedAggregator) Close() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (a *FeedAggregator) onAppend(domain.RawEvent) {
	a.mu.Lock()
	a.pendingLive++
	a.mu.Unlock()
	a.notify()
}

type pageResult struct {
	raw            int
	posts          []domain.Post
	dropped        domain.DropStats
	purchases      PurchaseIndex
	purchaseOffset int64
}

// RequestNextPage loads the next page and appends its surviving posts. It is a
// no-op while a page is loading or once the feed is exhausted. On failure the
// cursor is left untouched so that a retry fetches the same range.
func (a *FeedAggregator) RequestNextPage(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Feed.Usecase.RequestNextPage")
	defer span.End()

	a.mu.Lock()
	if a.status == domain.FeedStateLoading || a.cursor.Exhausted {
		a.mu.Unlock()
		return nil
	}
	a.status = domain.FeedStateLoading
	from := a.cursor.NextRawOffset
	purchases := make(PurchaseIndex, len(a.purchases))
	for k, v := range a.purchases {
		purchases[k] = v
	}
	purchaseOffset := a.purchaseOffset
	a.mu.Unlock()
	a.notify()

	span.SetAttributes(
		attribute.String("feed", a.id),
		attribute.Int64("offset", from),
	)

	page, err := a.loadPage(ctx, from, purchases, purchaseOffset)

	a.mu.Lock()
	if err != nil {
		if ctx.Err() != nil {
			// abandoned by the consumer; behave as if the page never started
			a.status = domain.FeedStateIdle
		} else {
			a.status = domain.FeedStateError
			a.lastErr = err
		}
		a.mu.Unlock()
		span.RecordError(err)
		a.notify()
		return err
	}

	for _, post := range page.posts {
		if _, dup := a.index[post.SubjectID]; dup {
			page.dropped.Duplicates++
			continue
		}
		a.index[post.SubjectID] = len(a.posts)
		a.posts = append(a.posts, post)
	}
	a.cursor.Advance(page.raw, a.opts.PageSize)
	a.purchases = page.purchases
	a.purchaseOffset = page.purchaseOffset
	a.dropped.NotFound += page.dropped.NotFound
	a.dropped.Malformed += page.dropped.Malformed
	a.dropped.Transport += page.dropped.Transport
	a.dropped.Duplicates += page.dropped.Duplicates
	a.status = domain.FeedStateIdle
	a.lastErr = nil
	a.mu.Unlock()

	span.SetAttributes(
		attribute.Int("raw", page.raw),
		attribute.Int("appended", len(page.posts)-page.dropped.Duplicates),
	)
	a.notify()
	return nil
}

func (a *FeedAggregator) loadPage(ctx context.Context, from int64, purchases PurchaseIndex, purchaseOffset int64) (pageResult, error) {

	raw, err := a.source.FetchRange(ctx, domain.EventKindCreation, from, a.opts.PageSize)
	if err != nil {
		return pageResult{}, asTransportError("fetch creations", err)
	}

	if a.policy.Variant == domain.FeedBought {
		purchaseOffset, err = a.topUpPurchases(ctx, purchases, purchaseOffset)
		if err != nil {
			return pageResult{}, err
		}
	}

	candidates, err := a.joiner.Join(ctx, a.policy, raw, purchases)
	if err != nil {
		return pageResult{}, err
	}

	errs := make([]error, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			errs[i] = a.resolveCandidate(gctx, &candidates[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return pageResult{}, err
	}

	result := pageResult{
		raw:            len(raw),
		posts:          make([]domain.Post, 0, len(candidates)),
		purchases:      purchases,
		purchaseOffset: purchaseOffset,
	}
	for i, candidate := range candidates {
		if err := errs[i]; err != nil {
			switch {
			case errors.Is(err, domain.ErrMalformedRecord):
				result.dropped.Malformed++
			case errors.Is(err, domain.ErrNotFound):
				result.dropped.NotFound++
			default:
				result.dropped.Transport++
			}
			slog.WarnContext(
				ctx, "dropping feed candidate",
				slog.String("feed", a.id),
				slog.Int64("subject", candidate.SubjectID),
				slog.String("contentId", candidate.ContentID),
				slog.String("error", err.Error()),
				slog.String("module", "feed"),
			)
			continue
		}
		result.posts = append(result.posts, candidate)
	}

	return result, nil
}

// topUpPurchases reads purchase events past offset until a short batch.
func (a *FeedAggregator) topUpPurchases(ctx context.Context, purchases PurchaseIndex, offset int64) (int64, error) {
	for {
		batch, err := a.source.FetchRange(ctx, domain.EventKindPurchase, offset, a.opts.PurchaseBatch)
		if err != nil {
			return offset, asTransportError("fetch purchases", err)
		}
		purchases.Add(a.policy.Viewer, batch)
		offset += int64(len(batch))
		if len(batch) < a.opts.PurchaseBatch {
			return offset, nil
		}
	}
}

func (a *FeedAggregator) resolveCandidate(ctx context.Context, post *domain.Post) error {
	if post.ContentID == "" {
		return domain.MalformedRecordError{Reason: "missing token uri"}
	}

	record, err := a.content.Resolve(ctx, post.ContentID)
	if err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}
	post.Content = &record

	if a.state != nil {
		a.enrich(ctx, post)
	}
	return nil
}

// enrich overlays live subject state, reading the fields concurrently.
// Failures keep the creation values.
func (a *FeedAggregator) enrich(ctx context.Context, post *domain.Post) {
	var (
		g          errgroup.Group
		bookmarked = post.Bookmarked
		count      = post.BookmarkCount
		stock      = post.StockRemaining
	)

	if a.policy.Variant != domain.FeedBookmarked && a.policy.Viewer != (common.Address{}) {
		g.Go(func() error {
			v, err := a.state.IsBookmarked(ctx, a.policy.Viewer, post.SubjectID)
			if err != nil {
				a.logEnrichError(ctx, post.SubjectID, "bookmarked", err)
				return nil
			}
			bookmarked = v
			return nil
		})
	}
	g.Go(func() error {
		v, err := a.state.BookmarkCount(ctx, post.SubjectID)
		if err != nil {
			a.logEnrichError(ctx, post.SubjectID, "bookmarkCount", err)
			return nil
		}
		count = v
		return nil
	})
	g.Go(func() error {
		v, err := a.state.StockRemaining(ctx, post.SubjectID)
		if err != nil {
			a.logEnrichError(ctx, post.SubjectID, "stockRemaining", err)
			return nil
		}
		stock = v
		return nil
	})
	_ = g.Wait()

	post.Bookmarked = bookmarked
	post.BookmarkCount = count
	post.StockRemaining = stock
}

func (a *FeedAggregator) logEnrichError(ctx context.Context, subjectID int64, field string, err error) {
	slog.DebugContext(
		ctx, "subject state lookup failed",
		slog.String("feed", a.id),
		slog.Int64("subject", subjectID),
		slog.String("field", field),
		slog.String("error", err.Error()),
		slog.String("module", "feed"),
	)
}

// Refresh starts a new feed lifetime from offset zero. It returns false while
// a page is loading.
func (a *FeedAggregator) Refresh() bool {
	a.mu.Lock()
	if a.status == domain.FeedStateLoading {
		a.mu.Unlock()
		return false
	}
	a.status = domain.FeedStateIdle
	a.cursor = domain.PageCursor{FeedID: a.id}
	a.posts = nil
	a.index = make(map[int64]int)
	a.lastErr = nil
	a.dropped = domain.DropStats{}
	a.pendingLive = 0
	a.purchases = make(PurchaseIndex)
	a.purchaseOffset = 0
	a.mu.Unlock()
	a.notify()
	return true
}

// Patch applies fn to the post with subjectID while holding the view lock.
func (a *FeedAggregator) Patch(subjectID int64, fn func(*domain.Post) error) error {
	a.mu.Lock()
	i, ok := a.index[subjectID]
	if !ok {
		a.mu.Unlock()
		return domain.NotFoundError{Resource: "post"}
	}
	err := fn(&a.posts[i])
	a.mu.Unlock()
	if err != nil {
		return err
	}
	a.notify()
	return nil
}

func (a *FeedAggregator) Snapshot() domain.FeedView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *FeedAggregator) snapshotLocked() domain.FeedView {
	posts := make([]domain.Post, len(a.posts))
	for i, p := range a.posts {
		posts[i] = p.Clone()
	}
	view := domain.FeedView{
		FeedID:      a.id,
		Variant:     a.policy.Variant,
		Viewer:      a.policy.Viewer,
		State:       a.status,
		HasMore:     !a.cursor.Exhausted,
		Cursor:      a.cursor,
		Posts:       posts,
		Dropped:     a.dropped,
		PendingLive: a.pendingLive,
	}
	if a.lastErr != nil {
		view.Err = a.lastErr.Error()
	}
	return view
}

// Err returns the cause of the current Error state.
func (a *FeedAggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Watch registers fn to receive a snapshot after every change. Deliveries are
// serialized and in change order; fn must not modify the feed.
func (a *FeedAggregator) Watch(fn func(domain.FeedView)) func() {
	a.mu.Lock()
	id := a.nextWatcher
	a.nextWatcher++
	a.watchers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.watchers, id)
		a.mu.Unlock()
	}
}

func (a *FeedAggregator) notify() {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()

	a.mu.Lock()
	if len(a.watchers) == 0 {
		a.mu.Unlock()
		return
	}
	view := a.snapshotLocked()
	fns := make([]func(domain.FeedView), 0, len(a.watchers))
	for _, fn := range a.watchers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

func asTransportError(op string, err error) error {
	if errors.Is(err, domain.ErrTransport) || errors.Is(err, context.Canceled) {
		return err
	}
	return domain.TransportError{Op: op, Err: err}
}
