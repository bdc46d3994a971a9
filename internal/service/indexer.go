package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/totegamma/basedfeed/internal/domain"
	"github.com/totegamma/basedfeed/internal/usecase"
)

const (
	defaultIndexBatch    = 200
	defaultIndexInterval = 15 * time.Second
)

var indexedKinds = []domain.EventKind{
	domain.EventKindCreation,
	domain.EventKindPurchase,
}

// Indexer copies the contract event log into an EventStore. Live chain
// notifications only trigger a catch-up from the stored count, so the mirror
// always holds a gapless prefix of the log.
type Indexer struct {
	source   usecase.EventSource
	store    usecase.EventStore
	signal   usecase.SignalPublisher
	batch    int
	interval time.Duration
}

// NewIndexer builds an indexer. signal may be nil.
func NewIndexer(source usecase.EventSource, store usecase.EventStore, signal usecase.SignalPublisher, batch int, interval time.Duration) *Indexer {
	if batch <= 0 {
		batch = defaultIndexBatch
	}
	if interval <= 0 {
		interval = defaultIndexInterval
	}
	return &Indexer{
		source:   source,
		store:    store,
		signal:   signal,
		batch:    batch,
		interval: interval,
	}
}

// Sync appends every event of kind the store is missing and returns how many
// were added.
func (i *Indexer) Sync(ctx context.Context, kind domain.EventKind) (int, error) {
	ctx, span := tracer.Start(ctx, "Indexer.Service.Sync")
	defer span.End()

	offset, err := i.store.Count(ctx, kind)
	if err != nil {
		span.RecordError(err)
		return 0, errors.Wrap(err, "failed to count stored events")
	}

	added := 0
	for {
		events, err := i.source.FetchRange(ctx, kind, offset, i.batch)
		if err != nil {
			span.RecordError(err)
			return added, errors.Wrap(err, "failed to fetch events")
		}
		if len(events) == 0 {
			return added, nil
		}

		if err := i.store.Append(ctx, events); err != nil {
			span.RecordError(err)
			return added, errors.Wrap(err, "failed to store events")
		}
		after, err := i.store.Count(ctx, kind)
		if err != nil {
			span.RecordError(err)
			return added, errors.Wrap(err, "failed to count stored events")
		}
		// conflicting rows are skipped on insert, so the count is the only progress signal
		if after <= offset {
			err := errors.Errorf("index for %s did not advance past %d", kind, offset)
			span.RecordError(err)
			return added, err
		}
		added += int(after - offset)

		if i.signal != nil {
			for _, event := range events {
				if err := i.signal.Publish(ctx, event); err != nil {
					slog.WarnContext(
						ctx, "failed to publish event",
						slog.String("kind", kind.String()),
						slog.Int64("subject", event.SubjectID),
						slog.String("error", err.Error()),
						slog.String("module", "indexer"),
					)
				}
			}
		}

		if len(events) < i.batch {
			return added, nil
		}
		offset = after
	}
}

func (i *Indexer) syncAll(ctx context.Context) {
	for _, kind := range indexedKinds {
		added, err := i.Sync(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(
				ctx, "index sync failed",
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()),
				slog.String("module", "indexer"),
			)
			continue
		}
		if added > 0 {
			slog.InfoContext(
				ctx, "indexed events",
				slog.String("kind", kind.String()),
				slog.Int("count", added),
				slog.String("module", "indexer"),
			)
		}
	}
}

// Run syncs on start, on every live notification and on every interval tick
// until ctx is done.
func (i *Indexer) Run(ctx context.Context) {
	nudge := make(chan struct{}, 1)
	notify := func(domain.RawEvent) {
		select {
		case nudge <- struct{}{}:
		default:
		}
	}

	for _, kind := range indexedKinds {
		unsubscribe, err := i.source.Subscribe(ctx, kind, notify)
		if err != nil {
			slog.WarnContext(
				ctx, "live notifications unavailable, polling only",
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()),
				slog.String("module", "indexer"),
			)
			continue
		}
		defer unsubscribe()
	}

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	i.syncAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-nudge:
			i.syncAll(ctx)
		case <-ticker.C:
			i.syncAll(ctx)
		}
	}
}
