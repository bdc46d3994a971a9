package usecase

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/totegamma/basedfeed/internal/domain"
)

// EventSource is the append-only event log. FetchRange never pads: when fewer
// than count events exist past fromOffset the returned slice is shorter.
type EventSource interface {
	FetchRange(ctx context.Context, kind domain.EventKind, fromOffset int64, count int) ([]domain.RawEvent, error)
	Subscribe(ctx context.Context, kind domain.EventKind, onAppend func(domain.RawEvent)) (func(), error)
}

// ContentResolver maps a content identifier to its metadata record.
type ContentResolver interface {
	Resolve(ctx context.Context, contentID string) (domain.ContentRecord, error)
}

// BookmarkState answers point lookups against current on-chain bookmark state.
type BookmarkState interface {
	IsBookmarked(ctx context.Context, viewer common.Address, subjectID int64) (bool, error)
}

// SubjectState extends BookmarkState with the live counters shown on a post.
type SubjectState interface {
	BookmarkState
	BookmarkCount(ctx context.Context, subjectID int64) (int64, error)
	StockRemaining(ctx context.Context, subjectID int64) (int64, error)
}

// MutationGateway submits writes whose outcome settles optimistic edits.
type MutationGateway interface {
	SubmitBookmarkToggle(ctx context.Context, subjectID int64, desired bool) error
	SubmitPurchase(ctx context.Context, subjectID int64) error
	SubmitCreate(ctx context.Context, contentID string, price *big.Int, stock int64) (int64, error)
}

// EventStore is the writable side of an indexed event log mirror.
type EventStore interface {
	Append(ctx context.Context, events []domain.RawEvent) error
	Count(ctx context.Context, kind domain.EventKind) (int64, error)
}

// SignalPublisher fans appended events out to live listeners.
type SignalPublisher interface {
	Publish(ctx context.Context, event domain.RawEvent) error
}

// SignalSubscriber delivers events published through a SignalPublisher.
type SignalSubscriber interface {
	Subscribe(ctx context.Context, kind domain.EventKind, onAppend func(domain.RawEvent)) (func(), error)
}
