package chain

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/basedfeed/internal/domain"
	"github.com/totegamma/basedfeed/internal/usecase"
)

const defaultScanBlockSpan = 2000

// LogBackend is the log access the event source needs.
type LogBackend interface {
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

type logUnpacker interface {
	UnpackLogIntoMap(out map[string]any, event string, log types.Log) error
}

// kindIndex is the decoded, append-only log of one event kind.
type kindIndex struct {
	mu        sync.Mutex
	events    []domain.RawEvent
	nextBlock uint64
}

// EventSource serves the contract's event log by ordinal offset. Logs are
// scanned lazily, in block windows, only as far as a request needs.
type EventSource struct {
	backend    LogBackend
	address    common.Address
	abi        abi.ABI
	contract   *bind.BoundContract
	startBlock uint64
	blockSpan  uint64

	mu      sync.Mutex
	indexes map[domain.EventKind]*kindIndex
}

func NewEventSource(backend LogBackend, address common.Address, startBlock, blockSpan uint64) (*EventSource, error) {
	parsed, err := ParseShopABI()
	if err != nil {
		return nil, err
	}
	if blockSpan == 0 {
		blockSpan = defaultScanBlockSpan
	}
	return &EventSource{
		backend:    backend,
		address:    address,
		abi:        parsed,
		contract:   bind.NewBoundContract(address, parsed, nil, nil, nil),
		startBlock: startBlock,
		blockSpan:  blockSpan,
		indexes:    make(map[domain.EventKind]*kindIndex),
	}, nil
}

func (s *EventSource) index(kind domain.EventKind) *kindIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[kind]
	if !ok {
		idx = &kindIndex{nextBlock: s.startBlock}
		s.indexes[kind] = idx
	}
	return idx
}

// FetchRange returns up to count events of kind starting at the given ordinal.
func (s *EventSource) FetchRange(ctx context.Context, kind domain.EventKind, from int64, count int) ([]domain.RawEvent, error) {
	ctx, span := tracer.Start(ctx, "Chain.EventSource.FetchRange")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", kind.String()),
		attribute.Int64("from", from),
		attribute.Int("count", count),
	)

	if _, ok := eventName(kind); !ok {
		return nil, errors.Errorf("unsupported event kind %s", kind)
	}
	if from < 0 || count <= 0 {
		return nil, nil
	}

	idx := s.index(kind)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	want := from + int64(count)
	if int64(len(idx.events)) < want {
		if err := s.scan(ctx, kind, idx, want); err != nil {
			span.RecordError(err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, domain.TransportError{Op: "fetch " + kind.String(), Err: err}
		}
	}

	if from >= int64(len(idx.events)) {
		return nil, nil
	}
	end := want
	if end > int64(len(idx.events)) {
		end = int64(len(idx.events))
	}
	return append([]domain.RawEvent(nil), idx.events[from:end]...), nil
}

// scan extends idx until it holds want events or reaches the current head.
// Only whole windows are committed, so a failed scan is retried from the
// same block.
func (s *EventSource) scan(ctx context.Context, kind domain.EventKind, idx *kindIndex, want int64) error {
	head, err := s.backend.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get block number")
	}

	name, _ := eventName(kind)
	topic := s.abi.Events[name].ID

	for idx.nextBlock <= head && int64(len(idx.events)) < want {
		to := idx.nextBlock + s.blockSpan - 1
		if to > head {
			to = head
		}

		logs, err := s.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(idx.nextBlock),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{s.address},
			Topics:    [][]common.Hash{{topic}},
		})
		if err != nil {
			return errors.Wrapf(err, "failed to filter logs %d-%d", idx.nextBlock, to)
		}

		sort.SliceStable(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		for _, l := range logs {
			if l.Removed {
				continue
			}
			event, err := decodeLog(s.contract, kind, l)
			if err != nil {
				slog.WarnContext(
					ctx, "skipping undecodable log",
					slog.String("kind", kind.String()),
					slog.String("tx", l.TxHash.Hex()),
					slog.String("error", err.Error()),
					slog.String("module", "chain"),
				)
				continue
			}
			idx.events = append(idx.events, event)
		}
		idx.nextBlock = to + 1
	}
	return nil
}

// Subscribe delivers events of kind appended after the call.
func (s *EventSource) Subscribe(ctx context.Context, kind domain.EventKind, onAppend func(domain.RawEvent)) (func(), error) {
	name, ok := eventName(kind)
	if !ok {
		return nil, errors.Errorf("unsupported event kind %s", kind)
	}

	logs := make(chan types.Log, 64)
	sub, err := s.backend.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{s.address},
		Topics:    [][]common.Hash{{s.abi.Events[name].ID}},
	}, logs)
	if err != nil {
		return nil, domain.TransportError{Op: "subscribe " + kind.String(), Err: err}
	}

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			sub.Unsubscribe()
		})
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				unsubscribe()
				return
			case err := <-sub.Err():
				if err != nil {
					slog.WarnContext(
						ctx, "log subscription dropped",
						slog.String("kind", kind.String()),
						slog.String("error", err.Error()),
						slog.String("module", "chain"),
					)
				}
				return
			case l := <-logs:
				if l.Removed {
					continue
				}
				event, err := decodeLog(s.contract, kind, l)
				if err != nil {
					slog.WarnContext(
						ctx, "skipping undecodable log",
						slog.String("kind", kind.String()),
						slog.String("error", err.Error()),
						slog.String("module", "chain"),
					)
					continue
				}
				onAppend(event)
			}
		}
	}()

	return unsubscribe, nil
}

func decodeLog(contract logUnpacker, kind domain.EventKind, l types.Log) (domain.RawEvent, error) {
	name, ok := eventName(kind)
	if !ok {
		return domain.RawEvent{}, errors.Errorf("unsupported event kind %s", kind)
	}

	fields := make(map[string]any)
	if err := contract.UnpackLogIntoMap(fields, name, l); err != nil {
		return domain.RawEvent{}, errors.Wrapf(err, "failed to unpack %s", name)
	}

	id, err := subjectID(fields[argArticleID])
	if err != nil {
		return domain.RawEvent{}, err
	}

	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case argArticleID, argUser, argBuyer:
			continue
		}
		payload[k] = v
	}

	return domain.RawEvent{
		Kind:      kind,
		SubjectID: id,
		Actor:     actorFrom(fields),
		Payload:   payload,
		LogIndex:  domain.LogPosition(l.BlockNumber, l.Index),
	}, nil
}

var _ usecase.EventSource = (*EventSource)(nil)
