package repository

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/basedfeed/internal/domain"
	"github.com/totegamma/basedfeed/internal/infra/database/models"
	"github.com/totegamma/basedfeed/internal/usecase"
)

// EventRepository is an indexed mirror of the contract event log. It serves
// feeds without touching the chain; live appends arrive through the signal
// subscriber.
type EventRepository struct {
	db     *gorm.DB
	signal usecase.SignalSubscriber
}

// NewEventRepository builds the repository. signal may be nil, in which case
// Subscribe is unavailable.
func NewEventRepository(db *gorm.DB, signal usecase.SignalSubscriber) *EventRepository {
	return &EventRepository{db: db, signal: signal}
}

func (r *EventRepository) FetchRange(ctx context.Context, kind domain.EventKind, from int64, count int) ([]domain.RawEvent, error) {
	if from < 0 || count <= 0 {
		return nil, nil
	}

	var rows []models.Event
	err := r.db.WithContext(ctx).
		Where("kind = ?", kind.String()).
		Order("log_index ASC").
		Offset(int(from)).
		Limit(count).
		Find(&rows).Error
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.TransportError{Op: "query events", Err: err}
	}

	events := make([]domain.RawEvent, 0, len(rows))
	for _, row := range rows {
		event, err := toRawEvent(row)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt event row %s/%d", row.Kind, row.LogIndex)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *EventRepository) Subscribe(ctx context.Context, kind domain.EventKind, onAppend func(domain.RawEvent)) (func(), error) {
	if r.signal == nil {
		return nil, errors.New("live updates are not configured")
	}
	return r.signal.Subscribe(ctx, kind, onAppend)
}

// Append stores events, ignoring ones already mirrored.
func (r *EventRepository) Append(ctx context.Context, events []domain.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]models.Event, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(domain.EncodePayload(e.Payload))
		if err != nil {
			return errors.Wrap(err, "failed to encode payload")
		}
		rows = append(rows, models.Event{
			Kind:      e.Kind.String(),
			LogIndex:  e.LogIndex,
			SubjectID: e.SubjectID,
			Actor:     e.Actor.Hex(),
			Payload:   string(payload),
		})
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&rows).Error
	if err != nil {
		return domain.TransportError{Op: "insert events", Err: err}
	}
	return nil
}

func (r *EventRepository) Count(ctx context.Context, kind domain.EventKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("kind = ?", kind.String()).
		Count(&count).Error
	if err != nil {
		return 0, domain.TransportError{Op: "count events", Err: err}
	}
	return count, nil
}

func toRawEvent(row models.Event) (domain.RawEvent, error) {
	var payload map[string]any
	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			return domain.RawEvent{}, err
		}
	}
	return domain.RawEvent{
		Kind:      domain.ParseEventKind(row.Kind),
		SubjectID: row.SubjectID,
		Actor:     common.HexToAddress(row.Actor),
		Payload:   payload,
		LogIndex:  row.LogIndex,
	}, nil
}

var (
	_ usecase.EventSource = (*EventRepository)(nil)
	_ usecase.EventStore  = (*EventRepository)(nil)
)
