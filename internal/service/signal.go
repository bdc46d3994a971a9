package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/basedfeed/internal/domain"
	"github.com/totegamma/basedfeed/internal/usecase"
)

var tracer = otel.Tracer("service")

const channelPrefix = "basedfeed:events:"

// ChannelFor returns the pubsub channel carrying events of kind.
func ChannelFor(kind domain.EventKind) string {
	return channelPrefix + kind.String()
}

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, event domain.RawEvent) error {
	ctx, span := tracer.Start(ctx, "Signal.Service.Publish")
	defer span.End()

	jsonstr, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to encode event")
	}

	err = s.rdb.Publish(ctx, ChannelFor(event.Kind), jsonstr).Err()
	if err != nil {
		span.RecordError(err)
		return domain.TransportError{Op: "publish", Err: err}
	}

	return nil
}

// Subscribe calls onAppend for every event published under kind until the
// returned function is called.
func (s *SignalService) Subscribe(ctx context.Context, kind domain.EventKind, onAppend func(domain.RawEvent)) (func(), error) {
	pubsub := s.rdb.Subscribe(ctx, ChannelFor(kind))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, domain.TransportError{Op: "subscribe", Err: err}
	}

	messages := pubsub.Channel()
	go func() {
		for msg := range messages {
			event, err := decodeMessage(msg)
			if err != nil {
				slog.WarnContext(
					ctx, "dropping undecodable signal",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()),
					slog.String("module", "signal"),
				)
				continue
			}
			onAppend(event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { pubsub.Close() })
	}, nil
}

// Realtime forwards events for the kinds most recently received on request
// to response until ctx is done. response is never closed here.
func (s *SignalService) Realtime(ctx context.Context, request <-chan []domain.EventKind, response chan<- domain.RawEvent) {
	pubsub := s.rdb.Subscribe(ctx)
	defer pubsub.Close()

	messages := pubsub.Channel()
	var current []string

	for {
		select {
		case <-ctx.Done():
			return
		case kinds, ok := <-request:
			if !ok {
				return
			}
			channels := make([]string, 0, len(kinds))
			for _, kind := range kinds {
				channels = append(channels, ChannelFor(kind))
			}
			if len(current) > 0 {
				if err := pubsub.Unsubscribe(ctx, current...); err != nil {
					slog.ErrorContext(ctx, "failed to unsubscribe", slog.String("error", err.Error()), slog.String("module", "signal"))
				}
			}
			if len(channels) > 0 {
				if err := pubsub.Subscribe(ctx, channels...); err != nil {
					slog.ErrorContext(ctx, "failed to subscribe", slog.String("error", err.Error()), slog.String("module", "signal"))
				}
			}
			current = channels
		case msg, ok := <-messages:
			if !ok {
				return
			}
			event, err := decodeMessage(msg)
			if err != nil {
				continue
			}
			select {
			case response <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func decodeMessage(msg *redis.Message) (domain.RawEvent, error) {
	var event domain.RawEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		return domain.RawEvent{}, err
	}
	return event, nil
}

var (
	_ usecase.SignalPublisher  = (*SignalService)(nil)
	_ usecase.SignalSubscriber = (*SignalService)(nil)
)
