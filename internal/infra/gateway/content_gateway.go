package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/patrickmn/go-cache"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"github.com/totegamma/basedfeed"
	"github.com/totegamma/basedfeed/client"
	"github.com/totegamma/basedfeed/internal/domain"
	"github.com/totegamma/basedfeed/internal/usecase"
)

var tracer = otel.Tracer("gateway")

// ContentGateway resolves metadata documents through an IPFS HTTP gateway.
// Records are content addressed and never change, so they are cached for the
// life of the process and, when memcached is configured, shared between
// processes.
type ContentGateway struct {
	client  *client.Client
	gateway string
	cache   *cache.Cache
	mc      *memcache.Client
	group   singleflight.Group
}

// NewContentGateway builds a gateway. mc may be nil.
func NewContentGateway(cl *client.Client, gateway string, mc *memcache.Client) *ContentGateway {
	if gateway == "" {
		gateway = basedfeed.DefaultGateway
	}
	return &ContentGateway{
		client:  cl,
		gateway: gateway,
		cache:   cache.New(cache.NoExpiration, 0),
		mc:      mc,
	}
}

func (g *ContentGateway) Resolve(ctx context.Context, contentID string) (domain.ContentRecord, error) {
	ctx, span := tracer.Start(ctx, "Content.Gateway.Resolve")
	defer span.End()

	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return domain.ContentRecord{}, domain.MalformedRecordError{Reason: "empty content id"}
	}

	if cached, found := g.cache.Get(contentID); found {
		return cached.(domain.ContentRecord), nil
	}

	// the shared fetch must not die with whichever caller started it
	ch := g.group.DoChan(contentID, func() (any, error) {
		return g.fetch(context.WithoutCancel(ctx), contentID)
	})

	select {
	case <-ctx.Done():
		return domain.ContentRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			return domain.ContentRecord{}, res.Err
		}
		return res.Val.(domain.ContentRecord), nil
	}
}

func (g *ContentGateway) fetch(ctx context.Context, contentID string) (domain.ContentRecord, error) {
	if record, ok := g.loadShared(ctx, contentID); ok {
		g.cache.Set(contentID, record, cache.NoExpiration)
		return record, nil
	}

	var meta basedfeed.Metadata
	err := g.client.GetJSON(ctx, basedfeed.ComposeGatewayURL(g.gateway, contentID), &meta)
	if err != nil {
		var status *client.StatusError
		switch {
		case errors.As(err, &status) && (status.Code == http.StatusNotFound || status.Code == http.StatusGone):
			return domain.ContentRecord{}, domain.NotFoundError{Resource: "content " + contentID}
		case errors.Is(err, client.ErrDecode):
			return domain.ContentRecord{}, domain.MalformedRecordError{ContentID: contentID, Reason: err.Error()}
		default:
			return domain.ContentRecord{}, domain.TransportError{Op: "fetch content " + contentID, Err: err}
		}
	}

	if missing := meta.Missing(); len(missing) > 0 {
		return domain.ContentRecord{}, domain.MalformedRecordError{
			ContentID: contentID,
			Reason:    fmt.Sprintf("missing %s", strings.Join(missing, ", ")),
		}
	}

	record := toRecord(contentID, meta)
	g.cache.Set(contentID, record, cache.NoExpiration)
	g.storeShared(ctx, record)
	return record, nil
}

func toRecord(contentID string, meta basedfeed.Metadata) domain.ContentRecord {
	record := domain.ContentRecord{
		ContentID:    contentID,
		Name:         *meta.Name,
		Description:  *meta.Description,
		ImageURI:     *meta.Image,
		AnimationURL: meta.AnimationURL,
		ExternalURL:  meta.ExternalURL,
		Attributes:   make([]domain.Attribute, 0, len(*meta.Attributes)),
	}
	for _, a := range *meta.Attributes {
		record.Attributes = append(record.Attributes, domain.Attribute{TraitType: a.TraitType, Value: a.Value})
	}
	return record
}

func sharedKey(contentID string) string {
	return fmt.Sprintf("content:%016x", xxh3.HashString(contentID))
}

func (g *ContentGateway) loadShared(ctx context.Context, contentID string) (domain.ContentRecord, bool) {
	if g.mc == nil {
		return domain.ContentRecord{}, false
	}
	item, err := g.mc.Get(sharedKey(contentID))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.DebugContext(
				ctx, "memcache get failed",
				slog.String("error", err.Error()),
				slog.String("module", "gateway"),
			)
		}
		return domain.ContentRecord{}, false
	}
	var record domain.ContentRecord
	if err := json.Unmarshal(item.Value, &record); err != nil || record.ContentID != contentID {
		return domain.ContentRecord{}, false
	}
	return record, true
}

func (g *ContentGateway) storeShared(ctx context.Context, record domain.ContentRecord) {
	if g.mc == nil {
		return
	}
	value, err := json.Marshal(record)
	if err != nil {
		return
	}
	err = g.mc.Set(&memcache.Item{Key: sharedKey(record.ContentID), Value: value})
	if err != nil {
		slog.DebugContext(
			ctx, "memcache set failed",
			slog.String("error", err.Error()),
			slog.String("module", "gateway"),
		)
	}
}

var _ usecase.ContentResolver = (*ContentGateway)(nil)
