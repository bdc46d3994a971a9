package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/totegamma/basedfeed"
	"github.com/totegamma/basedfeed/internal/domain"
	"github.com/totegamma/basedfeed/internal/present/rest/presenter"
	"github.com/totegamma/basedfeed/internal/service"
	"github.com/totegamma/basedfeed/internal/usecase"
)

type Handler struct {
	feed   *usecase.FeedUsecase
	signal *service.SignalService
}

// NewHandler builds the REST handler. signal may be nil, which disables the
// realtime stream.
func NewHandler(
	feed *usecase.FeedUsecase,
	signal *service.SignalService,
) *Handler {
	return &Handler{
		feed:   feed,
		signal: signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/v1/feeds", h.handleOpenFeed)
	e.GET("/api/v1/feeds/:id", h.handleGetFeed)
	e.POST("/api/v1/feeds/:id/next", h.handleNextPage)
	e.POST("/api/v1/feeds/:id/refresh", h.handleRefresh)
	e.DELETE("/api/v1/feeds/:id", h.handleCloseFeed)
	e.POST("/api/v1/feeds/:id/posts/:subject/bookmark", h.handleBookmark)
	e.POST("/api/v1/feeds/:id/posts/:subject/purchase", h.handlePurchase)
	e.POST("/api/v1/articles", h.handlePublish)
	e.GET("/api/v1/content/:cid", h.handleContent)
	e.GET("/realtime", h.handleRealtime)
}

// fail maps domain and usecase errors onto status codes.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		return presenter.BadRequest(c, err)
	case errors.Is(err, usecase.ErrMutationDisabled):
		return presenter.NotImplemented(c, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrMalformedRecord):
		return presenter.UnprocessableEntity(c, err)
	case errors.Is(err, domain.ErrWrite):
		return presenter.BadGateway(c, err)
	case errors.Is(err, domain.ErrTransport):
		return presenter.ServiceUnavailable(c, err)
	case errors.Is(err, context.Canceled):
		return c.NoContent(499)
	default:
		return presenter.InternalError(c, err)
	}
}

func (h *Handler) handleOpenFeed(c echo.Context) error {
	ctx := c.Request().Context()

	var req basedfeed.OpenFeedRequest
	err := c.Bind(&req)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	viewer, err := basedfeed.ParseAddress(req.Viewer)
	if err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.Viewer == "" {
		if v, ok := domain.ViewerFromContext(ctx); ok {
			viewer = v
		}
	}
	if req.PageSize < 0 || req.PageSize > 64 {
		return presenter.BadRequestMessage(c, "invalid pageSize parameter")
	}

	view, err := h.feed.Open(ctx, domain.FeedVariant(req.Variant), viewer, req.PageSize)
	if err != nil {
		return fail(c, err)
	}
	return presenter.Created(c, view)
}

func (h *Handler) handleGetFeed(c echo.Context) error {
	view, err := h.feed.Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, view)
}

func (h *Handler) handleNextPage(c echo.Context) error {
	view, err := h.feed.Next(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, view)
}

func (h *Handler) handleRefresh(c echo.Context) error {
	view, err := h.feed.Refresh(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, view)
}

func (h *Handler) handleCloseFeed(c echo.Context) error {
	err := h.feed.Close(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseSubject(c echo.Context) (int64, error) {
	subject, err := strconv.ParseInt(c.Param("subject"), 10, 64)
	if err != nil || subject < 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Param("subject"))
	}
	return subject, nil
}

func (h *Handler) handleBookmark(c echo.Context) error {
	ctx := c.Request().Context()

	subject, err := parseSubject(c)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	var req basedfeed.BookmarkRequest
	err = c.Bind(&req)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	view, err := h.feed.ToggleBookmark(ctx, c.Param("id"), subject, req.Bookmarked)
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, view)
}

func (h *Handler) handlePurchase(c echo.Context) error {
	ctx := c.Request().Context()

	subject, err := parseSubject(c)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	view, err := h.feed.Purchase(ctx, c.Param("id"), subject)
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, view)
}

func (h *Handler) handlePublish(c echo.Context) error {
	ctx := c.Request().Context()

	var req basedfeed.ArticleRequest
	err := c.Bind(&req)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	price, ok := new(big.Int).SetString(req.Price, 10)
	if !ok {
		return presenter.BadRequestMessage(c, "price must be a decimal integer in wei")
	}

	id, err := h.feed.Publish(ctx, basedfeed.ContentIDFromURI(req.ContentID), price, req.Stock)
	if err != nil {
		return fail(c, err)
	}
	return presenter.Created(c, echo.Map{"subjectId": id})
}

func (h *Handler) handleContent(c echo.Context) error {
	record, err := h.feed.Content(c.Request().Context(), c.Param("cid"))
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, record)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Request struct {
	Type  string   `json:"type"`
	Kinds []string `json:"kinds"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	if h.signal == nil {
		return presenter.NotImplemented(c, "realtime stream not configured")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	input := make(chan []domain.EventKind)
	output := make(chan domain.RawEvent)

	go h.signal.Realtime(ctx, input, output)

	quit := make(chan struct{})

	go func() {
		defer close(quit)
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {

				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				return
			}

			switch req.Type {
			case "listen":
				kinds := make([]domain.EventKind, 0, len(req.Kinds))
				for _, k := range req.Kinds {
					if kind := domain.ParseEventKind(k); kind != domain.EventKindUnknown {
						kinds = append(kinds, kind)
					}
				}
				select {
				case input <- kinds:
				case <-ctx.Done():
					return
				}
				slog.DebugContext(
					ctx, fmt.Sprintf("Socket subscribe: %s", req.Kinds),
					slog.String("module", "socket"),
				)
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event := <-output:
			err := ws.WriteJSON(event)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
