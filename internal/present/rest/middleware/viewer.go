package middleware

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/basedfeed"
	"github.com/totegamma/basedfeed/internal/domain"
)

var tracer = otel.Tracer("middleware")

const ViewerHeader = "X-Viewer-Address"

// IdentifyViewer attaches the wallet address named by the viewer header to the
// request context. The address is taken at face value: it only selects which
// feed to build and grants nothing.
func IdentifyViewer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Rest.Middleware.IdentifyViewer")
		defer span.End()

		header := c.Request().Header.Get(ViewerHeader)
		if header != "" {
			viewer, err := basedfeed.ParseAddress(header)
			if err != nil {
				span.RecordError(fmt.Errorf("invalid viewer header: %w", err))
				goto skipViewer
			}
			ctx = context.WithValue(ctx, domain.ViewerCtxKey, viewer)
			span.SetAttributes(attribute.String("Viewer", viewer.Hex()))
		}

	skipViewer:
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
