package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type ctxKey string

const ViewerCtxKey ctxKey = "viewer"

// ViewerFromContext returns the viewer address attached by the REST layer.
func ViewerFromContext(ctx context.Context) (common.Address, bool) {
	viewer, ok := ctx.Value(ViewerCtxKey).(common.Address)
	return viewer, ok
}
