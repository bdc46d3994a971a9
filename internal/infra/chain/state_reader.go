package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/totegamma/basedfeed/internal/domain"
	"github.com/totegamma/basedfeed/internal/usecase"
)

// StateReader answers point queries against the contract's current state.
type StateReader struct {
	contract boundContract
}

func NewStateReader(caller bind.ContractCaller, address common.Address) (*StateReader, error) {
	parsed, err := ParseShopABI()
	if err != nil {
		return nil, err
	}
	return &StateReader{
		contract: bind.NewBoundContract(address, parsed, caller, nil, nil),
	}, nil
}

func (r *StateReader) IsBookmarked(ctx context.Context, viewer common.Address, subjectID int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "Chain.StateReader.IsBookmarked")
	defer span.End()

	var out []any
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "userToArticleBookmark", viewer, big.NewInt(subjectID))
	if err != nil {
		span.RecordError(err)
		return false, domain.TransportError{Op: "userToArticleBookmark", Err: err}
	}
	if len(out) != 1 {
		return false, domain.TransportError{Op: "userToArticleBookmark", Err: errors.Errorf("returned %d values", len(out))}
	}
	bookmarked, ok := out[0].(bool)
	if !ok {
		return false, domain.TransportError{Op: "userToArticleBookmark", Err: errors.Errorf("returned %T", out[0])}
	}
	return bookmarked, nil
}

func (r *StateReader) BookmarkCount(ctx context.Context, subjectID int64) (int64, error) {
	return r.readInt64(ctx, "articleToBookmarks", subjectID)
}

func (r *StateReader) StockRemaining(ctx context.Context, subjectID int64) (int64, error) {
	return r.readInt64(ctx, "articleAmounts", subjectID)
}

// Price is the current unit price of an article in wei.
func (r *StateReader) Price(ctx context.Context, subjectID int64) (*big.Int, error) {
	ctx, span := tracer.Start(ctx, "Chain.StateReader.Price")
	defer span.End()

	price, err := callUint(ctx, r.contract, "articlePrices", big.NewInt(subjectID))
	if err != nil {
		span.RecordError(err)
		return nil, domain.TransportError{Op: "articlePrices", Err: err}
	}
	return price, nil
}

func (r *StateReader) readInt64(ctx context.Context, method string, subjectID int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "Chain.StateReader."+method)
	defer span.End()

	v, err := callUint(ctx, r.contract, method, big.NewInt(subjectID))
	if err != nil {
		span.RecordError(err)
		return 0, domain.TransportError{Op: method, Err: err}
	}
	if !v.IsInt64() {
		return 0, errors.Errorf("%s(%d) overflows int64: %s", method, subjectID, v)
	}
	return v.Int64(), nil
}

var _ usecase.SubjectState = (*StateReader)(nil)
