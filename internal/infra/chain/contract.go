package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/basedfeed/internal/domain"
)

var tracer = otel.Tracer("chain")

// ShopABI is the subset of the article shop contract the feed engine talks to.
const ShopABI = `[
	{"type":"event","name":"ArticleCreated","anonymous":false,"inputs":[
		{"name":"articleId","type":"uint256","indexed":true},
		{"name":"user","type":"address","indexed":true},
		{"name":"tokenURI","type":"string","indexed":false},
		{"name":"date","type":"uint256","indexed":false},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ArticleBought","anonymous":false,"inputs":[
		{"name":"articleId","type":"uint256","indexed":true},
		{"name":"buyer","type":"address","indexed":true},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"date","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"createArticle","stateMutability":"nonpayable","inputs":[
		{"name":"tokenURI","type":"string"},
		{"name":"price","type":"uint256"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"buyArticle","stateMutability":"payable","inputs":[
		{"name":"articleId","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"bookmarkArticle","stateMutability":"nonpayable","inputs":[
		{"name":"articleId","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"removeBookmark","stateMutability":"nonpayable","inputs":[
		{"name":"articleId","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"userToArticleBookmark","stateMutability":"view","inputs":[
		{"name":"user","type":"address"},
		{"name":"articleId","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"articleToBookmarks","stateMutability":"view","inputs":[
		{"name":"articleId","type":"uint256"}
	],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"articlePrices","stateMutability":"view","inputs":[
		{"name":"articleId","type":"uint256"}
	],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"articleAmounts","stateMutability":"view","inputs":[
		{"name":"articleId","type":"uint256"}
	],"outputs":[{"name":"","type":"uint256"}]}
]`

const (
	eventCreated = "ArticleCreated"
	eventBought  = "ArticleBought"

	argArticleID = "articleId"
	argUser      = "user"
	argBuyer     = "buyer"
)

// ParseShopABI parses ShopABI. It only fails if the embedded definition is broken.
func ParseShopABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(ShopABI))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "failed to parse shop abi")
	}
	return parsed, nil
}

// eventName maps a kind to its contract event. The contract emits no bookmark
// event; bookmark state is only available through userToArticleBookmark.
func eventName(kind domain.EventKind) (string, bool) {
	switch kind {
	case domain.EventKindCreation:
		return eventCreated, true
	case domain.EventKindPurchase:
		return eventBought, true
	default:
		return "", false
	}
}

// Backend is everything the chain adapters need from a JSON-RPC connection.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// boundContract is the part of *bind.BoundContract the adapters use.
type boundContract interface {
	logUnpacker
	Call(opts *bind.CallOpts, results *[]any, method string, params ...any) error
	Transact(opts *bind.TransactOpts, method string, params ...any) (*types.Transaction, error)
}

// callUint reads a single uint256 view method.
func callUint(ctx context.Context, contract boundContract, method string, args ...any) (*big.Int, error) {
	var out []any
	err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, errors.Errorf("%s returned %d values", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("%s returned %T", method, out[0])
	}
	return v, nil
}

func subjectID(v any) (int64, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return 0, errors.Errorf("unexpected article id %T", v)
	}
	if !n.IsInt64() {
		return 0, errors.Errorf("article id %s out of range", n)
	}
	return n.Int64(), nil
}

func actorFrom(fields map[string]any) common.Address {
	for _, key := range []string{argUser, argBuyer} {
		if addr, ok := fields[key].(common.Address); ok {
			return addr
		}
	}
	return common.Address{}
}
