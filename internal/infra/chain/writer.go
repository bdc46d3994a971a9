package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/totegamma/basedfeed"
	"github.com/totegamma/basedfeed/internal/domain"
	"github.com/totegamma/basedfeed/internal/usecase"
)

type receiptWaiter func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// Writer submits mutations signed with a local key and waits for them to be
// mined. Every failure is reported as a domain.WriteError.
type Writer struct {
	contract boundContract
	address  common.Address
	abi      abi.ABI
	auth     *bind.TransactOpts
	wait     receiptWaiter
	gateway  string

	// transactions from one key are sent one at a time to keep nonces ordered
	mu sync.Mutex
}

// NewWriter builds a writer from a hex encoded private key. gateway is the
// prefix used to compose token URIs for new articles.
func NewWriter(backend Backend, address common.Address, privateKey string, chainID *big.Int, gateway string) (*Writer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	parsed, err := ParseShopABI()
	if err != nil {
		return nil, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transactor")
	}
	return &Writer{
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:  address,
		abi:      parsed,
		auth:     auth,
		wait: func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
			return bind.WaitMined(ctx, backend, tx)
		},
		gateway: gateway,
	}, nil
}

// From is the account mutations are sent from.
func (w *Writer) From() common.Address {
	return w.auth.From
}

func (w *Writer) opts(ctx context.Context, value *big.Int) *bind.TransactOpts {
	opts := *w.auth
	opts.Context = ctx
	opts.Value = value
	return &opts
}

// send transacts and waits for a successful receipt.
func (w *Writer) send(ctx context.Context, value *big.Int, method string, args ...any) (*types.Receipt, error) {
	ctx, span := tracer.Start(ctx, "Chain.Writer."+method)
	defer span.End()

	w.mu.Lock()
	tx, err := w.contract.Transact(w.opts(ctx, value), method, args...)
	w.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		return nil, domain.WriteError{Op: method, Err: err}
	}

	receipt, err := w.wait(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return nil, domain.WriteError{Op: method, Err: errors.Wrapf(err, "tx %s", tx.Hash().Hex())}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := errors.Errorf("tx %s reverted", tx.Hash().Hex())
		span.RecordError(err)
		return nil, domain.WriteError{Op: method, Err: err}
	}
	return receipt, nil
}

func (w *Writer) SubmitBookmarkToggle(ctx context.Context, subjectID int64, desired bool) error {
	method := "removeBookmark"
	if desired {
		method = "bookmarkArticle"
	}
	_, err := w.send(ctx, nil, method, big.NewInt(subjectID))
	return err
}

// SubmitPurchase buys one unit at the article's current on-chain price.
func (w *Writer) SubmitPurchase(ctx context.Context, subjectID int64) error {
	price, err := callUint(ctx, w.contract, "articlePrices", big.NewInt(subjectID))
	if err != nil {
		return domain.WriteError{Op: "buyArticle", Err: errors.Wrap(err, "failed to read price")}
	}
	_, err = w.send(ctx, price, "buyArticle", big.NewInt(subjectID))
	return err
}

// SubmitCreate publishes a new article and returns the id assigned by the
// contract.
func (w *Writer) SubmitCreate(ctx context.Context, contentID string, price *big.Int, stock int64) (int64, error) {
	tokenURI := basedfeed.ComposeGatewayURL(w.gateway, contentID)
	receipt, err := w.send(ctx, nil, "createArticle", tokenURI, price, big.NewInt(stock))
	if err != nil {
		return 0, err
	}

	created := w.abi.Events[eventCreated].ID
	for _, l := range receipt.Logs {
		if l == nil || l.Address != w.address || len(l.Topics) == 0 || l.Topics[0] != created {
			continue
		}
		event, err := decodeLog(w.contract, domain.EventKindCreation, *l)
		if err != nil {
			return 0, domain.WriteError{Op: "createArticle", Err: err}
		}
		return event.SubjectID, nil
	}
	return 0, domain.WriteError{Op: "createArticle", Err: errors.New("receipt carries no ArticleCreated log")}
}

var _ usecase.MutationGateway = (*Writer)(nil)
