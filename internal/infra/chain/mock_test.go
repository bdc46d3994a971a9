package chain

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

var (
	shopAddress = common.HexToAddress("0x0000000000000000000000000000000000005eed")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func mustABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := ParseShopABI()
	if err != nil {
		t.Fatalf("failed to parse abi: %v", err)
	}
	return parsed
}

func createdLog(t *testing.T, parsed abi.ABI, id int64, user common.Address, uri string, block uint64, index uint) types.Log {
	t.Helper()
	ev := parsed.Events[eventCreated]
	data, err := ev.Inputs.NonIndexed().Pack(uri, big.NewInt(1700000000+id), big.NewInt(1000+id), big.NewInt(3))
	if err != nil {
		t.Fatalf("failed to pack log: %v", err)
	}
	return types.Log{
		Address:     shopAddress,
		Topics:      []common.Hash{ev.ID, common.BigToHash(big.NewInt(id)), common.BytesToHash(user.Bytes())},
		Data:        data,
		BlockNumber: block,
		Index:       index,
	}
}

func boughtLog(t *testing.T, parsed abi.ABI, id int64, buyer common.Address, price int64, block uint64, index uint) types.Log {
	t.Helper()
	ev := parsed.Events[eventBought]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(price), big.NewInt(1800000000+id))
	if err != nil {
		t.Fatalf("failed to pack log: %v", err)
	}
	return types.Log{
		Address:     shopAddress,
		Topics:      []common.Hash{ev.ID, common.BigToHash(big.NewInt(id)), common.BytesToHash(buyer.Bytes())},
		Data:        data,
		BlockNumber: block,
		Index:       index,
	}
}

// fakeLogBackend serves logs from memory the way eth_getLogs would.
type fakeLogBackend struct {
	mu          sync.Mutex
	logs        []types.Log
	head        uint64
	filterErr   error
	headErr     error
	filterCalls int
	subs        []chan<- types.Log
}

func (f *fakeLogBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeLogBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls++
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && l.Address != q.Addresses[0] {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && l.Topics[0] != q.Topics[0][0] {
			continue
		}
		out = append(out, l)
	}
	// nodes do not promise any particular order inside a range
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (f *fakeLogBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, ch)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

func (f *fakeLogBackend) emit(l types.Log) {
	f.mu.Lock()
	subs := append([]chan<- types.Log(nil), f.subs...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- l
	}
}

// fakeCaller answers eth_call by dispatching on the method selector.
type fakeCaller struct {
	abi      abi.ABI
	mu       sync.Mutex
	handlers map[string]func(args []any) ([]any, error)
	calls    []string
}

func newFakeCaller(t *testing.T) *fakeCaller {
	return &fakeCaller{
		abi:      mustABI(t),
		handlers: make(map[string]func(args []any) ([]any, error)),
	}
}

func (f *fakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, method.Name)
	handler, ok := f.handlers[method.Name]
	f.mu.Unlock()
	if !ok {
		return nil, ethereum.NotFound
	}

	values, err := handler(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(values...)
}

type sentTx struct {
	method string
	value  *big.Int
	args   []any
}

// fakeContract sends nothing; it records what would have been transacted.
type fakeContract struct {
	*bind.BoundContract
	mu          sync.Mutex
	transactErr error
	sent        []sentTx
}

func newFakeContract(t *testing.T, caller bind.ContractCaller) *fakeContract {
	return &fakeContract{
		BoundContract: bind.NewBoundContract(shopAddress, mustABI(t), caller, nil, nil),
	}
}

func (f *fakeContract) Transact(opts *bind.TransactOpts, method string, params ...any) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	f.sent = append(f.sent, sentTx{method: method, value: opts.Value, args: params})
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.sent))}), nil
}
