package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errUnexpectedCall = errors.New("unexpected call")

// fakeClient implements Client with overridable hooks.
type fakeClient struct {
	mu    sync.Mutex
	calls map[string]int

	blockNumber        func(ctx context.Context) (uint64, error)
	callContract       func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	estimateGas        func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	transactionReceipt func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	sendTransaction    func(ctx context.Context, tx *types.Transaction) error
	nonce              uint64
	gasPrice           *big.Int
	balance            *big.Int
}

func (f *fakeClient) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeClient) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeClient) ChainID(context.Context) (*big.Int, error) {
	f.record("ChainID")
	return big.NewInt(137), nil
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.record("BlockNumber")
	if f.blockNumber == nil {
		return 100, nil
	}
	return f.blockNumber(ctx)
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.record("HeaderByNumber")
	return &types.Header{Number: big.NewInt(100), GasLimit: 30_000_000, GasUsed: 15_000_000}, nil
}

func (f *fakeClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.record("BalanceAt")
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance, nil
}

func (f *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.record("CallContract")
	if f.callContract == nil {
		return nil, errUnexpectedCall
	}
	return f.callContract(ctx, msg)
}

func (f *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.record("EstimateGas")
	if f.estimateGas == nil {
		return 21_000, nil
	}
	return f.estimateGas(ctx, msg)
}

func (f *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.record("SuggestGasPrice")
	if f.gasPrice == nil {
		return big.NewInt(30_000_000_000), nil
	}
	return f.gasPrice, nil
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.record("PendingNonceAt")
	return f.nonce, nil
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.record("SendTransaction")
	if f.sendTransaction == nil {
		return nil
	}
	return f.sendTransaction(ctx, tx)
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.record("TransactionReceipt")
	if f.transactionReceipt == nil {
		return nil, ethereum.NotFound
	}
	return f.transactionReceipt(ctx, hash)
}

// jsonRPCError mimics an error returned by a live node.
type jsonRPCError struct{ msg string }

func (e jsonRPCError) Error() string  { return e.msg }
func (e jsonRPCError) ErrorCode() int { return 3 }
