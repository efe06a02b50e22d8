package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNoPoolData covers a missing pool, empty reserves and read failures.
// Callers skip the route for the current cycle on any of them.
var ErrNoPoolData = errors.New("no pool data")

// ContractCaller executes read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reserves is a snapshot of a UniswapV2-style pair.
type Reserves struct {
	Pool     common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Oriented returns (reserve of base, reserve of quote). ok is false when the
// pool does not hold exactly that pair.
func (r Reserves) Oriented(base, quote common.Address) (baseReserve, quoteReserve *big.Int, ok bool) {
	switch {
	case r.Token0 == base && r.Token1 == quote:
		return r.Reserve0, r.Reserve1, true
	case r.Token1 == base && r.Token0 == quote:
		return r.Reserve1, r.Reserve0, true
	default:
		return nil, nil, false
	}
}

// PoolReader reads pair addresses and reserves. It does not retry.
type PoolReader struct {
	caller ContractCaller
}

func NewPoolReader(caller ContractCaller) *PoolReader {
	return &PoolReader{caller: caller}
}

// GetPair resolves the pool for (tokenA, tokenB) on a factory.
func (r *PoolReader) GetPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	out, err := r.call(ctx, factory, FactoryABI, "getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: getPair on %s: %v", ErrNoPoolData, factory.Hex(), err)
	}
	pair, ok := out[0].(common.Address)
	if !ok || pair == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: no pool for %s/%s on %s", ErrNoPoolData, tokenA.Hex(), tokenB.Hex(), factory.Hex())
	}
	return pair, nil
}

// GetReserves reads both reserves and the canonical token order of a pool.
func (r *PoolReader) GetReserves(ctx context.Context, pool common.Address) (Reserves, error) {
	res := Reserves{Pool: pool}

	out, err := r.call(ctx, pool, PairABI, "getReserves")
	if err != nil {
		return res, fmt.Errorf("%w: getReserves on %s: %v", ErrNoPoolData, pool.Hex(), err)
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 || r0.Sign() <= 0 || r1.Sign() <= 0 {
		return res, fmt.Errorf("%w: empty reserves on %s", ErrNoPoolData, pool.Hex())
	}
	res.Reserve0, res.Reserve1 = r0, r1

	for _, tok := range []struct {
		method string
		dst    *common.Address
	}{{"token0", &res.Token0}, {"token1", &res.Token1}} {
		out, err := r.call(ctx, pool, PairABI, tok.method)
		if err != nil {
			return res, fmt.Errorf("%w: %s on %s: %v", ErrNoPoolData, tok.method, pool.Hex(), err)
		}
		addr, ok := out[0].(common.Address)
		if !ok {
			return res, fmt.Errorf("%w: malformed %s on %s", ErrNoPoolData, tok.method, pool.Hex())
		}
		*tok.dst = addr
	}
	return res, nil
}

func (r *PoolReader) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	values, err := contract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty %s result", method)
	}
	return values, nil
}
