package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
)

// DefaultGasMultiplier is the safety margin applied to gas estimates.
const DefaultGasMultiplier = 1.2

// SafeGasLimit applies multiplier to an estimate, rounding up.
func SafeGasLimit(estimate uint64, multiplier float64) uint64 {
	if multiplier < 1 {
		multiplier = 1
	}
	limit := float64(estimate) * multiplier
	out := uint64(limit)
	if float64(out) < limit {
		out++
	}
	return out
}

// PackPairwise encodes a two-venue flash-loan arbitrage call.
func PackPairwise(tokenA, tokenB, dex1, dex2 common.Address, loan *big.Int) ([]byte, error) {
	return FlashLoanABI.Pack("executeFlashLoanPairwiseInterDEX", tokenA, tokenB, dex1, dex2, loan)
}

// PackTriangular encodes a single-venue three-token cycle call.
func PackTriangular(tokenA, tokenB, tokenC, dex common.Address, loan *big.Int) ([]byte, error) {
	return FlashLoanABI.Pack("executeFlashLoanTriangular", tokenA, tokenB, tokenC, dex, loan)
}

// Writer builds, signs, broadcasts and tracks transactions on a live chain.
type Writer struct {
	client        Client
	wallet        *Wallet
	gasMultiplier float64
	receiptPoll   time.Duration
	clock         clockwork.Clock
}

func NewWriter(client Client, wallet *Wallet, gasMultiplier float64, receiptPoll time.Duration, clock clockwork.Clock) *Writer {
	if gasMultiplier < 1 {
		gasMultiplier = DefaultGasMultiplier
	}
	if receiptPoll <= 0 {
		receiptPoll = 2 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Writer{
		client:        client,
		wallet:        wallet,
		gasMultiplier: gasMultiplier,
		receiptPoll:   receiptPoll,
		clock:         clock,
	}
}

// Build prepares an unsigned transaction calling to with data. The gas limit
// is the node's estimate times the configured multiplier.
func (w *Writer) Build(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	from := w.wallet.Address()

	nonce, err := w.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	estimate, err := w.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      SafeGasLimit(estimate, w.gasMultiplier),
		GasPrice: gasPrice,
		Data:     data,
	}), nil
}

func (w *Writer) Sign(tx *types.Transaction) (*types.Transaction, error) {
	return w.wallet.Sign(tx)
}

func (w *Writer) Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := w.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return tx.Hash(), nil
}

// WaitReceipt polls until the receipt is available or ctx expires.
func (w *Writer) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var lastErr error
	for {
		receipt, err := w.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("receipt for %s not available (last error: %v): %w", hash.Hex(), lastErr, ctx.Err())
			}
			return nil, fmt.Errorf("receipt for %s not available: %w", hash.Hex(), ctx.Err())
		case <-w.clock.After(w.receiptPoll):
		}
	}
}

func (w *Writer) BlockNumber(ctx context.Context) (uint64, error) {
	return w.client.BlockNumber(ctx)
}

// Simulated gas figures: 50k gas at 20 gwei, 0.001 ETH per trade.
const (
	SimulatedGasUsed     uint64 = 50_000
	SimulatedGasPriceWei int64  = 20_000_000_000
	simulatedStartBlock  uint64 = 1_000_000
)

// SimulatedWriter stands in for Writer in simulation mode. It signs locally
// but never touches the network, and every transaction succeeds with a
// fixed gas cost.
type SimulatedWriter struct {
	mu     sync.Mutex
	wallet *Wallet
	nonce  uint64
	block  uint64
}

func NewSimulatedWriter(wallet *Wallet) *SimulatedWriter {
	return &SimulatedWriter{wallet: wallet, block: simulatedStartBlock}
}

func (s *SimulatedWriter) Build(_ context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    s.nonce,
		To:       &to,
		Gas:      SafeGasLimit(SimulatedGasUsed, DefaultGasMultiplier),
		GasPrice: big.NewInt(SimulatedGasPriceWei),
		Data:     data,
	})
	s.nonce++
	return tx, nil
}

func (s *SimulatedWriter) Sign(tx *types.Transaction) (*types.Transaction, error) {
	return s.wallet.Sign(tx)
}

func (s *SimulatedWriter) Broadcast(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	return tx.Hash(), nil
}

func (s *SimulatedWriter) WaitReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.block++
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            hash,
		GasUsed:           SimulatedGasUsed,
		EffectiveGasPrice: big.NewInt(SimulatedGasPriceWei),
		BlockNumber:       new(big.Int).SetUint64(s.block),
	}, nil
}

func (s *SimulatedWriter) BlockNumber(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block, nil
}
