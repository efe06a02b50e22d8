package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/irfndi/flashloan-arb-go/internal/chain"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/logging"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/relay"
	"github.com/irfndi/flashloan-arb-go/internal/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrUnroutable is returned when an opportunity's route cannot be encoded
// into a contract call with the current configuration.
var ErrUnroutable = errors.New("opportunity route cannot be encoded")

// TxWriter builds, signs, broadcasts and tracks transactions.
type TxWriter interface {
	Build(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error)
	Sign(tx *types.Transaction) (*types.Transaction, error)
	Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// BundleRelay is the private block-builder relay.
type BundleRelay interface {
	Simulate(ctx context.Context, tx *types.Transaction, targetBlock uint64) (*relay.SimulationResult, error)
	Submit(ctx context.Context, tx *types.Transaction, targetBlock uint64) (common.Hash, error)
}

// ExecutionBackend pairs a writer with the relay used alongside it.
type ExecutionBackend struct {
	Writer TxWriter
	Relay  BundleRelay
}

// Dispatcher executes approved opportunities one at a time. The live
// backend is used normally; the simulated backend when the config says so.
type Dispatcher struct {
	mu       sync.Mutex
	live     ExecutionBackend
	sim      ExecutionBackend
	timeouts *TimeoutManager
	clock    clockwork.Clock
	tracer   *telemetry.BusinessTracer
	logger   *logrus.Logger
}

func NewDispatcher(live, sim ExecutionBackend, timeouts *TimeoutManager, clock clockwork.Clock, tracer *telemetry.BusinessTracer, logger *logrus.Logger) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if tracer == nil {
		tracer = telemetry.NewBusinessTracer()
	}
	return &Dispatcher{live: live, sim: sim, timeouts: timeouts, clock: clock, tracer: tracer, logger: logger}
}

// Dispatch executes opp and returns the trade to record. An error means
// nothing reached the chain or relay and no trade should be recorded.
// On-chain rejection and relay reverts are Failed trades, not errors.
func (d *Dispatcher) Dispatch(ctx context.Context, opp models.Opportunity, cfg config.BotConfig) (trade models.Trade, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, span := d.tracer.TraceDispatch(ctx, opp, cfg.SimulationMode)
	defer func() {
		d.tracer.RecordTradeResult(span, trade, err)
		span.End()
	}()

	backend := d.live
	if cfg.SimulationMode {
		backend = d.sim
	}

	loan := opp.LoanAmount
	if !loan.IsPositive() {
		loan = decimal.NewFromFloat(cfg.FlashLoan.DefaultLoanEth)
		opp.LoanAmount = loan
	}

	data, err := encodeCall(opp, cfg, chain.EthToWei(loan))
	if err != nil {
		return models.Trade{}, err
	}
	contract := common.HexToAddress(cfg.FlashLoan.ContractAddress)

	var tx *types.Transaction
	err = d.timeouts.ExecuteWithTimeout(ctx, OpChainRead, func(ctx context.Context) error {
		built, err := backend.Writer.Build(ctx, contract, data)
		if err != nil {
			return err
		}
		tx, err = backend.Writer.Sign(built)
		return err
	})
	if err != nil {
		return models.Trade{}, fmt.Errorf("failed to prepare transaction: %w", err)
	}

	if opp.Channel == models.ChannelPrivate {
		trade, err = d.executePrivate(ctx, backend, tx, opp, cfg)
	} else {
		trade, err = d.executeStandard(ctx, backend, tx, opp, cfg)
	}
	if err != nil {
		return models.Trade{}, err
	}
	if cfg.SimulationMode {
		trade.Status = models.TradeStatusSimulated
	}

	d.logger.WithFields(logrus.Fields{
		"route":    opp.Route.Symbol,
		"strategy": string(opp.Strategy),
		"channel":  string(opp.Channel),
		"status":   string(trade.Status),
		"profit":   trade.Profit.StringFixed(6),
		"tx_hash":  trade.TxHash,
	}).Info("Trade dispatched")
	return trade, nil
}

func (d *Dispatcher) executeStandard(ctx context.Context, backend ExecutionBackend, tx *types.Transaction, opp models.Opportunity, cfg config.BotConfig) (models.Trade, error) {
	var hash common.Hash
	err := d.timeouts.ExecuteWithTimeout(ctx, OpChainRead, func(ctx context.Context) error {
		var err error
		hash, err = backend.Writer.Broadcast(ctx, tx)
		return err
	})
	if err != nil {
		return models.Trade{}, err
	}

	var receipt *types.Receipt
	err = d.timeouts.ExecuteWithTimeout(ctx, OpReceipt, func(ctx context.Context) error {
		var err error
		receipt, err = backend.Writer.WaitReceipt(ctx, hash)
		return err
	})
	if err != nil {
		// The transaction is out; whether it mines is unknown. Record it so
		// the nonce and hash are auditable, with no realized PnL.
		d.logger.WithFields(logging.StageFields(opp.Route.Symbol, string(opp.Strategy), "receipt")).WithError(err).Warn("Receipt not received, recording trade as failed")
		trade := d.newTrade(opp, models.TradeStatusFailed, decimal.Zero, hash)
		trade.PostMortem = fmt.Sprintf("receipt not received: %v", err)
		return trade, nil
	}

	gasCost := receiptGasCost(receipt, tx)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return d.newTrade(opp, models.TradeStatusFailed, gasCost.Neg(), hash), nil
	}
	return d.newTrade(opp, models.TradeStatusSuccess, EstimateProfit(opp, cfg.FlashLoan.Fee, gasCost), hash), nil
}

func (d *Dispatcher) executePrivate(ctx context.Context, backend ExecutionBackend, tx *types.Transaction, opp models.Opportunity, cfg config.BotConfig) (models.Trade, error) {
	var block uint64
	err := d.timeouts.ExecuteWithTimeout(ctx, OpChainRead, func(ctx context.Context) error {
		var err error
		block, err = backend.Writer.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return models.Trade{}, fmt.Errorf("failed to read block number: %w", err)
	}
	target := block + 1

	var sim *relay.SimulationResult
	err = d.timeouts.ExecuteWithTimeout(ctx, OpRelay, func(ctx context.Context) error {
		var err error
		sim, err = backend.Relay.Simulate(ctx, tx, target)
		return err
	})
	if err != nil || sim.Reverted() {
		reason := "bundle simulation reverted"
		if err != nil {
			reason = fmt.Sprintf("bundle simulation failed: %v", err)
		} else if r := sim.Reason(); r != "" {
			reason = fmt.Sprintf("bundle simulation reverted: %s", r)
		}
		d.logger.WithFields(logging.StageFields(opp.Route.Symbol, string(opp.Strategy), "relay_simulate")).Warn(reason)
		trade := d.newTrade(opp, models.TradeStatusFailed, decimal.Zero, common.Hash{})
		trade.PostMortem = reason
		return trade, nil
	}

	var hash common.Hash
	err = d.timeouts.ExecuteWithTimeout(ctx, OpRelay, func(ctx context.Context) error {
		var err error
		hash, err = backend.Relay.Submit(ctx, tx, target)
		return err
	})
	if err != nil {
		return models.Trade{}, fmt.Errorf("failed to submit bundle: %w", err)
	}

	var gasUsed uint64
	for _, r := range sim.Results {
		gasUsed += r.GasUsed
	}
	gasCost := chain.WeiToEth(new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), tx.GasPrice()))
	return d.newTrade(opp, models.TradeStatusSuccess, EstimateProfit(opp, cfg.FlashLoan.Fee, gasCost), hash), nil
}

// newTrade records the outcome. A zero hash means nothing was sent.
func (d *Dispatcher) newTrade(opp models.Opportunity, status models.TradeStatus, profit decimal.Decimal, hash common.Hash) models.Trade {
	trade := models.Trade{
		ID:          "trade-" + uuid.New().String(),
		Opportunity: opp.Snapshot(),
		Strategy:    opp.Strategy,
		Status:      status,
		Profit:      profit,
		Timestamp:   d.clock.Now(),
	}
	if hash != (common.Hash{}) {
		trade.TxHash = hash.Hex()
	}
	return trade
}

// EstimateProfit is loan × (spread − fee) − gasCost, in ETH.
func EstimateProfit(opp models.Opportunity, fee float64, gasCost decimal.Decimal) decimal.Decimal {
	edge := decimal.NewFromFloat(opp.Spread).Sub(decimal.NewFromFloat(fee))
	return opp.LoanAmount.Mul(edge).Sub(gasCost)
}

func receiptGasCost(receipt *types.Receipt, tx *types.Transaction) decimal.Decimal {
	price := receipt.EffectiveGasPrice
	if price == nil || price.Sign() == 0 {
		price = tx.GasPrice()
	}
	return chain.WeiToEth(new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), price))
}

// encodeCall packs the flash-loan contract call for the route's strategy,
// resolving venue names to router addresses.
func encodeCall(opp models.Opportunity, cfg config.BotConfig, loan *big.Int) ([]byte, error) {
	route := opp.Route
	tokenA, okA := route.Address(models.RoleTokenA)
	tokenB, okB := route.Address(models.RoleTokenB)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: %s is missing token addresses", ErrUnroutable, route.Symbol)
	}

	routers := make([]common.Address, 0, len(route.Dexes))
	for _, name := range route.Dexes {
		dex, ok := cfg.Dex(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown dex %q", ErrUnroutable, name)
		}
		routers = append(routers, common.HexToAddress(dex.Router))
	}

	switch opp.Strategy {
	case models.StrategyPairwise:
		if len(routers) != 2 {
			return nil, fmt.Errorf("%w: pairwise route %s needs 2 dexes", ErrUnroutable, route.Symbol)
		}
		return chain.PackPairwise(tokenA, tokenB, routers[0], routers[1], loan)
	case models.StrategyTriangular:
		tokenC, ok := route.Address(models.RoleTokenC)
		if !ok || len(routers) != 1 {
			return nil, fmt.Errorf("%w: triangular route %s needs tokenC and 1 dex", ErrUnroutable, route.Symbol)
		}
		return chain.PackTriangular(tokenA, tokenB, tokenC, routers[0], loan)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrUnroutable, opp.Strategy)
	}
}
