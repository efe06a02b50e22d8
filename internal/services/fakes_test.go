package services

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/irfndi/flashloan-arb-go/internal/chain"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/scorer"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var errBoom = errors.New("boom")

var (
	factoryA = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	factoryB = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	routerA  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	routerB  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	tokenA   = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB   = common.HexToAddress("0x000000000000000000000000000000000000000b")
	tokenC   = common.HexToAddress("0x000000000000000000000000000000000000000c")
	contract = common.HexToAddress("0x60F28b947E445BA0090b2bED3Efe23ba115079f6")
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))
}

func pairRoute(minSpread float64) models.TokenRoute {
	return models.TokenRoute{
		Symbol:    "AAA/BBB",
		Chain:     "Polygon",
		Strategy:  models.StrategyPairwise,
		MinSpread: minSpread,
		Dexes:     []string{"DexA", "DexB"},
		Addresses: map[string]string{
			models.RoleTokenA: tokenA.Hex(),
			models.RoleTokenB: tokenB.Hex(),
		},
	}
}

func triRoute(minSpread float64) models.TokenRoute {
	return models.TokenRoute{
		Symbol:    "AAA/BBB/CCC",
		Chain:     "Polygon",
		Strategy:  models.StrategyTriangular,
		MinSpread: minSpread,
		Dexes:     []string{"DexA"},
		Addresses: map[string]string{
			models.RoleTokenA: tokenA.Hex(),
			models.RoleTokenB: tokenB.Hex(),
			models.RoleTokenC: tokenC.Hex(),
		},
	}
}

func testBotConfig(routes ...models.TokenRoute) config.BotConfig {
	cfg := config.DefaultBotConfig()
	cfg.Tokens = routes
	cfg.SimulationMode = false
	cfg.Dexes = map[string]config.DexConfig{
		"DexA": {Factory: factoryA.Hex(), Router: routerA.Hex()},
		"DexB": {Factory: factoryB.Hex(), Router: routerB.Hex()},
	}
	return cfg
}

// fakePools is an in-memory set of UniswapV2 pairs.
type fakePools struct {
	mu       sync.Mutex
	pairs    map[pairKey]common.Address
	reserves map[common.Address]chain.Reserves
	calls    map[string]int
	failPool common.Address
}

func newFakePools() *fakePools {
	return &fakePools{
		pairs:    make(map[pairKey]common.Address),
		reserves: make(map[common.Address]chain.Reserves),
		calls:    make(map[string]int),
	}
}

// add registers a pool on factory holding reserveX of x and reserveY of y.
func (f *fakePools) add(factory, x, y common.Address, reserveX, reserveY *big.Int) common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	pool := common.BigToAddress(big.NewInt(int64(0x1000 + len(f.reserves))))
	f.pairs[newPairKey(factory, x, y)] = pool
	f.reserves[pool] = chain.Reserves{Pool: pool, Token0: x, Token1: y, Reserve0: reserveX, Reserve1: reserveY}
	return pool
}

func (f *fakePools) GetPair(_ context.Context, factory, a, b common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetPair"]++
	pool, ok := f.pairs[newPairKey(factory, a, b)]
	if !ok {
		return common.Address{}, chain.ErrNoPoolData
	}
	return pool, nil
}

func (f *fakePools) GetReserves(_ context.Context, pool common.Address) (chain.Reserves, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetReserves"]++
	if pool == f.failPool {
		return chain.Reserves{}, chain.ErrNoPoolData
	}
	res, ok := f.reserves[pool]
	if !ok {
		return chain.Reserves{}, chain.ErrNoPoolData
	}
	return res, nil
}

func (f *fakePools) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// fakeScorer answers Score with a fixed result or error.
type fakeScorer struct {
	mu    sync.Mutex
	score scorer.Score
	err   error
	fn    func(req scorer.ScoreRequest) (scorer.Score, error)
	reqs  []scorer.ScoreRequest
}

func (f *fakeScorer) Score(_ context.Context, req scorer.ScoreRequest) (scorer.Score, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return f.score, f.err
}

func (f *fakeScorer) requests() []scorer.ScoreRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scorer.ScoreRequest(nil), f.reqs...)
}

// fakeAdvisory implements AdvisoryClient.
type fakeAdvisory struct {
	mu           sync.Mutex
	postMortem   string
	postErr      error
	advice       string
	adviceErr    error
	adviceReqs   []scorer.AdviceRequest
	sentiment    models.Sentiment
	sentimentErr error
	tokens       []string
}

func (f *fakeAdvisory) PostMortem(context.Context, models.Trade) (string, error) {
	return f.postMortem, f.postErr
}

func (f *fakeAdvisory) Advice(_ context.Context, req scorer.AdviceRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adviceReqs = append(f.adviceReqs, req)
	return f.advice, f.adviceErr
}

func (f *fakeAdvisory) Sentiment(_ context.Context, tokens []string) (models.Sentiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = tokens
	return f.sentiment, f.sentimentErr
}

// fakeMarket implements MarketReader.
type fakeMarket struct {
	gasPrice *big.Int
	header   *types.Header
	err      error
}

func (f *fakeMarket) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.gasPrice, nil
}

func (f *fakeMarket) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.header, nil
}

// fakeBalance implements BalanceProber.
type fakeBalance struct {
	mu      sync.Mutex
	balance *big.Int
	err     error
	calls   int
}

func (f *fakeBalance) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.balance, f.err
}

func (f *fakeBalance) set(wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = wei
}

// fakeWriter implements TxWriter without a network.
type fakeWriter struct {
	mu         sync.Mutex
	nonce      uint64
	buildErr   error
	sendErr    error
	receipt    *types.Receipt
	receiptErr error
	block      uint64
	sent       []*types.Transaction
}

func (f *fakeWriter) Build(_ context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := types.NewTx(&types.LegacyTx{Nonce: f.nonce, To: &to, Gas: 60_000, GasPrice: gwei(20), Data: data})
	f.nonce++
	return tx, nil
}

func (f *fakeWriter) Sign(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func (f *fakeWriter) Broadcast(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return tx.Hash(), nil
}

func (f *fakeWriter) WaitReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receipt != nil {
		r := *f.receipt
		r.TxHash = hash
		return &r, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, GasUsed: 50_000, EffectiveGasPrice: gwei(20)}, nil
}

func (f *fakeWriter) BlockNumber(context.Context) (uint64, error) {
	return f.block, nil
}

func (f *fakeWriter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeTradeStore wraps an in-memory ledger with switchable failures.
type fakeTradeStore struct {
	mu       sync.Mutex
	trades   []models.Trade
	failNext int
	allErr   error
}

func (f *fakeTradeStore) Append(_ context.Context, trade models.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errBoom
	}
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeTradeStore) Query(_ context.Context, limit, offset int) ([]models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Trade
	for i := len(f.trades) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.trades[i])
	}
	return out, nil
}

func (f *fakeTradeStore) All(context.Context) ([]models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allErr != nil {
		return nil, f.allErr
	}
	return append([]models.Trade(nil), f.trades...), nil
}

func (f *fakeTradeStore) AggregateStats(_ context.Context, dayStart time.Time) (models.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ComputeStats(f.trades, dayStart), nil
}

func (f *fakeTradeStore) persisted() []models.Trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Trade(nil), f.trades...)
}

// fakeEndpoints implements EndpointMonitor.
type fakeEndpoints struct {
	mu     sync.Mutex
	status []models.RpcEndpoint
	probes int
}

func (f *fakeEndpoints) Probe(context.Context) []models.RpcEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return append([]models.RpcEndpoint(nil), f.status...)
}

func (f *fakeEndpoints) Snapshot() []models.RpcEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RpcEndpoint(nil), f.status...)
}

// fakeConfigStore keeps a BotConfig without touching disk.
type fakeConfigStore struct {
	mu      sync.Mutex
	cfg     config.BotConfig
	saveErr error
}

func (f *fakeConfigStore) Load() config.BotConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Clone()
}

func (f *fakeConfigStore) Save(cfg config.BotConfig) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg.Clone()
	return nil
}

func (f *fakeConfigStore) SetSimulationMode(enabled bool) error {
	cfg := f.Load()
	cfg.SimulationMode = enabled
	return f.Save(cfg)
}

func tradeAt(ts time.Time, status models.TradeStatus, profit string) models.Trade {
	return models.Trade{
		ID:          "trade-" + ts.Format(time.RFC3339Nano) + string(status) + profit,
		Opportunity: models.Opportunity{Route: pairRoute(0.01), Strategy: models.StrategyPairwise, Spread: 0.02},
		Strategy:    models.StrategyPairwise,
		Status:      status,
		Profit:      decimal.RequireFromString(profit),
		Timestamp:   ts,
	}
}
