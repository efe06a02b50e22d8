package services

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/irfndi/flashloan-arb-go/internal/chain"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/logging"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PoolSource resolves pools and reads their reserves.
type PoolSource interface {
	GetPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error)
	GetReserves(ctx context.Context, pool common.Address) (chain.Reserves, error)
}

type pairKey struct {
	factory common.Address
	lo, hi  common.Address
}

func newPairKey(factory, a, b common.Address) pairKey {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return pairKey{factory: factory, lo: a, hi: b}
}

type cached[T any] struct {
	once sync.Once
	val  T
	err  error
}

// scanCache memoizes pair resolution and reserve reads for one Scan call.
type scanCache struct {
	source   PoolSource
	mu       sync.Mutex
	pairs    map[pairKey]*cached[common.Address]
	reserves map[common.Address]*cached[chain.Reserves]
}

func newScanCache(source PoolSource) *scanCache {
	return &scanCache{
		source:   source,
		pairs:    make(map[pairKey]*cached[common.Address]),
		reserves: make(map[common.Address]*cached[chain.Reserves]),
	}
}

func (c *scanCache) pair(ctx context.Context, factory, a, b common.Address) (common.Address, error) {
	key := newPairKey(factory, a, b)
	c.mu.Lock()
	entry, ok := c.pairs[key]
	if !ok {
		entry = &cached[common.Address]{}
		c.pairs[key] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.val, entry.err = c.source.GetPair(ctx, factory, key.lo, key.hi)
	})
	return entry.val, entry.err
}

func (c *scanCache) reservesOf(ctx context.Context, pool common.Address) (chain.Reserves, error) {
	c.mu.Lock()
	entry, ok := c.reserves[pool]
	if !ok {
		entry = &cached[chain.Reserves]{}
		c.reserves[pool] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.val, entry.err = c.source.GetReserves(ctx, pool)
	})
	return entry.val, entry.err
}

// leg reads the pool for (base, quote) on factory and returns the price of
// base in quote units plus the smaller oriented reserve.
func (c *scanCache) leg(ctx context.Context, factory, base, quote common.Address) (float64, *big.Int, error) {
	pool, err := c.pair(ctx, factory, base, quote)
	if err != nil {
		return 0, nil, err
	}
	res, err := c.reservesOf(ctx, pool)
	if err != nil {
		return 0, nil, err
	}
	baseReserve, quoteReserve, ok := res.Oriented(base, quote)
	if !ok {
		return 0, nil, fmt.Errorf("%w: pool %s does not hold %s/%s", chain.ErrNoPoolData, pool.Hex(), base.Hex(), quote.Hex())
	}
	smaller := baseReserve
	if quoteReserve.Cmp(smaller) < 0 {
		smaller = quoteReserve
	}
	return ImpliedPrice(baseReserve, quoteReserve), smaller, nil
}

// Scanner turns configured routes into opportunities.
type Scanner struct {
	source      PoolSource
	concurrency int
	clock       clockwork.Clock
	logger      *logrus.Logger
}

func NewScanner(source PoolSource, concurrency int, clock clockwork.Clock, logger *logrus.Logger) *Scanner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scanner{source: source, concurrency: concurrency, clock: clock, logger: logger}
}

// Scan evaluates every route in cfg concurrently. A failing route is logged
// and skipped; it never affects the others. Results keep route order.
func (s *Scanner) Scan(ctx context.Context, cfg config.BotConfig) []models.Opportunity {
	cache := newScanCache(s.source)
	results := make([]*models.Opportunity, len(cfg.Tokens))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, route := range cfg.Tokens {
		i, route := i, route
		g.Go(func() error {
			opp, err := s.scanRoute(ctx, cache, cfg, route)
			if err != nil {
				s.logger.WithError(err).
					WithFields(logging.StageFields(route.Symbol, string(route.Strategy), "scan")).
					Warn("Route skipped this cycle")
				return nil
			}
			results[i] = opp
			return nil
		})
	}
	_ = g.Wait()

	var out []models.Opportunity
	for _, opp := range results {
		if opp != nil {
			out = append(out, *opp)
		}
	}
	return out
}

func (s *Scanner) scanRoute(ctx context.Context, cache *scanCache, cfg config.BotConfig, route models.TokenRoute) (*models.Opportunity, error) {
	switch route.Strategy {
	case models.StrategyPairwise:
		return s.scanPairwise(ctx, cache, cfg, route)
	case models.StrategyTriangular:
		return s.scanTriangular(ctx, cache, cfg, route)
	default:
		return nil, fmt.Errorf("unknown strategy %q", route.Strategy)
	}
}

func (s *Scanner) factory(cfg config.BotConfig, dex string) (common.Address, error) {
	d, ok := cfg.Dex(dex)
	if !ok || !common.IsHexAddress(d.Factory) {
		return common.Address{}, fmt.Errorf("unknown dex %q", dex)
	}
	return common.HexToAddress(d.Factory), nil
}

func routeTokens(route models.TokenRoute, roles ...string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(roles))
	for _, role := range roles {
		addr, ok := route.Address(role)
		if !ok {
			return nil, fmt.Errorf("route %s has no %s address", route.Symbol, role)
		}
		out = append(out, addr)
	}
	return out, nil
}

func (s *Scanner) scanPairwise(ctx context.Context, cache *scanCache, cfg config.BotConfig, route models.TokenRoute) (*models.Opportunity, error) {
	if len(route.Dexes) < 2 {
		return nil, fmt.Errorf("pairwise route needs two dexes, got %d", len(route.Dexes))
	}
	tokens, err := routeTokens(route, models.RoleTokenA, models.RoleTokenB)
	if err != nil {
		return nil, err
	}
	f1, err := s.factory(cfg, route.Dexes[0])
	if err != nil {
		return nil, err
	}
	f2, err := s.factory(cfg, route.Dexes[1])
	if err != nil {
		return nil, err
	}

	p1, r1, err := cache.leg(ctx, f1, tokens[0], tokens[1])
	if err != nil {
		return nil, err
	}
	p2, r2, err := cache.leg(ctx, f2, tokens[0], tokens[1])
	if err != nil {
		return nil, err
	}

	spread := PairwiseSpread(p1, p2)
	if spread <= route.MinSpread {
		return nil, nil
	}
	return s.newOpportunity(cfg, route, spread, r1, r2), nil
}

// scanTriangular prices the A->B->C->A cycle on one dex. ab is A per B,
// bc is B per C and ca is A per C, so (1/ab)(1/bc)ca is the round trip.
func (s *Scanner) scanTriangular(ctx context.Context, cache *scanCache, cfg config.BotConfig, route models.TokenRoute) (*models.Opportunity, error) {
	if len(route.Dexes) < 1 {
		return nil, fmt.Errorf("triangular route needs a dex")
	}
	tokens, err := routeTokens(route, models.RoleTokenA, models.RoleTokenB, models.RoleTokenC)
	if err != nil {
		return nil, err
	}
	a, b, c := tokens[0], tokens[1], tokens[2]
	f, err := s.factory(cfg, route.Dexes[0])
	if err != nil {
		return nil, err
	}

	ab, rab, err := cache.leg(ctx, f, b, a)
	if err != nil {
		return nil, err
	}
	bc, rbc, err := cache.leg(ctx, f, c, b)
	if err != nil {
		return nil, err
	}
	ca, rca, err := cache.leg(ctx, f, c, a)
	if err != nil {
		return nil, err
	}

	ratio := TriangularRatio(ab, bc, ca)
	if ratio <= 1+route.MinSpread {
		return nil, nil
	}
	spread := math.Abs(1 - ratio)
	return s.newOpportunity(cfg, route, spread, rab, rbc, rca), nil
}

func (s *Scanner) newOpportunity(cfg config.BotConfig, route models.TokenRoute, spread float64, reserves ...*big.Int) *models.Opportunity {
	return &models.Opportunity{
		ID:         uuid.NewString(),
		Route:      route.Clone(),
		Strategy:   route.Strategy,
		Spread:     spread,
		Liquidity:  describeLiquidity(reserves),
		LoanAmount: decimal.NewFromFloat(cfg.FlashLoan.DefaultLoanEth),
		CreatedAt:  s.clock.Now(),
	}
}

// describeLiquidity renders the thinnest leg in 18-decimal units.
func describeLiquidity(reserves []*big.Int) string {
	var smallest *big.Int
	for _, r := range reserves {
		if r != nil && (smallest == nil || r.Cmp(smallest) < 0) {
			smallest = r
		}
	}
	if smallest == nil {
		return "unknown"
	}
	return fmt.Sprintf("min reserve %s across %d pools", chain.WeiToEth(smallest).StringFixed(2), len(reserves))
}
