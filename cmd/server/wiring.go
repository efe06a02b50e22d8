package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/irfndi/flashloan-arb-go/internal/api/handlers"
	"github.com/irfndi/flashloan-arb-go/internal/chain"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/database"
	"github.com/irfndi/flashloan-arb-go/internal/relay"
	"github.com/irfndi/flashloan-arb-go/internal/scorer"
	"github.com/irfndi/flashloan-arb-go/internal/services"
	"github.com/irfndi/flashloan-arb-go/internal/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var errRelayNotConfigured = errors.New("private relay is not configured")

// stores holds the persistence backends chosen at startup. Disabled
// backends fall back to in-process stores.
type stores struct {
	db     *database.PostgresDB
	redis  *database.RedisClient
	trades services.TradeStore
	risk   services.RiskStore
}

func openStores(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*stores, error) {
	s := &stores{}

	if cfg.Database.Enabled {
		db, err := database.NewPostgresConnection(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
	}
	trades, err := newTradeStore(ctx, s.db, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.trades = trades

	if cfg.Redis.Enabled {
		rc, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = rc
	}
	s.risk = newRiskStore(s.redis, cfg.Redis.KeyPrefix, logger)

	return s, nil
}

func newTradeStore(ctx context.Context, db *database.PostgresDB, logger *logrus.Logger) (services.TradeStore, error) {
	if db == nil {
		logger.Warn("Database disabled, trade ledger is kept in memory only")
		return database.NewMemoryTradeStore(), nil
	}
	repo := database.NewTradeRepository(database.NewTracedDB(db.Pool))
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare trade ledger: %w", err)
	}
	return repo, nil
}

func newRiskStore(rc *database.RedisClient, keyPrefix string, logger *logrus.Logger) services.RiskStore {
	if rc == nil {
		logger.Warn("Redis disabled, cooldown and kill switch do not survive restarts")
		return database.NewMemoryRiskStore()
	}
	return database.NewRedisRiskStore(rc.Client, keyPrefix)
}

// dbHealth and redisHealth return an untyped nil for disabled backends so
// the health handler reports them as disabled.
func (s *stores) dbHealth() handlers.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

func (s *stores) redisHealth() handlers.HealthChecker {
	if s.redis == nil {
		return nil
	}
	return s.redis
}

func (s *stores) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// dialEndpoints connects to every configured endpoint concurrently. An
// endpoint that cannot be dialed is skipped; the pool needs at least one.
func dialEndpoints(ctx context.Context, urls []string, dial func(context.Context, string) (chain.Client, error), logger *logrus.Logger) []chain.NamedClient {
	clients := make([]chain.Client, len(urls))
	var g errgroup.Group
	for i, url := range urls {
		g.Go(func() error {
			c, err := dial(ctx, url)
			if err != nil {
				logger.WithError(err).WithField("url", url).Warn("Failed to dial rpc endpoint")
				return nil
			}
			clients[i] = c
			return nil
		})
	}
	_ = g.Wait()

	named := make([]chain.NamedClient, 0, len(urls))
	for i, c := range clients {
		if c != nil {
			named = append(named, chain.NamedClient{URL: urls[i], Client: c})
		}
	}
	return named
}

// unconfiguredRelay fails every call so a private-channel trade without a
// relay URL is recorded as failed instead of silently going public.
type unconfiguredRelay struct{}

func (unconfiguredRelay) Simulate(context.Context, *types.Transaction, uint64) (*relay.SimulationResult, error) {
	return nil, errRelayNotConfigured
}

func (unconfiguredRelay) Submit(context.Context, *types.Transaction, uint64) (common.Hash, error) {
	return common.Hash{}, errRelayNotConfigured
}

func newRelay(cfg config.RelayConfig, logger *logrus.Logger) (services.BundleRelay, error) {
	if cfg.URL == "" {
		logger.Warn("Relay URL not set, private execution is unavailable")
		return unconfiguredRelay{}, nil
	}
	return relay.NewClient(relay.Config{URL: cfg.URL, AuthKey: cfg.AuthKey, Timeout: cfg.Timeout}, logger)
}

func timeoutConfig(cfg *config.Config) services.TimeoutConfig {
	tc := services.DefaultTimeoutConfig()
	if cfg.Chain.CallTimeout > 0 {
		tc.ChainRead = cfg.Chain.CallTimeout
	}
	if cfg.Chain.ReceiptTimeout > 0 {
		tc.Receipt = cfg.Chain.ReceiptTimeout
	}
	if cfg.Chain.ProbeTimeout > 0 {
		tc.BalanceProbe = cfg.Chain.ProbeTimeout
	}
	if cfg.Scorer.Timeout > 0 {
		tc.Scorer = cfg.Scorer.Timeout
	}
	if cfg.Relay.Timeout > 0 {
		tc.Relay = cfg.Relay.Timeout
	}
	return tc
}

func buildBot(ctx context.Context, cfg *config.Config, st *stores, broadcaster *services.Broadcaster, logger *logrus.Logger) (*services.Bot, error) {
	clock := clockwork.NewRealClock()
	timeouts := services.NewTimeoutManager(timeoutConfig(cfg))
	tracer := telemetry.NewBusinessTracer()

	named := dialEndpoints(ctx, cfg.Chain.RPCURLs, chain.Dial, logger)
	endpoints, err := chain.NewEndpointPool(named, chain.PoolConfig{
		ProbeTimeout: cfg.Chain.ProbeTimeout,
		CallTimeout:  cfg.Chain.CallTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build endpoint pool: %w", err)
	}

	wallet, err := chain.NewWallet(cfg.Chain.PrivateKey, cfg.Chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	logger.WithField("address", wallet.Address().Hex()).Info("Wallet loaded")

	liveRelay, err := newRelay(cfg.Relay, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay client: %w", err)
	}

	scoring := scorer.NewClient(cfg.Scorer, logger)
	breaker := services.NewCircuitBreaker("scorer", services.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          cfg.Scheduler.TickInterval * 4,
		MaxRequests:      1,
	}, clock, logger)

	store, err := config.NewStore(cfg.BotConfigPath, cfg.Bot)
	if err != nil {
		return nil, fmt.Errorf("failed to load bot configuration: %w", err)
	}

	return services.NewBot(services.BotDeps{
		Config:  store,
		Scanner: services.NewScanner(chain.NewPoolReader(endpoints), cfg.Scheduler.ScanConcurrency, clock, logger),
		Gate:    services.NewDecisionGate(scoring, breaker, timeouts, logger),
		Risk:    services.NewRiskManager(ctx, endpoints, wallet.Address(), st.risk, logger),
		Dispatcher: services.NewDispatcher(
			services.ExecutionBackend{Writer: chain.NewWriter(endpoints, wallet, cfg.Chain.GasMultiplier, cfg.Chain.ReceiptPoll, clock), Relay: liveRelay},
			services.ExecutionBackend{Writer: chain.NewSimulatedWriter(wallet), Relay: relay.NewSimulated()},
			timeouts, clock, tracer, logger,
		),
		Store:       st.trades,
		Memory:      services.NewTradeMemory(),
		Advisor:     services.NewAdvisor(endpoints, scoring, timeouts, clock, logger),
		Endpoints:   endpoints,
		Broadcaster: broadcaster,
		Notifier:    services.NewNotificationService(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger),
		Timeouts:    timeouts,
		Clock:       clock,
		Tracer:      tracer,
		Logger:      logger,
		Schedule:    cfg.Scheduler,
	})
}
