package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/logging"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler job names.
const (
	JobTick       = "tick"
	JobRPCMonitor = "rpc_monitor"
	JobAdvice     = "advice"
	JobSentiment  = "sentiment"
)

// OpportunityBufferSize is the number of recent opportunities kept for readers.
const OpportunityBufferSize = 20

// TradeStore is the append-only trade ledger.
type TradeStore interface {
	Append(ctx context.Context, trade models.Trade) error
	Query(ctx context.Context, limit, offset int) ([]models.Trade, error)
	All(ctx context.Context) ([]models.Trade, error)
	AggregateStats(ctx context.Context, dayStart time.Time) (models.Stats, error)
}

// EndpointMonitor probes chain endpoints and reports their health.
type EndpointMonitor interface {
	Probe(ctx context.Context) []models.RpcEndpoint
	Snapshot() []models.RpcEndpoint
}

// BotConfigStore is where the trading configuration lives between ticks.
type BotConfigStore interface {
	Load() config.BotConfig
	Save(cfg config.BotConfig) error
	SetSimulationMode(enabled bool) error
}

// BotDeps are the collaborators the control loop is assembled from.
type BotDeps struct {
	Config      BotConfigStore
	Scanner     *Scanner
	Gate        *DecisionGate
	Risk        *RiskManager
	Dispatcher  *Dispatcher
	Store       TradeStore
	Memory      *TradeMemory
	Advisor     *Advisor
	Endpoints   EndpointMonitor
	Broadcaster *Broadcaster
	Notifier    *NotificationService
	Timeouts    *TimeoutManager
	Clock       clockwork.Clock
	Tracer      *telemetry.BusinessTracer
	Logger      *logrus.Logger
	Schedule    config.SchedulerConfig
}

// Bot is the control loop. It owns the risk state, the opportunity buffer
// and the endpoint health table; readers only ever receive copies.
type Bot struct {
	BotDeps
	scheduler *Scheduler
	stats     *StatsAggregator

	mu            sync.RWMutex
	ledger        []models.Trade
	pending       []models.Trade
	opportunities []models.Opportunity
	rpc           []models.RpcEndpoint
	market        models.MarketContext
	message       string
	lastTick      time.Time
}

// NewBot wires the control loop and registers its scheduler jobs.
func NewBot(deps BotDeps) (*Bot, error) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.NewBusinessTracer()
	}
	if deps.Memory == nil {
		deps.Memory = NewTradeMemory()
	}
	if deps.Timeouts == nil {
		deps.Timeouts = NewTimeoutManager(DefaultTimeoutConfig())
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = NewBroadcaster(DefaultSubscriberBuffer)
	}

	b := &Bot{
		BotDeps:   deps,
		scheduler: NewScheduler(deps.Clock, deps.Logger),
		stats:     NewStatsAggregator(deps.Clock.Now().Location()),
		market:    models.MarketContext{GasPriceGwei: DefaultGasPriceGwei, Volatility: models.VolatilityUnknown},
		message:   "Initializing",
	}

	jobs := []Job{
		{Name: JobTick, Interval: deps.Schedule.TickInterval, Run: b.Tick},
		{Name: JobRPCMonitor, Interval: deps.Schedule.RPCMonitorInterval, Run: b.MonitorEndpoints},
		{Name: JobAdvice, Interval: deps.Schedule.AdviceInterval, Run: b.RefreshAdvice},
		{Name: JobSentiment, Interval: deps.Schedule.SentimentInterval, Run: b.RefreshSentiment},
	}
	for _, job := range jobs {
		if err := b.scheduler.Add(job); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Run executes the startup sequence and starts the timers. It returns once
// the scheduler is running.
func (b *Bot) Run(ctx context.Context) error {
	b.Logger.Info("Starting arbitrage bot")

	b.MonitorEndpoints(ctx)
	b.Logger.Info("Initial RPC health check complete")

	ledger, err := b.loadLedger(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trade ledger: %w", err)
	}
	b.mu.Lock()
	b.ledger = ledger
	b.mu.Unlock()
	b.stats.Reset(ledger)
	b.publishStats()

	b.RefreshSentiment(ctx)

	if b.Risk.State(b.Clock.Now()).KillSwitchActive {
		b.scheduler.Pause(JobTick)
		b.setMessage("Halted - kill switch active")
	} else {
		b.scheduler.RunNow(ctx, JobTick)
	}
	b.RefreshAdvice(ctx)

	b.scheduler.Start(ctx)
	b.Logger.Info("Bot is now fully autonomous")
	return nil
}

// Shutdown stops the timers, waits for the in-flight tick and makes a last
// attempt at persisting pending trades.
func (b *Bot) Shutdown(ctx context.Context) {
	b.scheduler.Stop()
	b.flushPending(ctx)
	b.mu.RLock()
	left := len(b.pending)
	b.mu.RUnlock()
	if left > 0 {
		b.Logger.WithField("pending", left).Error("Trades could not be persisted before shutdown")
	}
}

func (b *Bot) loadLedger(ctx context.Context) ([]models.Trade, error) {
	ctx, cancel := b.Timeouts.WithTimeout(ctx, OpStore)
	defer cancel()
	return b.Store.All(ctx)
}

// Tick runs one Risk → Scan → Decide → Execute iteration.
func (b *Bot) Tick(ctx context.Context) {
	started := b.Clock.Now()
	cfg := b.Config.Load()

	ctx, span := b.Tracer.TraceTick(ctx, cfg.SimulationMode)
	metrics := telemetry.TickMetrics{}
	defer func() {
		metrics.Duration = b.Clock.Since(started)
		b.Tracer.RecordTickResult(span, metrics)
		span.End()
	}()

	b.mu.Lock()
	b.lastTick = started
	b.mu.Unlock()

	b.flushPending(ctx)

	state, ok := b.evaluateRisk(ctx, cfg)
	metrics.RiskMode = state.Mode
	if !ok {
		return
	}

	b.setMessage("Scanning for opportunities...")
	opps, market := b.scan(ctx, cfg)
	metrics.Candidates = len(opps)
	if len(opps) == 0 {
		b.Logger.Info("No new opportunities found in this scan")
		return
	}
	b.Logger.WithField("count", len(opps)).Info("Found potential opportunities, scoring")

	scored := b.decide(ctx, opps, market)
	b.pushOpportunities(scored)

	var approved []models.Opportunity
	for _, opp := range scored {
		if b.Gate.Approve(opp, cfg.PSuccessThreshold, state.Mode) {
			approved = append(approved, opp)
		}
	}
	metrics.Approved = len(approved)
	if len(approved) > 0 {
		b.Logger.WithField("count", len(approved)).Info("Trades approved for execution")
	}

	for _, opp := range approved {
		// A trade earlier in this tick may have started a cooldown, and the
		// operator may have stopped the bot meanwhile.
		if st := b.Risk.State(b.Clock.Now()); !st.CanTrade() {
			b.Logger.WithField("mode", st.Mode).Info("Risk state changed mid-tick, skipping remaining trades")
			break
		}
		b.setMessage(fmt.Sprintf("Executing %s...", opp.Route.Symbol))
		trade, err := b.Dispatcher.Dispatch(ctx, opp, cfg)
		if err != nil {
			b.Logger.WithFields(logging.StageFields(opp.Route.Symbol, string(opp.Strategy), "dispatch")).
				WithError(err).Error("Dispatch failed")
			continue
		}
		metrics.Dispatched++
		b.recordTrade(ctx, trade, cfg)
	}
	b.setMessage("Waiting for next tick")
}

// evaluateRisk runs the pre-scan gate. It returns false when the tick must
// not scan or trade.
func (b *Bot) evaluateRisk(ctx context.Context, cfg config.BotConfig) (models.RiskState, bool) {
	ctx, span := b.Tracer.TraceRiskEvaluation(ctx)
	defer span.End()

	probeCtx, cancel := b.Timeouts.WithTimeout(ctx, OpBalanceProbe)
	state, tripped, err := b.Risk.Evaluate(probeCtx, b.Clock.Now(), cfg.RiskManagement)
	cancel()
	b.Tracer.RecordRiskState(span, state, err)

	if err != nil {
		b.Logger.WithFields(logging.StageFields("", "", "risk")).WithError(err).Error("Risk evaluation failed, skipping tick")
		b.setMessage("Paused - balance probe failed")
		return state, false
	}
	if tripped {
		b.scheduler.Pause(JobTick)
		b.setMessage("Halted - kill switch active")
		b.Broadcaster.Publish(models.EventKillSwitch, state)
		b.Broadcaster.Publish(models.EventRiskTriggered, state.Reason)
		b.Notifier.NotifyKillSwitch(ctx, state.Reason)
		b.publishStatus()
		return state, false
	}

	switch state.Mode {
	case models.RiskModeActive:
		return state, true
	case models.RiskModeCooldown:
		remaining := state.CooldownRemaining(b.Clock.Now())
		b.setMessage(fmt.Sprintf("Paused - Risk Cooldown (%.1fm)", remaining.Minutes()))
	case models.RiskModeKillSwitchActive:
		b.setMessage("Halted - kill switch active")
	case models.RiskModeStopped:
		b.setMessage("Stopped by operator")
	}
	return state, false
}

func (b *Bot) scan(ctx context.Context, cfg config.BotConfig) ([]models.Opportunity, models.MarketContext) {
	ctx, span := b.Tracer.TraceScan(ctx, len(cfg.Tokens))
	defer span.End()

	var (
		opps   []models.Opportunity
		market models.MarketContext
		g      errgroup.Group
	)
	g.Go(func() error {
		scanCtx, cancel := b.Timeouts.WithTimeout(ctx, OpChainRead)
		defer cancel()
		opps = b.Scanner.Scan(scanCtx, cfg)
		return nil
	})
	g.Go(func() error {
		market = b.Advisor.MarketContext(ctx)
		return nil
	})
	_ = g.Wait()

	b.mu.Lock()
	b.market = market
	b.mu.Unlock()
	return opps, market
}

// decide scores candidates concurrently. Order is preserved.
func (b *Bot) decide(ctx context.Context, opps []models.Opportunity, market models.MarketContext) []models.Opportunity {
	ledger := b.Ledger()
	scored := make([]models.Opportunity, len(opps))

	var g errgroup.Group
	g.SetLimit(max(b.Schedule.ScanConcurrency, 1))
	for i, opp := range opps {
		i, opp := i, opp
		g.Go(func() error {
			ctx, span := b.Tracer.TraceDecision(ctx, opp)
			defer span.End()
			scored[i] = b.Gate.Evaluate(ctx, opp, market, b.Memory.Context(opp, ledger))
			b.Tracer.RecordDecision(span, scored[i], scored[i].Scored && scored[i].PSuccess > 0)
			return nil
		})
	}
	_ = g.Wait()
	return scored
}

// recordTrade attaches the post-mortem, appends the trade and updates
// everything derived from the ledger.
func (b *Bot) recordTrade(ctx context.Context, trade models.Trade, cfg config.BotConfig) {
	analysis := b.Advisor.PostMortem(ctx, trade)
	if trade.PostMortem != "" {
		trade.PostMortem = trade.PostMortem + ". " + analysis
	} else {
		trade.PostMortem = analysis
	}

	b.mu.Lock()
	b.ledger = append(b.ledger, trade)
	ledger := append([]models.Trade(nil), b.ledger...)
	b.pending = append(b.pending, trade)
	b.mu.Unlock()

	b.flushPending(ctx)
	b.stats.Add(trade)
	now := b.Clock.Now()
	if recomputed := ComputeStats(ledger, now); !b.stats.Stats(now).Equal(recomputed) {
		b.Logger.Error("Incremental stats drifted from ledger, rebuilding")
		b.stats.Reset(ledger)
	}

	b.Logger.WithFields(logrus.Fields{
		"route":   trade.Opportunity.Route.Symbol,
		"status":  string(trade.Status),
		"profit":  trade.Profit.StringFixed(6),
		"tx_hash": trade.TxHash,
	}).Info("Trade completed")
	b.Broadcaster.Publish(models.EventTradeComplete, trade)
	b.publishStats()

	if !trade.IsSimulated() {
		b.Notifier.NotifyTrade(ctx, trade)
	}

	if b.Risk.AfterTrade(ctx, now, ledger, cfg.RiskManagement) {
		state := b.Risk.State(now)
		reason := fmt.Sprintf("Daily loss limit of %.2f%% hit. Pausing for %d mins.",
			cfg.RiskManagement.DailyLossThreshold*100, cfg.RiskManagement.CooldownMinutes)
		b.Logger.WithField("cooldown_until", state.CooldownUntil).Warn(reason)
		b.Broadcaster.Publish(models.EventRiskTriggered, reason)
		b.Notifier.NotifyCooldown(ctx, state.CooldownUntil, DailyPnl(ledger, now))
		b.publishStatus()
	}
}

// flushPending persists queued trades in order. The first failure leaves it
// and everything after it queued for the next attempt.
func (b *Bot) flushPending(ctx context.Context) {
	b.mu.RLock()
	queue := append([]models.Trade(nil), b.pending...)
	b.mu.RUnlock()

	done := 0
	for _, trade := range queue {
		err := b.Timeouts.ExecuteWithTimeout(ctx, OpStore, func(ctx context.Context) error {
			return b.Store.Append(ctx, trade)
		})
		if err != nil {
			b.Logger.WithFields(logrus.Fields{"stage": "persist", "trade_id": trade.ID, "pending": len(queue) - done}).
				WithError(err).Warn("Failed to persist trade, will retry next tick")
			break
		}
		done++
	}

	if done > 0 {
		b.mu.Lock()
		b.pending = b.pending[done:]
		b.mu.Unlock()
	}
}

func (b *Bot) pushOpportunities(scored []models.Opportunity) {
	b.mu.Lock()
	merged := make([]models.Opportunity, 0, len(scored)+len(b.opportunities))
	for i := len(scored) - 1; i >= 0; i-- {
		merged = append(merged, scored[i].Snapshot())
	}
	merged = append(merged, b.opportunities...)
	if len(merged) > OpportunityBufferSize {
		merged = merged[:OpportunityBufferSize]
	}
	b.opportunities = merged
	b.mu.Unlock()

	b.Broadcaster.Publish(models.EventOpportunities, b.Opportunities())
}

// MonitorEndpoints probes every chain endpoint and publishes the result.
func (b *Bot) MonitorEndpoints(ctx context.Context) {
	rpc := b.Endpoints.Probe(ctx)
	online := 0
	for _, ep := range rpc {
		if ep.Status == models.EndpointOnline {
			online++
		}
	}
	if online == 0 {
		b.Logger.WithFields(logging.StageFields("", "", "rpc_probe")).Warn("No RPC endpoint is online")
	}

	b.mu.Lock()
	b.rpc = rpc
	b.mu.Unlock()
	b.Broadcaster.Publish(models.EventRPCStatus, b.RPCStatus())
}

// RefreshAdvice asks for a strategic review of recent trades.
func (b *Bot) RefreshAdvice(ctx context.Context) {
	ledger := b.Ledger()
	advice, ok := b.Advisor.RefreshAdvice(ctx, ledger, b.Stats())
	if !ok {
		return
	}
	b.Logger.WithField("advice", advice.Text).Info("Strategic advice updated")
	b.Broadcaster.Publish(models.EventAdvice, advice)
}

// RefreshSentiment updates the market sentiment reading.
func (b *Bot) RefreshSentiment(ctx context.Context) {
	sentiment := b.Advisor.RefreshSentiment(ctx, b.Config.Load().Tokens)
	b.Broadcaster.Publish(models.EventSentiment, sentiment)
}

// Start resumes trading after an operator stop.
func (b *Bot) Start() {
	b.Risk.Start()
	if !b.Risk.State(b.Clock.Now()).KillSwitchActive {
		b.scheduler.Resume(JobTick)
	}
	b.Logger.Info("Bot started by operator")
	b.setMessage("Running")
	b.publishStatus()
}

// Stop cancels future ticks. A tick already running completes.
func (b *Bot) Stop() {
	b.Risk.Stop()
	b.scheduler.Pause(JobTick)
	b.Logger.Info("Bot stopped by operator")
	b.setMessage("Stopped by operator")
	b.publishStatus()
}

// ToggleSimulation flips simulation mode; it applies from the next tick.
func (b *Bot) ToggleSimulation() (bool, error) {
	enabled := !b.Config.Load().SimulationMode
	if err := b.Config.SetSimulationMode(enabled); err != nil {
		return false, err
	}
	b.Logger.WithField("simulation_mode", enabled).Info("Simulation mode toggled")
	b.Broadcaster.Publish(models.EventConfigUpdate, b.Config.Load())
	b.publishStatus()
	return enabled, nil
}

// ResetKillSwitch clears the kill switch and re-arms the tick timer.
func (b *Bot) ResetKillSwitch(ctx context.Context) {
	b.Risk.ResetKillSwitch(ctx)
	if b.Risk.State(b.Clock.Now()).Mode != models.RiskModeStopped {
		b.scheduler.Resume(JobTick)
	}
	b.Logger.Warn("Kill switch reset by operator")
	b.setMessage("Running")
	b.Broadcaster.Publish(models.EventKillSwitch, b.Risk.State(b.Clock.Now()))
	b.publishStatus()
}

// UpdateConfig validates and stores cfg; it applies from the next tick.
func (b *Bot) UpdateConfig(cfg config.BotConfig) error {
	if err := b.Config.Save(cfg); err != nil {
		return err
	}
	b.Logger.Info("Configuration updated")
	b.Broadcaster.Publish(models.EventConfigUpdate, b.Config.Load())
	return nil
}

func (b *Bot) setMessage(msg string) {
	b.mu.Lock()
	b.message = msg
	b.mu.Unlock()
	b.publishStatus()
}

func (b *Bot) publishStatus() {
	b.Broadcaster.Publish(models.EventStatus, b.Status())
}

func (b *Bot) publishStats() {
	b.Broadcaster.Publish(models.EventStats, b.Stats())
}

// Status returns the current bot status.
func (b *Bot) Status() models.BotStatus {
	risk := b.Risk.State(b.Clock.Now())
	b.mu.RLock()
	defer b.mu.RUnlock()
	return models.BotStatus{
		Running:        risk.CanTrade() && !b.scheduler.Paused(JobTick),
		SimulationMode: b.Config.Load().SimulationMode,
		Risk:           risk,
		Message:        b.message,
		LastTickAt:     b.lastTick,
	}
}

func (b *Bot) Stats() models.Stats {
	return b.stats.Stats(b.Clock.Now())
}

// Opportunities returns the buffered opportunities, newest first.
func (b *Bot) Opportunities() []models.Opportunity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Opportunity, len(b.opportunities))
	for i, opp := range b.opportunities {
		out[i] = opp.Snapshot()
	}
	return out
}

func (b *Bot) RPCStatus() []models.RpcEndpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]models.RpcEndpoint(nil), b.rpc...)
}

func (b *Bot) MarketContext() models.MarketContext {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.market
}

// Ledger returns a copy of the in-memory ledger, oldest first.
func (b *Bot) Ledger() []models.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]models.Trade(nil), b.ledger...)
}

// PendingTrades is the number of trades not yet persisted.
func (b *Bot) PendingTrades() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}

// Trades pages through the persisted ledger, newest first.
func (b *Bot) Trades(ctx context.Context, limit, offset int) ([]models.Trade, error) {
	ctx, cancel := b.Timeouts.WithTimeout(ctx, OpStore)
	defer cancel()
	return b.Store.Query(ctx, limit, offset)
}

// PersistedStats aggregates stats directly in the trade store.
func (b *Bot) PersistedStats(ctx context.Context) (models.Stats, error) {
	ctx, cancel := b.Timeouts.WithTimeout(ctx, OpStore)
	defer cancel()
	return b.Store.AggregateStats(ctx, StartOfDay(b.Clock.Now()))
}

// CurrentConfig returns the trading configuration the next tick will use.
func (b *Bot) CurrentConfig() config.BotConfig {
	return b.Config.Load()
}

// Subscribe attaches a new event stream subscriber.
func (b *Bot) Subscribe() *Subscription {
	return b.Broadcaster.Subscribe()
}

func (b *Bot) Advice() models.Advice {
	return b.Advisor.Advice()
}

func (b *Bot) Sentiment() models.Sentiment {
	return b.Advisor.Sentiment()
}
