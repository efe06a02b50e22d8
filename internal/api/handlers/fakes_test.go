package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/services"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errStore = errors.New("store unavailable")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeBot records control calls and serves canned read models.
type fakeBot struct {
	mu sync.Mutex

	status        models.BotStatus
	stats         models.Stats
	storeStats    models.Stats
	storeErr      error
	opportunities []models.Opportunity
	rpc           []models.RpcEndpoint
	market        models.MarketContext
	cfg           config.BotConfig
	advice        models.Advice
	sentiment     models.Sentiment
	trades        []models.Trade
	toggleErr     error
	updateErr     error

	calls      []string
	tradeQuery [2]int

	events *services.Broadcaster
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		status:    models.BotStatus{Running: true, SimulationMode: true, Message: "Running"},
		market:    models.MarketContext{GasPriceGwei: "30.00", Volatility: models.VolatilityLow},
		cfg:       config.DefaultBotConfig(),
		sentiment: models.Sentiment{Overall: models.SentimentNeutral},
		stats:     models.Stats{TradesToday: 2, TotalPnl: decimal.RequireFromString("0.011"), SuccessRate: 50},
		events:    services.NewBroadcaster(16),
	}
}

func (f *fakeBot) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBot) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBot) Status() models.BotStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeBot) Stats() models.Stats { return f.stats }

func (f *fakeBot) PersistedStats(context.Context) (models.Stats, error) {
	return f.storeStats, f.storeErr
}

func (f *fakeBot) Opportunities() []models.Opportunity { return f.opportunities }
func (f *fakeBot) RPCStatus() []models.RpcEndpoint { return f.rpc }
func (f *fakeBot) MarketContext() models.MarketContext { return f.market }
func (f *fakeBot) Advice() models.Advice { return f.advice }
func (f *fakeBot) Sentiment() models.Sentiment { return f.sentiment }
func (f *fakeBot) Subscribe() *services.Subscription { return f.events.Subscribe() }
func (f *fakeBot) CurrentConfig() config.BotConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeBot) Trades(_ context.Context, limit, offset int) ([]models.Trade, error) {
	f.mu.Lock()
	f.tradeQuery = [2]int{limit, offset}
	f.mu.Unlock()
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	return f.trades, nil
}

func (f *fakeBot) Start() {
	f.record("start")
	f.mu.Lock()
	f.status.Running = true
	f.mu.Unlock()
}

func (f *fakeBot) Stop() {
	f.record("stop")
	f.mu.Lock()
	f.status.Running = false
	f.mu.Unlock()
}

func (f *fakeBot) ToggleSimulation() (bool, error) {
	f.record("simulation")
	if f.toggleErr != nil {
		return false, f.toggleErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.SimulationMode = !f.status.SimulationMode
	return f.status.SimulationMode, nil
}

func (f *fakeBot) ResetKillSwitch(context.Context) {
	f.record("reset")
	f.mu.Lock()
	f.status.Risk.KillSwitchActive = false
	f.mu.Unlock()
}

func (f *fakeBot) UpdateConfig(cfg config.BotConfig) error {
	f.record("config")
	if f.updateErr != nil {
		return f.updateErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	return nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, router *gin.Engine, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func tradeFixture(id string, profit string) models.Trade {
	return models.Trade{
		ID:        id,
		Status:    models.TradeStatusSuccess,
		Profit:    decimal.RequireFromString(profit),
		Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}
