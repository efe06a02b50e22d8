package services

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdvisor(market *fakeMarket, client *fakeAdvisory) (*Advisor, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewAdvisor(market, client, NewTimeoutManager(TimeoutConfig{}), clock, testLogger()), clock
}

func header(used, limit uint64) *types.Header {
	return &types.Header{Number: big.NewInt(1), GasUsed: used, GasLimit: limit}
}

func TestVolatilityFromUtilisation(t *testing.T) {
	assert.Equal(t, models.VolatilityHigh, VolatilityFromUtilisation(0.81))
	assert.Equal(t, models.VolatilityModerate, VolatilityFromUtilisation(0.8))
	assert.Equal(t, models.VolatilityModerate, VolatilityFromUtilisation(0.61))
	assert.Equal(t, models.VolatilityLow, VolatilityFromUtilisation(0.6))
	assert.Equal(t, models.VolatilityLow, VolatilityFromUtilisation(0))
}

func TestAdvisor_MarketContext(t *testing.T) {
	t.Run("reads gas and utilisation", func(t *testing.T) {
		price := new(big.Int).Add(gwei(31), big.NewInt(456_000_000))
		a, _ := newTestAdvisor(&fakeMarket{gasPrice: price, header: header(27_000_000, 30_000_000)}, &fakeAdvisory{})

		ctx := a.MarketContext(context.Background())
		assert.Equal(t, "31.46", ctx.GasPriceGwei)
		assert.Equal(t, models.VolatilityHigh, ctx.Volatility)
	})

	t.Run("zero gas limit is unknown", func(t *testing.T) {
		a, _ := newTestAdvisor(&fakeMarket{gasPrice: gwei(30), header: header(0, 0)}, &fakeAdvisory{})
		assert.Equal(t, models.VolatilityUnknown, a.MarketContext(context.Background()).Volatility)
	})

	t.Run("read failure uses defaults", func(t *testing.T) {
		a, _ := newTestAdvisor(&fakeMarket{err: errBoom}, &fakeAdvisory{})
		ctx := a.MarketContext(context.Background())
		assert.Equal(t, models.MarketContext{GasPriceGwei: DefaultGasPriceGwei, Volatility: models.VolatilityUnknown}, ctx)
	})
}

func TestAdvisor_PostMortem(t *testing.T) {
	trade := tradeAt(time.Now(), models.TradeStatusFailed, "-0.001")

	a, _ := newTestAdvisor(&fakeMarket{}, &fakeAdvisory{postMortem: "gas spiked mid-block"})
	assert.Equal(t, "gas spiked mid-block", a.PostMortem(context.Background(), trade))

	a, _ = newTestAdvisor(&fakeMarket{}, &fakeAdvisory{postErr: errBoom})
	assert.Equal(t, FallbackPostMortem, a.PostMortem(context.Background(), trade))
}

func adviceLedger(n int) []models.Trade {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	ledger := make([]models.Trade, n)
	for i := range ledger {
		ledger[i] = tradeAt(base.Add(time.Duration(i)*time.Minute), models.TradeStatusSuccess, "0.01")
		ledger[i].ID = fmt.Sprintf("t%02d", i)
	}
	return ledger
}

func TestAdvisor_RefreshAdvice(t *testing.T) {
	t.Run("too few trades", func(t *testing.T) {
		client := &fakeAdvisory{advice: "widen spreads"}
		a, _ := newTestAdvisor(&fakeMarket{}, client)

		_, ok := a.RefreshAdvice(context.Background(), adviceLedger(MinTradesForAdvice-1), models.Stats{})
		assert.False(t, ok)
		assert.Empty(t, client.adviceReqs)
		assert.Empty(t, a.Advice().Text)
	})

	t.Run("sends the ten most recent trades newest first", func(t *testing.T) {
		client := &fakeAdvisory{advice: "reduce loan size on DFYN routes"}
		a, clock := newTestAdvisor(&fakeMarket{}, client)

		advice, ok := a.RefreshAdvice(context.Background(), adviceLedger(15), models.Stats{TradesToday: 15})
		require.True(t, ok)
		assert.Equal(t, "reduce loan size on DFYN routes", advice.Text)
		assert.Equal(t, clock.Now(), advice.UpdatedAt)
		assert.Equal(t, advice, a.Advice())

		require.Len(t, client.adviceReqs, 1)
		recent := client.adviceReqs[0].RecentTrades
		require.Len(t, recent, 10)
		assert.Equal(t, "t14", recent[0].ID)
		assert.Equal(t, "t05", recent[9].ID)
		assert.Equal(t, 15, client.adviceReqs[0].Stats.TradesToday)
	})

	t.Run("failure stores fallback", func(t *testing.T) {
		a, _ := newTestAdvisor(&fakeMarket{}, &fakeAdvisory{adviceErr: errBoom})
		advice, ok := a.RefreshAdvice(context.Background(), adviceLedger(5), models.Stats{})
		require.True(t, ok)
		assert.Equal(t, FallbackAdvice, advice.Text)
	})
}

func TestAdvisor_RefreshSentiment(t *testing.T) {
	routes := []models.TokenRoute{pairRoute(0.01), triRoute(0.01)}

	t.Run("initially neutral", func(t *testing.T) {
		a, _ := newTestAdvisor(&fakeMarket{}, &fakeAdvisory{})
		assert.Equal(t, models.SentimentNeutral, a.Sentiment().Overall)
	})

	t.Run("stores the reading", func(t *testing.T) {
		client := &fakeAdvisory{sentiment: models.Sentiment{
			Overall: models.SentimentBullish,
			Tokens:  map[string]string{"AAA/BBB": models.SentimentBullish},
		}}
		a, clock := newTestAdvisor(&fakeMarket{}, client)

		got := a.RefreshSentiment(context.Background(), routes)
		assert.Equal(t, models.SentimentBullish, got.Overall)
		assert.Equal(t, clock.Now(), got.UpdatedAt)
		assert.Equal(t, []string{"AAA/BBB", "AAA/BBB/CCC"}, client.tokens)

		got.Tokens["AAA/BBB"] = models.SentimentBearish
		assert.Equal(t, models.SentimentBullish, a.Sentiment().Tokens["AAA/BBB"], "readers get copies")
	})

	t.Run("failure resets to neutral", func(t *testing.T) {
		client := &fakeAdvisory{sentiment: models.Sentiment{Overall: models.SentimentBearish}}
		a, _ := newTestAdvisor(&fakeMarket{}, client)
		a.RefreshSentiment(context.Background(), routes)
		require.Equal(t, models.SentimentBearish, a.Sentiment().Overall)

		client.sentimentErr = errBoom
		got := a.RefreshSentiment(context.Background(), routes)
		assert.Equal(t, models.SentimentNeutral, got.Overall)
		assert.Empty(t, got.Tokens)
	})
}
