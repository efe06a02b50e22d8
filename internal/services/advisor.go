package services

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/irfndi/flashloan-arb-go/internal/chain"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/scorer"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Fallbacks used when the chain or the scoring service cannot answer.
const (
	DefaultGasPriceGwei = "50"
	FallbackAdvice      = "Could not retrieve AI-driven advice."
	FallbackPostMortem  = "Post-trade analysis by AI failed."

	// MinTradesForAdvice is the ledger size below which advice is not requested.
	MinTradesForAdvice = 5
	adviceTradeWindow  = 10
)

// MarketReader is the chain access needed for market context.
type MarketReader interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// AdvisoryClient is the advisory part of the scoring service.
type AdvisoryClient interface {
	PostMortem(ctx context.Context, trade models.Trade) (string, error)
	Advice(ctx context.Context, req scorer.AdviceRequest) (string, error)
	Sentiment(ctx context.Context, tokens []string) (models.Sentiment, error)
}

// Advisor gathers the advisory inputs around trading: market context for
// the scorer, post-mortems, strategic advice and sentiment. Nothing it
// produces gates execution.
type Advisor struct {
	reader   MarketReader
	client   AdvisoryClient
	timeouts *TimeoutManager
	clock    clockwork.Clock
	logger   *logrus.Logger

	mu        sync.RWMutex
	advice    models.Advice
	sentiment models.Sentiment
}

func NewAdvisor(reader MarketReader, client AdvisoryClient, timeouts *TimeoutManager, clock clockwork.Clock, logger *logrus.Logger) *Advisor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Advisor{
		reader:    reader,
		client:    client,
		timeouts:  timeouts,
		clock:     clock,
		logger:    logger,
		sentiment: models.Sentiment{Overall: models.SentimentNeutral, Tokens: map[string]string{}},
	}
}

// VolatilityFromUtilisation buckets a block's gasUsed/gasLimit ratio.
func VolatilityFromUtilisation(ratio float64) string {
	switch {
	case ratio > 0.8:
		return models.VolatilityHigh
	case ratio > 0.6:
		return models.VolatilityModerate
	default:
		return models.VolatilityLow
	}
}

// MarketContext reads the gas price and latest block utilisation. Any read
// failure yields the defaults.
func (a *Advisor) MarketContext(ctx context.Context) models.MarketContext {
	fallback := models.MarketContext{GasPriceGwei: DefaultGasPriceGwei, Volatility: models.VolatilityUnknown}

	var out models.MarketContext
	err := a.timeouts.ExecuteWithTimeout(ctx, OpChainRead, func(ctx context.Context) error {
		price, err := a.reader.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		header, err := a.reader.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		out.GasPriceGwei = chain.WeiToGwei(price).StringFixed(2)
		out.Volatility = models.VolatilityUnknown
		if header.GasLimit > 0 {
			out.Volatility = VolatilityFromUtilisation(float64(header.GasUsed) / float64(header.GasLimit))
		}
		return nil
	})
	if err != nil {
		a.logger.WithFields(logrus.Fields{"stage": "market_context"}).WithError(err).Warn("Failed to fetch market context, using defaults")
		return fallback
	}
	return out
}

// PostMortem asks for a short analysis of a completed trade.
func (a *Advisor) PostMortem(ctx context.Context, trade models.Trade) string {
	var text string
	err := a.timeouts.ExecuteWithTimeout(ctx, OpAdvisory, func(ctx context.Context) error {
		var err error
		text, err = a.client.PostMortem(ctx, trade)
		return err
	})
	if err != nil {
		a.logger.WithFields(logrus.Fields{"stage": "post_mortem", "trade_id": trade.ID}).WithError(err).Warn("Post-trade analysis failed")
		return FallbackPostMortem
	}
	return text
}

// RefreshAdvice requests strategic advice from the most recent trades.
// ledger is ordered oldest first. It returns false when the ledger is too
// short for advice to be requested.
func (a *Advisor) RefreshAdvice(ctx context.Context, ledger []models.Trade, stats models.Stats) (models.Advice, bool) {
	if len(ledger) < MinTradesForAdvice {
		return a.Advice(), false
	}

	recent := make([]models.Trade, 0, adviceTradeWindow)
	for i := len(ledger) - 1; i >= 0 && len(recent) < adviceTradeWindow; i-- {
		recent = append(recent, ledger[i])
	}

	var text string
	err := a.timeouts.ExecuteWithTimeout(ctx, OpAdvisory, func(ctx context.Context) error {
		var err error
		text, err = a.client.Advice(ctx, scorer.AdviceRequest{Stats: stats, RecentTrades: recent})
		return err
	})
	if err != nil {
		a.logger.WithField("stage", "advice").WithError(err).Warn("Strategic advice request failed")
		text = FallbackAdvice
	}

	advice := models.Advice{Text: text, UpdatedAt: a.clock.Now()}
	a.mu.Lock()
	a.advice = advice
	a.mu.Unlock()
	return advice, true
}

// RefreshSentiment reads market sentiment for the configured routes. A
// failure resets the reading to neutral.
func (a *Advisor) RefreshSentiment(ctx context.Context, routes []models.TokenRoute) models.Sentiment {
	symbols := make([]string, 0, len(routes))
	for _, r := range routes {
		symbols = append(symbols, r.Symbol)
	}

	var sentiment models.Sentiment
	err := a.timeouts.ExecuteWithTimeout(ctx, OpAdvisory, func(ctx context.Context) error {
		var err error
		sentiment, err = a.client.Sentiment(ctx, symbols)
		return err
	})
	if err != nil {
		a.logger.WithField("stage", "sentiment").WithError(err).Warn("Sentiment request failed, assuming neutral")
		sentiment = models.Sentiment{Overall: models.SentimentNeutral, Tokens: map[string]string{}}
	}
	sentiment.UpdatedAt = a.clock.Now()

	a.mu.Lock()
	a.sentiment = sentiment
	a.mu.Unlock()
	return copySentiment(sentiment)
}

func (a *Advisor) Advice() models.Advice {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.advice
}

func (a *Advisor) Sentiment() models.Sentiment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copySentiment(a.sentiment)
}

func copySentiment(s models.Sentiment) models.Sentiment {
	tokens := make(map[string]string, len(s.Tokens))
	for k, v := range s.Tokens {
		tokens[k] = v
	}
	s.Tokens = tokens
	return s
}
