package models

import "time"

// Volatility buckets derived from block gas utilisation.
const (
	VolatilityLow      = "low"
	VolatilityModerate = "moderate"
	VolatilityHigh     = "high"
	VolatilityUnknown  = "unknown"
)

// Sentiment values returned by the scoring service.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

// MarketContext is sent to the scoring service alongside each opportunity.
type MarketContext struct {
	GasPriceGwei string `json:"gas_price_gwei"`
	Volatility   string `json:"volatility"`
}

// Sentiment is the most recent market sentiment reading.
type Sentiment struct {
	Overall   string            `json:"overall"`
	Tokens    map[string]string `json:"tokens"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Advice is the most recent strategic recommendation.
type Advice struct {
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}
