// Package scorer is the HTTP client for the external trade scoring service.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrMalformedResponse is returned when the service answers with data that
// violates the response contract.
var ErrMalformedResponse = errors.New("malformed scorer response")

// ScoreRequest is the input for a single opportunity evaluation.
type ScoreRequest struct {
	Opportunity       models.Opportunity   `json:"opportunity"`
	MarketContext     models.MarketContext `json:"market_context"`
	SimilarityContext string               `json:"similarity_context"`
	Model             string               `json:"model,omitempty"`
}

// Score is a validated scoring result.
type Score struct {
	PSuccess  float64
	Size      decimal.Decimal
	Rationale string
	Channel   models.ExecutionChannel
}

type scoreResponse struct {
	PSuccess  *float64         `json:"p_success"`
	Size      *decimal.Decimal `json:"size"`
	Rationale string           `json:"rationale"`
	Channel   string           `json:"channel"`
}

// AdviceRequest summarises recent performance for strategic advice.
type AdviceRequest struct {
	Stats        models.Stats   `json:"stats"`
	RecentTrades []models.Trade `json:"recent_trades"`
	Model        string         `json:"model,omitempty"`
}

type textResponse struct {
	Text string `json:"text"`
}

type sentimentRequest struct {
	Tokens []string `json:"tokens"`
	Model  string   `json:"model,omitempty"`
}

type sentimentResponse struct {
	Overall string            `json:"overall"`
	Tokens  map[string]string `json:"tokens"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client represents the scoring service HTTP client.
type Client struct {
	HTTPClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *logrus.Logger
}

// NewClient creates a new scoring client.
//
// Parameters:
//
//	cfg: Scorer configuration.
//	logger: Logger instance.
//
// Returns:
//
//	*Client: Initialized client.
func NewClient(cfg config.ScorerConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		logger:     logger,
	}
}

// Score asks the service to evaluate one opportunity.
//
// Parameters:
//
//	ctx: Context carrying the call deadline.
//	req: Opportunity, market and similarity context.
//
// Returns:
//
//	Score: Validated result.
//	error: Transport error, service error or ErrMalformedResponse.
func (c *Client) Score(ctx context.Context, req ScoreRequest) (Score, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	var resp scoreResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/v1/score", req, &resp); err != nil {
		return Score{}, err
	}
	return validateScore(resp)
}

func validateScore(resp scoreResponse) (Score, error) {
	if resp.PSuccess == nil {
		return Score{}, fmt.Errorf("%w: missing p_success", ErrMalformedResponse)
	}
	p := *resp.PSuccess
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Score{}, fmt.Errorf("%w: p_success %v out of range", ErrMalformedResponse, p)
	}

	out := Score{PSuccess: p, Rationale: resp.Rationale, Channel: models.ChannelStandard}
	if resp.Size != nil {
		if resp.Size.IsNegative() {
			return Score{}, fmt.Errorf("%w: negative size %s", ErrMalformedResponse, resp.Size)
		}
		out.Size = *resp.Size
	}
	if resp.Channel != "" {
		channel, ok := models.ParseExecutionChannel(resp.Channel)
		if !ok {
			return Score{}, fmt.Errorf("%w: unknown channel %q", ErrMalformedResponse, resp.Channel)
		}
		out.Channel = channel
	}
	return out, nil
}

// PostMortem asks for a short analysis of a completed trade.
func (c *Client) PostMortem(ctx context.Context, trade models.Trade) (string, error) {
	var resp textResponse
	body := struct {
		Trade models.Trade `json:"trade"`
		Model string       `json:"model,omitempty"`
	}{Trade: trade, Model: c.model}
	if err := c.makeRequest(ctx, http.MethodPost, "/v1/post-mortem", body, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// Advice asks for a strategic recommendation over recent performance.
func (c *Client) Advice(ctx context.Context, req AdviceRequest) (string, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	var resp textResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/v1/advice", req, &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty advice", ErrMalformedResponse)
	}
	return text, nil
}

// Sentiment asks for a market sentiment reading for the given symbols.
func (c *Client) Sentiment(ctx context.Context, tokens []string) (models.Sentiment, error) {
	var resp sentimentResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/v1/sentiment", sentimentRequest{Tokens: tokens, Model: c.model}, &resp); err != nil {
		return models.Sentiment{}, err
	}
	overall, ok := normalizeSentiment(resp.Overall)
	if !ok {
		return models.Sentiment{}, fmt.Errorf("%w: unknown sentiment %q", ErrMalformedResponse, resp.Overall)
	}
	out := models.Sentiment{Overall: overall, Tokens: make(map[string]string, len(resp.Tokens))}
	for symbol, value := range resp.Tokens {
		if v, ok := normalizeSentiment(value); ok {
			out.Tokens[symbol] = v
		}
	}
	return out, nil
}

func normalizeSentiment(s string) (string, bool) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case models.SentimentBullish, models.SentimentBearish, models.SentimentNeutral:
		return v, true
	default:
		return "", false
	}
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Debug("Error closing scorer response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResp errorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			return fmt.Errorf("scorer service error (%d): %s", resp.StatusCode, errorResp.Error)
		}
		return fmt.Errorf("scorer service error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}
