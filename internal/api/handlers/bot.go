package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/middleware"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Paging limits for the trade history endpoint.
const (
	DefaultTradeLimit = 50
	MaxTradeLimit     = 500
)

// BotReader is the read side of the control loop.
type BotReader interface {
	Status() models.BotStatus
	Stats() models.Stats
	PersistedStats(ctx context.Context) (models.Stats, error)
	Opportunities() []models.Opportunity
	RPCStatus() []models.RpcEndpoint
	MarketContext() models.MarketContext
	CurrentConfig() config.BotConfig
	Advice() models.Advice
	Sentiment() models.Sentiment
	Trades(ctx context.Context, limit, offset int) ([]models.Trade, error)
}

// BotHandler serves the dashboard read endpoints.
type BotHandler struct {
	bot    BotReader
	logger *logrus.Logger
}

type StatusResponse struct {
	models.BotStatus
	Market models.MarketContext `json:"market"`
}

type OpportunitiesResponse struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Count         int                  `json:"count"`
	Timestamp     time.Time            `json:"timestamp"`
}

type TradesResponse struct {
	Trades []models.Trade `json:"trades"`
	Count  int            `json:"count"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func NewBotHandler(bot BotReader, logger *logrus.Logger) *BotHandler {
	return &BotHandler{bot: bot, logger: logger}
}

// GetStatus returns the running flag, simulation mode, risk state and the
// latest market context.
func (h *BotHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		BotStatus: h.bot.Status(),
		Market:    h.bot.MarketContext(),
	})
}

// GetStats returns today's stats. With source=store they are aggregated by
// the trade store instead of the in-memory ledger.
func (h *BotHandler) GetStats(c *gin.Context) {
	if c.Query("source") != "store" {
		c.JSON(http.StatusOK, h.bot.Stats())
		return
	}

	stats, err := h.bot.PersistedStats(c.Request.Context())
	if err != nil {
		middleware.RecordError(c, err, "stats aggregation failed")
		h.logger.WithError(err).Error("Failed to aggregate persisted stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *BotHandler) GetOpportunities(c *gin.Context) {
	opps := h.bot.Opportunities()
	c.JSON(http.StatusOK, OpportunitiesResponse{
		Opportunities: opps,
		Count:         len(opps),
		Timestamp:     time.Now(),
	})
}

func (h *BotHandler) GetRPCStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"endpoints": h.bot.RPCStatus()})
}

func (h *BotHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.bot.CurrentConfig())
}

func (h *BotHandler) GetAdvice(c *gin.Context) {
	c.JSON(http.StatusOK, h.bot.Advice())
}

func (h *BotHandler) GetSentiment(c *gin.Context) {
	c.JSON(http.StatusOK, h.bot.Sentiment())
}

// GetTrades pages through the persisted ledger, newest first.
func (h *BotHandler) GetTrades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultTradeLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}
	if limit > MaxTradeLimit {
		limit = MaxTradeLimit
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset parameter"})
		return
	}

	middleware.AddSpanAttribute(c, "trades.limit", limit)
	middleware.AddSpanAttribute(c, "trades.offset", offset)

	trades, err := h.bot.Trades(c.Request.Context(), limit, offset)
	if err != nil {
		middleware.RecordError(c, err, "trade query failed")
		h.logger.WithError(err).Error("Failed to query trades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query trades"})
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}

	c.JSON(http.StatusOK, TradesResponse{
		Trades: trades,
		Count:  len(trades),
		Limit:  limit,
		Offset: offset,
	})
}
