package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/middleware"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/utils"
	"github.com/sirupsen/logrus"
)

// BotController is the operator command surface of the control loop.
type BotController interface {
	Start()
	Stop()
	ToggleSimulation() (bool, error)
	ResetKillSwitch(ctx context.Context)
	UpdateConfig(cfg config.BotConfig) error
	CurrentConfig() config.BotConfig
	Status() models.BotStatus
}

// ControlHandler serves the admin-only control commands. Every command
// answers with the resulting bot status.
type ControlHandler struct {
	bot    BotController
	logger *logrus.Logger
}

func NewControlHandler(bot BotController, logger *logrus.Logger) *ControlHandler {
	return &ControlHandler{bot: bot, logger: logger}
}

func (h *ControlHandler) Start(c *gin.Context) {
	h.bot.Start()
	c.JSON(http.StatusOK, h.bot.Status())
}

func (h *ControlHandler) Stop(c *gin.Context) {
	h.bot.Stop()
	c.JSON(http.StatusOK, h.bot.Status())
}

// ToggleSimulation flips simulation mode; it applies from the next tick.
func (h *ControlHandler) ToggleSimulation(c *gin.Context) {
	enabled, err := h.bot.ToggleSimulation()
	if err != nil {
		middleware.RecordError(c, err, "simulation toggle failed")
		h.logger.WithError(err).Error("Failed to toggle simulation mode")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to toggle simulation mode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"simulation_mode": enabled, "status": h.bot.Status()})
}

func (h *ControlHandler) ResetKillSwitch(c *gin.Context) {
	h.bot.ResetKillSwitch(c.Request.Context())
	c.JSON(http.StatusOK, h.bot.Status())
}

// UpdateConfig replaces the trading configuration. Invalid configs are
// rejected and the current one stays in force.
func (h *ControlHandler) UpdateConfig(c *gin.Context) {
	var cfg config.BotConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.bot.UpdateConfig(cfg); err != nil {
		if utils.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		middleware.RecordError(c, err, "config update failed")
		h.logger.WithError(err).Error("Failed to update configuration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update configuration"})
		return
	}
	c.JSON(http.StatusOK, h.bot.CurrentConfig())
}
