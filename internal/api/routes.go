package api

import (
	"github.com/gin-gonic/gin"
	"github.com/irfndi/flashloan-arb-go/internal/api/handlers"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/logging"
	"github.com/irfndi/flashloan-arb-go/internal/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Bot is everything the HTTP surface needs from the control loop.
type Bot interface {
	handlers.BotReader
	handlers.BotController
	handlers.EventSource
}

// Dependencies assembles the router. DB and Redis may be nil when the
// corresponding store is disabled.
type Dependencies struct {
	Bot            Bot
	Logs           *logging.Buffer
	DB             handlers.HealthChecker
	Redis          handlers.HealthChecker
	Server         config.ServerConfig
	Security       config.SecurityConfig
	ServiceName    string
	Version        string
	TracerProvider trace.TracerProvider
	Logger         *logrus.Logger
}

func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(deps.Server.AllowedOrigins))
	router.Use(middleware.TelemetryMiddleware(deps.ServiceName, deps.TracerProvider))
	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	auth := middleware.NewAuthMiddleware(deps.Security.JWTSecret)
	admin := middleware.NewAdminMiddleware(deps.Security)

	if !auth.Enabled() {
		deps.Logger.Warn("JWT secret not set; dashboard read endpoints are unauthenticated")
	}
	if !admin.Configured() {
		deps.Logger.Warn("Admin API key not set; control endpoints will reject every request")
	}

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Bot, deps.Version)
	botHandler := handlers.NewBotHandler(deps.Bot, deps.Logger)
	logHandler := handlers.NewLogHandler(deps.Logs)
	controlHandler := handlers.NewControlHandler(deps.Bot, deps.Logger)
	eventsHandler := handlers.NewEventsHandler(deps.Bot, deps.Bot, deps.Server.AllowedOrigins, deps.Logger)
	authHandler := handlers.NewAuthHandler(auth, deps.Security.JWTExpiryDuration(), deps.Logger)

	// Health check endpoint
	router.GET("/health", healthHandler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", admin.RequireAdminAuth(), authHandler.IssueToken)

		read := v1.Group("")
		read.Use(auth.RequireAuth())
		{
			read.GET("/status", botHandler.GetStatus)
			read.GET("/stats", botHandler.GetStats)
			read.GET("/opportunities", botHandler.GetOpportunities)
			read.GET("/rpc", botHandler.GetRPCStatus)
			read.GET("/logs", logHandler.GetLogs)
			read.GET("/config", botHandler.GetConfig)
			read.GET("/advice", botHandler.GetAdvice)
			read.GET("/sentiment", botHandler.GetSentiment)
			read.GET("/trades", botHandler.GetTrades)
			read.GET("/events", eventsHandler.Stream)
		}

		control := v1.Group("/control")
		control.Use(admin.RequireAdminAuth())
		{
			control.POST("/start", controlHandler.Start)
			control.POST("/stop", controlHandler.Stop)
			control.POST("/simulation", controlHandler.ToggleSimulation)
			control.POST("/kill-switch/reset", controlHandler.ResetKillSwitch)
		}

		v1.PUT("/config", admin.RequireAdminAuth(), controlHandler.UpdateConfig)
	}
}
