package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/services"
	"github.com/sirupsen/logrus"
)

// WebSocket timing. Pings go out well inside the read deadline.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// EventSource hands out event stream subscriptions.
type EventSource interface {
	Subscribe() *services.Subscription
}

// EventsHandler upgrades dashboard connections to WebSocket and streams
// broadcaster events to them as JSON.
type EventsHandler struct {
	source   EventSource
	bot      BotReader
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewEventsHandler creates the stream handler. An empty allowedOrigins list,
// or one containing "*", accepts any origin.
func NewEventsHandler(source EventSource, bot BotReader, allowedOrigins []string, logger *logrus.Logger) *EventsHandler {
	return &EventsHandler{
		source: source,
		bot:    bot,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// snapshot is what a new subscriber receives before live events.
func (h *EventsHandler) snapshot() []models.Event {
	now := time.Now()
	return []models.Event{
		{Type: models.EventStatus, Data: h.bot.Status(), Timestamp: now},
		{Type: models.EventStats, Data: h.bot.Stats(), Timestamp: now},
		{Type: models.EventOpportunities, Data: h.bot.Opportunities(), Timestamp: now},
		{Type: models.EventRPCStatus, Data: h.bot.RPCStatus(), Timestamp: now},
		{Type: models.EventConfigUpdate, Data: h.bot.CurrentConfig(), Timestamp: now},
	}
}

// Stream serves GET /api/v1/events.
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.source.Subscribe()
	defer sub.Close()

	h.logger.WithField("remote", c.ClientIP()).Debug("Event stream subscriber connected")

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	for _, event := range h.snapshot() {
		if err := h.write(conn, event); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				// Dropped for falling behind.
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"))
				return
			}
			if err := h.write(conn, event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, event models.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		h.logger.WithError(err).Debug("Event stream write failed")
		return err
	}
	return nil
}

// readPump discards client messages and notices when the peer goes away.
func (h *EventsHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
