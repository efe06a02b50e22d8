package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEventsServer(t *testing.T, bot *fakeBot, origins []string) string {
	t.Helper()
	router := gin.New()
	router.GET("/events", NewEventsHandler(bot, bot, origins, testLogger()).Stream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event models.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestEventsHandler_Stream(t *testing.T) {
	bot := newFakeBot()
	url := newEventsServer(t, bot, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	var snapshot []models.EventType
	for i := 0; i < 5; i++ {
		snapshot = append(snapshot, readEvent(t, conn).Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventStatus,
		models.EventStats,
		models.EventOpportunities,
		models.EventRPCStatus,
		models.EventConfigUpdate,
	}, snapshot)

	require.Eventually(t, func() bool { return bot.events.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	bot.events.Publish(models.EventLog, "scan complete")
	bot.events.Publish(models.EventKillSwitch, models.RiskState{KillSwitchActive: true})

	first := readEvent(t, conn)
	assert.Equal(t, models.EventLog, first.Type)
	assert.Equal(t, "scan complete", first.Data)

	second := readEvent(t, conn)
	assert.Equal(t, models.EventKillSwitch, second.Type)
	assert.Equal(t, true, second.Data.(map[string]interface{})["kill_switch_active"])
}

func TestEventsHandler_UnsubscribesOnDisconnect(t *testing.T) {
	bot := newFakeBot()
	url := newEventsServer(t, bot, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bot.events.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return bot.events.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsHandler_Origins(t *testing.T) {
	bot := newFakeBot()
	url := newEventsServer(t, bot, []string{"https://dashboard.example"})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://dashboard.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	assert.True(t, originChecker(nil)(req), "no origin header")

	req.Header.Set("Origin", "https://a.example")
	assert.True(t, originChecker(nil)(req))
	assert.True(t, originChecker([]string{"*"})(req))
	assert.True(t, originChecker([]string{"HTTPS://A.EXAMPLE"})(req))
	assert.False(t, originChecker([]string{"https://b.example"})(req))
}
