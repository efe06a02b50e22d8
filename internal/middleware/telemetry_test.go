package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedRouter(recorder *tracetest.SpanRecorder, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	router := gin.New()
	router.Use(TelemetryMiddleware("flashloan-arb-test", provider))
	router.GET("/api/v1/status", handler)
	router.GET("/health", handler)
	return router
}

func TestTelemetryMiddleware(t *testing.T) {
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }

	t.Run("traces api requests", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		router := newTracedRouter(recorder, ok)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, recorder.Ended(), 1)
	})

	t.Run("skips health probes", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		router := newTracedRouter(recorder, ok)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, recorder.Ended())
	})
}

func TestRecordErrorAndAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	router := newTracedRouter(recorder, func(c *gin.Context) {
		AddSpanAttribute(c, "bot.running", true)
		AddSpanAttribute(c, "trades.limit", 50)
		AddSpanAttribute(c, "route", "AAA/BBB")
		RecordError(c, errors.New("store unavailable"), "trade query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, codes.Error, span.Status().Code)
	require.NotEmpty(t, span.Events())
	assert.Equal(t, "exception", span.Events()[0].Name)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, true, attrs["bot.running"].AsBool())
	assert.Equal(t, int64(50), attrs["trades.limit"].AsInt64())
	assert.Equal(t, "AAA/BBB", attrs["route"].AsString())
}

func TestSpanHelpersWithoutSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	assert.NotPanics(t, func() {
		AddSpanAttribute(c, "key", struct{}{})
		RecordError(c, errors.New("boom"), "boom")
	})
}
