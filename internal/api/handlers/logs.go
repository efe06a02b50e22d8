package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/flashloan-arb-go/internal/logging"
)

// LogHandler exposes the in-memory ring of recent log lines.
type LogHandler struct {
	buffer *logging.Buffer
}

func NewLogHandler(buffer *logging.Buffer) *LogHandler {
	return &LogHandler{buffer: buffer}
}

// GetLogs returns the buffered lines, oldest first.
func (h *LogHandler) GetLogs(c *gin.Context) {
	lines := []logging.Line{}
	if h.buffer != nil {
		lines = append(lines, h.buffer.Lines()...)
	}
	c.JSON(http.StatusOK, gin.H{"logs": lines, "count": len(lines)})
}
