package logging

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogrusLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"WARN":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"trace":   logrus.TraceLevel,
		"info":    logrus.InfoLevel,
		"":        logrus.InfoLevel,
		"loud":    logrus.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogrusLevel(in), in)
	}
}

func TestNewLogger_Formatter(t *testing.T) {
	dev := NewLogger("debug", "development")
	assert.Equal(t, logrus.DebugLevel, dev.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, dev.Formatter)

	prod := NewLogger("warn", "production")
	assert.Equal(t, logrus.WarnLevel, prod.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, prod.Formatter)
}

func TestStageFields(t *testing.T) {
	fields := StageFields("LINK/WETH", "flashloan-pairwise-interdex", "scan")
	assert.Equal(t, "LINK/WETH", fields["route"])
	assert.Equal(t, "scan", fields["stage"])

	fields = StageFields("", "", "rpc_probe")
	assert.NotContains(t, fields, "route")
	assert.NotContains(t, fields, "strategy")
}

func TestBuffer_KeepsMostRecentLines(t *testing.T) {
	buf := NewBuffer(3)
	assert.Empty(t, buf.Lines())

	for i := 1; i <= 5; i++ {
		buf.Add(Line{Message: fmt.Sprintf("line %d", i)})
	}

	lines := buf.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "line 3", lines[0].Message)
	assert.Equal(t, "line 5", lines[2].Message)
}

func TestBuffer_PartiallyFilled(t *testing.T) {
	buf := NewBuffer(0)
	buf.Add(Line{Message: "first"})
	buf.Add(Line{Message: "second"})

	lines := buf.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "first", lines[0].Message)
}

func TestBroadcastHook_Fire(t *testing.T) {
	buf := NewBuffer(10)
	var published []Line

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(NewBroadcastHook(buf, func(l Line) { published = append(published, l) }))

	logger.Debug("not captured")
	logger.WithError(errors.New("rpc timeout")).WithField("route", "LINK/WETH").Warn("route skipped")

	require.Len(t, published, 1)
	line := published[0]
	assert.Equal(t, "warning", line.Level)
	assert.Equal(t, "route skipped", line.Message)
	assert.Equal(t, "rpc timeout", line.Fields[logrus.ErrorKey])
	assert.Equal(t, "LINK/WETH", line.Fields["route"])
	assert.WithinDuration(t, time.Now(), line.Time, time.Minute)
	assert.Len(t, buf.Lines(), 1)
}
