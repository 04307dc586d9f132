package rtspcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogCallback(t *testing.T) {
	var lines []string
	var levels []LogLevel

	SetLogConfig(LogConfig{MinLevel: LogLevelInfo})
	SetLogCallback(func(level LogLevel, message string) {
		levels = append(levels, level)
		lines = append(lines, message)
	})
	defer func() {
		SetLogCallback(nil)
		SetLogConfig(LogConfig{})
	}()

	logf(LogLevelDebug, "hidden")
	logf(LogLevelInfo, "hello %d", 42)
	logf(LogLevelError, "broken")

	require.Equal(t, []LogLevel{LogLevelInfo, LogLevelError}, levels)
	require.Contains(t, lines[0], "hello 42")
	require.Contains(t, lines[1], "broken")
}

func TestLogJSONFormat(t *testing.T) {
	var lines []string

	SetLogConfig(LogConfig{
		MinLevel:           LogLevelDebug,
		Format:             LogFormatJSON,
		UTCTime:            true,
		IncludeGoroutineID: true,
	})
	SetLogCallback(func(_ LogLevel, message string) {
		lines = append(lines, message)
	})
	defer func() {
		SetLogCallback(nil)
		SetLogConfig(LogConfig{})
	}()

	logf(LogLevelWarn, "json line")

	require.Equal(t, 1, len(lines))
	require.True(t, strings.HasPrefix(lines[0], "{"))
	require.Contains(t, lines[0], `"level":"warn"`)
	require.Contains(t, lines[0], `"message":"json line"`)
	require.Contains(t, lines[0], `"goroutine":`)
}

func TestGetLogConfig(t *testing.T) {
	SetLogConfig(LogConfig{MinLevel: LogLevelWarn, UTCTime: true})
	defer SetLogConfig(LogConfig{})

	conf := GetLogConfig()
	require.Equal(t, LogLevelWarn, conf.MinLevel)
	require.True(t, conf.UTCTime)
}
