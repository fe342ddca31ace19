package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_HistoryCapturesComponentLoggers(t *testing.T) {
	l, err := New(&Config{Level: "debug", MaxHistory: 10})
	require.NoError(t, err)
	defer l.Close()

	mediaLog := l.Component("media")
	mediaLog.Warn().
		Str("uri", "clip.mp4").
		Err(errors.New("timeout")).
		Msg("Media failed")

	entries := l.GetHistory(1)
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, "media", entries[0].Component)
	assert.Equal(t, "Media failed", entries[0].Message)
	assert.Equal(t, "error=timeout, uri=clip.mp4", entries[0].Data)
}

func TestLogger_HistoryIsBounded(t *testing.T) {
	l, err := New(&Config{Level: "info", MaxHistory: 3})
	require.NoError(t, err)

	log := l.Component("test")
	for _, msg := range []string{"one", "two", "three", "four"} {
		log.Info().Msg(msg)
	}

	entries := l.GetHistory(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, "four", entries[2].Message)

	assert.Len(t, l.GetHistory(2), 2)
}

func TestLogger_LevelFilters(t *testing.T) {
	l, err := New(&Config{Level: "warn"})
	require.NoError(t, err)

	testLog := l.Component("test")
	testLog.Info().Msg("hidden")
	testLog.Error().Msg("shown")

	entries := l.GetHistory(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0].Message)
}

func TestLogger_InvalidLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestLogger_WritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	l, err := New(&Config{Dir: dir, Level: "info", Console: true, ConsoleOut: &console})
	require.NoError(t, err)

	narrationLog := l.Component("narration")
	narrationLog.Info().Int("segment", 2).Msg("Segment started")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"narration"`)
	assert.Contains(t, string(data), `"segment":2`)
	assert.Contains(t, console.String(), "Segment started")
}

func TestNop(t *testing.T) {
	l := Nop()
	xLog := l.Component("x")
	xLog.Error().Msg("dropped")
	assert.Empty(t, l.GetHistory(0))
	assert.NoError(t, l.Close())
}
