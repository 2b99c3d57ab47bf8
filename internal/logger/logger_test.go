package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.Info().Msg("hidden")
	l.Warn().Str("session", "abc").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"session":"abc"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf}).With(func(c zerolog.Context) zerolog.Context {
		return c.Str("component", "session")
	})

	l.Debug().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"session"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { NewNop().Error().Msg("dropped") })
}

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Output: &buf}).Printf("maxprocs: %d", 4)
	assert.Contains(t, buf.String(), `"message":"maxprocs: 4"`)
}
