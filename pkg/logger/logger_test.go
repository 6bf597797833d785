package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCarriesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("polystore", "1.2.3", &buf)
	log.Info("hello %s", "world")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "polystore", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "hello world", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestWithField(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("polystore", "dev", &buf).WithField("backend", "postgres")
	log.Warn("slow probe")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "postgres", entry["backend"])
}

func TestSetLevelSuppresses(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("polystore", "dev", &buf).SetLevel("error")
	log.Debug("hidden")
	log.Info("hidden too")
	assert.Zero(t, buf.Len())

	log.Error("visible")
	assert.NotZero(t, buf.Len())
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Info("nowhere")
		Nop().WithField("k", "v").Error("nowhere")
	})
}
