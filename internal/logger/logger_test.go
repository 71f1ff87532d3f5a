package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"quant-agent-go/internal/config"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		name        string
		cfg         config.Logger
		expectError bool
	}{
		{name: "Console debug", cfg: config.Logger{Level: "debug", Format: "console"}},
		{name: "JSON info", cfg: config.Logger{Level: "info", Format: "json"}},
		{name: "Unknown level", cfg: config.Logger{Level: "loud", Format: "json"}, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			log, err := New(tc.cfg, "server")
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			lvl, _ := zapcore.ParseLevel(tc.cfg.Level)
			assert.True(t, log.Core().Enabled(lvl))
			assert.False(t, log.Core().Enabled(lvl-1))
		})
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	log, err := New(config.Logger{Level: "info", Format: "json", File: path}, "seed")
	require.NoError(t, err)

	log.Info("Seeded strategies")
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &rec))
	assert.Equal(t, "Seeded strategies", rec["msg"])
	assert.Equal(t, "quant-agent", rec["service"])
	assert.Equal(t, "seed", rec["component"])
}
