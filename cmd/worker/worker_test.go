package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magictalent/ai-agent-backend/internal/service"
)

func TestLoadConfigBindsFlags(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TICK_INTERVAL", "90s")

	require.NoError(t, rootCmd.Flags().Set("batch", "7"))
	t.Cleanup(func() { _ = rootCmd.Flags().Set("batch", "50") })

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.TickBatchSize, "explicit flag wins")
	assert.Equal(t, 90*time.Second, cfg.TickInterval, "environment applies when the flag is unset")
}

func TestWorkerOnceRunsSingleTick(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--once"})
	t.Cleanup(func() {
		workerOnce = false
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	require.NoError(t, rootCmd.Execute())

	var result service.TickResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, result.Results)
}
