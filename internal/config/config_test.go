package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIDENCE_BLOCK_THRESHOLD", "")
	t.Setenv("DOCUMENT_MAX_RETRIES", "")

	cfg := Load()

	assert.Equal(t, 0.3, cfg.Pipeline.ConfidenceBlockThreshold)
	assert.Equal(t, 3, cfg.Pipeline.DocumentMaxRetries)
	assert.Equal(t, 200, cfg.Pipeline.CoreferenceCacheSize)
	assert.True(t, cfg.Pipeline.ConfidenceBlockingEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFIDENCE_BLOCK_THRESHOLD", "0.25")
	t.Setenv("DOCUMENT_MAX_RETRIES", "5")
	t.Setenv("OUTPUT_STRICT", "true")
	t.Setenv("SESSION_MAX_IDLE_MINUTES", "not-a-number")

	cfg := Load()

	assert.Equal(t, 0.25, cfg.Pipeline.ConfidenceBlockThreshold)
	assert.Equal(t, 5, cfg.Pipeline.DocumentMaxRetries)
	assert.True(t, cfg.Pipeline.OutputStrict)
	assert.Equal(t, 60, cfg.App.SessionMaxIdleMinutes)
}
