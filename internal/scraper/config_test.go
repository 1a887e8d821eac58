package scraper

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorofeevb1/sodrugestvobot/internal/config"
	"github.com/dorofeevb1/sodrugestvobot/internal/cooldown"
)

func TestOptionsFromConfig(t *testing.T) {
	t.Setenv("MAX_RETRIES", "4")
	t.Setenv("RETRY_DELAY", "2")
	t.Setenv("BROWSER_PROXY", "http://proxy:3128")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 4, opts.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, opts.Retry.Delay)
	assert.Equal(t, 10*time.Minute, opts.BlockCooldown)
	assert.IsType(t, &cooldown.Memory{}, opts.Cooldown)

	cfg.Memcache.Addr = "localhost:11211"
	assert.IsType(t, &cooldown.MemcacheCooldown{}, OptionsFromConfig(cfg).Cooldown)

	b := BrowserOptions(cfg)
	assert.Equal(t, "http://proxy:3128", b.ProxyServer)
	assert.Equal(t, 30*time.Second, b.Timeout)
	assert.Equal(t, "chrome_profile", b.ProfileDir)
	assert.Len(t, b.UserAgents, 7)
}

func TestNewFromConfig_BadLocatorsFile(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.Scraper.LocatorsFile = t.TempDir() + "/missing.json"

	_, err = NewFromConfig(cfg, slog.Default())
	assert.Error(t, err)
}

func TestBudget(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want time.Duration
	}{
		// 3 × (1s pacing + 30s navigation + 3s settle + 3×10s waits) + 5s + 10s backoff
		{"defaults", nil, 207 * time.Second},
		{"single attempt has no backoff", map[string]string{"MAX_RETRIES": "1"}, 64 * time.Second},
		{
			"jitter is added per retry",
			map[string]string{"MAX_RETRIES": "2", "RETRY_JITTER": "1s", "PARSING_TIMEOUT": "10"},
			2*44*time.Second + 5*time.Second + time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := config.FromEnv()
			require.NoError(t, err)
			assert.Equal(t, tt.want, Budget(cfg))
		})
	}
}
