package scraper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dorofeevb1/sodrugestvobot/internal/browser"
	"github.com/dorofeevb1/sodrugestvobot/internal/config"
	"github.com/dorofeevb1/sodrugestvobot/internal/cooldown"
	"github.com/dorofeevb1/sodrugestvobot/internal/extractor"
	"github.com/dorofeevb1/sodrugestvobot/internal/ratelimit"
)

// BrowserOptions maps the browser and scraper sections onto fetcher options.
func BrowserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Scraper.ParsingTimeout
	opts.ElementTimeout = cfg.Scraper.ElementTimeout
	opts.SettleMin = cfg.Scraper.SettleMin
	opts.SettleMax = cfg.Scraper.SettleMax
	opts.UserAgents = cfg.Browser.UserAgents
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.ProfileDir = cfg.Browser.ProfileDir
	opts.ProxyServer = cfg.Browser.ProxyServer
	return opts
}

// Options builds service options from configuration. Cooldown state goes to
// memcache when MEMCACHE_ADDR is set and stays in-process otherwise.
func OptionsFromConfig(cfg *config.Config) Options {
	var cd cooldown.Cooldown = cooldown.NewMemory()
	if cfg.Memcache.Addr != "" {
		cd = cooldown.NewMemcache(cfg.Memcache.Addr)
	}

	return Options{
		Retry: RetryPolicy{
			MaxAttempts: cfg.Scraper.MaxRetries,
			Delay:       cfg.Scraper.RetryDelay,
			Jitter:      cfg.Scraper.RetryJitter,
		},
		ElementTimeout: cfg.Scraper.ElementTimeout,
		BlockCooldown:  cfg.Scraper.BlockCooldown,
		Pacer:          ratelimit.NewPacer(cfg.Scraper.RequestInterval),
		Cooldown:       cd,
	}
}

// NewFromConfig wires the fetcher, extractor table and service together.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	table, err := extractor.LoadLocators(cfg.Scraper.LocatorsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load locators: %w", err)
	}

	fetcher := browser.NewFetcher(BrowserOptions(cfg), logger)
	return NewService(fetcher, extractor.NewRegistry(table), OptionsFromConfig(cfg), logger), nil
}

// Budget is the longest GetProductData can run under cfg: every attempt
// spends the full pacing, navigation, settle and per-field wait timeouts,
// and attempt n is followed by n*RETRY_DELAY plus jitter.
func Budget(cfg *config.Config) time.Duration {
	attempts := max(cfg.Scraper.MaxRetries, 1)

	perAttempt := cfg.Scraper.RequestInterval +
		cfg.Scraper.ParsingTimeout +
		cfg.Scraper.SettleMax +
		time.Duration(len(extractor.Fields()))*cfg.Scraper.ElementTimeout

	total := time.Duration(attempts) * perAttempt
	for n := 1; n < attempts; n++ {
		total += time.Duration(n)*cfg.Scraper.RetryDelay + cfg.Scraper.RetryJitter
	}
	return total
}
