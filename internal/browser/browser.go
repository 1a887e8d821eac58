package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// hideWebdriver runs before any page script so navigator.webdriver reads as undefined.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Session is one browser process with one context. It is created for a single
// fetch and must be closed by whoever created it.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	ElementTimeout time.Duration
	SettleMin      time.Duration
	SettleMax      time.Duration
	UserAgents     []string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProfileDir     string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		ElementTimeout: 10 * time.Second,
		SettleMin:      2 * time.Second,
		SettleMax:      3 * time.Second,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
		},
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		TimezoneID:     "Europe/Moscow",
		Locale:         "ru-RU",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

// launchArgs mirrors the flags the marketplaces were observed to tolerate.
func launchArgs(opts *Options, userAgent string) []string {
	return []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-gpu",
		"--disable-infobars",
		"--disable-notifications",
		"--disable-popup-blocking",
		fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		"--lang=" + opts.Locale,
		"--user-agent=" + userAgent,
	}
}

func (o *Options) headers() map[string]string {
	h := make(map[string]string, len(o.ExtraHeaders)+1)
	for k, v := range o.ExtraHeaders {
		h[k] = v
	}
	if o.AcceptLanguage != "" {
		h["Accept-Language"] = o.AcceptLanguage
	}
	return h
}

// NewSession starts playwright and a Chromium context for userAgent.
// With ProfileDir set the context is persistent, otherwise it is ephemeral.
func NewSession(opts *Options, userAgent string) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	var proxy *playwright.Proxy
	if opts.ProxyServer != "" {
		proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	viewport := &playwright.Size{
		Width:  opts.ViewportWidth,
		Height: opts.ViewportHeight,
	}

	s := &Session{
		pw:     pw,
		logger: slog.Default().With("component", "browser"),
	}

	if opts.ProfileDir != "" {
		ctx, err := pw.Chromium.LaunchPersistentContext(opts.ProfileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:          playwright.Bool(opts.Headless),
			Args:              launchArgs(opts, userAgent),
			Proxy:             proxy,
			UserAgent:         playwright.String(userAgent),
			AcceptDownloads:   playwright.Bool(false),
			JavaScriptEnabled: playwright.Bool(true),
			Locale:            playwright.String(opts.Locale),
			TimezoneId:        playwright.String(opts.TimezoneID),
			Viewport:          viewport,
			ExtraHttpHeaders:  opts.headers(),
		})
		if err != nil {
			pw.Stop()
			return nil, fmt.Errorf("failed to launch persistent context: %w", err)
		}
		s.context = ctx
	} else {
		browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
			Args:     launchArgs(opts, userAgent),
			Proxy:    proxy,
		})
		if err != nil {
			pw.Stop()
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}

		ctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
			UserAgent:         playwright.String(userAgent),
			AcceptDownloads:   playwright.Bool(false),
			JavaScriptEnabled: playwright.Bool(true),
			Locale:            playwright.String(opts.Locale),
			TimezoneId:        playwright.String(opts.TimezoneID),
			Viewport:          viewport,
			ExtraHttpHeaders:  opts.headers(),
		})
		if err != nil {
			browser.Close()
			pw.Stop()
			return nil, fmt.Errorf("failed to create browser context: %w", err)
		}
		s.browser = browser
		s.context = ctx
	}

	if err := s.context.AddInitScript(playwright.Script{Content: playwright.String(hideWebdriver)}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to add init script: %w", err)
	}

	return s, nil
}

func (s *Session) NewPage(timeout time.Duration) (playwright.Page, error) {
	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(timeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(timeout.Milliseconds()))

	return page, nil
}

// Close tears down context, browser and the playwright driver, in that order.
// Every step runs even if an earlier one fails.
func (s *Session) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
		s.context = nil
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		s.browser = nil
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		s.pw = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// humanize moves the mouse and scrolls a little so lazy price widgets render.
func humanize(page playwright.Page) {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		if err := page.Mouse().Move(x, y); err != nil {
			return
		}
		time.Sleep(time.Millisecond * time.Duration(150+i*100))
	}

	page.Evaluate(`window.scrollBy(0, 200 + Math.random() * 300)`)
}
