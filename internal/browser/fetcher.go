package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/ratelimit"
)

// Request describes one page load.
type Request struct {
	URL      string
	Platform models.Platform
	// WaitFor selectors are awaited independently after navigation; a miss is not an error.
	WaitFor        []string
	ElementTimeout time.Duration
}

// RenderedPage is the DOM snapshot taken after scripts ran.
type RenderedPage struct {
	URL       string
	FinalURL  string
	Title     string
	HTML      string
	Status    int
	FetchedAt time.Time
}

// PageFetcher is implemented by Fetcher and by test doubles
type PageFetcher interface {
	Fetch(ctx context.Context, req Request) (*RenderedPage, error)
}

type launchFunc func(opts *Options, userAgent string) (*Session, error)

// Fetcher opens a fresh Session for every Fetch and always closes it.
// Fetches are serialized: the profile directory cannot be shared between browsers.
type Fetcher struct {
	opts   *Options
	settle *ratelimit.Jitter
	launch launchFunc
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewFetcher(opts *Options, logger *slog.Logger) *Fetcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Fetcher{
		opts:   opts,
		settle: ratelimit.NewJitter(opts.SettleMin, opts.SettleMax),
		launch: NewSession,
		logger: logger.With("component", "fetcher"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, req Request) (*RenderedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ua := f.pickUserAgent()
	start := time.Now()

	session, err := f.launch(f.opts, ua)
	if err != nil {
		return nil, apperrors.NewFetchTimeout(req.Platform, req.URL, fmt.Errorf("failed to open browser session: %w", err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			f.logger.Error("failed to tear down browser session", "url", req.URL, "error", cerr)
		}
	}()

	page, err := session.NewPage(f.opts.Timeout)
	if err != nil {
		return nil, apperrors.NewFetchTimeout(req.Platform, req.URL, err)
	}

	resp, err := page.Goto(req.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(f.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			f.logger.Warn("navigation timed out", "url", req.URL, "timeout", f.opts.Timeout)
		}
		return nil, apperrors.NewFetchTimeout(req.Platform, req.URL, fmt.Errorf("failed to navigate: %w", err))
	}

	status := 0
	if resp != nil {
		status = resp.Status()
	}
	if status == 403 || status == 429 {
		return nil, apperrors.NewBlocked(req.Platform, req.URL, fmt.Sprintf("http status %d", status))
	}

	humanize(page)

	if err := f.settle.Wait(ctx); err != nil {
		return nil, err
	}

	elementTimeout := req.ElementTimeout
	if elementTimeout <= 0 {
		elementTimeout = f.opts.ElementTimeout
	}
	for _, sel := range req.WaitFor {
		err := page.Locator(sel).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateAttached,
			Timeout: playwright.Float(float64(elementTimeout.Milliseconds())),
		})
		if err != nil {
			f.logger.Debug("element did not appear", "url", req.URL, "selector", sel, "error", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	html, err := page.Content()
	if err != nil {
		return nil, apperrors.NewFetchTimeout(req.Platform, req.URL, fmt.Errorf("failed to read page content: %w", err))
	}

	title, _ := page.Title()
	rendered := &RenderedPage{
		URL:       req.URL,
		FinalURL:  page.URL(),
		Title:     title,
		HTML:      html,
		Status:    status,
		FetchedAt: time.Now(),
	}

	if reason, blocked := DetectBlock(rendered); blocked {
		return nil, apperrors.NewBlocked(req.Platform, req.URL, reason)
	}

	f.logger.Debug("page fetched",
		"url", req.URL,
		"status", status,
		"bytes", len(html),
		"duration", time.Since(start))

	return rendered, nil
}

func (f *Fetcher) pickUserAgent() string {
	if len(f.opts.UserAgents) == 0 {
		return DefaultOptions().UserAgents[0]
	}
	return f.opts.UserAgents[f.rng.Intn(len(f.opts.UserAgents))]
}

var blockMarkers = []string{
	"Доступ ограничен",
	"Подтвердите, что запросы отправляли вы",
	"Вы не робот",
	"Access Denied",
	"Access denied",
}

// DetectBlock reports whether the page is an anti-bot interstitial rather than a product page.
func DetectBlock(page *RenderedPage) (string, bool) {
	if strings.Contains(strings.ToLower(page.FinalURL), "captcha") {
		return "redirected to captcha", true
	}
	for _, marker := range blockMarkers {
		if strings.Contains(page.Title, marker) {
			return "interstitial: " + marker, true
		}
	}
	// Interstitials are tiny; real product pages are far larger than this.
	if len(page.HTML) < 20000 {
		for _, marker := range blockMarkers {
			if strings.Contains(page.HTML, marker) {
				return "interstitial: " + marker, true
			}
		}
	}
	return "", false
}
