package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// Kind classifies a failure of the extraction pipeline
type Kind string

const (
	// KindUnsupportedPlatform is returned for hosts outside the allow-list
	KindUnsupportedPlatform Kind = "unsupported_platform"
	// KindInvalidURL is returned when the input cannot be parsed as an http(s) URL
	KindInvalidURL Kind = "invalid_url"
	// KindFetchTimeout covers navigation timeouts and transient network failures
	KindFetchTimeout Kind = "fetch_timeout"
	// KindExtraction means the mandatory price element was not found
	KindExtraction Kind = "extraction"
	// KindPriceParse means price text was found but is not a number
	KindPriceParse Kind = "price_parse"
	// KindDuplicateProduct means the user already tracks the URL
	KindDuplicateProduct Kind = "duplicate_product"
	// KindBlocked means the marketplace served an anti-bot page
	KindBlocked Kind = "blocked"
)

// Sentinels for errors.Is matching against a kind.
var (
	ErrUnsupportedPlatform = &ScrapeError{Kind: KindUnsupportedPlatform}
	ErrInvalidURL          = &ScrapeError{Kind: KindInvalidURL}
	ErrFetchTimeout        = &ScrapeError{Kind: KindFetchTimeout}
	ErrExtraction          = &ScrapeError{Kind: KindExtraction}
	ErrPriceParse          = &ScrapeError{Kind: KindPriceParse}
	ErrDuplicateProduct    = &ScrapeError{Kind: KindDuplicateProduct}
	ErrBlocked             = &ScrapeError{Kind: KindBlocked}
)

// ScrapeError is the error type surfaced by the pipeline
type ScrapeError struct {
	Kind     Kind
	Platform models.Platform
	URL      string
	Message  string
	Err      error
	Time     time.Time
}

// Error implements the error interface
func (e *ScrapeError) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Platform != "" {
		msg += " " + string(e.Platform) + ":"
	}
	if e.Message != "" {
		msg += " " + e.Message
	}
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += " - " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Is matches any ScrapeError of the same kind, so the sentinels work with errors.Is.
func (e *ScrapeError) Is(target error) bool {
	t, ok := target.(*ScrapeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsRetryable reports whether another attempt may succeed
func (e *ScrapeError) IsRetryable() bool {
	switch e.Kind {
	case KindFetchTimeout, KindExtraction:
		return true
	default:
		return false
	}
}

// New creates a new ScrapeError
func New(kind Kind, platform models.Platform, url, message string, err error) *ScrapeError {
	return &ScrapeError{
		Kind:     kind,
		Platform: platform,
		URL:      url,
		Message:  message,
		Err:      err,
		Time:     time.Now(),
	}
}

func NewUnsupportedPlatform(url, host string) *ScrapeError {
	return New(KindUnsupportedPlatform, "", url, fmt.Sprintf("host %q is not supported", host), nil)
}

func NewInvalidURL(url string, err error) *ScrapeError {
	return New(KindInvalidURL, "", url, "malformed url", err)
}

func NewFetchTimeout(platform models.Platform, url string, err error) *ScrapeError {
	return New(KindFetchTimeout, platform, url, "page did not load in time", err)
}

func NewExtraction(platform models.Platform, url, message string) *ScrapeError {
	return New(KindExtraction, platform, url, message, nil)
}

// NewPriceParse keeps the raw text so operators can spot template drift.
func NewPriceParse(raw string, err error) *ScrapeError {
	return New(KindPriceParse, "", "", fmt.Sprintf("cannot parse price %q", raw), err)
}

func NewDuplicateProduct(url string) *ScrapeError {
	return New(KindDuplicateProduct, "", url, "product is already tracked", nil)
}

func NewBlocked(platform models.Platform, url, reason string) *ScrapeError {
	return New(KindBlocked, platform, url, reason, nil)
}

// KindOf returns the kind of the first ScrapeError in the chain, or "".
func KindOf(err error) Kind {
	var se *ScrapeError
	if stderrors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a retryable ScrapeError.
func IsRetryable(err error) bool {
	var se *ScrapeError
	if stderrors.As(err, &se) {
		return se.IsRetryable()
	}
	return false
}

// Is reports whether err carries a ScrapeError of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
