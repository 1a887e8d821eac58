package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Platform string

const (
	PlatformOzon         Platform = "ozon"
	PlatformWildberries  Platform = "wildberries"
	PlatformYandexMarket Platform = "yandex_market"
)

// DisplayName returns the marketplace name as users know it.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformOzon:
		return "Ozon"
	case PlatformWildberries:
		return "Wildberries"
	case PlatformYandexMarket:
		return "Яндекс Маркет"
	default:
		return string(p)
	}
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformOzon, PlatformWildberries, PlatformYandexMarket:
		return true
	}
	return false
}

type User struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Active     bool      `json:"is_active"`
}

type Product struct {
	ID            int64            `json:"id"`
	UserID        int64            `json:"user_id"`
	URL           string           `json:"url"`
	Platform      Platform         `json:"platform"`
	Name          string           `json:"name"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	OriginalPrice decimal.Decimal  `json:"original_price"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	LastUpdated   time.Time        `json:"last_updated"`
	Active        bool             `json:"is_active"`
	// TelegramID is the owner's chat; only ListActive fills it in.
	TelegramID int64 `json:"telegram_id,omitempty"`
}

type PriceHistoryRecord struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExtractionResult is the normalized outcome of a single page fetch.
// Name may be empty; CurrentPrice is always positive.
type ExtractionResult struct {
	URL           string          `json:"url"`
	Platform      Platform        `json:"platform"`
	Name          string          `json:"name"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Discount      decimal.Decimal `json:"discount"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

type NotificationEvent struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	TelegramID  int64           `json:"telegram_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	URL         string          `json:"url"`
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ChangePercent is the signed relative change, rounded to 2 places.
func (e *NotificationEvent) ChangePercent() decimal.Decimal {
	if !e.OldPrice.IsPositive() {
		return decimal.Zero
	}
	return e.NewPrice.Sub(e.OldPrice).Div(e.OldPrice).Mul(decimal.NewFromInt(100)).Round(2)
}

func (e *NotificationEvent) Direction() string {
	if e.NewPrice.LessThan(e.OldPrice) {
		return "down"
	}
	return "up"
}

type UserStats struct {
	TotalProducts int              `json:"total_products"`
	ByPlatform    map[Platform]int `json:"by_platform"`
	AvgPrice      decimal.Decimal  `json:"avg_price"`
	MinPrice      decimal.Decimal  `json:"min_price"`
	MaxPrice      decimal.Decimal  `json:"max_price"`
	AvgDiscount   decimal.Decimal  `json:"avg_discount"`
	MaxDiscount   decimal.Decimal  `json:"max_discount"`
}

// NewProduct builds an unsaved product from a fresh extraction.
func NewProduct(userID int64, r *ExtractionResult) *Product {
	now := time.Now()
	p := &Product{
		UserID:        userID,
		URL:           r.URL,
		Platform:      r.Platform,
		Name:          r.Name,
		CurrentPrice:  r.CurrentPrice,
		OriginalPrice: r.OriginalPrice,
		CreatedAt:     now,
		LastUpdated:   now,
		Active:        true,
	}
	if r.Discount.IsPositive() {
		d := r.Discount
		p.Discount = &d
	}
	return p
}

func (p *Product) Validate() []string {
	var errors []string

	if p.URL == "" {
		errors = append(errors, "URL is required")
	}

	if !p.Platform.Valid() {
		errors = append(errors, "Unknown platform")
	}

	if p.CurrentPrice.IsNegative() {
		errors = append(errors, "Current price must not be negative")
	}

	if p.OriginalPrice.LessThan(p.CurrentPrice) {
		errors = append(errors, "Original price must not be below current price")
	}

	return errors
}
