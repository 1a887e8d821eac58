// Package platform maps product URLs onto the supported marketplaces.
package platform

import (
	"net/url"
	"strings"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// hosts is the exact allow-list. "www." is stripped before lookup.
var hosts = map[string]models.Platform{
	"ozon.ru":          models.PlatformOzon,
	"wildberries.ru":   models.PlatformWildberries,
	"market.yandex.ru": models.PlatformYandexMarket,
}

// Resolve returns the platform serving rawURL.
func Resolve(rawURL string) (models.Platform, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", apperrors.NewInvalidURL(rawURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperrors.NewInvalidURL(rawURL, nil)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", apperrors.NewInvalidURL(rawURL, nil)
	}

	p, ok := hosts[strings.TrimPrefix(host, "www.")]
	if !ok {
		return "", apperrors.NewUnsupportedPlatform(rawURL, host)
	}

	return p, nil
}

// Supported lists the platforms in a stable order.
func Supported() []models.Platform {
	return []models.Platform{
		models.PlatformOzon,
		models.PlatformWildberries,
		models.PlatformYandexMarket,
	}
}

// Hosts returns the accepted hostnames for p, with and without "www.".
func Hosts(p models.Platform) []string {
	var out []string
	for h, hp := range hosts {
		if hp == p {
			out = append(out, h, "www."+h)
		}
	}
	return out
}
