package extractor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// Field names one value pulled from a product page
type Field string

const (
	FieldName          Field = "name"
	FieldCurrentPrice  Field = "current_price"
	FieldOriginalPrice Field = "original_price"
)

var fields = []Field{FieldName, FieldCurrentPrice, FieldOriginalPrice}

// Fields lists every field a page is searched for, in extraction order.
func Fields() []Field {
	return append([]Field(nil), fields...)
}

// Locator finds a value by CSS selector. With Attr set the attribute is read instead of the text.
type Locator struct {
	CSS  string `json:"css"`
	Attr string `json:"attr,omitempty"`
}

// Locators is the {platform, field} -> ordered fallbacks table
type Locators map[models.Platform]map[Field][]Locator

func css(selectors ...string) []Locator {
	out := make([]Locator, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, Locator{CSS: s})
	}
	return out
}

var microdataPrice = Locator{CSS: `meta[itemprop="price"]`, Attr: "content"}

// DefaultLocators returns the built-in table. Callers get a fresh copy.
func DefaultLocators() Locators {
	return Locators{
		models.PlatformOzon: {
			FieldName: css(
				`[data-widget="webProductHeading"] h1`,
				`h1`,
			),
			FieldCurrentPrice: append(css(
				`[data-widget="webPrice"] [class*="tsHeadline600Large"]`,
				`[data-widget="webPrice"] [class*="tsHeadline500Medium"]`,
				`[data-widget="webPrice"] span:not(:has(*))`,
			), microdataPrice),
			FieldOriginalPrice: css(
				`[data-widget="webPrice"] [class*="tsBodyControl400Small"]`,
				`[data-widget="webPrice"] s`,
			),
		},
		models.PlatformWildberries: {
			FieldName: css(
				`.product-page__header h1`,
				`h1.product-page__title`,
				`.product-page__header`,
			),
			FieldCurrentPrice: append(css(
				`.price-block__final-price`,
				`.price-block__wallet-price`,
				`ins.price-block__final-price`,
			), microdataPrice),
			FieldOriginalPrice: css(
				`.price-block__old-price`,
				`del.price-block__old-price`,
			),
		},
		models.PlatformYandexMarket: {
			FieldName: css(
				`h1[data-auto="productCardTitle"]`,
				`[data-cs-name="navigate"] h1`,
				`h1`,
			),
			FieldCurrentPrice: append(css(
				`[data-auto="snippet-price-current"]`,
				`[data-auto="price-value"]`,
				`span[data-auto="price"]`,
			), microdataPrice),
			FieldOriginalPrice: css(
				`[data-auto="snippet-price-old"]`,
				`span[data-auto="oldPrice"]`,
			),
		},
	}
}

// LoadLocators reads a JSON table from path and lays it over the defaults.
// Fields present in the file replace the built-in fallbacks for that field.
func LoadLocators(path string) (Locators, error) {
	table := DefaultLocators()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locators file: %w", err)
	}

	var override Locators
	if err := json.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse locators file: %w", err)
	}

	if err := table.Merge(override); err != nil {
		return nil, err
	}

	return table, nil
}

func (l Locators) Merge(override Locators) error {
	for p, byField := range override {
		if !p.Valid() {
			return fmt.Errorf("unknown platform %q in locators", p)
		}
		if l[p] == nil {
			l[p] = make(map[Field][]Locator)
		}
		for f, locs := range byField {
			if !validField(f) {
				return fmt.Errorf("unknown field %q for platform %s", f, p)
			}
			for _, loc := range locs {
				if loc.CSS == "" {
					return fmt.Errorf("empty selector for %s/%s", p, f)
				}
			}
			l[p][f] = locs
		}
	}
	return nil
}

func validField(f Field) bool {
	for _, known := range fields {
		if f == known {
			return true
		}
	}
	return false
}
