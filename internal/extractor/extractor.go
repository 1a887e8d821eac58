// Package extractor pulls name and prices out of rendered marketplace pages.
package extractor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dorofeevb1/sodrugestvobot/internal/browser"
	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/price"
)

// Value is a located field. Found is false when no locator matched non-empty text.
type Value struct {
	Text  string
	Found bool
}

// Result holds raw field text; normalization happens in the caller.
type Result struct {
	Name          Value
	CurrentPrice  Value
	OriginalPrice Value
}

type Extractor interface {
	Platform() models.Platform
	Extract(page *browser.RenderedPage) (*Result, error)
	// WaitSelectors are the elements worth waiting for before the DOM is read.
	WaitSelectors() []string
}

// LocatorExtractor drives extraction entirely from a locator table
type LocatorExtractor struct {
	platform models.Platform
	locators map[Field][]Locator
}

func ForPlatform(p models.Platform, table Locators) *LocatorExtractor {
	return &LocatorExtractor{
		platform: p,
		locators: table[p],
	}
}

func NewOzon() *LocatorExtractor {
	return ForPlatform(models.PlatformOzon, DefaultLocators())
}

func NewWildberries() *LocatorExtractor {
	return ForPlatform(models.PlatformWildberries, DefaultLocators())
}

func NewYandexMarket() *LocatorExtractor {
	return ForPlatform(models.PlatformYandexMarket, DefaultLocators())
}

func (e *LocatorExtractor) Platform() models.Platform {
	return e.platform
}

func (e *LocatorExtractor) Extract(page *browser.RenderedPage) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, apperrors.New(apperrors.KindExtraction, e.platform, page.URL, "failed to parse html", err)
	}

	res := &Result{
		Name:          e.locate(doc, FieldName),
		CurrentPrice:  e.locate(doc, FieldCurrentPrice),
		OriginalPrice: e.locate(doc, FieldOriginalPrice),
	}

	if !res.CurrentPrice.Found {
		return nil, apperrors.NewExtraction(e.platform, page.URL, "current price element not found")
	}

	return res, nil
}

func (e *LocatorExtractor) locate(doc *goquery.Document, f Field) Value {
	for _, loc := range e.locators[f] {
		sel := doc.Find(loc.CSS).First()
		if sel.Length() == 0 {
			continue
		}

		var text string
		if loc.Attr != "" {
			text, _ = sel.Attr(loc.Attr)
		} else {
			text = sel.Text()
		}

		text = collapseSpace(text)
		if text == "" {
			continue
		}
		// A container of several prices reads as one number; try the next locator.
		if f != FieldName && price.Ambiguous(text) {
			continue
		}
		return Value{Text: text, Found: true}
	}
	return Value{}
}

func (e *LocatorExtractor) WaitSelectors() []string {
	var out []string
	for _, f := range fields {
		var group []string
		for _, loc := range e.locators[f] {
			if loc.Attr == "" {
				group = append(group, loc.CSS)
			}
		}
		if len(group) > 0 {
			out = append(out, strings.Join(group, ", "))
		}
	}
	return out
}

// collapseSpace trims and folds runs of whitespace (including U+00A0) into one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Registry maps a platform to its extractor
type Registry map[models.Platform]Extractor

func NewRegistry(table Locators) Registry {
	r := make(Registry, len(table))
	for p := range table {
		r[p] = ForPlatform(p, table)
	}
	return r
}

func DefaultRegistry() Registry {
	return NewRegistry(DefaultLocators())
}

func (r Registry) For(p models.Platform) (Extractor, error) {
	e, ok := r[p]
	if !ok {
		return nil, fmt.Errorf("no extractor registered for %s", p)
	}
	return e, nil
}
