// Package parser turns fetched markup into validated product and price
// records: fallback extraction, positional alignment, text normalization and
// record validation.
package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/aluiziolira/go-price-harvester/config"
	"github.com/aluiziolira/go-price-harvester/models"
)

// FieldSpecs maps a logical field name to its ordered candidate locators.
// A locator is a CSS selector, optionally suffixed with @attr to read an
// attribute instead of element text.
type FieldSpecs map[string][]string

// ExtractFields returns, per field, the values of every element matched by
// the first locator that matches at least one element. Results from later
// locators are never merged in. Fields with no matching locator are omitted.
func ExtractFields(markup string, specs FieldSpecs) (map[string][]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	out := make(map[string][]string, len(specs))
	for field, locators := range specs {
		for _, locator := range locators {
			values, err := extractLocator(doc, locator)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			if len(values) > 0 {
				out[field] = values
				break
			}
		}
	}
	return out, nil
}

func extractLocator(doc *goquery.Document, locator string) ([]string, error) {
	selector, attr := config.SplitLocator(locator)
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid locator %q: %w", locator, err)
	}

	selection := doc.FindMatcher(matcher)
	values := make([]string, 0, selection.Length())
	selection.Each(func(_ int, s *goquery.Selection) {
		if attr != "" {
			v, _ := s.Attr(attr)
			values = append(values, strings.TrimSpace(v))
			return
		}
		values = append(values, collapseSpace(s.Text()))
	})
	return values, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// requiredFields bound the number of aligned records.
var requiredFields = []string{config.FieldTitle, config.FieldPrice}

// AlignRecords zips per-field sequences into records. The record count is
// the shortest required sequence; a missing or empty required field yields no
// records. Optional fields shorter than that count are empty at later indices.
func AlignRecords(fields map[string][]string) []models.RawItemFields {
	n := -1
	for _, name := range requiredFields {
		if l := len(fields[name]); n < 0 || l < n {
			n = l
		}
	}
	if n <= 0 {
		return nil
	}

	at := func(name string, i int) string {
		values := fields[name]
		if i < len(values) {
			return values[i]
		}
		return ""
	}

	records := make([]models.RawItemFields, n)
	for i := 0; i < n; i++ {
		records[i] = models.RawItemFields{
			Title:         at(config.FieldTitle, i),
			Price:         at(config.FieldPrice, i),
			OriginalPrice: at(config.FieldOriginalPrice, i),
			Discount:      at(config.FieldDiscount, i),
			Brand:         at(config.FieldBrand, i),
			Description:   at(config.FieldDescription, i),
			Features:      at(config.FieldFeatures, i),
			Rating:        at(config.FieldRating, i),
			ReviewCount:   at(config.FieldReviewCount, i),
			URL:           at(config.FieldURL, i),
		}
	}
	return records
}
