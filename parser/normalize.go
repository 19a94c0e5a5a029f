package parser

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-price-harvester/models"
)

var (
	reviewCountPattern = regexp.MustCompile(`(?i)^\s*([\d,]+)\s*(?:reviews?|ratings?)\b`)
	discountPattern    = regexp.MustCompile(`^\s*(\d+)\s*%`)
)

// Price keeps only digits and the decimal point and parses the rest.
func Price(text string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, text)
	return parseFinite(cleaned)
}

// ReviewCount reads a leading, possibly comma-grouped, count followed by a
// "reviews" or "ratings" keyword.
func ReviewCount(text string) (int, bool) {
	m := reviewCountPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// DiscountPercentage reads a leading integer followed by "%".
func DiscountPercentage(text string) (float64, bool) {
	m := discountPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseFinite(m[1])
}

// Rating parses text as a decimal number.
func Rating(text string) (float64, bool) {
	return parseFinite(strings.TrimSpace(text))
}

func parseFinite(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ItemContext carries the run-level values stamped onto every record.
type ItemContext struct {
	Category string
	Source   string
	Currency string
	BaseURL  string
	Now      time.Time
}

// Normalize converts one aligned raw item into typed records. Unparseable
// values stay nil; price is left at zero when absent so validation rejects it.
func Normalize(raw models.RawItemFields, ic ItemContext) models.HarvestedItem {
	product := models.ProductRecord{
		Name:        collapseSpace(raw.Title),
		Category:    ic.Category,
		Brand:       collapseSpace(raw.Brand),
		Description: collapseSpace(raw.Description),
		Features:    strings.TrimSpace(raw.Features),
		CreatedAt:   ic.Now,
		UpdatedAt:   ic.Now,
	}
	if v, ok := Rating(raw.Rating); ok {
		product.Rating = &v
	}
	if v, ok := ReviewCount(raw.ReviewCount); ok {
		product.ReviewCount = &v
	}

	price := models.PriceRecord{
		Currency:  strings.ToUpper(ic.Currency),
		Source:    ic.Source,
		URL:       resolveURL(ic.BaseURL, raw.URL),
		Timestamp: ic.Now,
	}
	if v, ok := Price(raw.Price); ok {
		price.Price = v
	}
	if v, ok := Price(raw.OriginalPrice); ok {
		price.OriginalPrice = &v
	}
	if v, ok := DiscountPercentage(raw.Discount); ok {
		price.DiscountPercentage = &v
	} else if d, ok := derivedDiscount(price.Price, price.OriginalPrice); ok {
		price.DiscountPercentage = &d
	}

	return models.HarvestedItem{Product: product, Price: price}
}

// derivedDiscount computes the markdown from original and current price,
// rounded to two decimals.
func derivedDiscount(price float64, original *float64) (float64, bool) {
	if original == nil || price <= 0 || *original <= price {
		return 0, false
	}
	pct := (*original - price) / *original * 100
	return math.Round(pct*100) / 100, true
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == "" {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil || refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
