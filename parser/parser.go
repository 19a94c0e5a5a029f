package parser

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aluiziolira/go-price-harvester/models"
)

// Column limits of the product and price tables.
const (
	maxNameLen        = 255
	maxCategoryLen    = 100
	maxBrandLen       = 100
	maxDescriptionLen = 1000
	maxURLLen         = 500
	maxSourceLen      = 50
)

var currencyCode = regexp.MustCompile(`^[A-Za-z]{3}$`)

// ValidateProduct lists every constraint the product violates.
func ValidateProduct(p *models.ProductRecord) models.ValidationResult {
	var v []string
	if p == nil {
		return models.ValidationResult{Violations: []string{"product is nil"}}
	}

	if strings.TrimSpace(p.Name) == "" {
		v = append(v, "product name is required")
	} else if utf8.RuneCountInString(p.Name) > maxNameLen {
		v = append(v, fmt.Sprintf("product name too long (max %d chars)", maxNameLen))
	}

	if strings.TrimSpace(p.Category) == "" {
		v = append(v, "category is required")
	} else if utf8.RuneCountInString(p.Category) > maxCategoryLen {
		v = append(v, fmt.Sprintf("category name too long (max %d chars)", maxCategoryLen))
	}

	if utf8.RuneCountInString(p.Brand) > maxBrandLen {
		v = append(v, fmt.Sprintf("brand name too long (max %d chars)", maxBrandLen))
	}
	if utf8.RuneCountInString(p.Description) > maxDescriptionLen {
		v = append(v, fmt.Sprintf("description too long (max %d chars)", maxDescriptionLen))
	}

	if p.Rating != nil && (math.IsNaN(*p.Rating) || *p.Rating < 0 || *p.Rating > 5) {
		v = append(v, "rating must be between 0 and 5")
	}
	if p.ReviewCount != nil && *p.ReviewCount < 0 {
		v = append(v, "review count cannot be negative")
	}

	return models.ValidationResult{Violations: v}
}

// ValidatePrice lists every constraint the price observation violates.
func ValidatePrice(p *models.PriceRecord) models.ValidationResult {
	var v []string
	if p == nil {
		return models.ValidationResult{Violations: []string{"price record is nil"}}
	}

	if math.IsNaN(p.Price) || p.Price <= 0 {
		v = append(v, "price must be greater than 0")
	}
	if p.OriginalPrice != nil && *p.OriginalPrice <= 0 {
		v = append(v, "original price must be greater than 0")
	}
	if p.DiscountPercentage != nil && (*p.DiscountPercentage < 0 || *p.DiscountPercentage > 100) {
		v = append(v, "discount percentage must be between 0 and 100")
	}

	switch {
	case p.Currency == "":
		v = append(v, "currency is required")
	case !currencyCode.MatchString(p.Currency):
		v = append(v, "currency must be a 3-letter alphabetic code")
	}

	if p.URL != "" {
		if utf8.RuneCountInString(p.URL) > maxURLLen {
			v = append(v, fmt.Sprintf("url too long (max %d chars)", maxURLLen))
		}
		if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
			v = append(v, "url must start with http:// or https://")
		}
	}

	if strings.TrimSpace(p.Source) == "" {
		v = append(v, "source is required")
	} else if utf8.RuneCountInString(p.Source) > maxSourceLen {
		v = append(v, fmt.Sprintf("source name too long (max %d chars)", maxSourceLen))
	}

	if p.Timestamp.IsZero() {
		v = append(v, "timestamp is required")
	}

	return models.ValidationResult{Violations: v}
}

// ValidateItem validates both halves of a harvested item, prefixing each
// violation with the record it belongs to.
func ValidateItem(item *models.HarvestedItem) models.ValidationResult {
	var v []string
	for _, msg := range ValidateProduct(&item.Product).Violations {
		v = append(v, "product: "+msg)
	}
	for _, msg := range ValidatePrice(&item.Price).Violations {
		v = append(v, "price: "+msg)
	}
	return models.ValidationResult{Violations: v}
}
