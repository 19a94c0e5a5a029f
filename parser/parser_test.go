package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-price-harvester/config"
	"github.com/aluiziolira/go-price-harvester/models"
)

const catalogPage = `<html><body>
<section class="card">
  <article class="prd">
    <a class="core" href="/samsung-tv-55/">
      <div class="brn">Samsung</div>
      <h3 class="name">Samsung 55"   Crystal UHD
        TV</h3>
      <div class="prc">₦ 450,000</div>
      <div class="old">₦ 500,000</div>
      <div class="rev">1,204 ratings</div>
    </a>
  </article>
  <article class="prd">
    <a class="core" href="https://shop.test/lg-tv-43/">
      <div class="brn">LG</div>
      <h3 class="name">LG 43" Smart TV</h3>
      <div class="prc">₦ 260,500.50</div>
    </a>
  </article>
  <article class="prd">
    <a class="core" href="/orphan/">
      <h3 class="name">Listing without price</h3>
    </a>
  </article>
</section>
<div class="name">fallback title should not merge</div>
</body></html>`

func TestExtractFieldsFirstMatchingLocatorWins(t *testing.T) {
	specs := FieldSpecs{
		config.FieldTitle: {"article.prd h3.missing", "article.prd h3.name", "div.name"},
		config.FieldPrice: {"article.prd div.prc"},
		config.FieldURL:   {"article.prd a.core@href"},
		config.FieldBrand: {"span.none"},
	}

	fields, err := ExtractFields(catalogPage, specs)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	titles := fields[config.FieldTitle]
	if len(titles) != 3 {
		t.Fatalf("titles = %q, want 3 from the second locator only", titles)
	}
	if titles[0] != `Samsung 55" Crystal UHD TV` {
		t.Fatalf("whitespace not collapsed: %q", titles[0])
	}
	if got := fields[config.FieldURL]; len(got) != 3 || got[0] != "/samsung-tv-55/" {
		t.Fatalf("urls = %q", got)
	}
	if _, ok := fields[config.FieldBrand]; ok {
		t.Fatalf("unmatched field should be omitted")
	}
}

func TestExtractFieldsInvalidLocator(t *testing.T) {
	_, err := ExtractFields(catalogPage, FieldSpecs{config.FieldTitle: {"h3[["}})
	if err == nil {
		t.Fatalf("expected invalid locator error")
	}
}

func TestAlignRecords(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string][]string
		want   int
	}{
		{
			name:   "shortest required field bounds count",
			fields: map[string][]string{config.FieldTitle: {"A", "B", "C"}, config.FieldPrice: {"10", "20"}},
			want:   2,
		},
		{
			name:   "empty required price yields nothing",
			fields: map[string][]string{config.FieldTitle: {"A", "B", "C"}, config.FieldPrice: {}},
			want:   0,
		},
		{
			name:   "missing required price yields nothing",
			fields: map[string][]string{config.FieldTitle: {"A"}},
			want:   0,
		},
		{
			name: "missing optional field does not constrain",
			fields: map[string][]string{
				config.FieldTitle:  {"A", "B"},
				config.FieldPrice:  {"10", "20"},
				config.FieldRating: {},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlignRecords(tt.fields); len(got) != tt.want {
				t.Fatalf("AlignRecords() = %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestAlignRecordsShortOptionalField(t *testing.T) {
	records := AlignRecords(map[string][]string{
		config.FieldTitle: {"A", "B", "C"},
		config.FieldPrice: {"10", "20", "30"},
		config.FieldBrand: {"Acme"},
	})
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].Brand != "Acme" || records[2].Brand != "" || records[2].Title != "C" || records[1].Price != "20" {
		t.Fatalf("misaligned records: %+v", records)
	}
}

func TestPrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"₦1,234.50", 1234.50, true},
		{"£51.77", 51.77, true},
		{"KSh 2,000", 2000, true},
		{"0", 0, true},
		{"", 0, false},
		{"N/A", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tt := range tests {
		got, ok := Price(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("Price(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestReviewCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1,234 Ratings", 1234, true},
		{"(56 reviews)", 0, false},
		{"56 reviews", 56, true},
		{"1 Review", 1, true},
		{"12,000 ratings & 800 reviews", 12000, true},
		{"ratings", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ReviewCount(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ReviewCount(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDiscountPercentage(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"40% off", 40, true},
		{" 12 %", 12, true},
		{"-40%", 0, false},
		{"off 40%", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := DiscountPercentage(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("DiscountPercentage(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRating(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4.3", 4.3, true},
		{" 0 ", 0, true},
		{"4.3 out of 5", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := Rating(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("Rating(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

var now = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

func TestNormalizeFromExtractedPage(t *testing.T) {
	specs := FieldSpecs(config.DefaultConfig().Selectors)
	specs[config.FieldReviewCount] = []string{"article.prd div.rev"}
	fields, err := ExtractFields(catalogPage, specs)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	records := AlignRecords(fields)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (price-less listing dropped)", len(records))
	}

	ic := ItemContext{Category: "tv", Source: "jumia", Currency: "ngn", BaseURL: "https://shop.test", Now: now}
	first := Normalize(records[0], ic)
	if first.Product.Name != `Samsung 55" Crystal UHD TV` || first.Product.Brand != "Samsung" {
		t.Fatalf("product = %+v", first.Product)
	}
	if first.Price.Price != 450000 || first.Price.Currency != "NGN" {
		t.Fatalf("price = %+v", first.Price)
	}
	if first.Price.URL != "https://shop.test/samsung-tv-55/" {
		t.Fatalf("url not resolved: %q", first.Price.URL)
	}
	if first.Price.DiscountPercentage == nil || *first.Price.DiscountPercentage != 10 {
		t.Fatalf("derived discount = %v, want 10", first.Price.DiscountPercentage)
	}
	if first.Product.ReviewCount == nil || *first.Product.ReviewCount != 1204 {
		t.Fatalf("review count = %v", first.Product.ReviewCount)
	}

	second := Normalize(records[1], ic)
	if second.Price.Price != 260500.50 || second.Price.URL != "https://shop.test/lg-tv-43/" {
		t.Fatalf("second price = %+v", second.Price)
	}
	if second.Price.OriginalPrice != nil || second.Price.DiscountPercentage != nil {
		t.Fatalf("second item should have no markdown: %+v", second.Price)
	}
	if second.Product.ReviewCount != nil || second.Product.Rating != nil {
		t.Fatalf("absent optional values must stay nil: %+v", second.Product)
	}
	if !ValidateItem(&first).Valid() || !ValidateItem(&second).Valid() {
		t.Fatalf("normalized items should validate: %v %v", ValidateItem(&first).Violations, ValidateItem(&second).Violations)
	}
}

func TestDerivedDiscountRounding(t *testing.T) {
	orig := 300.0
	got, ok := derivedDiscount(200, &orig)
	if !ok || got != 33.33 {
		t.Fatalf("derivedDiscount = %v, %v; want 33.33", got, ok)
	}
	if _, ok := derivedDiscount(300, &orig); ok {
		t.Fatalf("no discount when price equals original")
	}
	if _, ok := derivedDiscount(200, nil); ok {
		t.Fatalf("no discount without original price")
	}
}

func ptr[T any](v T) *T { return &v }

func TestValidateProduct(t *testing.T) {
	valid := models.ProductRecord{Name: "Phone", Category: "phones", Brand: "Acme", Rating: ptr(4.5), CreatedAt: now, UpdatedAt: now}

	tests := []struct {
		name   string
		mutate func(*models.ProductRecord)
		want   string
	}{
		{name: "valid", mutate: func(*models.ProductRecord) {}},
		{name: "missing name", mutate: func(p *models.ProductRecord) { p.Name = "  " }, want: "product name is required"},
		{name: "long name", mutate: func(p *models.ProductRecord) { p.Name = strings.Repeat("é", 256) }, want: "product name too long (max 255 chars)"},
		{name: "name at limit in runes", mutate: func(p *models.ProductRecord) { p.Name = strings.Repeat("é", 255) }},
		{name: "missing category", mutate: func(p *models.ProductRecord) { p.Category = "" }, want: "category is required"},
		{name: "long category", mutate: func(p *models.ProductRecord) { p.Category = strings.Repeat("c", 101) }, want: "category name too long (max 100 chars)"},
		{name: "long brand", mutate: func(p *models.ProductRecord) { p.Brand = strings.Repeat("b", 101) }, want: "brand name too long (max 100 chars)"},
		{name: "long description", mutate: func(p *models.ProductRecord) { p.Description = strings.Repeat("d", 1001) }, want: "description too long (max 1000 chars)"},
		{name: "rating above range", mutate: func(p *models.ProductRecord) { p.Rating = ptr(5.1) }, want: "rating must be between 0 and 5"},
		{name: "rating below range", mutate: func(p *models.ProductRecord) { p.Rating = ptr(-0.1) }, want: "rating must be between 0 and 5"},
		{name: "zero rating", mutate: func(p *models.ProductRecord) { p.Rating = ptr(0.0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			res := ValidateProduct(&p)
			if tt.want == "" {
				if !res.Valid() {
					t.Fatalf("unexpected violations: %v", res.Violations)
				}
				return
			}
			if len(res.Violations) != 1 || res.Violations[0] != tt.want {
				t.Fatalf("violations = %v, want [%s]", res.Violations, tt.want)
			}
		})
	}
}

func TestValidatePrice(t *testing.T) {
	valid := models.PriceRecord{Price: 10, Currency: "NGN", Source: "jumia", URL: "https://shop.test/p", Timestamp: now}

	tests := []struct {
		name   string
		mutate func(*models.PriceRecord)
		want   string
	}{
		{name: "valid", mutate: func(*models.PriceRecord) {}},
		{name: "no url", mutate: func(p *models.PriceRecord) { p.URL = "" }},
		{name: "zero price", mutate: func(p *models.PriceRecord) { p.Price = 0 }, want: "price must be greater than 0"},
		{name: "missing currency", mutate: func(p *models.PriceRecord) { p.Currency = "" }, want: "currency is required"},
		{name: "numeric currency", mutate: func(p *models.PriceRecord) { p.Currency = "N6N" }, want: "currency must be a 3-letter alphabetic code"},
		{name: "long currency", mutate: func(p *models.PriceRecord) { p.Currency = "NGNX" }, want: "currency must be a 3-letter alphabetic code"},
		{name: "bad scheme", mutate: func(p *models.PriceRecord) { p.URL = "ftp://shop.test/p" }, want: "url must start with http:// or https://"},
		{name: "long url", mutate: func(p *models.PriceRecord) { p.URL = "https://shop.test/" + strings.Repeat("u", 490) }, want: "url too long (max 500 chars)"},
		{name: "missing source", mutate: func(p *models.PriceRecord) { p.Source = "" }, want: "source is required"},
		{name: "long source", mutate: func(p *models.PriceRecord) { p.Source = strings.Repeat("s", 51) }, want: "source name too long (max 50 chars)"},
		{name: "missing timestamp", mutate: func(p *models.PriceRecord) { p.Timestamp = time.Time{} }, want: "timestamp is required"},
		{name: "discount out of range", mutate: func(p *models.PriceRecord) { p.DiscountPercentage = ptr(140.0) }, want: "discount percentage must be between 0 and 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			res := ValidatePrice(&p)
			if tt.want == "" {
				if !res.Valid() {
					t.Fatalf("unexpected violations: %v", res.Violations)
				}
				return
			}
			if len(res.Violations) != 1 || res.Violations[0] != tt.want {
				t.Fatalf("violations = %v, want [%s]", res.Violations, tt.want)
			}
		})
	}
}

func TestValidateItemCollectsAllViolations(t *testing.T) {
	item := models.HarvestedItem{
		Product: models.ProductRecord{Category: "tv"},
		Price:   models.PriceRecord{Currency: "NGN", Source: "jumia", Timestamp: now},
	}
	res := ValidateItem(&item)
	want := []string{"product: product name is required", "price: price must be greater than 0"}
	if strings.Join(res.Violations, "|") != strings.Join(want, "|") {
		t.Fatalf("violations = %v, want %v", res.Violations, want)
	}
}
