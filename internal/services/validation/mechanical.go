// -----------------------------------------------------------------------
// Mechanical validation rules
// Text normalization, stopwords, seller floor, price outlier statistics
// -----------------------------------------------------------------------

package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/ternarybob/colligo/internal/models"
)

// Sellers retype Latin part numbers with Cyrillic letters that render
// the same glyphs. Folding both sides makes "КНК" match "KHK".
var lookalikeFold = strings.NewReplacer(
	"а", "a", "в", "b", "е", "e", "к", "k", "м", "m", "н", "h",
	"о", "o", "р", "p", "с", "c", "т", "t", "у", "y", "х", "x",
	"ё", "e",
)

// normalizeForMatch lowercases, folds Cyrillic/Latin lookalikes, and
// strips everything but letters and digits.
func normalizeForMatch(s string) string {
	s = lookalikeFold.Replace(strings.ToLower(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// priceStats are the reference numbers for the per-listing price check.
// Computed once per articulum over the surviving prices.
type priceStats struct {
	reference  float64 // median of the top 40% after two-pass outlier filtering
	upperBound float64 // Q3 + 1.0*IQR, or 3*median with fewer than 4 points
}

// computePriceStats needs at least one price; with fewer than four it
// falls back to plain median bounds. The two-pass filter first drops
// IQR outliers, then anything above 2.5x the filtered median, so one
// absurd price cannot drag the reference up.
func computePriceStats(prices []float64) *priceStats {
	if len(prices) == 0 {
		return nil
	}

	if len(prices) < 4 {
		m := median(prices)
		return &priceStats{reference: m, upperBound: m * 3}
	}

	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	q1, q3 := quartiles(sorted)
	iqr := q3 - q1
	lower := q1 - 1.0*iqr
	upper := q3 + 1.0*iqr

	clean := sorted[:0:0]
	for _, p := range sorted {
		if p >= lower && p <= upper {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		m := median(sorted)
		return &priceStats{reference: m, upperBound: m * 3}
	}

	extremeCap := median(clean) * 2.5
	final := clean[:0:0]
	for _, p := range clean {
		if p <= extremeCap {
			final = append(final, p)
		}
	}
	if len(final) == 0 {
		final = clean
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(final)))
	top40 := len(final) * 2 / 5
	if top40 < 1 {
		top40 = 1
	}

	return &priceStats{
		reference:  median(final[:top40]),
		upperBound: upper,
	}
}

func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// quartiles interpolates Q1 and Q3 with the exclusive (n+1) method, the
// same one the stats routines upstream of the audit data used.
func quartiles(sorted []float64) (q1, q3 float64) {
	n := len(sorted)
	at := func(i int) float64 {
		j := i * (n + 1) / 4
		delta := i * (n + 1) % 4
		if j < 1 {
			j = 1
		} else if j > n-1 {
			j = n - 1
		}
		return (sorted[j-1]*float64(4-delta) + sorted[j]*float64(delta)) / 4
	}
	return at(1), at(3)
}

// mechanicalChecker applies the mechanical rules to one listing. Checks
// run in a fixed order and the first failure wins.
type mechanicalChecker struct {
	articulum        string
	articulumNorm    string // normalized, empty when the check is off
	stopwords        []string
	minSellerReviews int
	stats            *priceStats // nil skips the price checks
}

func newMechanicalChecker(articulum string, requireArticulum bool, stopwords []string, minSellerReviews int, stats *priceStats) *mechanicalChecker {
	c := &mechanicalChecker{
		articulum:        articulum,
		stopwords:        stopwords,
		minSellerReviews: minSellerReviews,
		stats:            stats,
	}
	if requireArticulum {
		c.articulumNorm = normalizeForMatch(articulum)
	}
	return c
}

// check returns the rejection reason, or "" when the listing passes.
func (c *mechanicalChecker) check(l *models.CatalogListing) string {
	if c.articulumNorm != "" {
		text := normalizeForMatch(l.Title + " " + l.SnippetText)
		if !strings.Contains(text, c.articulumNorm) {
			return fmt.Sprintf("Артикул %q не найден в тексте объявления", c.articulum)
		}
	}

	combined := strings.ToLower(l.Title + " " + l.SnippetText + " " + l.SellerName)
	for _, stopword := range c.stopwords {
		if stopword == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(stopword)) {
			return fmt.Sprintf("Найдено стоп-слово: %q", stopword)
		}
	}

	if c.minSellerReviews > 0 {
		if l.SellerReviews == nil {
			return fmt.Sprintf("Недостаточно отзывов продавца: N/A < %d", c.minSellerReviews)
		}
		if *l.SellerReviews < c.minSellerReviews {
			return fmt.Sprintf("Недостаточно отзывов продавца: %d < %d", *l.SellerReviews, c.minSellerReviews)
		}
	}

	if c.stats != nil && l.Price != nil {
		price := *l.Price
		if price < c.stats.reference*0.5 {
			return fmt.Sprintf("Подозрительно низкая цена: %.0f < %.2f (50%% медианы топ-40%%)", price, c.stats.reference*0.5)
		}
		if price > c.stats.upperBound {
			return fmt.Sprintf("Выброс по цене (IQR): %.0f > %.2f (Q3 + 1.0×IQR)", price, c.stats.upperBound)
		}
	}

	return ""
}
