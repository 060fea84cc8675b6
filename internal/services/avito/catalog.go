package avito

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/colligo/internal/models"
)

var leadingDigits = regexp.MustCompile(`\d+`)

// ParseCatalogListings extracts the search-result rows from a catalog
// page. Rows without an item id are skipped; every other field is
// best-effort because the marketplace omits price and seller data for
// some listing classes.
func ParseCatalogListings(html string) ([]models.CatalogListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var listings []models.CatalogListing
	doc.Find(`div[data-marker="item"]`).Each(func(_ int, s *goquery.Selection) {
		itemID := strings.TrimSpace(s.AttrOr("data-item-id", ""))
		if itemID == "" {
			// Older markup carries the id on the node id ("i123456").
			itemID = strings.TrimPrefix(strings.TrimSpace(s.AttrOr("id", "")), "i")
		}
		if itemID == "" {
			return
		}

		listing := models.CatalogListing{
			AvitoItemID: itemID,
			Title:       extractText(s, `[itemprop="name"]`, `a[data-marker="item-title"]`, `h3`),
			SnippetText: extractText(s, `[data-marker="item-description"]`, `div[class*="item-description"]`, `[data-marker="item-specific-params"]`),
			SellerName:  extractText(s, `[data-marker="seller-info/name"]`, `div[class*="seller-info-name"]`),
		}

		if listing.Title == "" {
			listing.Title = strings.TrimSpace(s.Find(`a[data-marker="item-title"]`).AttrOr("title", ""))
		}

		if content, ok := s.Find(`meta[itemprop="price"]`).Attr("content"); ok {
			if price, err := strconv.ParseFloat(strings.TrimSpace(content), 64); err == nil {
				listing.Price = &price
			}
		}

		if href, ok := s.Find(`a[data-marker="seller-link"], [data-marker="seller-info/name"] a`).Attr("href"); ok {
			listing.SellerID = sellerIDFromHref(href)
		}

		if rating, ok := parseRating(extractText(s, `[data-marker="seller-rating/score"]`)); ok {
			listing.SellerRating = &rating
		}

		if reviews, ok := parseLeadingInt(extractText(s, `[data-marker="seller-rating/summary"]`)); ok {
			listing.SellerReviews = &reviews
		}

		listing.ImageURLs = extractImageURLs(s)

		listings = append(listings, listing)
	})

	return listings, nil
}

// DeduplicateListings drops rows with a (title, snippet) pair already
// seen. Promoted listings are re-served on later pages with fresh item
// ids, so the id alone cannot catch them.
func DeduplicateListings(listings []models.CatalogListing) ([]models.CatalogListing, int) {
	type key struct {
		title   string
		snippet string
	}

	seen := make(map[key]bool, len(listings))
	unique := make([]models.CatalogListing, 0, len(listings))

	for _, l := range listings {
		k := key{title: l.Title, snippet: l.SnippetText}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, l)
	}

	return unique, len(listings) - len(unique)
}

// extractText tries selectors in priority order and returns the first
// non-empty trimmed text.
func extractText(s *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		text := strings.TrimSpace(s.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// parseRating reads a localized score like "4,8".
func parseRating(text string) (float64, bool) {
	text = strings.TrimSpace(strings.ReplaceAll(text, ",", "."))
	if text == "" {
		return 0, false
	}
	rating, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return rating, true
}

// parseLeadingInt pulls the leading number out of text like
// "123 отзыва" or "1 234 просмотра"; space separators inside grouped
// numbers are dropped first so they read whole.
func parseLeadingInt(text string) (int, bool) {
	compact := stripSpaces(text)
	match := leadingDigits.FindString(compact)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}

// extractImageURLs collects a row's thumbnail URLs: img src plus the
// first candidate of each srcset entry. Data URLs are skipped.
func extractImageURLs(s *goquery.Selection) []string {
	var urls []string
	seen := make(map[string]bool)

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") {
			return
		}
		if strings.HasPrefix(raw, "//") {
			raw = "https:" + raw
		}
		if !strings.HasPrefix(raw, "http") || seen[raw] {
			return
		}
		seen[raw] = true
		urls = append(urls, raw)
	}

	s.Find("img").Each(func(_ int, img *goquery.Selection) {
		add(img.AttrOr("src", ""))
		for _, part := range strings.Split(img.AttrOr("srcset", ""), ",") {
			part = strings.TrimSpace(part)
			if idx := strings.Index(part, " "); idx > 0 {
				part = part[:idx]
			}
			add(part)
		}
	})

	return urls
}

// stripSpaces drops every space rune, including the non-breaking
// variants the marketplace uses as thousand separators.
func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func sellerIDFromHref(href string) string {
	href = strings.TrimSpace(href)
	for _, prefix := range []string{"/user/", "/brands/"} {
		if idx := strings.Index(href, prefix); idx >= 0 {
			rest := href[idx+len(prefix):]
			if end := strings.IndexAny(rest, "/?"); end >= 0 {
				rest = rest[:end]
			}
			return rest
		}
	}
	return ""
}
