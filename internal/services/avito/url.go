// Package avito is the site adapter: URL building, page-state
// detection, catalog and card extraction, and the captcha flow. The
// coordination core consumes it only through the interfaces package.
package avito

import (
	"fmt"
	"net/url"
)

const (
	baseURL = "https://www.avito.ru"

	// Nationwide search slug; narrower regions produce partial catalogs.
	searchRegion = "rossiya"

	// sortByDate keeps pagination stable while new listings appear.
	sortByDate = "104"
)

// BuildCatalogURL returns the first search page for an articulum.
func BuildCatalogURL(articulum string) string {
	return CatalogPageURL(articulum, 1)
}

// CatalogPageURL returns one search page, date-sorted.
func CatalogPageURL(articulum string, page int) string {
	q := url.Values{}
	q.Set("q", articulum)
	q.Set("s", sortByDate)
	if page > 1 {
		q.Set("p", fmt.Sprintf("%d", page))
	}
	return fmt.Sprintf("%s/%s?%s", baseURL, searchRegion, q.Encode())
}

// BuildItemURL returns the detail page for a listing id.
func BuildItemURL(avitoItemID string) string {
	return fmt.Sprintf("%s/%s", baseURL, avitoItemID)
}
