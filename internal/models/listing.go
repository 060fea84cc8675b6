package models

import "time"

// CatalogListing is one search-result row captured during a catalog parse.
// Price and seller fields are nullable because the marketplace omits them
// for some listing classes (promoted rows, anonymous sellers).
type CatalogListing struct {
	ID            int64     `json:"id"`
	ArticulumID   int64     `json:"articulum_id"`
	AvitoItemID   string    `json:"avito_item_id"`
	Title         string    `json:"title"`
	Price         *float64  `json:"price,omitempty"`
	SnippetText   string    `json:"snippet_text,omitempty"`
	SellerName    string    `json:"seller_name,omitempty"`
	SellerID      string    `json:"seller_id,omitempty"`
	SellerRating  *float64  `json:"seller_rating,omitempty"`
	SellerReviews *int      `json:"seller_reviews,omitempty"`
	ImageKeys     []string  `json:"image_keys,omitempty"` // Object-store keys for collected listing images
	ImagesCount   int       `json:"images_count"`
	CreatedAt     time.Time `json:"created_at"`

	// ImageURLs holds the thumbnail URLs seen during extraction. They
	// feed the image collector and are never persisted; the stored keys
	// land in ImageKeys.
	ImageURLs []string `json:"-"`
}
