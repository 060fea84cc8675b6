package avito

import (
	"testing"

	"github.com/ternarybob/colligo/internal/models"
)

func TestParseCatalogListings(t *testing.T) {
	html := catalogPageHTML(
		catalogItemHTML("4567001", "Катализатор KNK-2190", "12500", "Новый, оригинал, гарантия"),
		// Legacy markup: id on the node id attribute, no price or seller.
		`<div data-marker="item" id="i7890123"><h3 itemprop="name">Катализатор KNK-2190 б/у</h3></div>`,
		// Title only on the link attribute.
		`<div data-marker="item" data-item-id="5550001"><a data-marker="item-title" title="Нейтрализатор выхлопа" href="/5550001"></a></div>`,
		// No item id at all: skipped.
		`<div data-marker="item"><h3 itemprop="name">потерянный</h3></div>`,
	)

	listings, err := ParseCatalogListings(html)
	if err != nil {
		t.Fatalf("ParseCatalogListings failed: %v", err)
	}
	if len(listings) != 3 {
		t.Fatalf("Expected 3 listings, got %d: %+v", len(listings), listings)
	}

	first := listings[0]
	if first.AvitoItemID != "4567001" {
		t.Errorf("Expected item id 4567001, got %q", first.AvitoItemID)
	}
	if first.Title != "Катализатор KNK-2190" {
		t.Errorf("Unexpected title %q", first.Title)
	}
	if first.SnippetText != "Новый, оригинал, гарантия" {
		t.Errorf("Unexpected snippet %q", first.SnippetText)
	}
	if first.Price == nil || *first.Price != 12500 {
		t.Errorf("Expected price 12500, got %v", first.Price)
	}
	if first.SellerID != "a1b2c3d4" {
		t.Errorf("Expected seller id a1b2c3d4, got %q", first.SellerID)
	}
	if first.SellerRating == nil || *first.SellerRating != 4.8 {
		t.Errorf("Expected rating 4.8, got %v", first.SellerRating)
	}
	if first.SellerReviews == nil || *first.SellerReviews != 123 {
		t.Errorf("Expected 123 reviews, got %v", first.SellerReviews)
	}
	if len(first.ImageURLs) != 2 {
		t.Errorf("Expected src and srcset thumbnails, got %v", first.ImageURLs)
	} else if first.ImageURLs[1] != "https://img.avito.st/864x648/4567001-1.jpg" {
		t.Errorf("Expected protocol-relative srcset URL resolved, got %q", first.ImageURLs[1])
	}

	legacy := listings[1]
	if legacy.AvitoItemID != "7890123" {
		t.Errorf("Expected legacy id 7890123, got %q", legacy.AvitoItemID)
	}
	if legacy.Price != nil {
		t.Errorf("Expected nil price for legacy row, got %v", legacy.Price)
	}

	attrTitle := listings[2]
	if attrTitle.Title != "Нейтрализатор выхлопа" {
		t.Errorf("Expected title from link attribute, got %q", attrTitle.Title)
	}
}

func TestDeduplicateListings(t *testing.T) {
	listings := []models.CatalogListing{
		{AvitoItemID: "1", Title: "Катализатор KNK-2190", SnippetText: "Новый"},
		{AvitoItemID: "2", Title: "Катализатор KNK-2190", SnippetText: "Б/у, рабочий"},
		// Promoted re-serve: fresh id, same title and snippet.
		{AvitoItemID: "3", Title: "Катализатор KNK-2190", SnippetText: "Новый"},
		{AvitoItemID: "4", Title: "Другая деталь", SnippetText: "Новый"},
	}

	unique, removed := DeduplicateListings(listings)
	if removed != 1 {
		t.Errorf("Expected 1 duplicate removed, got %d", removed)
	}
	if len(unique) != 3 {
		t.Fatalf("Expected 3 unique listings, got %d", len(unique))
	}
	// First occurrence wins.
	if unique[0].AvitoItemID != "1" {
		t.Errorf("Expected first occurrence kept, got id %q", unique[0].AvitoItemID)
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected float64
		ok       bool
	}{
		{"Comma decimal", "4,8", 4.8, true},
		{"Dot decimal", "4.8", 4.8, true},
		{"Whole number", "5", 5, true},
		{"Empty", "", 0, false},
		{"Garbage", "нет отзывов", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rating, ok := parseRating(tt.text)
			if ok != tt.ok || rating != tt.expected {
				t.Errorf("Expected (%v, %v), got (%v, %v)", tt.expected, tt.ok, rating, ok)
			}
		})
	}
}

func TestParseLeadingInt(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
		ok       bool
	}{
		{"Review count", "123 отзыва", 123, true},
		{"Grouped with nbsp", "1 234 просмотра", 1234, true},
		{"Grouped with space", "1 234 просмотра", 1234, true},
		{"No digits", "нет просмотров", 0, false},
		{"Empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := parseLeadingInt(tt.text)
			if ok != tt.ok || n != tt.expected {
				t.Errorf("Expected (%d, %v), got (%d, %v)", tt.expected, tt.ok, n, ok)
			}
		})
	}
}

func TestSellerIDFromHref(t *testing.T) {
	tests := []struct {
		name     string
		href     string
		expected string
	}{
		{"User profile", "/user/a1b2c3d4/profile", "a1b2c3d4"},
		{"User with query", "/user/a1b2c3d4?src=search", "a1b2c3d4"},
		{"Brand", "/brands/autodetal", "autodetal"},
		{"Absolute URL", "https://www.avito.ru/user/ff00aa11/profile", "ff00aa11"},
		{"Unrelated link", "/4567001", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sellerIDFromHref(tt.href); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
