package models

import (
	"strings"
	"time"
)

// Card is the structured detail page of a single listing.
// Characteristics holds the marketplace's parameter list verbatim
// (condition, brand, part type and so on).
type Card struct {
	AvitoItemID     string            `json:"avito_item_id"`
	Title           string            `json:"title"`
	Price           *float64          `json:"price,omitempty"`
	SellerName      string            `json:"seller_name,omitempty"`
	SellerID        string            `json:"seller_id,omitempty"`
	SellerRating    *float64          `json:"seller_rating,omitempty"`
	PublishedAt     *time.Time        `json:"published_at,omitempty"`
	Description     string            `json:"description,omitempty"`
	LocationName    string            `json:"location_name,omitempty"`
	LocationCoords  string            `json:"location_coords,omitempty"` // "lat,lon" as published
	Characteristics map[string]string `json:"characteristics,omitempty"`
	ViewsTotal      *int              `json:"views_total,omitempty"`
	RawHTML         string            `json:"-"`
}

// IsUsedCondition reports whether the card's condition characteristic
// marks the part as second-hand. Used parts are invalidated rather than
// persisted.
func (c *Card) IsUsedCondition() bool {
	condition, ok := c.Characteristics["Состояние"]
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(condition), "б/у")
}

// ObjectRecord is one persisted detail-parse result. Repeated parses of
// the same listing append new records, forming a price/views history.
type ObjectRecord struct {
	ID          int64     `json:"id"`
	ArticulumID int64     `json:"articulum_id"`
	AvitoItemID string    `json:"avito_item_id"`
	Card        Card      `json:"card"`
	ParsedAt    time.Time `json:"parsed_at"`
}
