package models

import "time"

// ValidationStage identifies one stage of the validation pipeline.
// The set is closed: object-task materialization depends on exactly
// these three stages existing and no others.
type ValidationStage string

const (
	ValidationStagePriceFilter ValidationStage = "price_filter"
	ValidationStageMechanical  ValidationStage = "mechanical"
	ValidationStageAI          ValidationStage = "ai"
)

// ValidationResult is one append-only audit row: the verdict of one
// stage on one listing. Rows are never updated or deleted.
type ValidationResult struct {
	ID              int64           `json:"id"`
	ArticulumID     int64           `json:"articulum_id"`
	AvitoItemID     string          `json:"avito_item_id"`
	ValidationType  ValidationStage `json:"validation_type"`
	Passed          bool            `json:"passed"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AIListing is the slice of a catalog listing handed to the AI validator.
// Images are raw bytes fetched from the image store, at most two per
// listing, attached only when image validation is enabled.
type AIListing struct {
	AvitoItemID string   `json:"item_id"`
	Title       string   `json:"title"`
	Price       *float64 `json:"price,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
	SellerName  string   `json:"seller_name,omitempty"`
	Images      [][]byte `json:"-"`
}

// AIRejection explains why the AI validator rejected one listing.
type AIRejection struct {
	AvitoItemID string `json:"item_id"`
	Reason      string `json:"reason"`
}

// AIVerdict is the AI validator's decision for one batch of listings.
// A submitted listing absent from PassedIDs counts as rejected; the
// caller falls back to a generic reason when Rejected has no entry
// for it.
type AIVerdict struct {
	PassedIDs []string      `json:"passed_ids"`
	Rejected  []AIRejection `json:"rejected"`
}
