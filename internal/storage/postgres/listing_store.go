package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ListingStorage implements PostgreSQL storage for catalog listings and
// their validation audit trail
type ListingStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewListingStorage creates a new listing storage instance
func NewListingStorage(db *PostgresDB, logger arbor.ILogger) interfaces.ListingStorage {
	return &ListingStorage{
		db:     db,
		logger: logger,
	}
}

// GetByArticulum returns every catalog listing of the articulum, oldest
// first.
func (s *ListingStorage) GetByArticulum(ctx context.Context, articulumID int64) ([]models.CatalogListing, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, articulum_id, avito_item_id, title, price, snippet_text,
		       seller_name, seller_id, seller_rating, seller_reviews,
		       image_keys, images_count, created_at
		FROM catalog_listings
		WHERE articulum_id = $1
		ORDER BY id`, articulumID)
	if err != nil {
		return nil, fmt.Errorf("failed to get listings for articulum %d: %w", articulumID, err)
	}
	defer rows.Close()

	var listings []models.CatalogListing
	for rows.Next() {
		var l models.CatalogListing
		err := rows.Scan(&l.ID, &l.ArticulumID, &l.AvitoItemID, &l.Title, &l.Price,
			&l.SnippetText, &l.SellerName, &l.SellerID, &l.SellerRating,
			&l.SellerReviews, &l.ImageKeys, &l.ImagesCount, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}

	return listings, rows.Err()
}

// SaveValidationResults appends audit rows. The table is append-only:
// a re-validated articulum accumulates rows, and the object-task
// predicate aggregates over all of them.
func (s *ListingStorage) SaveValidationResults(ctx context.Context, results []models.ValidationResult) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO validation_results (articulum_id, avito_item_id, validation_type, passed, rejection_reason)
			VALUES ($1, $2, $3, $4, $5)`,
			r.ArticulumID, r.AvitoItemID, string(r.ValidationType), r.Passed, r.RejectionReason)
	}

	br := s.db.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert validation result: %w", err)
		}
	}

	return nil
}

// UpdateImageKeys records the object-store keys of a listing's
// collected images.
func (s *ListingStorage) UpdateImageKeys(ctx context.Context, avitoItemID string, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	_, err := s.db.pool.Exec(ctx, `
		UPDATE catalog_listings
		SET image_keys = $1, images_count = $2
		WHERE avito_item_id = $3`,
		keys, len(keys), avitoItemID)
	if err != nil {
		return fmt.Errorf("failed to update image keys for listing %s: %w", avitoItemID, err)
	}
	return nil
}
