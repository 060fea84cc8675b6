package postgres

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ObjectDataStorage implements PostgreSQL storage for detail-parse
// history. Every parse appends a row; the latest row per listing is the
// current snapshot and the rest is history for re-parse scheduling.
type ObjectDataStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewObjectDataStorage creates a new object data storage instance
func NewObjectDataStorage(db *PostgresDB, logger arbor.ILogger) interfaces.ObjectDataStorage {
	return &ObjectDataStorage{
		db:     db,
		logger: logger,
	}
}

// Save appends one parsed card. Returns the new row id.
func (s *ObjectDataStorage) Save(ctx context.Context, articulumID int64, card *models.Card) (int64, error) {
	var rawHTML *string
	if card.RawHTML != "" {
		rawHTML = &card.RawHTML
	}

	characteristics := card.Characteristics
	if characteristics == nil {
		characteristics = map[string]string{}
	}

	var id int64
	err := s.db.pool.QueryRow(ctx, `
		INSERT INTO object_data (
			articulum_id, avito_item_id, title, price, seller_name, seller_id,
			seller_rating, published_at, description, location_name,
			location_coords, characteristics, views_total, raw_html
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		articulumID, card.AvitoItemID, card.Title, card.Price, card.SellerName,
		card.SellerID, card.SellerRating, card.PublishedAt, card.Description,
		card.LocationName, card.LocationCoords, characteristics, card.ViewsTotal,
		rawHTML).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save object data for listing %s: %w", card.AvitoItemID, err)
	}

	return id, nil
}
