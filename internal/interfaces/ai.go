package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// AIValidator judges whether listings plausibly offer the given
// articulum. Implementations wrap one model provider; a transport-level
// failure (network, auth, quota exhaustion, malformed response) is
// reported with an error that llm.IsProviderError recognizes, so the
// validation worker can apply its outage policy instead of rejecting
// listings.
type AIValidator interface {
	// Validate returns a verdict covering the batch. A listing missing
	// from the verdict's PassedIDs counts as rejected.
	Validate(ctx context.Context, articulum string, listings []models.AIListing, useImages bool) (*models.AIVerdict, error)

	// Name identifies the provider for logging.
	Name() string
}
