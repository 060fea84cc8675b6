package llm

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// acceptValidator passes every listing. Used to exercise the full
// pipeline without AI spend, and as a fallback that degrades validation
// to the mechanical stages instead of stalling the articulum.
type acceptValidator struct {
	logger arbor.ILogger
}

func (v *acceptValidator) Name() string {
	return ProviderAccept
}

func (v *acceptValidator) Validate(ctx context.Context, articulum string, listings []models.AIListing, useImages bool) (*models.AIVerdict, error) {
	passed := make([]string, 0, len(listings))
	for _, l := range listings {
		passed = append(passed, l.AvitoItemID)
	}

	v.logger.Debug().
		Str("articulum", articulum).
		Int("passed", len(passed)).
		Msg("Accept validator passed all listings")

	return &models.AIVerdict{PassedIDs: passed, Rejected: []models.AIRejection{}}, nil
}
