package validation

import (
	"context"
	"fmt"

	"github.com/ternarybob/colligo/internal/models"
)

// runPipeline applies gate 0 and the three stages in order, writing an
// audit row per listing per stage. Returns nil for both terminal
// outcomes; an error means the articulum is still undecided.
func (w *Worker) runPipeline(ctx context.Context, articulum *models.Articulum) error {
	listings, err := w.storage.ListingStorage().GetByArticulum(ctx, articulum.ID)
	if err != nil {
		return fmt.Errorf("loading listings for %s: %w", articulum.Articulum, err)
	}

	w.logger.Info().
		Str("articulum", articulum.Articulum).
		Int64("articulum_id", articulum.ID).
		Int("listings", len(listings)).
		Msg("Validation started")

	if len(listings) < w.minItems {
		return w.reject(ctx, articulum, "catalog parse", len(listings))
	}

	survivors, err := w.runPriceFilter(ctx, articulum, listings)
	if err != nil {
		return err
	}
	if len(survivors) < w.minItems {
		return w.reject(ctx, articulum, "price filter", len(survivors))
	}

	survivors, err = w.runMechanical(ctx, articulum, survivors)
	if err != nil {
		return err
	}
	if len(survivors) < w.minItems {
		return w.reject(ctx, articulum, "mechanical validation", len(survivors))
	}

	if w.aiEnabled {
		survivors, err = w.runAI(ctx, articulum, survivors)
		if err != nil {
			return err
		}
		if len(survivors) < w.minItems {
			return w.reject(ctx, articulum, "ai validation", len(survivors))
		}
	}

	created, err := w.storage.ArticulumStorage().MarkValidated(ctx, articulum.ID, w.materialize)
	if err != nil {
		return fmt.Errorf("marking %s validated: %w", articulum.Articulum, err)
	}

	w.logger.Info().
		Str("articulum", articulum.Articulum).
		Int("survivors", len(survivors)).
		Int64("object_tasks", created).
		Bool("materialized", w.materialize).
		Msg("Validation passed")
	return nil
}

// reject moves the articulum to REJECTED_BY_MIN_COUNT. A lost state
// race is logged, not retried: whoever won owns the articulum now.
func (w *Worker) reject(ctx context.Context, articulum *models.Articulum, stage string, survivors int) error {
	w.logger.Warn().
		Str("articulum", articulum.Articulum).
		Str("after", stage).
		Int("survivors", survivors).
		Int("min_items", w.minItems).
		Msg("Too few listings survived, rejecting articulum")

	ok, err := w.storage.ArticulumStorage().Reject(ctx, articulum.ID)
	if err != nil {
		return fmt.Errorf("rejecting %s: %w", articulum.Articulum, err)
	}
	if !ok {
		w.logger.Warn().
			Int64("articulum_id", articulum.ID).
			Msg("Reject skipped, articulum no longer VALIDATING")
	}
	return nil
}

// runPriceFilter drops listings priced below the configured floor. A
// listing without a price passes; the marketplace omits prices for
// some listing classes and absence is not evidence of anything.
func (w *Worker) runPriceFilter(ctx context.Context, articulum *models.Articulum, listings []models.CatalogListing) ([]models.CatalogListing, error) {
	results := make([]models.ValidationResult, 0, len(listings))
	survivors := make([]models.CatalogListing, 0, len(listings))

	for _, l := range listings {
		if l.Price != nil && *l.Price < w.minPrice {
			results = append(results, stageRow(articulum.ID, l.AvitoItemID, models.ValidationStagePriceFilter, false,
				fmt.Sprintf("Цена %.0f < min_price %.0f", *l.Price, w.minPrice)))
			continue
		}
		results = append(results, stageRow(articulum.ID, l.AvitoItemID, models.ValidationStagePriceFilter, true, ""))
		survivors = append(survivors, l)
	}

	if err := w.storage.ListingStorage().SaveValidationResults(ctx, results); err != nil {
		return nil, fmt.Errorf("saving price filter results: %w", err)
	}

	w.logger.Info().
		Str("articulum", articulum.Articulum).
		Int("passed", len(survivors)).
		Int("total", len(listings)).
		Msg("Price filter finished")
	return survivors, nil
}

// runMechanical applies the rule checks with price statistics computed
// over this batch's surviving prices.
func (w *Worker) runMechanical(ctx context.Context, articulum *models.Articulum, listings []models.CatalogListing) ([]models.CatalogListing, error) {
	var stats *priceStats
	if w.priceValidation {
		prices := make([]float64, 0, len(listings))
		for _, l := range listings {
			if l.Price != nil {
				prices = append(prices, *l.Price)
			}
		}
		stats = computePriceStats(prices)
	}

	checker := newMechanicalChecker(articulum.Articulum, w.requireArticulum, w.stopwords, w.minSellerReviews, stats)

	results := make([]models.ValidationResult, 0, len(listings))
	survivors := make([]models.CatalogListing, 0, len(listings))
	for i := range listings {
		if reason := checker.check(&listings[i]); reason != "" {
			results = append(results, stageRow(articulum.ID, listings[i].AvitoItemID, models.ValidationStageMechanical, false, reason))
			continue
		}
		results = append(results, stageRow(articulum.ID, listings[i].AvitoItemID, models.ValidationStageMechanical, true, ""))
		survivors = append(survivors, listings[i])
	}

	if err := w.storage.ListingStorage().SaveValidationResults(ctx, results); err != nil {
		return nil, fmt.Errorf("saving mechanical results: %w", err)
	}

	w.logger.Info().
		Str("articulum", articulum.Articulum).
		Int("passed", len(survivors)).
		Int("total", len(listings)).
		Msg("Mechanical validation finished")
	return survivors, nil
}

// runAI submits at most maxAIItems listings to the provider. Listings
// beyond the cap never reach the model and are recorded as passed, so
// every listing still gets one audit row for the stage. A listing the
// verdict does not mention counts as rejected.
func (w *Worker) runAI(ctx context.Context, articulum *models.Articulum, listings []models.CatalogListing) ([]models.CatalogListing, error) {
	batch := listings
	var overflow []models.CatalogListing
	if len(batch) > w.maxAIItems {
		overflow = batch[w.maxAIItems:]
		batch = batch[:w.maxAIItems]
		w.logger.Warn().
			Str("articulum", articulum.Articulum).
			Int("listings", len(listings)).
			Int("cap", w.maxAIItems).
			Msg("AI batch capped, overflow recorded as passed")
	}

	useImages := w.useImages && w.maxAIImages > 0 && w.images != nil && w.images.Enabled()
	verdict, err := w.validator.Validate(ctx, articulum.Articulum, w.buildAIListings(ctx, batch, useImages), useImages)
	if err != nil {
		return nil, fmt.Errorf("ai validation for %s: %w", articulum.Articulum, err)
	}
	w.aiErrors = 0

	passed := make(map[string]bool, len(verdict.PassedIDs))
	for _, id := range verdict.PassedIDs {
		passed[id] = true
	}
	rejected := make(map[string]string, len(verdict.Rejected))
	for _, r := range verdict.Rejected {
		rejected[r.AvitoItemID] = r.Reason
	}

	results := make([]models.ValidationResult, 0, len(listings))
	survivors := make([]models.CatalogListing, 0, len(listings))
	for _, l := range batch {
		if passed[l.AvitoItemID] {
			results = append(results, stageRow(articulum.ID, l.AvitoItemID, models.ValidationStageAI, true, ""))
			survivors = append(survivors, l)
			continue
		}
		reason := rejected[l.AvitoItemID]
		if reason == "" {
			reason = "ИИ не посчитал релевантным"
		}
		results = append(results, stageRow(articulum.ID, l.AvitoItemID, models.ValidationStageAI, false, reason))
	}
	for _, l := range overflow {
		results = append(results, stageRow(articulum.ID, l.AvitoItemID, models.ValidationStageAI, true, ""))
		survivors = append(survivors, l)
	}

	if err := w.storage.ListingStorage().SaveValidationResults(ctx, results); err != nil {
		return nil, fmt.Errorf("saving ai results: %w", err)
	}

	w.logger.Info().
		Str("articulum", articulum.Articulum).
		Str("provider", w.validator.Name()).
		Int("passed", len(survivors)).
		Int("total", len(listings)).
		Bool("images", useImages).
		Msg("AI validation finished")
	return survivors, nil
}

// buildAIListings converts listings to the provider's shape, attaching
// up to maxAIImages stored images each when image validation is on. A
// failed fetch drops that image only.
func (w *Worker) buildAIListings(ctx context.Context, listings []models.CatalogListing, useImages bool) []models.AIListing {
	out := make([]models.AIListing, 0, len(listings))
	for _, l := range listings {
		item := models.AIListing{
			AvitoItemID: l.AvitoItemID,
			Title:       l.Title,
			Price:       l.Price,
			Snippet:     l.SnippetText,
			SellerName:  l.SellerName,
		}
		if useImages {
			keys := l.ImageKeys
			if len(keys) > w.maxAIImages {
				keys = keys[:w.maxAIImages]
			}
			for _, key := range keys {
				data, err := w.images.Fetch(ctx, key)
				if err != nil {
					w.logger.Warn().
						Err(err).
						Str("key", key).
						Str("item_id", l.AvitoItemID).
						Msg("Image fetch for AI validation failed")
					continue
				}
				item.Images = append(item.Images, data)
			}
		}
		out = append(out, item)
	}
	return out
}

func stageRow(articulumID int64, avitoItemID string, stage models.ValidationStage, passed bool, reason string) models.ValidationResult {
	return models.ValidationResult{
		ArticulumID:     articulumID,
		AvitoItemID:     avitoItemID,
		ValidationType:  stage,
		Passed:          passed,
		RejectionReason: reason,
	}
}
