// -----------------------------------------------------------------------
// Validation Worker
// Claims CATALOG_PARSED articuli and runs the three-stage pipeline
// -----------------------------------------------------------------------

package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/llm"
)

// ErrAIShutdown signals that the AI provider failed too many times in a
// row and the worker gave up. The supervisor logs it distinctly before
// restarting the worker.
var ErrAIShutdown = errors.New("ai provider failing, validation worker shutting down")

const (
	defaultIdleDelay   = 10 * time.Second
	defaultErrorDelay  = 5 * time.Second
	defaultMaxAIErrors = 3
	defaultAIListings  = 30

	// Budget for handing a claimed articulum back after the run
	// context is gone.
	rollbackGrace = 5 * time.Second
)

// Worker validates one articulum at a time: price floor, mechanical
// rules, then the AI stage when a provider is configured. Success moves
// the articulum to VALIDATED and materializes object tasks; too few
// survivors at any stage rejects it.
type Worker struct {
	id        string
	storage   interfaces.StorageManager
	validator interfaces.AIValidator
	images    interfaces.ImageStore
	logger    arbor.ILogger

	minPrice         float64
	minItems         int
	minSellerReviews int
	priceValidation  bool
	requireArticulum bool
	stopwords        []string

	aiEnabled    bool
	useImages    bool
	maxAIItems   int
	maxAIImages  int
	maxAIErrors  int
	materialize  bool
	idleDelay    time.Duration
	errorDelay   time.Duration

	aiErrors int // consecutive provider transport failures
}

// NewWorker wires a validation worker. validator may be nil, which
// turns the AI stage off regardless of config; images may be nil or
// disabled, which strips image attachments from AI calls.
func NewWorker(id string, cfg *common.Config, storage interfaces.StorageManager, validator interfaces.AIValidator, images interfaces.ImageStore, logger arbor.ILogger) *Worker {
	minItems := cfg.Validation.MinValidatedItems
	if minItems < 1 {
		minItems = 1
	}
	maxAIItems := cfg.AI.MaxListings
	if maxAIItems <= 0 {
		maxAIItems = defaultAIListings
	}
	maxAIImages := cfg.AI.MaxImagesPerListing
	if maxAIImages < 0 {
		maxAIImages = 0
	}
	maxAIErrors := cfg.AI.MaxErrors
	if maxAIErrors <= 0 {
		maxAIErrors = defaultMaxAIErrors
	}

	return &Worker{
		id:               id,
		storage:          storage,
		validator:        validator,
		images:           images,
		logger:           logger,
		minPrice:         cfg.Validation.MinPrice,
		minItems:         minItems,
		minSellerReviews: cfg.Validation.MinSellerReviews,
		priceValidation:  cfg.Validation.EnablePriceValidation,
		requireArticulum: cfg.Validation.RequireArticulumInText,
		stopwords:        cfg.Validation.Stopwords,
		aiEnabled:        cfg.AI.Enabled && validator != nil,
		useImages:        cfg.AI.UseImages,
		maxAIItems:       maxAIItems,
		maxAIImages:      maxAIImages,
		maxAIErrors:      maxAIErrors,
		materialize:      !cfg.Reparse.SkipObjectParsing,
		idleDelay:        common.ParseDurationOr(cfg.Validation.IdleDelay, defaultIdleDelay),
		errorDelay:       common.ParseDurationOr(cfg.Validation.ErrorDelay, defaultErrorDelay),
	}
}

// ID returns the worker's stable identity.
func (w *Worker) ID() string {
	return w.id
}

// Run claims and validates articuli until ctx is cancelled or the AI
// outage budget is exhausted. Other per-articulum failures are absorbed
// into the error delay. Each Run starts with a fresh outage budget, so
// a supervisor relaunch probes the provider again.
func (w *Worker) Run(ctx context.Context) error {
	w.aiErrors = 0
	w.logger.Info().
		Str("worker_id", w.id).
		Bool("ai", w.aiEnabled).
		Int("min_items", w.minItems).
		Msg("Validation worker started")
	defer w.logger.Info().Str("worker_id", w.id).Msg("Validation worker stopped")

	for {
		claimed, err := w.processNext(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, ErrAIShutdown):
			return err
		case err != nil:
			w.logger.Error().Err(err).Str("worker_id", w.id).Msg("Validation iteration failed")
			if serr := sleepCtx(ctx, w.errorDelay); serr != nil {
				return serr
			}
		case !claimed:
			if serr := sleepCtx(ctx, w.idleDelay); serr != nil {
				return serr
			}
		}
	}
}

func (w *Worker) processNext(ctx context.Context) (bool, error) {
	articulum, err := w.storage.ArticulumStorage().ClaimForValidation(ctx)
	if err != nil {
		return false, fmt.Errorf("claiming articulum: %w", err)
	}
	if articulum == nil {
		return false, nil
	}
	return true, w.validateArticulum(ctx, articulum)
}

// validateArticulum runs the pipeline and, on any failure, hands the
// claim back by rolling VALIDATING -> CATALOG_PARSED. Provider
// transport failures additionally count against the outage budget.
func (w *Worker) validateArticulum(ctx context.Context, articulum *models.Articulum) error {
	err := w.runPipeline(ctx, articulum)
	if err == nil {
		return nil
	}

	w.rollback(articulum)

	if llm.IsProviderError(err) {
		w.aiErrors++
		w.logger.Error().
			Err(err).
			Str("articulum", articulum.Articulum).
			Int("consecutive_errors", w.aiErrors).
			Int("max_errors", w.maxAIErrors).
			Msg("AI provider failed")
		if w.aiErrors >= w.maxAIErrors {
			return fmt.Errorf("%w: %d consecutive provider failures", ErrAIShutdown, w.aiErrors)
		}
	}
	return err
}

// rollback returns a claimed articulum to CATALOG_PARSED. Detached from
// the run context so cancellation still hands the claim back.
func (w *Worker) rollback(articulum *models.Articulum) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackGrace)
	defer cancel()

	ok, err := w.storage.ArticulumStorage().RollbackToCatalogParsed(ctx, articulum.ID)
	switch {
	case err != nil:
		w.logger.Error().
			Err(err).
			Int64("articulum_id", articulum.ID).
			Msg("Returning articulum for revalidation failed")
	case !ok:
		w.logger.Warn().
			Int64("articulum_id", articulum.ID).
			Msg("Rollback skipped, articulum no longer VALIDATING")
	default:
		w.logger.Info().
			Int64("articulum_id", articulum.ID).
			Str("articulum", articulum.Articulum).
			Msg("Articulum returned for revalidation")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
