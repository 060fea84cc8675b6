package avito

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	defaultCaptchaAttempts = 3
	defaultContinueWait    = 3 * time.Second
	defaultRateLimitWait   = 5 * time.Second
	defaultCaptchaWait     = 3 * time.Second
)

// CaptchaFlow is the bounded challenge-resolution loop shared by the
// catalog and object paths. Each attempt pokes the page according to
// its state, waits, and re-classifies; the flow gives up after a fixed
// number of attempts so a stubborn challenge never stalls a worker.
type CaptchaFlow struct {
	detector interfaces.Detector
	solver   interfaces.CaptchaSolver
	logger   arbor.ILogger

	attempts      int
	continueWait  time.Duration
	rateLimitWait time.Duration
	captchaWait   time.Duration
}

func NewCaptchaFlow(detector interfaces.Detector, solver interfaces.CaptchaSolver, logger arbor.ILogger) *CaptchaFlow {
	return &CaptchaFlow{
		detector:      detector,
		solver:        solver,
		logger:        logger,
		attempts:      defaultCaptchaAttempts,
		continueWait:  defaultContinueWait,
		rateLimitWait: defaultRateLimitWait,
		captchaWait:   defaultCaptchaWait,
	}
}

// Resolve attempts to clear a challenge state. It returns the page's
// final state and whether the challenge was cleared. The caller
// re-routes on the returned state when cleared is true; state keeps
// the last challenge classification otherwise.
func (f *CaptchaFlow) Resolve(ctx context.Context, page interfaces.Page, state models.PageState) (models.PageState, bool, error) {
	for attempt := 1; attempt <= f.attempts; attempt++ {
		f.logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", f.attempts).
			Str("state", string(state)).
			Msg("Resolving challenge page")

		if err := f.resolveOnce(ctx, page, state); err != nil {
			return state, false, err
		}

		next, err := f.detector.Detect(ctx, page)
		if err != nil {
			return state, false, err
		}
		if !next.IsCaptchaLike() {
			f.logger.Info().
				Str("state", string(next)).
				Int("attempts_used", attempt).
				Msg("Challenge cleared")
			return next, true, nil
		}
		state = next
	}

	f.logger.Warn().
		Str("state", string(state)).
		Int("attempts", f.attempts).
		Msg("Challenge not cleared")
	return state, false, nil
}

func (f *CaptchaFlow) resolveOnce(ctx context.Context, page interfaces.Page, state models.PageState) error {
	switch state {
	case models.PageStateContinueRequired:
		if err := page.Click(ctx, ContinueButtonSelector); err != nil {
			f.logger.Debug().Err(err).Msg("Continue button click failed")
		}
		return sleepCtx(ctx, f.continueWait)

	case models.PageStateRateLimited:
		if err := sleepCtx(ctx, f.rateLimitWait); err != nil {
			return err
		}
		return page.Reload(ctx)

	default:
		if f.solver != nil {
			solved, err := f.solver.Solve(ctx, page)
			if err != nil {
				f.logger.Warn().Err(err).Msg("Captcha solver failed")
			}
			if solved {
				return nil
			}
		}
		// No solver, or it gave up: wait and let the re-detect decide.
		return sleepCtx(ctx, f.captchaWait)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
