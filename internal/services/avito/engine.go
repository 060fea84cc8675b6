package avito

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	defaultMaxPages           = 10
	defaultMaxPageAttempts    = 3
	defaultServerErrorRetries = 3
	defaultServerErrorDelay   = 4 * time.Second
	defaultPageDelay          = 2 * time.Second
)

// EngineOptions bound one catalog run: how deep to paginate, how many
// replacement pages to ask for, and how patiently to retry gateway
// errors in place.
type EngineOptions struct {
	MaxPages           int
	MaxPageAttempts    int
	ServerErrorRetries int
	ServerErrorDelay   time.Duration
	PageDelay          time.Duration
}

// EngineOptionsFromConfig maps the catalog, object and browser config
// sections onto engine options.
func EngineOptionsFromConfig(cfg *common.Config) EngineOptions {
	return EngineOptions{
		MaxPages:           cfg.Catalog.MaxPages,
		MaxPageAttempts:    cfg.Catalog.MaxPageAttempts,
		ServerErrorRetries: cfg.Object.ServerErrorRetries,
		ServerErrorDelay:   common.ParseDurationOr(cfg.Object.ServerErrorDelay, defaultServerErrorDelay),
		PageDelay:          common.ParseDurationOr(cfg.Browser.PageDelay, defaultPageDelay),
	}
}

// Engine walks a search's catalog pages through a page conversation,
// extracting listings until pagination is exhausted or a terminal
// condition ends the run. It holds no proxy or task state; burned
// proxies are reported to the provider through page requests and
// terminal verdicts through the returned result.
type Engine struct {
	detector interfaces.Detector
	captcha  *CaptchaFlow
	logger   arbor.ILogger
	opts     EngineOptions
}

func NewEngine(detector interfaces.Detector, solver interfaces.CaptchaSolver, logger arbor.ILogger, opts EngineOptions) *Engine {
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.MaxPageAttempts <= 0 {
		opts.MaxPageAttempts = defaultMaxPageAttempts
	}
	if opts.ServerErrorRetries <= 0 {
		opts.ServerErrorRetries = defaultServerErrorRetries
	}
	if opts.ServerErrorDelay <= 0 {
		opts.ServerErrorDelay = defaultServerErrorDelay
	}
	if opts.PageDelay <= 0 {
		opts.PageDelay = defaultPageDelay
	}
	return &Engine{
		detector: detector,
		captcha:  NewCaptchaFlow(detector, solver, logger),
		logger:   logger,
		opts:     opts,
	}
}

var _ interfaces.CatalogEngine = (*Engine)(nil)

// Run parses the catalog for one articulum starting at startPage. The
// initial page request carries no status; subsequent requests are made
// only when the current proxy is burned, so every request after the
// first is a rotation ask. Terminal verdicts travel on the result, not
// on a request.
func (e *Engine) Run(ctx context.Context, conv *interfaces.PageConversation, articulum string, startPage int) (*models.CatalogParseResult, error) {
	defer conv.End()

	if startPage < 1 {
		startPage = 1
	}

	page, err := conv.RequestPage(ctx, models.PageRequest{NextStartPage: startPage})
	if err != nil {
		return nil, err
	}

	var (
		collected   []models.CatalogListing
		pagesParsed int
		attempt     int
	)
	current := startPage

	report := func(status models.ParseStatus) *models.CatalogParseResult {
		unique, removed := DeduplicateListings(collected)
		if removed > 0 {
			e.logger.Debug().
				Str("articulum", articulum).
				Int("removed", removed).
				Msg("Duplicate promoted listings dropped")
		}
		return &models.CatalogParseResult{
			Status:        status,
			Listings:      unique,
			PagesParsed:   pagesParsed,
			NextStartPage: current,
		}
	}

	for {
		if err := page.Navigate(ctx, CatalogPageURL(articulum, current)); err != nil {
			return nil, err
		}

		state, err := e.detector.Detect(ctx, page)
		if err != nil {
			return nil, err
		}

		if state == models.PageStateServerError {
			state, err = RetryServerError(ctx, page, e.detector, e.logger, e.opts.ServerErrorRetries, e.opts.ServerErrorDelay)
			if err != nil {
				return nil, err
			}
		}

		if state.IsCaptchaLike() {
			var cleared bool
			state, cleared, err = e.captcha.Resolve(ctx, page, state)
			if err != nil {
				return nil, err
			}
			if !cleared {
				return report(models.ParseStatusCaptchaUnsolved), nil
			}
		}

		switch state {
		case models.PageStateCatalog:
			// Fall through to extraction.

		case models.PageStateProxyBlocked, models.PageStateProxyAuth:
			status := models.ParseStatusProxyBlocked
			if state == models.PageStateProxyAuth {
				status = models.ParseStatusProxyAuthRequired
			}
			attempt++
			if attempt >= e.opts.MaxPageAttempts {
				e.logger.Warn().
					Str("articulum", articulum).
					Str("status", string(status)).
					Int("attempts", attempt).
					Msg("Page attempt budget exhausted")
				return report(status), nil
			}
			e.logger.Warn().
				Str("articulum", articulum).
				Str("status", string(status)).
				Int("attempt", attempt).
				Msg("Proxy burned, requesting replacement page")
			page, err = conv.RequestPage(ctx, models.PageRequest{
				Attempt:       attempt,
				Status:        status,
				NextStartPage: current,
			})
			if err != nil {
				return nil, err
			}
			continue

		default:
			// A card, profile, removed notice or unclassifiable document
			// at a catalog URL means the search cannot be parsed.
			e.logger.Warn().
				Str("articulum", articulum).
				Str("state", string(state)).
				Int("page", current).
				Msg("Unexpected page state on catalog URL")
			return report(models.ParseStatusNotDetected), nil
		}

		html, err := page.HTML(ctx)
		if err != nil {
			return nil, err
		}
		listings, err := ParseCatalogListings(html)
		if err != nil {
			return nil, err
		}
		pagesParsed++

		if len(listings) == 0 {
			// An empty search on the first page, or pagination exhausted.
			if len(collected) == 0 {
				e.logger.Info().
					Str("articulum", articulum).
					Msg("Search returned no listings")
				return report(models.ParseStatusEmpty), nil
			}
			break
		}

		collected = append(collected, listings...)
		e.logger.Info().
			Str("articulum", articulum).
			Int("page", current).
			Int("listings", len(listings)).
			Int("total", len(collected)).
			Msg("Catalog page parsed")

		if pagesParsed >= e.opts.MaxPages {
			break
		}
		current++
		if err := sleepCtx(ctx, e.opts.PageDelay); err != nil {
			return nil, err
		}
	}

	return report(models.ParseStatusSuccess), nil
}

// RetryServerError reloads in place while the document keeps serving a
// gateway error. It returns the first state that is not a server
// error, or PageStateServerError when the retry budget runs out. The
// object path shares this policy.
func RetryServerError(ctx context.Context, page interfaces.Page, detector interfaces.Detector, logger arbor.ILogger, retries int, delay time.Duration) (models.PageState, error) {
	for i := 1; i <= retries; i++ {
		logger.Warn().
			Int("attempt", i).
			Int("max_attempts", retries).
			Msg("Server error, reloading")
		if err := sleepCtx(ctx, delay); err != nil {
			return models.PageStateServerError, err
		}
		if err := page.Reload(ctx); err != nil {
			return models.PageStateServerError, err
		}
		state, err := detector.Detect(ctx, page)
		if err != nil {
			return models.PageStateServerError, err
		}
		if state != models.PageStateServerError {
			return state, nil
		}
	}
	return models.PageStateServerError, nil
}
