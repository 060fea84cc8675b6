package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/avito"
	"github.com/ternarybob/colligo/internal/services/proxy"
)

const (
	defaultIdleDelay         = 5 * time.Second
	defaultErrorDelay        = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultBufferSize        = 5

	// Detached-context budget for returning a task after cancellation.
	requeueGrace = 5 * time.Second

	// A recovery can hand the router a new recoverable state; the hop
	// bound keeps a page that oscillates between them from spinning.
	maxRouteHops = 4
)

const (
	removedReason       = "Объявление снято с публикации"
	usedConditionReason = `Найдено состояние "б/у" в характеристиках`
)

// pageSession is the slice of a live browser session the worker drives.
// *Session satisfies it; tests substitute scripted fakes.
type pageSession interface {
	interfaces.Page
	Proxy() *models.Proxy
	Close() error
}

// Worker claims catalog and object tasks and drives one proxied browser
// session through them. One goroutine per worker; the worker owns at
// most one session and one proxy lease at a time, both lazily acquired
// on the first claim.
type Worker struct {
	id        string
	storage   interfaces.StorageManager
	proxies   *proxy.Service
	detector  interfaces.Detector
	solver    interfaces.CaptchaSolver
	captcha   *avito.CaptchaFlow
	cards     interfaces.CardParser
	collector interfaces.ImageCollector
	logger    arbor.ILogger

	engineOpts avito.EngineOptions
	browserCfg common.BrowserConfig

	idleDelay     time.Duration
	errorDelay    time.Duration
	hbInterval    time.Duration
	bufferSize    int
	maxProcessing int
	reparse       bool
	skipObjects   bool

	spawn func(ctx context.Context, p *models.Proxy) (pageSession, error)
	sess  pageSession
}

// NewWorker wires a browser worker. solver and collector may be nil;
// a nil solver bounds every captcha to its retry budget and a nil
// collector skips image collection.
func NewWorker(id string, cfg *common.Config, storage interfaces.StorageManager, proxies *proxy.Service, solver interfaces.CaptchaSolver, collector interfaces.ImageCollector, logger arbor.ILogger) *Worker {
	detector := avito.NewDetector(logger)

	bufferSize := cfg.Catalog.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	maxProcessing := cfg.Object.MaxConcurrent
	if maxProcessing <= 0 {
		maxProcessing = 1
	}

	w := &Worker{
		id:            id,
		storage:       storage,
		proxies:       proxies,
		detector:      detector,
		solver:        solver,
		captcha:       avito.NewCaptchaFlow(detector, solver, logger),
		cards:         avito.NewCardParser(logger, cfg.Object.IncludeHTML),
		collector:     collector,
		logger:        logger,
		engineOpts:    avito.EngineOptionsFromConfig(cfg),
		browserCfg:    cfg.Browser,
		idleDelay:     common.ParseDurationOr(cfg.Workers.IdleDelay, defaultIdleDelay),
		errorDelay:    common.ParseDurationOr(cfg.Workers.ErrorDelay, defaultErrorDelay),
		hbInterval:    common.ParseDurationOr(cfg.Heartbeat.UpdateInterval, defaultHeartbeatInterval),
		bufferSize:    bufferSize,
		maxProcessing: maxProcessing,
		reparse:       cfg.Reparse.Enabled,
		skipObjects:   cfg.Reparse.SkipObjectParsing,
	}
	w.spawn = func(ctx context.Context, p *models.Proxy) (pageSession, error) {
		return NewSession(ctx, &w.browserCfg, p, logger)
	}
	return w
}

// ID returns the worker's stable identity, stamped on every claim.
func (w *Worker) ID() string {
	return w.id
}

// Run claims and processes tasks until ctx is cancelled. Per-task
// failures are absorbed into the error delay; the returned error is
// always the context's.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("worker_id", w.id).Bool("reparse", w.reparse).Msg("Browser worker started")
	defer w.shutdown()

	for {
		claimed, err := w.processNext(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case err != nil:
			w.logger.Error().Err(err).Str("worker_id", w.id).Msg("Worker iteration failed")
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

// shutdown releases whatever the worker still holds. Runs once the run
// loop exits for any reason.
func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), requeueGrace)
	defer cancel()

	w.releaseSession(ctx)
	if _, err := w.proxies.ReleaseByWorker(ctx, w.id); err != nil {
		w.logger.Warn().Err(err).Str("worker_id", w.id).Msg("Releasing worker proxies failed")
	}
	w.logger.Info().Str("worker_id", w.id).Msg("Browser worker stopped")
}

// processNext claims at most one task. Catalog work is preferred while
// the validated buffer runs low, object work once enough articuli are
// banked; re-parse mode claims only object tasks.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	if w.reparse {
		return w.tryObject(ctx)
	}

	buffered, err := w.storage.ObjectTaskStorage().ValidatedBufferCount(ctx)
	if err != nil {
		return false, fmt.Errorf("reading validated buffer: %w", err)
	}
	if buffered < w.bufferSize {
		if claimed, err := w.tryCatalog(ctx); claimed || err != nil {
			return claimed, err
		}
		return w.tryObject(ctx)
	}
	if claimed, err := w.tryObject(ctx); claimed || err != nil {
		return claimed, err
	}
	return w.tryCatalog(ctx)
}

func (w *Worker) tryCatalog(ctx context.Context) (bool, error) {
	task, err := w.storage.CatalogTaskStorage().Acquire(ctx, w.id)
	if err != nil {
		return false, fmt.Errorf("claiming catalog task: %w", err)
	}
	if task == nil {
		return false, nil
	}
	return true, w.processCatalog(ctx, task)
}

func (w *Worker) tryObject(ctx context.Context) (bool, error) {
	if w.skipObjects {
		return false, nil
	}
	task, err := w.storage.ObjectTaskStorage().Acquire(ctx, w.id, w.maxProcessing)
	if err != nil {
		return false, fmt.Errorf("claiming object task: %w", err)
	}
	if task == nil {
		return false, nil
	}
	return true, w.processObject(ctx, task)
}

// processCatalog runs one catalog parse: the engine drives pagination
// in a goroutine while this side provides pages, then the terminal
// status decides the task's fate. An unfinished task is returned to the
// queue on the way out, cancellation and panics included.
func (w *Worker) processCatalog(ctx context.Context, task *models.CatalogTask) error {
	w.logger.Info().
		Str("worker_id", w.id).
		Str("articulum", task.Articulum).
		Int64("task_id", task.ID).
		Int("start_page", task.CheckpointPage).
		Msg("Catalog task acquired")

	done := false
	defer func() {
		if !done {
			w.requeueCatalog(task.ID)
		}
	}()

	stopHeartbeat := startHeartbeat(ctx, w.hbInterval, w.logger, func(beatCtx context.Context) error {
		return w.storage.CatalogTaskStorage().UpdateHeartbeat(beatCtx, task.ID)
	})
	defer stopHeartbeat()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	engine := avito.NewEngine(w.detector, w.solver, w.logger, w.engineOpts)
	conv := interfaces.NewPageConversation()

	type engineReturn struct {
		result *models.CatalogParseResult
		err    error
	}
	resCh := make(chan engineReturn, 1)
	go func() {
		// A panicking engine still reports an exit: conv.End runs while
		// the engine frame unwinds, so providePages drains normally.
		defer func() {
			if r := recover(); r != nil {
				resCh <- engineReturn{err: fmt.Errorf("catalog engine panicked: %v", r)}
			}
		}()
		result, err := engine.Run(runCtx, conv, task.Articulum, task.CheckpointPage)
		resCh <- engineReturn{result: result, err: err}
	}()

	if err := w.providePages(runCtx, conv, task); err != nil {
		cancelRun()
		<-resCh
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("providing pages: %w", err)
	}

	ret := <-resCh
	if ret.err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.handlePageError(ctx, ret.err)
		return fmt.Errorf("catalog run for %s: %w", task.Articulum, ret.err)
	}

	return w.settleCatalog(ctx, task, ret.result, &done)
}

// providePages is the background side of the page conversation: persist
// the checkpoint carried on each request, rotate the proxy when the
// request status demands it, supply exactly one page per request.
func (w *Worker) providePages(ctx context.Context, conv *interfaces.PageConversation, task *models.CatalogTask) error {
	for {
		req, ok, err := conv.NextRequest(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := w.storage.CatalogTaskStorage().UpdateCheckpoint(ctx, task.ID, req.NextStartPage); err != nil {
			return fmt.Errorf("persisting checkpoint: %w", err)
		}

		if req.Status.NeedsProxyRotation() {
			if err := w.rotateSession(ctx, blockReason(req.Status)); err != nil {
				return fmt.Errorf("rotating session: %w", err)
			}
		}

		sess, err := w.ensureSession(ctx)
		if err != nil {
			return err
		}
		if err := conv.Supply(ctx, sess); err != nil {
			return err
		}
	}
}

// settleCatalog applies the completion policy for the engine's terminal
// status.
func (w *Worker) settleCatalog(ctx context.Context, task *models.CatalogTask, result *models.CatalogParseResult, done *bool) error {
	switch result.Status {
	case models.ParseStatusSuccess, models.ParseStatusEmpty:
		if len(result.Listings) > 0 && w.collector != nil {
			w.collector.Collect(ctx, result.Listings)
		}
		inserted, err := w.storage.CatalogTaskStorage().CompleteWithListings(ctx, task, result.Listings)
		// Even on error: the heartbeat checker rescues a completion
		// that went half-way, a requeue here could double-insert.
		*done = true
		if err != nil {
			return fmt.Errorf("completing catalog task: %w", err)
		}
		w.recordSuccess(ctx)
		w.logger.Info().
			Str("articulum", task.Articulum).
			Str("status", string(result.Status)).
			Int("pages", result.PagesParsed).
			Int("listings", inserted).
			Msg("Catalog task completed")

	case models.ParseStatusProxyBlocked, models.ParseStatusProxyAuthRequired:
		w.checkpoint(ctx, task.ID, result.NextStartPage)
		w.blockSessionProxy(ctx, blockReason(result.Status))
		w.closeSession()
		w.logger.Warn().
			Str("articulum", task.Articulum).
			Str("status", string(result.Status)).
			Msg("Rotation budget exhausted, catalog task requeued")

	case models.ParseStatusCaptchaUnsolved:
		w.checkpoint(ctx, task.ID, result.NextStartPage)
		w.releaseSession(ctx)
		w.logger.Warn().
			Str("articulum", task.Articulum).
			Msg("Challenge unsolved, catalog task requeued")

	case models.ParseStatusNotDetected:
		if err := w.storage.CatalogTaskStorage().Fail(ctx, task.ID, "page state not detected"); err != nil {
			return fmt.Errorf("failing catalog task: %w", err)
		}
		*done = true
		w.logger.Warn().
			Str("articulum", task.Articulum).
			Msg("Catalog task failed on undetected page state")

	default:
		w.logger.Warn().
			Str("articulum", task.Articulum).
			Str("status", string(result.Status)).
			Msg("Unexpected parse status, catalog task requeued")
	}
	return nil
}

// processObject runs one detail parse. The first task of an articulum
// moves it to OBJECT_PARSING before any page work; losing that race to
// another worker is benign.
func (w *Worker) processObject(ctx context.Context, task *models.ObjectTask) error {
	w.logger.Info().
		Str("worker_id", w.id).
		Str("articulum", task.Articulum).
		Str("item_id", task.AvitoItemID).
		Int64("task_id", task.ID).
		Msg("Object task acquired")

	done := false
	defer func() {
		if !done {
			w.requeueObject(task.ID)
		}
	}()

	stopHeartbeat := startHeartbeat(ctx, w.hbInterval, w.logger, func(beatCtx context.Context) error {
		return w.storage.ObjectTaskStorage().UpdateHeartbeat(beatCtx, task.ID)
	})
	defer stopHeartbeat()

	if !w.reparse {
		moved, err := w.storage.ArticulumStorage().ToObjectParsing(ctx, task.ArticulumID)
		if err != nil {
			w.logger.Warn().Err(err).Int64("articulum_id", task.ArticulumID).Msg("Object-parsing transition failed")
		} else if moved {
			w.logger.Debug().Int64("articulum_id", task.ArticulumID).Str("articulum", task.Articulum).Msg("Articulum moved to object parsing")
		}
	}

	sess, err := w.ensureSession(ctx)
	if err != nil {
		return err
	}

	if err := sess.Navigate(ctx, avito.BuildItemURL(task.AvitoItemID)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.handlePageError(ctx, err)
		return fmt.Errorf("navigating to item %s: %w", task.AvitoItemID, err)
	}

	state, err := w.detector.Detect(ctx, sess)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.handlePageError(ctx, err)
		return fmt.Errorf("detecting item page: %w", err)
	}

	return w.routeObjectState(ctx, sess, task, state, &done)
}

// routeObjectState dispatches on the detected page state. Recovery
// branches re-detect and loop with the fresher state.
func (w *Worker) routeObjectState(ctx context.Context, sess pageSession, task *models.ObjectTask, state models.PageState, done *bool) error {
	for hops := 0; hops < maxRouteHops; hops++ {
		switch {
		case state == models.PageStateServerError:
			next, err := avito.RetryServerError(ctx, sess, w.detector, w.logger, w.engineOpts.ServerErrorRetries, w.engineOpts.ServerErrorDelay)
			if err != nil {
				return err
			}
			if next == models.PageStateServerError {
				w.releaseSession(ctx)
				w.logger.Warn().
					Str("item_id", task.AvitoItemID).
					Msg("Persistent server error, object task requeued with a fresh identity")
				return nil
			}
			state = next

		case state.IsCaptchaLike():
			next, cleared, err := w.captcha.Resolve(ctx, sess, state)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Warn().Err(err).Str("item_id", task.AvitoItemID).Msg("Challenge resolution error, object task requeued")
				w.releaseSession(ctx)
				return nil
			}
			if !cleared {
				w.releaseSession(ctx)
				w.logger.Warn().Str("item_id", task.AvitoItemID).Msg("Challenge unsolved, object task requeued")
				return nil
			}
			state = next

		case state == models.PageStateProxyBlocked || state == models.PageStateProxyAuth:
			w.blockSessionProxy(ctx, blockReasonForState(state))
			w.closeSession()
			w.logger.Warn().
				Str("item_id", task.AvitoItemID).
				Str("state", string(state)).
				Msg("Proxy burned on object task, requeued")
			return nil

		case state == models.PageStateRemoved:
			if err := w.storage.ObjectTaskStorage().Invalidate(ctx, task.ID, removedReason); err != nil {
				return fmt.Errorf("invalidating object task: %w", err)
			}
			*done = true
			w.logger.Info().Str("item_id", task.AvitoItemID).Msg("Listing removed from publication, task invalidated")
			return nil

		case state == models.PageStateCard:
			return w.finishCard(ctx, sess, task, done)

		default:
			if err := w.storage.ObjectTaskStorage().Fail(ctx, task.ID, fmt.Sprintf("unexpected page state %q on item page", state)); err != nil {
				return fmt.Errorf("failing object task: %w", err)
			}
			*done = true
			w.logger.Warn().
				Str("item_id", task.AvitoItemID).
				Str("state", string(state)).
				Msg("Object task failed on unexpected page state")
			return nil
		}
	}

	if err := w.storage.ObjectTaskStorage().Fail(ctx, task.ID, "page state kept oscillating between recoveries"); err != nil {
		return fmt.Errorf("failing object task: %w", err)
	}
	*done = true
	w.logger.Warn().Str("item_id", task.AvitoItemID).Msg("Object task failed after oscillating recoveries")
	return nil
}

// finishCard parses the card and lands the terminal decision: invalid
// for used condition, completed with a persisted record otherwise.
func (w *Worker) finishCard(ctx context.Context, sess pageSession, task *models.ObjectTask, done *bool) error {
	card, err := w.cards.Parse(ctx, sess, task.AvitoItemID)
	if err != nil {
		if errors.Is(err, avito.ErrNotCard) {
			if failErr := w.storage.ObjectTaskStorage().Fail(ctx, task.ID, err.Error()); failErr != nil {
				return fmt.Errorf("failing object task: %w", failErr)
			}
			*done = true
			w.logger.Warn().Str("item_id", task.AvitoItemID).Msg("Card markers missing, object task failed")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.handlePageError(ctx, err)
		return fmt.Errorf("parsing card %s: %w", task.AvitoItemID, err)
	}

	if card.IsUsedCondition() {
		if err := w.storage.ObjectTaskStorage().Invalidate(ctx, task.ID, usedConditionReason); err != nil {
			return fmt.Errorf("invalidating object task: %w", err)
		}
		*done = true
		w.logger.Info().Str("item_id", task.AvitoItemID).Msg("Used condition found, object task invalidated")
		return nil
	}

	if _, err := w.storage.ObjectDataStorage().Save(ctx, task.ArticulumID, card); err != nil {
		return fmt.Errorf("saving object data: %w", err)
	}
	if err := w.storage.ObjectTaskStorage().Complete(ctx, task.ID); err != nil {
		return fmt.Errorf("completing object task: %w", err)
	}
	*done = true
	w.recordSuccess(ctx)
	w.logger.Info().
		Str("item_id", task.AvitoItemID).
		Str("title", card.Title).
		Msg("Object task completed")
	return nil
}

// handlePageError applies the network-error policy: permanent proxy
// faults block the proxy, transient ones count against its error
// budget, anything else releases it. The session is torn down either
// way; the task itself rides the caller's requeue path.
func (w *Worker) handlePageError(ctx context.Context, err error) {
	switch {
	case IsPermanentProxyError(err):
		w.logger.Warn().Str("error", ErrorDescription(err)).Msg("Permanent proxy error")
		w.blockSessionProxy(ctx, ErrorDescription(err))
		w.closeSession()
	case IsTransientNetworkError(err):
		w.logger.Warn().Str("error", ErrorDescription(err)).Msg("Transient network error")
		if w.sess != nil {
			blocked, recErr := w.proxies.RecordError(ctx, w.sess.Proxy(), ErrorDescription(err))
			if recErr != nil {
				w.logger.Warn().Err(recErr).Msg("Recording proxy error failed")
			} else if blocked {
				w.logger.Warn().Str("proxy", w.sess.Proxy().Addr()).Msg("Proxy blocked after repeated errors")
			}
		}
		w.closeSession()
	default:
		w.logger.Error().Err(err).Msg("Unclassified page error")
		w.releaseSession(ctx)
	}
}

// ensureSession returns the live session, launching one on a freshly
// leased proxy when the worker holds none.
func (w *Worker) ensureSession(ctx context.Context) (pageSession, error) {
	if w.sess != nil {
		return w.sess, nil
	}
	sess, err := w.launchSession(ctx)
	if err != nil {
		return nil, err
	}
	w.sess = sess
	return sess, nil
}

func (w *Worker) launchSession(ctx context.Context) (pageSession, error) {
	leased, err := w.proxies.AcquireWithWait(ctx, w.id)
	if err != nil {
		return nil, err
	}
	sess, err := w.spawn(ctx, leased)
	if err != nil {
		if relErr := w.proxies.Release(ctx, leased); relErr != nil {
			w.logger.Warn().Err(relErr).Msg("Releasing proxy after failed launch")
		}
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	w.logger.Info().Str("worker_id", w.id).Str("proxy", leased.Addr()).Msg("Browser session ready")
	return sess, nil
}

// rotateSession burns the current proxy and swaps in a fresh identity.
// The new browser launches before the old one closes so a launch
// failure still leaves the worker holding a session it can tear down.
func (w *Worker) rotateSession(ctx context.Context, reason string) error {
	old := w.sess
	if old != nil {
		if err := w.proxies.Block(ctx, old.Proxy(), reason); err != nil {
			w.logger.Warn().Err(err).Msg("Blocking proxy failed")
		}
	}

	fresh, err := w.launchSession(ctx)
	if err != nil {
		return err
	}
	w.sess = fresh

	if old != nil {
		if err := old.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Browser close failed")
		}
	}
	return nil
}

func (w *Worker) closeSession() {
	if w.sess == nil {
		return
	}
	if err := w.sess.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("Browser close failed")
	}
	w.sess = nil
}

// releaseSession returns the proxy to the pool unblocked and tears the
// browser down.
func (w *Worker) releaseSession(ctx context.Context) {
	if w.sess == nil {
		return
	}
	if err := w.proxies.Release(ctx, w.sess.Proxy()); err != nil {
		w.logger.Warn().Err(err).Msg("Releasing proxy failed")
	}
	w.closeSession()
}

func (w *Worker) blockSessionProxy(ctx context.Context, reason string) {
	if w.sess == nil {
		return
	}
	if err := w.proxies.Block(ctx, w.sess.Proxy(), reason); err != nil {
		w.logger.Warn().Err(err).Msg("Blocking proxy failed")
	}
}

func (w *Worker) recordSuccess(ctx context.Context) {
	if w.sess == nil {
		return
	}
	if err := w.proxies.RecordSuccess(ctx, w.sess.Proxy()); err != nil {
		w.logger.Warn().Err(err).Msg("Resetting proxy error counter failed")
	}
}

func (w *Worker) checkpoint(ctx context.Context, taskID int64, page int) {
	if err := w.storage.CatalogTaskStorage().UpdateCheckpoint(ctx, taskID, page); err != nil {
		w.logger.Warn().Err(err).Int64("task_id", taskID).Msg("Persisting checkpoint failed")
	}
}

// requeueCatalog returns an unfinished task on a detached context so
// cancellation cannot strand it in processing.
func (w *Worker) requeueCatalog(taskID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueGrace)
	defer cancel()
	if err := w.storage.CatalogTaskStorage().ReturnToQueue(ctx, taskID); err != nil {
		w.logger.Error().Err(err).Int64("task_id", taskID).Msg("Returning catalog task to queue failed")
	}
}

func (w *Worker) requeueObject(taskID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueGrace)
	defer cancel()
	if err := w.storage.ObjectTaskStorage().ReturnToQueue(ctx, taskID); err != nil {
		w.logger.Error().Err(err).Int64("task_id", taskID).Msg("Returning object task to queue failed")
	}
}

// blockReason maps a rotation-demanding parse status to the reason
// recorded on the blocked proxy.
func blockReason(status models.ParseStatus) string {
	if status == models.ParseStatusProxyAuthRequired {
		return "proxy authentication rejected"
	}
	return "blocked by marketplace"
}

func blockReasonForState(state models.PageState) string {
	if state == models.PageStateProxyAuth {
		return "proxy authentication rejected"
	}
	return "blocked by marketplace"
}
