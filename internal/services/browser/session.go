package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultNavTimeout      = 60 * time.Second
	defaultTeardownTimeout = 10 * time.Second
	opTimeout              = 15 * time.Second
	clickTimeout           = 5 * time.Second
	navSettleDelay         = 500 * time.Millisecond
)

// stealthScript hides the obvious automation traits before any page
// script runs. Injected on every new document.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['ru-RU', 'ru']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
window.chrome = window.chrome || {runtime: {}};
`

// Session is one proxied Chrome instance with a single driven tab.
// It implements interfaces.Page. The CDP event handlers answer proxy
// 407 challenges with the leased proxy's credentials and record the
// HTTP status of each main-document response for the detector.
type Session struct {
	proxy  *models.Proxy
	logger arbor.ILogger

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	navTimeout      time.Duration
	teardownTimeout time.Duration

	mu           sync.Mutex
	lastStatus   int
	awaitingDoc  bool
	authAnswered map[fetch.RequestID]bool
}

var _ interfaces.Page = (*Session)(nil)

// NewSession launches a Chrome instance routed through proxy and
// verifies it responds before returning. A nil proxy gives a direct
// connection, used only by the loader commands.
func NewSession(ctx context.Context, cfg *common.BrowserConfig, proxy *models.Proxy, logger arbor.ILogger) (*Session, error) {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "ru-RU"),
		chromedp.UserAgent(userAgent),
	)
	if proxy != nil {
		allocatorOpts = append(allocatorOpts, chromedp.ProxyServer(proxy.ServerURL()))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	s := &Session{
		proxy:           proxy,
		logger:          logger,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocCancel:     allocatorCancel,
		navTimeout:      common.ParseDurationOr(cfg.NavTimeout, defaultNavTimeout),
		teardownTimeout: common.ParseDurationOr(cfg.TeardownTimeout, defaultTeardownTimeout),
		authAnswered:    make(map[fetch.RequestID]bool),
	}

	chromedp.ListenTarget(browserCtx, s.handleEvent)

	startup := []chromedp.Action{
		network.Enable(),
		chromedp.ActionFunc(func(actionCtx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(actionCtx)
			return err
		}),
		chromedp.EmulateViewport(1920, 1080),
	}
	if proxy != nil && proxy.HasAuth() {
		// Pauses every request until the handler continues it; the
		// price of intercepting auth challenges.
		startup = append(startup, fetch.Enable().WithHandleAuthRequests(true))
	}
	startup = append(startup, chromedp.Navigate("about:blank"))

	testCtx, testCancel := context.WithTimeout(browserCtx, s.navTimeout)
	defer testCancel()
	defer context.AfterFunc(ctx, testCancel)()

	if err := chromedp.Run(testCtx, startup...); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	return s, nil
}

// Proxy returns the proxy this session is routed through.
func (s *Session) Proxy() *models.Proxy {
	return s.proxy
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.beginDocument()
	if err := s.run(ctx, s.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return sleepCtx(ctx, navSettleDelay)
}

func (s *Session) Reload(ctx context.Context) error {
	s.beginDocument()
	if err := s.run(ctx, s.navTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reloading page: %w", err)
	}
	return sleepCtx(ctx, navSettleDelay)
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, opTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading document html: %w", err)
	}
	return html, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, clickTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	return nil
}

func (s *Session) Location(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, opTimeout, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return location, nil
}

func (s *Session) StatusCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

// Close tears the browser down, bounded by the teardown timeout so a
// wedged Chrome cannot stall a proxy swap or shutdown.
func (s *Session) Close() error {
	done := make(chan error, 1)
	common.SafeGo(s.logger, "browser-teardown", func() {
		err := chromedp.Cancel(s.browserCtx)
		s.allocCancel()
		done <- err
	})

	select {
	case err := <-done:
		return err
	case <-time.After(s.teardownTimeout):
		s.browserCancel()
		s.allocCancel()
		return fmt.Errorf("browser teardown timed out after %s", s.teardownTimeout)
	}
}

// run executes actions on the session tab, bounded by timeout and by
// the caller's context.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// beginDocument arms the status capture for the next main-document
// response and forgets auth challenges answered for the previous one.
func (s *Session) beginDocument() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStatus = 0
	s.awaitingDoc = true
	s.authAnswered = make(map[fetch.RequestID]bool)
}

func (s *Session) handleEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventResponseReceived:
		if ev.Type != network.ResourceTypeDocument {
			return
		}
		s.mu.Lock()
		if s.awaitingDoc {
			s.lastStatus = int(ev.Response.Status)
			s.awaitingDoc = false
		}
		s.mu.Unlock()
	case *fetch.EventAuthRequired:
		go s.answerAuthChallenge(ev)
	case *fetch.EventRequestPaused:
		go s.releasePausedRequest(ev)
	}
}

// answerAuthChallenge supplies the proxy credentials exactly once per
// request. A second challenge for the same request means the upstream
// rejected them; cancelling lets the 407 surface to the detector so the
// runtime can rotate the proxy.
func (s *Session) answerAuthChallenge(ev *fetch.EventAuthRequired) {
	response := fetch.AuthChallengeResponseResponseCancelAuth
	if ev.AuthChallenge != nil && ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy && s.proxy != nil && s.proxy.HasAuth() {
		s.mu.Lock()
		answered := s.authAnswered[ev.RequestID]
		s.authAnswered[ev.RequestID] = true
		s.mu.Unlock()
		if !answered {
			response = fetch.AuthChallengeResponseResponseProvideCredentials
		}
	}

	challenge := &fetch.AuthChallengeResponse{Response: response}
	if response == fetch.AuthChallengeResponseResponseProvideCredentials {
		challenge.Username = s.proxy.Username
		challenge.Password = s.proxy.Password
	}

	if err := fetch.ContinueWithAuth(ev.RequestID, challenge).Do(s.executor()); err != nil {
		s.logger.Debug().Err(err).Msg("Continuing auth challenge failed")
	}
}

func (s *Session) releasePausedRequest(ev *fetch.EventRequestPaused) {
	if err := fetch.ContinueRequest(ev.RequestID).Do(s.executor()); err != nil {
		s.logger.Debug().Err(err).Str("url", ev.Request.URL).Msg("Continuing paused request failed")
	}
}

// executor builds a context the CDP command helpers can run against
// from inside an event callback.
func (s *Session) executor() context.Context {
	return cdp.WithExecutor(s.browserCtx, chromedp.FromContext(s.browserCtx).Target)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
