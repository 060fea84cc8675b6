package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Page is a live browser page handle. Implementations wrap one tab of a
// proxied browser session; all actions run against that tab.
type Page interface {
	// Navigate drives the tab to url and waits for the document.
	Navigate(ctx context.Context, url string) error

	// Reload re-requests the current document.
	Reload(ctx context.Context) error

	// HTML returns the current outer HTML of the document.
	HTML(ctx context.Context) (string, error)

	// Click dispatches a click on the first node matching selector.
	Click(ctx context.Context, selector string) error

	// Location returns the tab's current URL.
	Location(ctx context.Context) (string, error)

	// StatusCode returns the HTTP status of the last main-document
	// response, or zero when none was observed.
	StatusCode() int
}

// Detector classifies a navigated page into one of the fixed page
// states, combining content markers with the last main-document HTTP
// status. Server errors surface as their own state so the runtime can
// apply the retry-with-new-identity policy.
type Detector interface {
	Detect(ctx context.Context, page Page) (models.PageState, error)
}

// CatalogEngine drives one catalog parse run: pagination, extraction,
// and the page conversation. It receives its pages exclusively through
// conv and reports its verdict in the returned result. The engine never
// touches proxies or task state.
type CatalogEngine interface {
	Run(ctx context.Context, conv *PageConversation, articulum string, startPage int) (*models.CatalogParseResult, error)
}

// CardParser extracts a structured card from a detail page that the
// detector already classified as a card.
type CardParser interface {
	Parse(ctx context.Context, page Page, itemID string) (*models.Card, error)
}

// CaptchaSolver attempts one resolution of a challenge page. A nil or
// unconfigured solver makes every attempt fail, which bounds the
// captcha flow to its retry budget.
type CaptchaSolver interface {
	Solve(ctx context.Context, page Page) (bool, error)
}

// PageConversation is the rendezvous between a catalog engine and the
// page provider that owns the browser and proxy. The engine requests a
// page and suspends; the provider persists the checkpoint, rotates the
// proxy when the request status demands it, and supplies exactly one
// page per request. Both sides unblock on context cancellation.
type PageConversation struct {
	requests chan models.PageRequest
	supplies chan Page
}

// NewPageConversation creates an unbuffered conversation. Unbuffered
// channels keep the two sides in lockstep: one outstanding request,
// one supplied page.
func NewPageConversation() *PageConversation {
	return &PageConversation{
		requests: make(chan models.PageRequest),
		supplies: make(chan Page),
	}
}

// RequestPage sends a request and blocks until the provider supplies a
// page or ctx is cancelled. Engine side.
func (c *PageConversation) RequestPage(ctx context.Context, req models.PageRequest) (Page, error) {
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case page := <-c.supplies:
		return page, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// End closes the request channel, signalling the provider that the run
// is over. Engine side; call exactly once, after the last request.
func (c *PageConversation) End() {
	close(c.requests)
}

// NextRequest blocks until the engine requests a page. The second
// return is false when the engine ended the conversation. Provider side.
func (c *PageConversation) NextRequest(ctx context.Context) (models.PageRequest, bool, error) {
	select {
	case req, ok := <-c.requests:
		return req, ok, nil
	case <-ctx.Done():
		return models.PageRequest{}, false, ctx.Err()
	}
}

// Supply hands a page to the waiting engine. Provider side.
func (c *PageConversation) Supply(ctx context.Context, page Page) error {
	select {
	case c.supplies <- page:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
