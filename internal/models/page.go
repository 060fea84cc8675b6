package models

// ParseStatus is the catalog engine's verdict on its current page, sent
// with every page request and carried on the final parse result.
type ParseStatus string

const (
	ParseStatusSuccess           ParseStatus = "SUCCESS"
	ParseStatusEmpty             ParseStatus = "EMPTY"
	ParseStatusProxyBlocked      ParseStatus = "PROXY_BLOCKED"
	ParseStatusProxyAuthRequired ParseStatus = "PROXY_AUTH_REQUIRED"
	ParseStatusCaptchaUnsolved   ParseStatus = "CAPTCHA_UNSOLVED"
	ParseStatusNotDetected       ParseStatus = "NOT_DETECTED"
)

// NeedsProxyRotation reports whether the status means the current proxy
// is burned and the provider must block it before supplying a new page.
func (s ParseStatus) NeedsProxyRotation() bool {
	return s == ParseStatusProxyBlocked || s == ParseStatusProxyAuthRequired
}

// PageRequest is the catalog engine's ask for a fresh page. The engine
// suspends after sending one and resumes when the provider supplies a
// page; the provider persists NextStartPage as the task checkpoint
// before rotating or supplying.
type PageRequest struct {
	Attempt       int         `json:"attempt"`
	Status        ParseStatus `json:"status,omitempty"` // Empty on the initial request
	NextStartPage int         `json:"next_start_page"`
}

// CatalogParseResult is the engine's final report for one catalog run.
type CatalogParseResult struct {
	Status        ParseStatus      `json:"status"`
	Listings      []CatalogListing `json:"listings,omitempty"`
	PagesParsed   int              `json:"pages_parsed"`
	NextStartPage int              `json:"next_start_page"` // Checkpoint to persist with the terminal decision
}

// PageState classifies what a navigated page actually is. The detector
// returns one of these; the browser runtime routes on it.
type PageState string

const (
	PageStateCatalog          PageState = "catalog"
	PageStateCard             PageState = "card"
	PageStateSellerProfile    PageState = "seller_profile"
	PageStateProxyBlocked     PageState = "proxy_blocked"
	PageStateProxyAuth        PageState = "proxy_auth_required"
	PageStateCaptcha          PageState = "captcha"
	PageStateRateLimited      PageState = "rate_limited"
	PageStateContinueRequired PageState = "continue_required"
	PageStateRemoved          PageState = "removed"
	PageStateServerError      PageState = "server_error"
	PageStateNotDetected      PageState = "not_detected"
)

// IsCaptchaLike groups the states resolved through the bounded captcha
// flow: an explicit challenge, a throttle page, and the continue prompt.
func (s PageState) IsCaptchaLike() bool {
	return s == PageStateCaptcha || s == PageStateRateLimited || s == PageStateContinueRequired
}
