package avito

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ContinueButtonSelector targets the submit button on the interstitial
// "Продолжить" page. Exported so the captcha flow can click it.
const ContinueButtonSelector = `button[data-marker="continue-button"], form button[type="submit"]`

// Detector classifies a navigated page into a PageState. Blocks and
// challenges are checked before content states because the marketplace
// serves them on every URL; card markers are checked before catalog
// markers because detail pages embed recommendation items that would
// otherwise read as a catalog.
type Detector struct {
	logger arbor.ILogger
}

func NewDetector(logger arbor.ILogger) *Detector {
	return &Detector{logger: logger}
}

var _ interfaces.Detector = (*Detector)(nil)

func (d *Detector) Detect(ctx context.Context, page interfaces.Page) (models.PageState, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return models.PageStateNotDetected, err
	}

	statusCode := page.StatusCode()

	if code, ok := serverErrorStatus(statusCode, html); ok {
		d.logger.Warn().Int("status", code).Msg("Server error page detected")
		return models.PageStateServerError, nil
	}
	if statusCode == 407 {
		return models.PageStateProxyAuth, nil
	}
	if statusCode == 403 {
		return models.PageStateProxyBlocked, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.PageStateNotDetected, err
	}

	state := classifyDocument(doc, html, statusCode)
	if state == models.PageStateNotDetected {
		d.logger.Debug().
			Int("status", statusCode).
			Int("html_len", len(html)).
			Msg("No detector matched the page")
	}
	return state, nil
}

func classifyDocument(doc *goquery.Document, html string, statusCode int) models.PageState {
	lower := strings.ToLower(html)

	if strings.Contains(lower, "proxy authentication required") {
		return models.PageStateProxyAuth
	}

	// Permanent IP block page.
	if strings.Contains(html, "Доступ ограничен") || strings.Contains(lower, "доступ с вашего ip-адреса временно ограничен") {
		return models.PageStateProxyBlocked
	}

	if doc.Find(`div[class*="geetest"], #geetest_captcha, div[data-marker="captcha"]`).Length() > 0 ||
		strings.Contains(html, "Подтвердите, что вы не робот") {
		return models.PageStateCaptcha
	}

	if statusCode == 429 || strings.Contains(html, "Слишком много запросов") {
		return models.PageStateRateLimited
	}

	if hasContinueButton(doc) {
		return models.PageStateContinueRequired
	}

	// Closed listings keep their title markup, so this precedes the
	// card check.
	if doc.Find(`[data-marker="item-view/closed-warning"]`).Length() > 0 ||
		strings.Contains(html, "снято с публикации") ||
		strings.Contains(html, "Объявление закрыто") {
		return models.PageStateRemoved
	}

	if doc.Find(`[data-marker="item-view/title-info"], h1[itemprop="name"]`).Length() > 0 &&
		doc.Find(`[data-marker^="item-view"]`).Length() > 0 {
		return models.PageStateCard
	}

	if doc.Find(`[data-marker="profile-title"]`).Length() > 0 {
		return models.PageStateSellerProfile
	}

	if doc.Find(`div[data-marker="item"]`).Length() > 0 ||
		doc.Find(`[data-marker="catalog-serp"]`).Length() > 0 ||
		isEmptySearch(doc, html) {
		return models.PageStateCatalog
	}

	return models.PageStateNotDetected
}

// isEmptySearch recognizes a legitimate zero-result search page, which
// carries none of the item markers but is still a successful catalog.
func isEmptySearch(doc *goquery.Document, html string) bool {
	if doc.Find(`[data-marker="empty-search"]`).Length() > 0 {
		return true
	}
	return strings.Contains(html, "ничего не найдено") || strings.Contains(html, "Ничего не найдено")
}

func hasContinueButton(doc *goquery.Document) bool {
	if doc.Find(`button[data-marker="continue-button"]`).Length() > 0 {
		return true
	}

	found := false
	doc.Find(`form button[type="submit"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "Продолжить") {
			found = true
			return false
		}
		return true
	})
	return found
}
