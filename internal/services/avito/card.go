package avito

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrNotCard reports that the document carries no card markup. The
// object worker fails the task on it rather than persisting garbage.
var ErrNotCard = errors.New("document is not a listing card")

// CardParser extracts a structured card from a detail page.
type CardParser struct {
	logger      arbor.ILogger
	includeHTML bool
}

func NewCardParser(logger arbor.ILogger, includeHTML bool) *CardParser {
	return &CardParser{logger: logger, includeHTML: includeHTML}
}

var _ interfaces.CardParser = (*CardParser)(nil)

func (p *CardParser) Parse(ctx context.Context, page interfaces.Page, itemID string) (*models.Card, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}

	card, err := parseCardHTML(html, itemID, p.includeHTML)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("item_id", itemID).
		Str("title", card.Title).
		Int("characteristics", len(card.Characteristics)).
		Msg("Card parsed")

	return card, nil
}

func parseCardHTML(html, itemID string, includeHTML bool) (*models.Card, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find(`[data-marker="item-view/title-info"]`).First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find(`h1[itemprop="name"]`).First().Text())
	}
	if title == "" {
		return nil, fmt.Errorf("%w: no title marker (item %s)", ErrNotCard, itemID)
	}

	card := &models.Card{
		AvitoItemID:     itemID,
		Title:           title,
		Characteristics: parseCharacteristics(doc),
	}

	if price, ok := parseCardPrice(doc); ok {
		card.Price = &price
	}

	sellerSel := doc.Find(`[data-marker="seller-info/name"]`).First()
	card.SellerName = strings.TrimSpace(sellerSel.Text())
	if href, ok := sellerSel.Find("a").Attr("href"); ok {
		card.SellerID = sellerIDFromHref(href)
	} else if href, ok := doc.Find(`a[data-marker="seller-link"]`).Attr("href"); ok {
		card.SellerID = sellerIDFromHref(href)
	}

	if rating, ok := parseRating(strings.TrimSpace(doc.Find(`[data-marker="seller-info/score"]`).First().Text())); ok {
		card.SellerRating = &rating
	}

	card.Description = extractDescription(doc)
	card.LocationName = firstText(doc, `[data-marker="item-view/item-address"]`, `span[itemprop="address"]`)

	if mapNode := doc.Find(`div[data-map-lat]`).First(); mapNode.Length() > 0 {
		lat := mapNode.AttrOr("data-map-lat", "")
		lon := mapNode.AttrOr("data-map-lon", "")
		if lat != "" && lon != "" {
			card.LocationCoords = lat + "," + lon
		}
	}

	if views, ok := parseLeadingInt(doc.Find(`[data-marker="item-view/total-views"]`).First().Text()); ok {
		card.ViewsTotal = &views
	}

	if published, ok := parsePublishedAt(doc); ok {
		card.PublishedAt = &published
	}

	if includeHTML {
		card.RawHTML = html
	}

	return card, nil
}

// parseCardPrice prefers the machine-readable price content attribute
// and falls back to the visible text with currency stripped.
func parseCardPrice(doc *goquery.Document) (float64, bool) {
	for _, selector := range []string{
		`span[data-marker="item-view/item-price"]`,
		`meta[itemprop="price"]`,
	} {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if price, err := strconv.ParseFloat(strings.TrimSpace(content), 64); err == nil {
				return price, true
			}
		}
	}

	text := doc.Find(`[data-marker="item-view/item-price"]`).First().Text()
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// parseCharacteristics reads the parameter list ("Состояние: Новое"
// rows) into a map keyed by the left side of the first colon.
func parseCharacteristics(doc *goquery.Document) map[string]string {
	params := make(map[string]string)

	doc.Find(`ul[data-marker="item-view/item-params"] li, li[data-marker="item-view/item-params"]`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		parts := strings.SplitN(text, ":", 2)
		if len(parts) != 2 {
			return
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key != "" && value != "" {
			params[key] = value
		}
	})

	return params
}

// extractDescription converts the description block to markdown so
// formatting survives without carrying raw markup into the record.
func extractDescription(doc *goquery.Document) string {
	block := doc.Find(`div[data-marker="item-view/item-description"]`).First()
	if block.Length() == 0 {
		block = doc.Find(`div[itemprop="description"]`).First()
	}
	if block.Length() == 0 {
		return ""
	}

	inner, err := block.Html()
	if err != nil || strings.TrimSpace(inner) == "" {
		return strings.TrimSpace(block.Text())
	}

	converter := md.NewConverter("www.avito.ru", true, nil)
	markdown, err := converter.ConvertString(inner)
	if err != nil {
		return strings.TrimSpace(block.Text())
	}
	return strings.TrimSpace(markdown)
}

// parsePublishedAt reads a machine-readable publication timestamp when
// the markup carries one. The human-readable relative date is not
// parsed; records without a timestamp keep a NULL published_at.
func parsePublishedAt(doc *goquery.Document) (time.Time, bool) {
	node := doc.Find(`[data-marker="item-view/item-date"] time, time[datetime]`).First()
	raw, ok := node.Attr("datetime")
	if !ok {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}
