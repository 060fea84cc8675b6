package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	defaultMaxPerListing   = 2
	defaultConcurrency     = 4
	defaultDownloadTimeout = 30 * time.Second
	defaultMaxImageBytes   = 10 * 1024 * 1024

	// Thumbnails live on the marketplace CDN, which expects a referer
	// from the listing pages.
	downloadReferer   = "https://www.avito.ru/"
	downloadUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Collector downloads listing thumbnails and uploads them to the image
// store, filling ImageKeys and ImagesCount on each listing in place.
// Collection is best-effort: failed downloads are logged and skipped, a
// listing with no surviving images keeps zero keys.
type Collector struct {
	store         interfaces.ImageStore
	client        *http.Client
	logger        arbor.ILogger
	maxPerListing int
	concurrency   int
	maxBytes      int64
}

var _ interfaces.ImageCollector = (*Collector)(nil)

// NewCollector wires a collector over the given store.
func NewCollector(cfg *common.ImagesConfig, store interfaces.ImageStore, logger arbor.ILogger) *Collector {
	maxPerListing := defaultMaxPerListing
	if cfg != nil && cfg.MaxPerListing > 0 {
		maxPerListing = cfg.MaxPerListing
	}

	return &Collector{
		store:         store,
		client:        &http.Client{Timeout: defaultDownloadTimeout},
		logger:        logger,
		maxPerListing: maxPerListing,
		concurrency:   defaultConcurrency,
		maxBytes:      defaultMaxImageBytes,
	}
}

// Collect downloads up to maxPerListing thumbnails per listing. Listings
// are processed concurrently; each goroutine owns its listing, so the
// in-place writes need no locking.
func (c *Collector) Collect(ctx context.Context, listings []models.CatalogListing) {
	if c.store == nil || !c.store.Enabled() {
		return
	}

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i := range listings {
		if ctx.Err() != nil {
			break
		}
		if len(listings[i].ImageURLs) == 0 || listings[i].AvitoItemID == "" {
			continue
		}

		wg.Add(1)
		go func(listing *models.CatalogListing) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			c.collectListing(ctx, listing)
		}(&listings[i])
	}

	wg.Wait()
}

func (c *Collector) collectListing(ctx context.Context, listing *models.CatalogListing) {
	urls := listing.ImageURLs
	if len(urls) > c.maxPerListing {
		urls = urls[:c.maxPerListing]
	}

	var keys []string
	for n, imageURL := range urls {
		if ctx.Err() != nil {
			break
		}

		data, contentType, err := c.download(ctx, imageURL)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("item_id", listing.AvitoItemID).
				Str("url", imageURL).
				Msg("Image download failed")
			continue
		}

		key := fmt.Sprintf("listings/%s/%d%s", listing.AvitoItemID, n, imageExtension(contentType, imageURL))
		stored, err := c.store.Store(ctx, key, data, contentType)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("item_id", listing.AvitoItemID).
				Str("key", key).
				Msg("Image upload failed")
			continue
		}

		keys = append(keys, stored)
	}

	if len(keys) == 0 {
		return
	}

	listing.ImageKeys = keys
	listing.ImagesCount = len(keys)
}

func (c *Collector) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", downloadUserAgent)
	req.Header.Set("Referer", downloadReferer)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isImageContentType(contentType) {
		return nil, "", fmt.Errorf("not an image: %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, "", errors.New("image too large")
	}

	return data, contentType, nil
}

func isImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

// imageExtension picks a file extension from the content type, falling
// back to the URL path and finally ".jpg".
func imageExtension(contentType, imageURL string) string {
	if ext := extensionFromContentType(contentType); ext != "" {
		return ext
	}
	if ext := extensionFromURL(imageURL); ext != "" {
		return ext
	}
	return ".jpg"
}

func extensionFromContentType(contentType string) string {
	contentType = strings.ToLower(contentType)
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/bmp":
		return ".bmp"
	case "image/ico", "image/x-icon", "image/vnd.microsoft.icon":
		return ".ico"
	default:
		return ""
	}
}

func extensionFromURL(imageURL string) string {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}

	switch ext := strings.ToLower(path.Ext(parsed.Path)); ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".bmp", ".ico":
		return ext
	default:
		return ""
	}
}
