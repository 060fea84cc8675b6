package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultGeminiTimeout = 2 * time.Minute
)

// geminiValidator judges listings with the Gemini API. The response
// schema forces structured JSON output, so parsing failures indicate a
// genuinely broken response rather than prose drift.
type geminiValidator struct {
	config    *common.GeminiConfig
	apiKeyCfg string
	kvStorage interfaces.KeyValueStorage
	logger    arbor.ILogger
	limiter   *rate.Limiter

	mu     sync.Mutex
	client *genai.Client
}

func newGeminiValidator(config *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) *geminiValidator {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if spacing := common.ParseDurationOr(config.Gemini.RateLimit, 0); spacing > 0 {
		limiter = rate.NewLimiter(rate.Every(spacing), 1)
	}

	return &geminiValidator{
		config:    &config.Gemini,
		apiKeyCfg: config.Gemini.APIKey,
		kvStorage: kvStorage,
		logger:    logger,
		limiter:   limiter,
	}
}

func (v *geminiValidator) Name() string {
	return ProviderGemini
}

// getClient creates the Gemini client on first use so a configured but
// never-exercised provider does not require an API key at startup.
func (v *geminiValidator) getClient(ctx context.Context) (*genai.Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.client != nil {
		return v.client, nil
	}

	apiKey, err := common.ResolveAPIKey(ctx, v.kvStorage, "gemini_api_key", v.apiKeyCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Gemini API key: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	v.client = client
	return client, nil
}

func (v *geminiValidator) Validate(ctx context.Context, articulum string, listings []models.AIListing, useImages bool) (*models.AIVerdict, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	client, err := v.getClient(ctx)
	if err != nil {
		return nil, providerErr(ProviderGemini, err)
	}

	listingsJSON, err := buildListingsJSON(listings)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize listings: %w", err)
	}

	parts := []*genai.Part{genai.NewPartFromText("Listings:\n" + listingsJSON)}
	if useImages {
		for _, l := range listings {
			for _, img := range l.Images {
				if len(img) == 0 {
					continue
				}
				parts = append(parts, genai.NewPartFromBytes(img, http.DetectContentType(img)))
			}
		}
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genConfig := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(v.config.Temperature),
		SystemInstruction: genai.NewContentFromText(buildInstruction(articulum, useImages), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    verdictSchema(),
	}

	model := v.config.Model
	if model == "" {
		model = defaultGeminiModel
	}
	timeout := common.ParseDurationOr(v.config.Timeout, defaultGeminiTimeout)

	var resp *genai.GenerateContentResponse
	var apiErr error
	retryConfig := NewDefaultRetryConfig()

	for attempt := 0; attempt <= retryConfig.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, apiErr = client.Models.GenerateContent(attemptCtx, model, contents, genConfig)
		cancel()
		if apiErr == nil {
			break
		}

		if attempt == retryConfig.MaxRetries {
			break
		}

		var backoff time.Duration
		if IsRateLimitError(apiErr) {
			apiDelay := ExtractRetryDelay(apiErr)
			backoff = retryConfig.CalculateBackoff(attempt, apiDelay)
		} else {
			backoff = time.Duration(attempt+1) * 2 * time.Second
		}

		v.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Gemini API call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if apiErr != nil {
		return nil, providerErr(ProviderGemini, fmt.Errorf("API call failed after %d retries: %w", retryConfig.MaxRetries, apiErr))
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, providerErr(ProviderGemini, fmt.Errorf("empty response"))
	}

	responseText := resp.Text()
	if responseText == "" {
		return nil, providerErr(ProviderGemini, fmt.Errorf("empty text in response"))
	}

	verdict, err := parseVerdict(responseText)
	if err != nil {
		return nil, providerErr(ProviderGemini, err)
	}

	v.logger.Debug().
		Str("articulum", articulum).
		Int("listings", len(listings)).
		Int("passed", len(verdict.PassedIDs)).
		Int("rejected", len(verdict.Rejected)).
		Msg("Gemini validation verdict")

	return verdict, nil
}

// verdictSchema constrains Gemini's output to the verdict JSON shape.
func verdictSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"passed_ids": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"rejected": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"item_id": {Type: genai.TypeString},
						"reason":  {Type: genai.TypeString},
					},
					Required: []string{"item_id", "reason"},
				},
			},
		},
		Required: []string{"passed_ids", "rejected"},
	}
}
