package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/time/rate"
)

const (
	defaultClaudeModel     = "claude-haiku-3-5-20241022"
	defaultClaudeMaxTokens = 8192
	defaultClaudeTimeout   = 2 * time.Minute
)

// claudeValidator judges listings with the Anthropic API. Claude has no
// response-schema enforcement, so the instruction pins the JSON shape
// and parseVerdict strips any markdown fence around the answer.
type claudeValidator struct {
	config    *common.ClaudeConfig
	apiKeyCfg string
	kvStorage interfaces.KeyValueStorage
	logger    arbor.ILogger
	limiter   *rate.Limiter

	mu          sync.Mutex
	client      anthropic.Client
	initialized bool
}

func newClaudeValidator(config *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) *claudeValidator {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if spacing := common.ParseDurationOr(config.Claude.RateLimit, 0); spacing > 0 {
		limiter = rate.NewLimiter(rate.Every(spacing), 1)
	}

	return &claudeValidator{
		config:    &config.Claude,
		apiKeyCfg: config.Claude.APIKey,
		kvStorage: kvStorage,
		logger:    logger,
		limiter:   limiter,
	}
}

func (v *claudeValidator) Name() string {
	return ProviderClaude
}

func (v *claudeValidator) getClient(ctx context.Context) (anthropic.Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.initialized {
		return v.client, nil
	}

	apiKey, err := common.ResolveAPIKey(ctx, v.kvStorage, "anthropic_api_key", v.apiKeyCfg)
	if err != nil {
		return anthropic.Client{}, fmt.Errorf("failed to resolve Anthropic API key: %w", err)
	}

	v.client = anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	v.initialized = true
	return v.client, nil
}

func (v *claudeValidator) Validate(ctx context.Context, articulum string, listings []models.AIListing, useImages bool) (*models.AIVerdict, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	client, err := v.getClient(ctx)
	if err != nil {
		return nil, providerErr(ProviderClaude, err)
	}

	listingsJSON, err := buildListingsJSON(listings)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize listings: %w", err)
	}

	blocks := []anthropic.ContentBlockParamUnion{
		anthropic.NewTextBlock("Listings:\n" + listingsJSON),
	}
	if useImages {
		for _, l := range listings {
			for _, img := range l.Images {
				if len(img) == 0 {
					continue
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(
					http.DetectContentType(img),
					base64.StdEncoding.EncodeToString(img),
				))
			}
		}
	}

	model := v.config.Model
	if model == "" {
		model = defaultClaudeModel
	}
	maxTokens := v.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		System: []anthropic.TextBlockParam{
			{Text: buildInstruction(articulum, useImages)},
		},
	}
	if v.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(v.config.Temperature))
	}

	timeout := common.ParseDurationOr(v.config.Timeout, defaultClaudeTimeout)

	var resp *anthropic.Message
	var apiErr error
	retryConfig := NewDefaultRetryConfig()

	for attempt := 0; attempt <= retryConfig.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, apiErr = client.Messages.New(attemptCtx, params)
		cancel()
		if apiErr == nil {
			break
		}

		if attempt == retryConfig.MaxRetries {
			break
		}

		backoff := time.Duration(attempt+1) * 2 * time.Second
		if IsRateLimitError(apiErr) {
			backoff = retryConfig.CalculateBackoff(attempt, 0)
		}

		v.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Claude API call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if apiErr != nil {
		return nil, providerErr(ProviderClaude, fmt.Errorf("API call failed after %d retries: %w", retryConfig.MaxRetries, apiErr))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, providerErr(ProviderClaude, fmt.Errorf("empty response"))
	}

	verdict, err := parseVerdict(text.String())
	if err != nil {
		return nil, providerErr(ProviderClaude, err)
	}

	v.logger.Debug().
		Str("articulum", articulum).
		Int("listings", len(listings)).
		Int("passed", len(verdict.PassedIDs)).
		Int("rejected", len(verdict.Rejected)).
		Msg("Claude validation verdict")

	return verdict, nil
}
