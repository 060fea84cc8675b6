// Package llm implements the AI validation providers: Gemini and Claude
// cloud APIs, a claude CLI subprocess, and an accept-all pass-through.
// Transport failures are wrapped in ProviderError so the validation
// worker can distinguish "the model rejected these listings" from "the
// model could not be reached".
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Provider names accepted in [ai] provider / fallback_provider.
const (
	ProviderGemini    = "gemini"
	ProviderClaude    = "claude"
	ProviderClaudeCLI = "claude-cli"
	ProviderAccept    = "accept"
)

// ProviderError marks a transport-level failure: network, auth, quota
// exhaustion, or a malformed model response. The validation worker
// returns the articulum to the queue instead of rejecting listings when
// it sees one.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is (or wraps) a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

func providerErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Err: err}
}

// NewValidator builds the configured AI validator. With a
// fallback_provider set, the primary is wrapped so a ProviderError from
// it falls through to the secondary before surfacing to the caller.
func NewValidator(config *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) (interfaces.AIValidator, error) {
	primary, err := newProvider(config.AI.Provider, config, kvStorage, logger)
	if err != nil {
		return nil, err
	}

	fallbackName := config.AI.FallbackProvider
	if fallbackName == "" || fallbackName == config.AI.Provider {
		return primary, nil
	}

	fallback, err := newProvider(fallbackName, config, kvStorage, logger)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}

	logger.Info().
		Str("provider", primary.Name()).
		Str("fallback", fallback.Name()).
		Msg("AI validation with fallback provider")

	return &fallbackValidator{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}, nil
}

func newProvider(name string, config *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) (interfaces.AIValidator, error) {
	switch name {
	case ProviderGemini, "":
		return newGeminiValidator(config, kvStorage, logger), nil
	case ProviderClaude:
		return newClaudeValidator(config, kvStorage, logger), nil
	case ProviderClaudeCLI:
		return newCLIValidator(config, logger)
	case ProviderAccept:
		return &acceptValidator{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", name)
	}
}

// fallbackValidator tries the primary and, only on a transport failure,
// the secondary. A verdict from either is final: a model that answered
// "reject" is not second-guessed.
type fallbackValidator struct {
	primary  interfaces.AIValidator
	fallback interfaces.AIValidator
	logger   arbor.ILogger
}

func (v *fallbackValidator) Name() string {
	return v.primary.Name() + "+" + v.fallback.Name()
}

func (v *fallbackValidator) Validate(ctx context.Context, articulum string, listings []models.AIListing, useImages bool) (*models.AIVerdict, error) {
	verdict, err := v.primary.Validate(ctx, articulum, listings, useImages)
	if err == nil {
		return verdict, nil
	}
	if !IsProviderError(err) {
		return nil, err
	}

	v.logger.Warn().
		Err(err).
		Str("primary", v.primary.Name()).
		Str("fallback", v.fallback.Name()).
		Msg("Primary AI provider failed, trying fallback")

	return v.fallback.Validate(ctx, articulum, listings, useImages)
}
