package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func TestIsProviderError(t *testing.T) {
	base := errors.New("connection refused")

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "plain error",
			err:      base,
			expected: false,
		},
		{
			name:     "provider error",
			err:      providerErr(ProviderGemini, base),
			expected: true,
		},
		{
			name:     "wrapped provider error",
			err:      fmt.Errorf("validate: %w", providerErr(ProviderClaude, base)),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProviderError(tt.err); got != tt.expected {
				t.Errorf("IsProviderError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	base := errors.New("quota exceeded")
	err := providerErr(ProviderGemini, base)

	if !errors.Is(err, base) {
		t.Error("expected wrapped error to match errors.Is")
	}
}

func TestNewValidator_ProviderSelection(t *testing.T) {
	logger := arbor.NewLogger()

	tests := []struct {
		name         string
		provider     string
		fallback     string
		expectedName string
		expectError  bool
	}{
		{
			name:         "default is gemini",
			provider:     "",
			expectedName: "gemini",
		},
		{
			name:         "gemini",
			provider:     "gemini",
			expectedName: "gemini",
		},
		{
			name:         "claude",
			provider:     "claude",
			expectedName: "claude",
		},
		{
			name:         "accept",
			provider:     "accept",
			expectedName: "accept",
		},
		{
			name:         "gemini with claude fallback",
			provider:     "gemini",
			fallback:     "claude",
			expectedName: "gemini+claude",
		},
		{
			name:         "fallback equal to primary is ignored",
			provider:     "claude",
			fallback:     "claude",
			expectedName: "claude",
		},
		{
			name:        "unknown provider",
			provider:    "fireworks",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := common.NewDefaultConfig()
			config.AI.Provider = tt.provider
			config.AI.FallbackProvider = tt.fallback

			validator, err := NewValidator(config, nil, logger)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewValidator() error: %v", err)
			}
			if validator.Name() != tt.expectedName {
				t.Errorf("Name() = %q, want %q", validator.Name(), tt.expectedName)
			}
		})
	}
}

func TestNewValidator_CLIBinaryMissing(t *testing.T) {
	config := common.NewDefaultConfig()
	config.AI.Provider = ProviderClaudeCLI
	config.AI.CLICommand = "definitely-not-a-real-binary-kx91"

	_, err := NewValidator(config, nil, arbor.NewLogger())
	if err == nil {
		t.Fatal("expected an error for a missing CLI binary")
	}
}

type stubValidator struct {
	name    string
	verdict *models.AIVerdict
	err     error
	calls   int
}

func (s *stubValidator) Name() string { return s.name }

func (s *stubValidator) Validate(ctx context.Context, articulum string, listings []models.AIListing, useImages bool) (*models.AIVerdict, error) {
	s.calls++
	return s.verdict, s.err
}

func TestFallbackValidator(t *testing.T) {
	ctx := context.Background()
	logger := arbor.NewLogger()
	listings := []models.AIListing{{AvitoItemID: "100"}}

	t.Run("primary verdict wins", func(t *testing.T) {
		primary := &stubValidator{name: "a", verdict: &models.AIVerdict{PassedIDs: []string{"100"}}}
		fallback := &stubValidator{name: "b"}
		v := &fallbackValidator{primary: primary, fallback: fallback, logger: logger}

		verdict, err := v.Validate(ctx, "ABC123", listings, false)
		if err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		if len(verdict.PassedIDs) != 1 {
			t.Errorf("expected primary verdict, got %+v", verdict)
		}
		if fallback.calls != 0 {
			t.Error("fallback should not be consulted on primary success")
		}
	})

	t.Run("transport failure falls through", func(t *testing.T) {
		primary := &stubValidator{name: "a", err: providerErr("a", errors.New("503"))}
		fallback := &stubValidator{name: "b", verdict: &models.AIVerdict{PassedIDs: []string{"100"}}}
		v := &fallbackValidator{primary: primary, fallback: fallback, logger: logger}

		verdict, err := v.Validate(ctx, "ABC123", listings, false)
		if err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		if len(verdict.PassedIDs) != 1 {
			t.Errorf("expected fallback verdict, got %+v", verdict)
		}
		if fallback.calls != 1 {
			t.Errorf("fallback calls = %d, want 1", fallback.calls)
		}
	})

	t.Run("non-transport error propagates", func(t *testing.T) {
		primary := &stubValidator{name: "a", err: errors.New("bad input")}
		fallback := &stubValidator{name: "b"}
		v := &fallbackValidator{primary: primary, fallback: fallback, logger: logger}

		_, err := v.Validate(ctx, "ABC123", listings, false)
		if err == nil {
			t.Fatal("expected an error")
		}
		if fallback.calls != 0 {
			t.Error("fallback should not be consulted for non-transport errors")
		}
	})

	t.Run("both failing returns fallback error", func(t *testing.T) {
		primary := &stubValidator{name: "a", err: providerErr("a", errors.New("down"))}
		fallback := &stubValidator{name: "b", err: providerErr("b", errors.New("also down"))}
		v := &fallbackValidator{primary: primary, fallback: fallback, logger: logger}

		_, err := v.Validate(ctx, "ABC123", listings, false)
		if !IsProviderError(err) {
			t.Errorf("expected a provider error, got %v", err)
		}
	})
}

func TestAcceptValidator(t *testing.T) {
	v := &acceptValidator{logger: arbor.NewLogger()}

	listings := []models.AIListing{
		{AvitoItemID: "1"},
		{AvitoItemID: "2"},
		{AvitoItemID: "3"},
	}

	verdict, err := v.Validate(context.Background(), "ABC123", listings, true)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if len(verdict.PassedIDs) != 3 {
		t.Errorf("passed = %d, want 3", len(verdict.PassedIDs))
	}
	if len(verdict.Rejected) != 0 {
		t.Errorf("rejected = %d, want 0", len(verdict.Rejected))
	}
}
