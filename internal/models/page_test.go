package models

import (
	"testing"
)

func TestParseStatus_NeedsProxyRotation(t *testing.T) {
	tests := []struct {
		name     string
		status   ParseStatus
		expected bool
	}{
		{
			name:     "proxy blocked rotates",
			status:   ParseStatusProxyBlocked,
			expected: true,
		},
		{
			name:     "proxy auth required rotates",
			status:   ParseStatusProxyAuthRequired,
			expected: true,
		},
		{
			name:     "success keeps the proxy",
			status:   ParseStatusSuccess,
			expected: false,
		},
		{
			name:     "empty keeps the proxy",
			status:   ParseStatusEmpty,
			expected: false,
		},
		{
			name:     "unsolved captcha keeps the proxy",
			status:   ParseStatusCaptchaUnsolved,
			expected: false,
		},
		{
			name:     "not detected keeps the proxy",
			status:   ParseStatusNotDetected,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.NeedsProxyRotation(); got != tt.expected {
				t.Errorf("NeedsProxyRotation() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestPageState_IsCaptchaLike(t *testing.T) {
	captchaLike := []PageState{PageStateCaptcha, PageStateRateLimited, PageStateContinueRequired}
	for _, s := range captchaLike {
		if !s.IsCaptchaLike() {
			t.Errorf("IsCaptchaLike() = false for %q", s)
		}
	}

	others := []PageState{
		PageStateCatalog,
		PageStateCard,
		PageStateSellerProfile,
		PageStateProxyBlocked,
		PageStateProxyAuth,
		PageStateRemoved,
		PageStateServerError,
		PageStateNotDetected,
	}
	for _, s := range others {
		if s.IsCaptchaLike() {
			t.Errorf("IsCaptchaLike() = true for %q", s)
		}
	}
}
