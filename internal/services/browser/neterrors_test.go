package browser

import (
	"errors"
	"strings"
	"testing"
)

func TestIsTransientNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection reset", errors.New("page load: net::ERR_CONNECTION_RESET"), true},
		{"connection closed", errors.New("net::ERR_CONNECTION_CLOSED"), true},
		{"network changed", errors.New("navigating: net::ERR_NETWORK_CHANGED"), true},
		{"connection timed out", errors.New("net::ERR_CONNECTION_TIMED_OUT"), true},
		{"timed out", errors.New("net::ERR_TIMED_OUT"), true},
		{"empty response", errors.New("net::ERR_EMPTY_RESPONSE"), true},
		{"aborted", errors.New("net::ERR_ABORTED"), true},
		{"plain connection closed", errors.New("websocket: connection closed by peer"), true},
		{"proxy failure is not transient", errors.New("net::ERR_PROXY_CONNECTION_FAILED"), false},
		{"unrelated error", errors.New("element not found"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientNetworkError(tt.err); got != tt.want {
				t.Errorf("IsTransientNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsPermanentProxyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"proxy connection failed", errors.New("net::ERR_PROXY_CONNECTION_FAILED"), true},
		{"tunnel failed", errors.New("net::ERR_TUNNEL_CONNECTION_FAILED"), true},
		{"auth text", errors.New("Proxy Authentication Required"), true},
		{"auth code", errors.New("got 407 Proxy Authentication Required page"), true},
		{"proxy auth err", errors.New("net::ERR_PROXY_AUTH_UNSUPPORTED"), true},
		{"reset is not permanent", errors.New("net::ERR_CONNECTION_RESET"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanentProxyError(tt.err); got != tt.want {
				t.Errorf("IsPermanentProxyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorDescription(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"connection closed", errors.New("net::ERR_CONNECTION_CLOSED"), "ERR_CONNECTION_CLOSED (TCP FIN)"},
		{"connection reset", errors.New("load failed: net::ERR_CONNECTION_RESET"), "ERR_CONNECTION_RESET (TCP RST)"},
		{"proxy failed", errors.New("net::ERR_PROXY_CONNECTION_FAILED"), "ERR_PROXY_CONNECTION_FAILED (proxy unavailable)"},
		{"timed out", errors.New("net::ERR_CONNECTION_TIMED_OUT"), "ERR_CONNECTION_TIMED_OUT (TCP timeout)"},
		{"io timeout", errors.New("read tcp 10.0.0.1:443: i/o timeout"), "Timeout error"},
		{"passthrough", errors.New("element not found"), "element not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorDescription(tt.err); got != tt.want {
				t.Errorf("ErrorDescription(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorDescriptionTruncatesLongErrors(t *testing.T) {
	long := strings.Repeat("страница недоступна ", 20)
	got := ErrorDescription(errors.New(long))
	if runes := []rune(got); len(runes) != 100 {
		t.Errorf("Expected 100 runes, got %d", len(runes))
	}
	if !strings.HasPrefix(long, got) {
		t.Error("Expected a prefix of the original error text")
	}
}
