package browser

import "strings"

// Chromium surfaces network failures as net::ERR_* strings inside the
// chromedp error text. Transient faults count against the proxy's error
// budget; permanent ones mean the proxy itself is dead and must be
// blocked immediately.

var transientNetworkPatterns = []string{
	"err_connection_closed",
	"err_connection_reset",
	"err_network_changed",
	"err_connection_timed_out",
	"err_timed_out",
	"err_empty_response",
	"connection closed",
	"connection reset",
	"net::err_aborted",
}

var permanentProxyPatterns = []string{
	"err_proxy_connection_failed",
	"err_tunnel_connection_failed",
	"proxy authentication required",
	"err_proxy_auth",
	"407 proxy authentication",
}

// IsTransientNetworkError reports whether err looks like a temporary
// network fault worth retrying on the same proxy.
func IsTransientNetworkError(err error) bool {
	return matchesAny(err, transientNetworkPatterns)
}

// IsPermanentProxyError reports whether err means the proxy is
// unreachable or rejected the credentials.
func IsPermanentProxyError(err error) bool {
	return matchesAny(err, permanentProxyPatterns)
}

func matchesAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// ErrorDescription folds an error into a short label for logs and the
// proxy error journal.
func ErrorDescription(err error) string {
	if err == nil {
		return ""
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "err_connection_closed"):
		return "ERR_CONNECTION_CLOSED (TCP FIN)"
	case strings.Contains(text, "err_connection_reset"):
		return "ERR_CONNECTION_RESET (TCP RST)"
	case strings.Contains(text, "err_proxy_connection_failed"):
		return "ERR_PROXY_CONNECTION_FAILED (proxy unavailable)"
	case strings.Contains(text, "err_connection_timed_out"):
		return "ERR_CONNECTION_TIMED_OUT (TCP timeout)"
	case strings.Contains(text, "timeout"):
		return "Timeout error"
	}
	full := err.Error()
	if runes := []rune(full); len(runes) > 100 {
		return string(runes[:100])
	}
	return full
}
