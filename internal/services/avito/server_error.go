package avito

import "strings"

// serverErrorStatus reports whether a main-document status or page body
// indicates a marketplace-side 502/503/504. The body patterns cover the
// case where the status never reached us (proxied error pages).
func serverErrorStatus(statusCode int, html string) (int, bool) {
	switch statusCode {
	case 502, 503, 504:
		return statusCode, true
	}

	lower := strings.ToLower(html)

	if strings.Contains(lower, "502 error") || strings.Contains(lower, "bad gateway") {
		return 502, true
	}
	if strings.Contains(lower, "503") && (strings.Contains(lower, "service unavailable") || strings.Contains(lower, "temporarily unavailable")) {
		return 503, true
	}
	if strings.Contains(lower, "504") && (strings.Contains(lower, "gateway timeout") || strings.Contains(lower, "gateway time-out")) {
		return 504, true
	}

	return 0, false
}
