package models

import (
	"fmt"
	"time"
)

// Proxy is an upstream HTTP proxy with an exclusive-lease lifecycle.
// A proxy is held by at most one worker at a time (is_in_use + worker_id).
// Blocking is permanent: once the marketplace bans a proxy it never
// returns to the available set.
type Proxy struct {
	ID                int64      `json:"id"`
	Host              string     `json:"host"`
	Port              int        `json:"port"`
	Username          string     `json:"username,omitempty"`
	Password          string     `json:"password,omitempty"`
	IsBlocked         bool       `json:"is_blocked"`
	IsInUse           bool       `json:"is_in_use"`
	WorkerID          string     `json:"worker_id,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	BlockReason       string     `json:"block_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Addr returns host:port.
func (p *Proxy) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// ServerURL returns the proxy address in the form chromedp's
// --proxy-server flag expects. Credentials are supplied separately via
// the auth-challenge handler, not embedded in the URL.
func (p *Proxy) ServerURL() string {
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// HasAuth reports whether the proxy requires credentials.
func (p *Proxy) HasAuth() bool {
	return p.Username != ""
}

// ProxyStats is a point-in-time census of the pool.
type ProxyStats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Blocked   int `json:"blocked"`
}
