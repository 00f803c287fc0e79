// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package adapters

import (
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds outbound request throttling configuration.
type RateLimitConfig struct {
	// RequestsPerSecond is the number of requests allowed per second
	RequestsPerSecond float64

	// Burst is the maximum burst size
	Burst int
}

// DefaultRateLimitConfig returns a config suited to hosted APIs with
// per-hour quotas.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// RateLimitedTransport throttles requests through a token bucket. It never
// retries; a failed request is returned to the caller unchanged.
type RateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// NewRateLimitedTransport wraps base (http.DefaultTransport when nil).
func NewRateLimitedTransport(base http.RoundTripper, config *RateLimitConfig) *RateLimitedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	limit := rate.Limit(config.RequestsPerSecond)
	if config.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedTransport{
		base:    base,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// RoundTrip waits for a token, honoring the request context, then
// delegates to the wrapped transport.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient returns a client using a rate-limited transport.
func NewHTTPClient(config *RateLimitConfig) *http.Client {
	return &http.Client{Transport: NewRateLimitedTransport(nil, config)}
}

// RateLimitFromSettings reads "rateLimit" (requests per second) and
// "rateBurst" from backend settings, starting from the defaults. A
// rateLimit of 0 disables throttling.
func RateLimitFromSettings(settings map[string]string) (*RateLimitConfig, error) {
	cfg := DefaultRateLimitConfig()
	if v := settings["rateLimit"]; v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rateLimit %q: %w", v, err)
		}
		cfg.RequestsPerSecond = rps
	}
	if v := settings["rateBurst"]; v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid rateBurst %q: %w", v, err)
		}
		cfg.Burst = burst
	}
	return cfg, nil
}
