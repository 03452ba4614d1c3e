// Package ratelimit provides per-user, per-resource request quotas. The
// route handlers consume it as an allow/deny decision with quota metadata;
// the windowing strategy is internal.
package ratelimit

import (
	"sync"
	"time"

	"github.com/vantagesec/vantage/pkg/models"
)

// Config configures quota windows per resource key.
type Config struct {
	// FreeLimit is the request quota per window for free-tier users.
	FreeLimit int `yaml:"free_limit"`
	// PremiumLimit is the request quota per window for premium users.
	PremiumLimit int `yaml:"premium_limit"`
	// Window is the quota window length.
	Window time.Duration `yaml:"window"`
	// Enabled controls whether limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default quota configuration.
func DefaultConfig() Config {
	return Config{
		FreeLimit:    30,
		PremiumLimit: 300,
		Window:       3 * time.Hour,
		Enabled:      true,
	}
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Info    models.RateLimitInfo
}

// maxKeys bounds the window map so abandoned users do not grow it forever.
const maxKeys = 100000

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks fixed-window request counts keyed by user and resource.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  Config
	now     func() time.Time
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(config Config) *Limiter {
	if config.FreeLimit <= 0 {
		config.FreeLimit = DefaultConfig().FreeLimit
	}
	if config.PremiumLimit <= 0 {
		config.PremiumLimit = DefaultConfig().PremiumLimit
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		now:     time.Now,
	}
}

// Check consumes one request from the user's quota for the resource key and
// returns the decision plus quota metadata. A denied check consumes nothing.
func (l *Limiter) Check(userID, resourceKey string, tier models.Tier) Decision {
	limit := l.config.FreeLimit
	if tier.Premium() {
		limit = l.config.PremiumLimit
	}

	if !l.config.Enabled {
		return Decision{
			Allowed: true,
			Info: models.RateLimitInfo{
				Remaining:     limit,
				Limit:         limit,
				IsPremiumUser: tier.Premium(),
			},
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := userID + ":" + resourceKey
	now := l.now()

	w := l.windows[key]
	if w == nil || now.After(w.resetAt) {
		if w == nil && len(l.windows) >= maxKeys {
			l.evictExpired(now)
		}
		w = &window{resetAt: now.Add(l.config.Window)}
		l.windows[key] = w
	}

	info := models.RateLimitInfo{
		Limit:         limit,
		ResetAt:       w.resetAt.Unix(),
		IsPremiumUser: tier.Premium(),
	}

	if w.count >= limit {
		info.Remaining = 0
		return Decision{Allowed: false, Info: info}
	}

	w.count++
	info.Remaining = limit - w.count
	return Decision{Allowed: true, Info: info}
}

// evictExpired drops windows past their reset time (lock held).
func (l *Limiter) evictExpired(now time.Time) {
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
