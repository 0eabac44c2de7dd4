package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter implements per-key rate limiting. Keys are user keys for
// signed-in visitors and remote addresses otherwise.
type KeyedRateLimiter struct {
	enabled  bool
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rpm      int
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger) *KeyedRateLimiter {
	if !cfg.RateLimit.Enabled {
		return &KeyedRateLimiter{enabled: false}
	}

	return &KeyedRateLimiter{
		enabled:  true,
		limiters: make(map[string]*limiterEntry),
		rpm:      cfg.RateLimit.RequestsPerMinute,
		burst:    cfg.RateLimit.Burst,
		idleTTL:  time.Hour,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow checks if key is allowed to make a request
func (r *KeyedRateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(key).Allow()
	if !allowed {
		r.logger.WithField("key", key).Warn("Rate limit exceeded")
	}
	return allowed
}

// Reset resets the rate limiter for key
func (r *KeyedRateLimiter) Reset(key string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}

func (r *KeyedRateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.limiters[key]
	if !exists {
		// Rate per second = RPM / 60
		rps := float64(r.rpm) / 60.0
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rps), r.burst)}
		r.limiters[key] = entry
	}
	entry.lastSeen = r.now()
	return entry.limiter
}

// Sweep removes limiters idle for longer than the idle TTL and returns how
// many were dropped
func (r *KeyedRateLimiter) Sweep() int {
	if !r.enabled {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for key, entry := range r.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle limiters every interval until ctx is done
func (r *KeyedRateLimiter) Run(ctx context.Context, interval time.Duration) {
	if !r.enabled {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.WithField("removed", n).Debug("Swept idle rate limiters")
			}
		}
	}
}
