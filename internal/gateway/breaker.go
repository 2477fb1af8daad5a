package gateway

import (
	"sync"
	"time"
)

// BreakerConfig controls when a failing venue is short-circuited.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	CircuitTimeout   time.Duration // how long to fail fast once open
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		CircuitTimeout:   30 * time.Second,
	}
}

// breaker counts consecutive failures. After FailureThreshold failures it
// rejects calls until CircuitTimeout has passed since the last success,
// then lets one call through to probe the venue.
type breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	failures  int
	healthyAt time.Time
	openedAt  time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &breaker{cfg: cfg, now: time.Now, healthyAt: time.Now()}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.cfg.FailureThreshold {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cfg.CircuitTimeout {
		// half-open: one probe, re-armed on failure
		b.openedAt = b.now()
		return true
	}
	return false
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.healthyAt = b.now()
		return
	}
	b.failures++
	if b.failures == b.cfg.FailureThreshold {
		b.openedAt = b.now()
	}
}

// Health is a point-in-time view of the breaker.
type Health struct {
	Failures  int       `json:"failures"`
	Open      bool      `json:"open"`
	HealthyAt time.Time `json:"healthy_at"`
}

func (b *breaker) health() Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Health{
		Failures:  b.failures,
		Open:      b.failures >= b.cfg.FailureThreshold,
		HealthyAt: b.healthyAt,
	}
}
