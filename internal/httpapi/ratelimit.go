// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default rate limiting values.
const (
	// DefaultBurstCapacity is the number of requests a client can make in a
	// burst before rate limiting kicks in.
	DefaultBurstCapacity = 10

	// DefaultSustainedRate is the token refill rate in requests per second.
	DefaultSustainedRate = 1.0

	// MinSustainedRate ensures sustained rate is at least 0.01 tokens/second.
	MinSustainedRate = 0.01

	// DefaultCleanupInterval is how often idle buckets are swept.
	DefaultCleanupInterval = time.Minute

	// DefaultIdleTTL is how long a bucket may go unused before it is dropped.
	DefaultIdleTTL = 10 * time.Minute
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// BurstCapacity defaults to DefaultBurstCapacity if zero or negative.
	BurstCapacity int

	// SustainedRate defaults to DefaultSustainedRate if zero or negative.
	SustainedRate float64

	// CleanupInterval defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// IdleTTL defaults to DefaultIdleTTL if zero.
	IdleTTL time.Duration

	// Registerer, when set, receives a gauge of tracked clients.
	Registerer prometheus.Registerer

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-client token bucket. It is safe for concurrent use.
//
// A background goroutine sweeps idle buckets. Call Close to stop it.
type RateLimiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	burstCapacity int
	sustainedRate float64 // tokens per second
	idleTTL       time.Duration
	now           func() time.Time

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	clientGauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	burstCapacity := cfg.BurstCapacity
	if burstCapacity <= 0 {
		burstCapacity = DefaultBurstCapacity
	}

	sustainedRate := cfg.SustainedRate
	if sustainedRate <= 0 {
		sustainedRate = DefaultSustainedRate
	}
	if sustainedRate < MinSustainedRate {
		sustainedRate = MinSustainedRate
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	rl := &RateLimiter{
		buckets:       make(map[string]*bucket),
		burstCapacity: burstCapacity,
		sustainedRate: sustainedRate,
		idleTTL:       idleTTL,
		now:           now,
		stopChan:      make(chan struct{}),
	}

	if cfg.Registerer != nil {
		rl.clientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authcore",
			Name:      "ratelimiter_clients",
			Help:      "Current number of tracked rate limiter clients",
		})
		cfg.Registerer.MustRegister(rl.clientGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Allow consumes one token for key. When no token is available it returns
// false and the wait until the next token.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	b, exists := rl.buckets[key]
	if !exists {
		// New clients start with a full bucket.
		b = &bucket{tokens: float64(rl.burstCapacity), lastCheck: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * rl.sustainedRate
		if b.tokens > float64(rl.burstCapacity) {
			b.tokens = float64(rl.burstCapacity)
		}
		b.lastCheck = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, 0
	}

	deficit := 1.0 - b.tokens
	return false, time.Duration(deficit / rl.sustainedRate * float64(time.Second))
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Cleanup removes buckets not touched within maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for key, b := range rl.buckets {
		if b.lastCheck.Before(threshold) {
			delete(rl.buckets, key)
		}
	}

	if rl.clientGauge != nil {
		rl.clientGauge.Set(float64(len(rl.buckets)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.idleTTL)
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit. It is safe to
// call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stopChan) })
	rl.wg.Wait()
}
