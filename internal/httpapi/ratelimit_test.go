// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg.Now = clock.Now
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Close)
	return rl, clock
}

func TestNewRateLimiter(t *testing.T) {
	t.Run("creates limiter with default values", func(t *testing.T) {
		rl, _ := newLimiter(t, RateLimiterConfig{})
		assert.Equal(t, DefaultBurstCapacity, rl.burstCapacity)
		assert.Equal(t, DefaultSustainedRate, rl.sustainedRate)
		assert.Equal(t, DefaultIdleTTL, rl.idleTTL)
	})

	t.Run("negative values use defaults", func(t *testing.T) {
		rl, _ := newLimiter(t, RateLimiterConfig{BurstCapacity: -5, SustainedRate: -1})
		assert.Equal(t, DefaultBurstCapacity, rl.burstCapacity)
		assert.Equal(t, DefaultSustainedRate, rl.sustainedRate)
	})

	t.Run("tiny rate is clamped", func(t *testing.T) {
		rl, _ := newLimiter(t, RateLimiterConfig{SustainedRate: 0.0001})
		assert.Equal(t, MinSustainedRate, rl.sustainedRate)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows a full burst then rejects", func(t *testing.T) {
		rl, _ := newLimiter(t, RateLimiterConfig{BurstCapacity: 3, SustainedRate: 1})

		for i := range 3 {
			allowed, wait := rl.Allow("10.0.0.1")
			assert.True(t, allowed, "request %d", i)
			assert.Zero(t, wait)
		}
		allowed, wait := rl.Allow("10.0.0.1")
		assert.False(t, allowed)
		assert.Equal(t, time.Second, wait)
	})

	t.Run("refills at the sustained rate", func(t *testing.T) {
		rl, clock := newLimiter(t, RateLimiterConfig{BurstCapacity: 1, SustainedRate: 2})

		allowed, _ := rl.Allow("10.0.0.1")
		require.True(t, allowed)
		allowed, wait := rl.Allow("10.0.0.1")
		require.False(t, allowed)
		assert.Equal(t, 500*time.Millisecond, wait)

		clock.Advance(500 * time.Millisecond)
		allowed, _ = rl.Allow("10.0.0.1")
		assert.True(t, allowed)
	})

	t.Run("refill never exceeds burst", func(t *testing.T) {
		rl, clock := newLimiter(t, RateLimiterConfig{BurstCapacity: 2, SustainedRate: 10})
		rl.Allow("10.0.0.1")
		clock.Advance(time.Hour)

		for range 2 {
			allowed, _ := rl.Allow("10.0.0.1")
			assert.True(t, allowed)
		}
		allowed, _ := rl.Allow("10.0.0.1")
		assert.False(t, allowed)
	})

	t.Run("clients are independent", func(t *testing.T) {
		rl, _ := newLimiter(t, RateLimiterConfig{BurstCapacity: 1, SustainedRate: 1})
		allowed, _ := rl.Allow("10.0.0.1")
		require.True(t, allowed)
		allowed, _ = rl.Allow("10.0.0.2")
		assert.True(t, allowed)
		assert.Equal(t, 2, rl.ClientCount())
	})
}

func TestRateLimiter_Cleanup(t *testing.T) {
	reg := prometheus.NewRegistry()
	rl, clock := newLimiter(t, RateLimiterConfig{Registerer: reg})

	rl.Allow("old")
	clock.Advance(20 * time.Minute)
	rl.Allow("fresh")

	rl.Cleanup(10 * time.Minute)
	assert.Equal(t, 1, rl.ClientCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(rl.clientGauge))
}

func TestRateLimiter_CloseStopsCleanupGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rl := NewRateLimiter(RateLimiterConfig{CleanupInterval: time.Millisecond})
	time.Sleep(5 * time.Millisecond)
	rl.Close()
	rl.Close()
}

func TestRateLimiter_Concurrency(t *testing.T) {
	rl, _ := newLimiter(t, RateLimiterConfig{BurstCapacity: 50, SustainedRate: 1})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 10 {
				ok, _ := rl.Allow("shared")
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
				rl.Allow("client-" + strconv.Itoa(i))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	assert.Equal(t, 11, rl.ClientCount())
}
