// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ratelimit keeps one token bucket per key (for example per license
// key) in a bounded ristretto cache.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/time/rate"
)

// Policy allows Limit events per Window, refilled continuously.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) every() rate.Limit {
	return rate.Every(p.Window / time.Duration(p.Limit))
}

// Decision describes the bucket state after a check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum one.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

type Limiter struct {
	mu     sync.Mutex
	cache  *ristretto.Cache
	policy Policy
	now    func() time.Time
}

// New builds a limiter able to track maxKeys buckets. Evicted or expired
// buckets start full again.
func New(policy Policy, maxKeys int64) (*Limiter, error) {
	if policy.Limit <= 0 || policy.Window <= 0 {
		return nil, fmt.Errorf("invalid rate limit policy: %d per %s", policy.Limit, policy.Window)
	}
	if maxKeys <= 0 {
		maxKeys = 100000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxKeys * 10,
		MaxCost:            maxKeys,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter cache: %w", err)
	}

	return &Limiter{
		cache:  cache,
		policy: policy,
		now:    time.Now,
	}, nil
}

func (l *Limiter) Policy() Policy {
	return l.policy
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) Decision {
	return l.take(key, true)
}

// Check reports whether key has a token left without consuming it.
func (l *Limiter) Check(key string) Decision {
	return l.take(key, false)
}

func (l *Limiter) take(key string, consume bool) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket := l.bucket(key)

	decision := Decision{Limit: l.policy.Limit}

	if consume {
		decision.Allowed = bucket.AllowN(now, 1)
	} else {
		decision.Allowed = bucket.TokensAt(now) >= 1
	}

	tokens := bucket.TokensAt(now)
	decision.Remaining = max(int(math.Floor(tokens)), 0)

	missing := float64(l.policy.Limit) - tokens
	decision.Reset = now.Add(time.Duration(missing / float64(bucket.Limit()) * float64(time.Second)))

	if !decision.Allowed {
		decision.RetryAfter = time.Duration((1 - tokens) / float64(bucket.Limit()) * float64(time.Second))
	}

	l.cache.SetWithTTL(key, bucket, 1, l.policy.Window)
	l.cache.Wait()

	return decision
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if cached, ok := l.cache.Get(key); ok {
		if bucket, ok := cached.(*rate.Limiter); ok {
			return bucket
		}
	}
	return rate.NewLimiter(l.policy.every(), l.policy.Limit)
}

func (l *Limiter) Close() {
	l.cache.Close()
}
