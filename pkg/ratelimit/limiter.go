// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEmptyIdentifier is returned for checks without an identifier.
var ErrEmptyIdentifier = errors.New("identifier cannot be empty")

type counterKey struct {
	identifier string
	window     Window
}

type counter struct {
	count     int64
	windowEnd time.Time
}

// Limiter counts requests per identifier in memory.
type Limiter struct {
	limits []Limit
	now    func() time.Time

	mu       sync.Mutex
	counters map[counterKey]*counter
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter enforcing every limit.
func New(limits []Limit, opts ...Option) (*Limiter, error) {
	if len(limits) == 0 {
		return nil, errors.New("at least one limit is required")
	}
	for _, limit := range limits {
		if err := limit.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rate limit: %w", err)
		}
	}
	l := &Limiter{
		limits:   limits,
		now:      time.Now,
		counters: make(map[counterKey]*counter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow records one request for identifier unless a limit is already
// exhausted. Rejected requests are not counted.
func (l *Limiter) Allow(_ context.Context, identifier string) (*Result, error) {
	if identifier == "" {
		return nil, ErrEmptyIdentifier
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	result := &Result{Allowed: true, Usages: make([]Usage, 0, len(l.limits))}
	counters := make([]*counter, len(l.limits))
	for i, limit := range l.limits {
		c := l.counter(identifier, limit.Window, now)
		counters[i] = c
		if c.count >= limit.Requests {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("request limit exceeded for %s window (%d/%d)", limit.Window, c.count, limit.Requests)
			}
			if wait := c.windowEnd.Sub(now); wait > result.RetryAfter {
				result.RetryAfter = wait
			}
		}
	}
	if result.Allowed {
		for _, c := range counters {
			c.count++
		}
	}
	for i, limit := range l.limits {
		c := counters[i]
		result.Usages = append(result.Usages, Usage{
			Window:    limit.Window,
			Current:   c.count,
			Limit:     limit.Requests,
			Remaining: max(limit.Requests-c.count, 0),
			ResetsAt:  c.windowEnd,
		})
	}
	return result, nil
}

// counter returns the live counter, starting a new window when the old one
// has ended. Callers hold l.mu.
func (l *Limiter) counter(identifier string, w Window, now time.Time) *counter {
	key := counterKey{identifier: identifier, window: w}
	c, ok := l.counters[key]
	if !ok || !now.Before(c.windowEnd) {
		c = &counter{windowEnd: now.Add(w.Duration())}
		l.counters[key] = c
	}
	return c
}

// Reset forgets the usage of identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.counters {
		if key.identifier == identifier {
			delete(l.counters, key)
		}
	}
}

// Prune drops counters whose window has ended and returns how many remain.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, c := range l.counters {
		if !now.Before(c.windowEnd) {
			delete(l.counters, key)
		}
	}
	return len(l.counters)
}

// RunPruner prunes expired counters every interval until ctx is done.
func (l *Limiter) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
