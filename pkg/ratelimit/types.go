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

// Package ratelimit limits how many requests a caller may send to the
// LLM-backed routes in a time window.
//
// Limits are counted per identifier, usually the authenticated user or the
// client address, with fixed windows:
//
//	rate_limit:
//	  enabled: true
//	  limits:
//	    - window: minute
//	      requests: 20
//	    - window: day
//	      requests: 500
package ratelimit

import (
	"fmt"
	"time"
)

// Window is the length of a fixed counting window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Limit allows Requests per Window.
type Limit struct {
	Window   Window `yaml:"window"`
	Requests int64  `yaml:"requests"`
}

// Validate checks the limit.
func (l Limit) Validate() error {
	if l.Window.Duration() == 0 {
		return fmt.Errorf("invalid window %q (use minute, hour or day)", l.Window)
	}
	if l.Requests <= 0 {
		return fmt.Errorf("requests for %s window must be positive", l.Window)
	}
	return nil
}

// Usage is the state of one limit for an identifier.
type Usage struct {
	Window    Window    `json:"window"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Result is the outcome of a check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	Usages     []Usage       `json:"usages"`
	RetryAfter time.Duration `json:"-"`
}

// mostRestrictive returns the usage with the fewest remaining requests.
func (r *Result) mostRestrictive() *Usage {
	var best *Usage
	for i := range r.Usages {
		u := &r.Usages[i]
		if best == nil || u.Remaining < best.Remaining {
			best = u
		}
	}
	return best
}
