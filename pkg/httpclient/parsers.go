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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfter reads the standard Retry-After header, in seconds or as
// an HTTP date.
func ParseRetryAfter(h http.Header) RateLimitInfo {
	v := h.Get("Retry-After")
	if v == "" {
		return RateLimitInfo{}
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return RateLimitInfo{RetryAfter: time.Duration(secs) * time.Second}
	}
	if at, err := http.ParseTime(v); err == nil {
		return RateLimitInfo{ResetTime: at.Unix()}
	}
	return RateLimitInfo{}
}
