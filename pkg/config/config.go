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

// Package config loads the concierge configuration from a file or a
// key-value store.
//
//	model:
//	  provider: gemini
//	  name: gemini-2.5-flash
//	  api_key: ${GOOGLE_API_KEY}
//	concierge:
//	  port: 8083
//	  remote_agents: ["http://localhost:10001"]
//	  itinerary_file: ./itinerary.json
//	inspiration:
//	  port: 10001
//	  maps_api_key: ${GOOGLE_PLACES_API_KEY}
//	session:
//	  backend: sql
//	  dialect: sqlite
//	  dsn: file:concierge.db
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kadirpekel/concierge/pkg/httpclient"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/ratelimit"
)

// Defaults.
const (
	DefaultModelProvider   = "gemini"
	DefaultModelName       = "gemini-2.5-flash"
	DefaultConciergePort   = 8083
	DefaultInspirationPort = 10001
	DefaultHost            = "0.0.0.0"
	DefaultRemoteAgent     = "http://0.0.0.0:10001"
	DefaultHTTPTimeout     = 60 * time.Second
	DefaultMaxRetries      = 5
	DefaultBaseDelay       = 2 * time.Second

	SessionBackendMemory = "memory"
	SessionBackendSQL    = "sql"
)

// Validation errors.
var (
	ErrMissingAPIKey   = errors.New("model api_key is required")
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrInvalidSession  = errors.New("invalid session store")
	ErrInvalidAuth     = errors.New("invalid auth config")
)

// Config is the root configuration.
type Config struct {
	Name string `yaml:"name,omitempty"`

	Model         ModelConfig          `yaml:"model,omitempty"`
	Concierge     ConciergeConfig      `yaml:"concierge,omitempty"`
	Inspiration   InspirationConfig    `yaml:"inspiration,omitempty"`
	Session       SessionConfig        `yaml:"session,omitempty"`
	Auth          AuthConfig           `yaml:"auth,omitempty"`
	RateLimit     RateLimitConfig      `yaml:"rate_limit,omitempty"`
	HTTPClient    HTTPClientConfig     `yaml:"http_client,omitempty"`
	Logger        LoggerConfig         `yaml:"logger,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
}

// ModelConfig selects the LLM.
type ModelConfig struct {
	Provider    string  `yaml:"provider,omitempty"`
	Name        string  `yaml:"name,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// ConciergeConfig configures the root agent server.
type ConciergeConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// PublicURL is advertised on the agent card. Defaults to http://host:port/.
	PublicURL string `yaml:"public_url,omitempty"`

	// RemoteAgents are the base URLs whose agent cards are resolved at startup.
	RemoteAgents []string `yaml:"remote_agents,omitempty"`

	// ItineraryFile seeds new sessions with a trip. Optional.
	ItineraryFile string `yaml:"itinerary_file,omitempty"`

	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// InspirationConfig configures the inspiration agent server.
type InspirationConfig struct {
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	PublicURL string `yaml:"public_url,omitempty"`

	// Model overrides model.name for the inspiration agents.
	Model string `yaml:"model,omitempty"`

	MapsAPIKey     string `yaml:"maps_api_key,omitempty"`
	PlacesEndpoint string `yaml:"places_endpoint,omitempty"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	// Backend is "memory" or "sql".
	Backend string `yaml:"backend,omitempty"`

	// Dialect is sqlite, postgres or mysql.
	Dialect string `yaml:"dialect,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

// AuthConfig enables JWT authentication on the servers.
type AuthConfig struct {
	Enabled         bool          `yaml:"enabled,omitempty"`
	JWKSURL         string        `yaml:"jwks_url,omitempty"`
	Issuer          string        `yaml:"issuer,omitempty"`
	Audience        string        `yaml:"audience,omitempty"`
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`

	// RequireAuth rejects unauthenticated A2A calls. Default: true.
	RequireAuth *bool `yaml:"require_auth,omitempty"`

	ExcludedPaths []string `yaml:"excluded_paths,omitempty"`
}

// IsRequireAuth reports the effective RequireAuth.
func (c *AuthConfig) IsRequireAuth() bool {
	return c.RequireAuth == nil || *c.RequireAuth
}

// HTTPClientConfig configures outbound HTTP calls.
type HTTPClientConfig struct {
	Timeout    time.Duration        `yaml:"timeout,omitempty"`
	MaxRetries int                  `yaml:"max_retries,omitempty"`
	BaseDelay  time.Duration        `yaml:"base_delay,omitempty"`
	TLS        httpclient.TLSConfig `yaml:"tls,omitempty"`
}

// LoggerConfig configures logging. CLI flags take precedence.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

// RateLimitConfig limits requests to the model-backed routes per caller.
type RateLimitConfig struct {
	Enabled bool              `yaml:"enabled,omitempty"`
	Limits  []ratelimit.Limit `yaml:"limits,omitempty"`
}

// DefaultRateLimit applies when rate limiting is enabled without limits.
var DefaultRateLimit = ratelimit.Limit{Window: ratelimit.WindowMinute, Requests: 30}

// SetDefaults fills in every unset value.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "concierge"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = DefaultModelProvider
	}
	if c.Model.Name == "" {
		c.Model.Name = DefaultModelName
	}

	if c.Concierge.Host == "" {
		c.Concierge.Host = DefaultHost
	}
	if c.Concierge.Port == 0 {
		c.Concierge.Port = DefaultConciergePort
	}
	if len(c.Concierge.RemoteAgents) == 0 {
		c.Concierge.RemoteAgents = []string{DefaultRemoteAgent}
	}

	if c.Inspiration.Host == "" {
		c.Inspiration.Host = DefaultHost
	}
	if c.Inspiration.Port == 0 {
		c.Inspiration.Port = DefaultInspirationPort
	}
	if c.Inspiration.Model == "" {
		c.Inspiration.Model = c.Model.Name
	}

	if c.Session.Backend == "" {
		c.Session.Backend = SessionBackendMemory
	}
	if c.Session.Backend == SessionBackendSQL && c.Session.Dialect == "" {
		c.Session.Dialect = "sqlite"
	}

	if c.HTTPClient.Timeout == 0 {
		c.HTTPClient.Timeout = DefaultHTTPTimeout
	}
	if c.HTTPClient.MaxRetries == 0 {
		c.HTTPClient.MaxRetries = DefaultMaxRetries
	}
	if c.HTTPClient.BaseDelay == 0 {
		c.HTTPClient.BaseDelay = DefaultBaseDelay
	}

	if c.RateLimit.Enabled && len(c.RateLimit.Limits) == 0 {
		c.RateLimit.Limits = []ratelimit.Limit{DefaultRateLimit}
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}

	c.Observability.SetDefaults()
	if c.Observability.Tracing.ServiceName == "" || c.Observability.Tracing.ServiceName == observability.DefaultServiceName {
		c.Observability.Tracing.ServiceName = c.Name
	}
}

// Validate checks the configuration. The model API key is only required by
// commands that talk to the model, see ValidateModel.
func (c *Config) Validate() error {
	if c.Model.Provider != DefaultModelProvider {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, c.Model.Provider)
	}
	for name, port := range map[string]int{"concierge": c.Concierge.Port, "inspiration": c.Inspiration.Port} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s: %w: %d", name, ErrInvalidPort, port)
		}
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendSQL:
		if !slices.Contains([]string{"sqlite", "sqlite3", "postgres", "mysql"}, c.Session.Dialect) {
			return fmt.Errorf("%w: unsupported dialect %q", ErrInvalidSession, c.Session.Dialect)
		}
		if c.Session.DSN == "" {
			return fmt.Errorf("%w: dsn is required for the sql backend", ErrInvalidSession)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidSession, c.Session.Backend)
	}

	if c.Auth.Enabled && c.Auth.JWKSURL == "" {
		return fmt.Errorf("%w: jwks_url is required when auth is enabled", ErrInvalidAuth)
	}

	if c.RateLimit.Enabled {
		for _, l := range c.RateLimit.Limits {
			if err := l.Validate(); err != nil {
				return fmt.Errorf("rate_limit: %w", err)
			}
		}
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// ValidateModel checks that the model can be reached.
func (c *Config) ValidateModel() error {
	if c.Model.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// ConciergeURL is the URL advertised on the concierge agent card.
func (c *Config) ConciergeURL() string {
	if c.Concierge.PublicURL != "" {
		return c.Concierge.PublicURL
	}
	return fmt.Sprintf("http://%s:%d/", advertisedHost(c.Concierge.Host), c.Concierge.Port)
}

// InspirationURL is the URL advertised on the inspiration agent card.
func (c *Config) InspirationURL() string {
	if c.Inspiration.PublicURL != "" {
		return c.Inspiration.PublicURL
	}
	return fmt.Sprintf("http://%s:%d/", advertisedHost(c.Inspiration.Host), c.Inspiration.Port)
}

func advertisedHost(host string) string {
	if host == "" || host == DefaultHost {
		return "localhost"
	}
	return host
}
