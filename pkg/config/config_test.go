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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/config/provider"
	"github.com/kadirpekel/concierge/pkg/ratelimit"
)

const sampleYAML = `
name: travel
model:
  api_key: ${CONCIERGE_TEST_KEY}
  temperature: 0.2
concierge:
  port: 9090
  remote_agents:
    - http://localhost:10001
    - ${CONCIERGE_TEST_REMOTE:-http://localhost:10002}
  itinerary_file: ./itinerary.json
session:
  backend: sql
  dsn: "file::memory:?cache=shared"
auth:
  enabled: true
  jwks_url: https://auth.example.com/jwks.json
  refresh_interval: 5m
  require_auth: false
rate_limit:
  enabled: true
  limits:
    - window: hour
      requests: 100
http_client:
  timeout: 10s
  tls:
    insecure_skip_verify: true
observability:
  metrics:
    enabled: true
`

func TestParse(t *testing.T) {
	t.Setenv("CONCIERGE_TEST_KEY", "secret")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "travel", cfg.Name)
	assert.Equal(t, "secret", cfg.Model.APIKey)
	assert.Equal(t, DefaultModelName, cfg.Model.Name)
	assert.Equal(t, 0.2, cfg.Model.Temperature)
	assert.Equal(t, 9090, cfg.Concierge.Port)
	assert.Equal(t, []string{"http://localhost:10001", "http://localhost:10002"}, cfg.Concierge.RemoteAgents)
	assert.Equal(t, DefaultInspirationPort, cfg.Inspiration.Port)
	assert.Equal(t, DefaultModelName, cfg.Inspiration.Model)
	assert.Equal(t, "sqlite", cfg.Session.Dialect)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshInterval)
	assert.False(t, cfg.Auth.IsRequireAuth())
	require.Len(t, cfg.RateLimit.Limits, 1)
	assert.Equal(t, ratelimit.WindowHour, cfg.RateLimit.Limits[0].Window)
	assert.Equal(t, int64(100), cfg.RateLimit.Limits[0].Requests)
	assert.Equal(t, 10*time.Second, cfg.HTTPClient.Timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.HTTPClient.MaxRetries)
	assert.True(t, cfg.HTTPClient.TLS.InsecureSkipVerify)
	assert.True(t, cfg.Observability.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Observability.Metrics.Endpoint)
	assert.Equal(t, "travel", cfg.Observability.Tracing.ServiceName)
	assert.NoError(t, cfg.ValidateModel())
	assert.Equal(t, "http://localhost:9090/", cfg.ConciergeURL())
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"concierge": {"port": 7000, "remote_agents": "http://a:1,http://b:2"}}`))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Concierge.Port)
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, cfg.Concierge.RemoteAgents)
	assert.ErrorIs(t, cfg.ValidateModel(), ErrMissingAPIKey)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"provider", "model: {provider: openai}", ErrUnknownProvider},
		{"port", "concierge: {port: 70000}", ErrInvalidPort},
		{"session backend", "session: {backend: redis}", ErrInvalidSession},
		{"session dsn", "session: {backend: sql}", ErrInvalidSession},
		{"session dialect", "session: {backend: sql, dialect: oracle, dsn: x}", ErrInvalidSession},
		{"auth", "auth: {enabled: true}", ErrInvalidAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Parse([]byte("rate_limit: {enabled: true, limits: [{window: fortnight, requests: 1}]}"))
	assert.ErrorContains(t, err, "rate_limit")

	cfg, err := Parse([]byte("rate_limit: {enabled: true}"))
	require.NoError(t, err)
	assert.Equal(t, []ratelimit.Limit{DefaultRateLimit}, cfg.RateLimit.Limits)

	_, err = Parse([]byte("unknown_section: true"))
	assert.Error(t, err)

	_, err = Parse([]byte("{not yaml or json"))
	assert.Error(t, err)
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("CONCIERGE_A", "alpha")
	tests := map[string]string{
		"plain":                      "plain",
		"${CONCIERGE_A}":             "alpha",
		"$CONCIERGE_A-x":             "alpha-x",
		"${CONCIERGE_UNSET:-def}":    "def",
		"${CONCIERGE_A:-def}":        "alpha",
		"pre-${CONCIERGE_UNSET}-end": "pre--end",
	}
	for in, want := range tests {
		assert.Equal(t, want, expandEnvString(in), in)
	}
}

func TestLoader_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concierge: {port: 8001}\n"), 0o644))

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()
	assert.Equal(t, 8001, cfg.Concierge.Port)

	reloaded := make(chan *Config, 1)
	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	watched := NewLoader(p, WithOnChange(func(c *Config) { reloaded <- c }))
	defer watched.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watched.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("concierge: {port: 8002}\n"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, 8002, c.Concierge.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, LoadEnvFiles())

	require.NoError(t, os.WriteFile(".env", []byte("CONCIERGE_FROM_DOTENV=yes\n"), 0o644))
	t.Setenv("CONCIERGE_FROM_DOTENV", "")
	require.NoError(t, os.Unsetenv("CONCIERGE_FROM_DOTENV"))
	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "yes", os.Getenv("CONCIERGE_FROM_DOTENV"))
}

func TestDefault(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "k")
	cfg := Default()
	assert.Equal(t, "k", cfg.Model.APIKey)
	assert.Equal(t, []string{DefaultRemoteAgent}, cfg.Concierge.RemoteAgents)
	assert.NoError(t, cfg.Validate())
}
