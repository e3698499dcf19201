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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/concierge/pkg/auth"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/ratelimit"
	"github.com/kadirpekel/concierge/pkg/relay"
	"github.com/kadirpekel/concierge/pkg/remote"
)

// Default listener settings.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8083

	shutdownTimeout = 5 * time.Second
)

// Config configures the HTTP listener.
type Config struct {
	Host string
	Port int

	// AllowedOrigins restricts CORS. Empty allows every origin.
	AllowedOrigins []string

	// AuthExcludedPaths are served without a token when auth is enabled.
	// The card, health and metrics paths are always excluded.
	AuthExcludedPaths []string

	// RequireAuth rejects A2A calls without a validated token.
	RequireAuth bool

	// MetricsPath serves metrics when WithMetrics is set. Defaults to /metrics.
	MetricsPath string
}

// Address returns host:port.
func (c Config) Address() string {
	host, port := c.Host, c.Port
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Option configures an HTTPServer.
type Option func(*HTTPServer)

// WithAuth enables JWT validation on every non-excluded route.
func WithAuth(v auth.TokenValidator) Option {
	return func(s *HTTPServer) { s.validator = v }
}

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *HTTPServer) { s.metrics = m }
}

// WithRelay serves the chat relay on POST /chat.
func WithRelay(r *relay.Relay) Option {
	return func(s *HTTPServer) { s.relay = r }
}

// WithRegistry lists the discovered remote agents on GET /agents.
func WithRegistry(r *remote.Registry) Option {
	return func(s *HTTPServer) { s.registry = r }
}

// WithTaskStore persists A2A tasks outside the default in-memory store.
func WithTaskStore(store a2asrv.TaskStore) Option {
	return func(s *HTTPServer) { s.taskStore = store }
}

// WithRateLimiter limits requests to the A2A and chat routes per caller.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *HTTPServer) { s.limiter = l }
}

// HTTPServer serves one agent over A2A JSON-RPC plus the chat surface.
type HTTPServer struct {
	cfg      Config
	card     *a2a.AgentCard
	executor *Executor
	server   *http.Server

	validator auth.TokenValidator
	metrics   *observability.Metrics
	relay     *relay.Relay
	registry  *remote.Registry
	taskStore a2asrv.TaskStore
	limiter   *ratelimit.Limiter
}

// New creates an HTTPServer for the agent described by card.
func New(cfg Config, card *a2a.AgentCard, executor *Executor, opts ...Option) *HTTPServer {
	s := &HTTPServer{cfg: cfg, card: card, executor: executor}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Address returns the listen address.
func (s *HTTPServer) Address() string { return s.cfg.Address() }

// Handler builds the router with its middleware chain:
// observability, logging, CORS, auth, routes.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.HTTPMiddleware(s.recorder()))
	r.Use(loggingMiddleware)
	r.Use(s.corsMiddleware)
	if s.validator != nil {
		excluded := append([]string{"/health", s.metricsPath(), a2asrv.WellKnownAgentCardPath}, s.cfg.AuthExcludedPaths...)
		r.Use(auth.Middleware(s.validator, excluded...))
		slog.Info("Authentication enabled", "excluded_paths", excluded)
	}

	r.Get("/health", s.handleHealth)
	r.Handle(a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(s.card))

	// Routes that reach the model.
	llm := chi.Chain()
	if s.limiter != nil {
		llm = chi.Chain(ratelimit.Middleware(s.limiter, nil))
	}

	if s.executor != nil {
		var handlerOpts []a2asrv.RequestHandlerOption
		if s.taskStore != nil {
			handlerOpts = append(handlerOpts, a2asrv.WithTaskStore(s.taskStore))
		}
		if s.validator != nil {
			handlerOpts = append(handlerOpts, a2asrv.WithCallInterceptor(auth.NewInterceptor(s.cfg.RequireAuth)))
		}
		r.Handle("/", llm.Handler(a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(s.executor, handlerOpts...))))
	}
	if s.registry != nil {
		r.Get("/agents", s.handleAgents)
	}
	if s.relay != nil {
		r.Post("/chat", llm.HandlerFunc(s.handleChat).ServeHTTP)
	}
	if s.metrics != nil {
		r.Handle(s.metricsPath(), s.metrics.Handler())
	}
	return r
}

func (s *HTTPServer) metricsPath() string {
	if s.cfg.MetricsPath == "" {
		return observability.DefaultMetricsPath
	}
	return s.cfg.MetricsPath
}

func (s *HTTPServer) recorder() observability.Recorder {
	if s.metrics == nil {
		return observability.NoopRecorder{}
	}
	return s.metrics
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.Address(), "agent", s.card.Name)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops the server, waiting up to five seconds for open requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	slog.Info("HTTP server shutting down", "address", s.Address())
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleAgents(w http.ResponseWriter, _ *http.Request) {
	cards := s.registry.Cards()
	if cards == nil {
		cards = []*a2a.AgentCard{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": cards})
}

func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AllowedOrigins) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin := r.Header.Get("Origin"); origin != "" {
			for _, allowed := range s.cfg.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware does not wrap the ResponseWriter so SSE flushing keeps
// working.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
