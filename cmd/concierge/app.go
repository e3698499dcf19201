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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kadirpekel/concierge/pkg/auth"
	"github.com/kadirpekel/concierge/pkg/config"
	"github.com/kadirpekel/concierge/pkg/config/provider"
	"github.com/kadirpekel/concierge/pkg/httpclient"
	"github.com/kadirpekel/concierge/pkg/model"
	"github.com/kadirpekel/concierge/pkg/model/gemini"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/remote"
	"github.com/kadirpekel/concierge/pkg/session"
	"github.com/kadirpekel/concierge/pkg/task"
)

// app holds what every command builds from the loaded config.
type app struct {
	cfg     *config.Config
	loader  *config.Loader
	metrics *observability.Metrics

	closers []func(context.Context) error
}

// loadApp loads the configuration named by the global flags, or the
// environment based default when no config is given, and re-initializes the
// logger from it.
func loadApp(ctx context.Context, cli *CLI) (*app, error) {
	a := &app{}
	if cli.Config == "" {
		a.cfg = config.Default()
		if err := a.cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default config: %w", err)
		}
	} else {
		typ, err := provider.ParseType(cli.ConfigType)
		if err != nil {
			return nil, err
		}
		cfg, loader, err := config.LoadConfig(ctx, provider.Config{
			Type:      typ,
			Path:      cli.Config,
			Endpoints: cli.ConfigEndpoints,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		a.cfg, a.loader = cfg, loader
		a.closers = append(a.closers, func(context.Context) error { return loader.Close() })
	}

	cleanup, err := initLogger(cli, &a.cfg.Logger)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		a.closers = append(a.closers, func(context.Context) error { cleanup(); return nil })
	}
	return a, nil
}

// watch reloads the config on change. Only the logger section is applied
// live; other changes are logged and take effect on restart.
func (a *app) watch(ctx context.Context, cli *CLI) {
	if a.loader == nil {
		slog.Warn("Config watch requested without a config source")
		return
	}
	onChange := func(cfg *config.Config) {
		if _, err := initLogger(cli, &cfg.Logger); err != nil {
			slog.Error("Failed to apply reloaded logger config", "error", err)
			return
		}
		slog.Info("Configuration reloaded; restart to apply changes beyond logging")
	}
	config.WithOnChange(onChange)(a.loader)
	go func() {
		if err := a.loader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Config watch stopped", "error", err)
		}
	}()
}

// initObservability starts tracing and metrics as configured.
func (a *app) initObservability(ctx context.Context) error {
	obs := a.cfg.Observability
	if obs.Tracing.Enabled {
		tp, err := observability.InitTracer(ctx, obs.Tracing)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		if s, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
			a.closers = append(a.closers, s.Shutdown)
		}
	}
	metrics, err := observability.InitMetrics(obs.Metrics)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	a.metrics = metrics
	if metrics != nil {
		a.closers = append(a.closers, metrics.Shutdown)
	}
	return nil
}

// newModel builds the LLM. name overrides the configured model name.
func (a *app) newModel(ctx context.Context, name string) (model.LLM, error) {
	if err := a.cfg.ValidateModel(); err != nil {
		return nil, err
	}
	m := a.cfg.Model
	if name == "" {
		name = m.Name
	}
	llm, err := gemini.New(ctx, gemini.Config{
		APIKey:      m.APIKey,
		Model:       name,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model %q: %w", name, err)
	}
	return llm, nil
}

func (a *app) newHTTPClient() (*httpclient.Client, error) {
	c := a.cfg.HTTPClient
	return httpclient.NewWithTLS(&c.TLS,
		httpclient.WithTimeout(c.Timeout),
		httpclient.WithMaxRetries(c.MaxRetries),
		httpclient.WithBaseDelay(c.BaseDelay),
	)
}

// discover connects to the remote agents. addresses override the config.
func (a *app) discover(ctx context.Context, client *httpclient.Client, addresses []string) (*remote.Registry, error) {
	if len(addresses) == 0 {
		addresses = a.cfg.Concierge.RemoteAgents
	}
	registry, err := remote.Discover(ctx, addresses, remote.WithHTTPClient(client.StandardClient()))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return registry.Close() })
	return registry, nil
}

// newSessionService opens the session store. The SQL backend also returns
// an A2A task store on the same database; the memory backend returns nil and
// tasks stay in the A2A handler's memory.
func (a *app) newSessionService() (session.Service, *task.SQLStore, error) {
	s := a.cfg.Session
	if s.Backend != config.SessionBackendSQL {
		return session.InMemoryService(), nil, nil
	}
	svc, err := session.OpenSQLService(s.Dialect, s.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return svc.Close() })
	tasks, err := task.StoreFor(svc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open task store: %w", err)
	}
	slog.Info("Using SQL session store", "dialect", svc.Dialect())
	return svc, tasks, nil
}

// newValidator returns nil when auth is disabled.
func (a *app) newValidator(ctx context.Context) (auth.TokenValidator, error) {
	c := a.cfg.Auth
	if !c.Enabled {
		return nil, nil
	}
	v, err := auth.NewJWTValidator(ctx, auth.JWTValidatorConfig{
		JWKSURL:         c.JWKSURL,
		Issuer:          c.Issuer,
		Audience:        c.Audience,
		RefreshInterval: c.RefreshInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT validator: %w", err)
	}
	return v, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("Shutdown error", "error", err)
		}
	}
	a.closers = nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
