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
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/httpclient"
	"github.com/kadirpekel/concierge/pkg/inspiration"
	"github.com/kadirpekel/concierge/pkg/runner"
	"github.com/kadirpekel/concierge/pkg/server"
)

// InspirationAppName scopes the inspiration agent's sessions.
const InspirationAppName = "inspiration_app"

// InspirationCmd starts the inspiration agent as a standalone A2A server.
type InspirationCmd struct {
	Host  string `help:"Listen host (overrides config)."`
	Port  int    `help:"Listen port (overrides config)."`
	Model string `help:"Model name (overrides config)."`
}

func (c *InspirationCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if c.Host != "" {
		a.cfg.Inspiration.Host = c.Host
	}
	if c.Port != 0 {
		a.cfg.Inspiration.Port = c.Port
	}
	if c.Model != "" {
		a.cfg.Inspiration.Model = c.Model
	}
	if cli.Watch {
		a.watch(ctx, cli)
	}
	if err := a.initObservability(ctx); err != nil {
		return err
	}
	client, err := a.newHTTPClient()
	if err != nil {
		return err
	}

	srv, err := newInspirationServer(ctx, a, client)
	if err != nil {
		return err
	}
	fmt.Printf("\nInspiration agent %s\n  A2A: %s\n\n", appVersion(), a.cfg.InspirationURL())
	if err := srv.Start(ctx); err != nil {
		return err
	}
	slog.Info("Server stopped")
	return nil
}

// newInspirationServer builds the inspiration agent server. Places lookups
// go through client.
func newInspirationServer(ctx context.Context, a *app, client *httpclient.Client) (*server.HTTPServer, error) {
	cfg := a.cfg.Inspiration
	llm, err := a.newModel(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.MapsAPIKey == "" {
		slog.Warn("No maps API key configured; place verification will fail")
	}
	root, err := inspiration.New(inspiration.Config{
		Model:    llm,
		Geocoder: inspiration.NewPlacesGeocoder(cfg.PlacesEndpoint, cfg.MapsAPIKey, client),
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	sessions, tasks, err := a.newSessionService()
	if err != nil {
		return nil, err
	}
	r, err := runner.New(runner.Config{
		AppName:        InspirationAppName,
		Agent:          root,
		SessionService: sessions,
		Metrics:        a.metrics,
	})
	if err != nil {
		return nil, err
	}

	executor := server.NewExecutor(server.ExecutorConfig{
		Runner:    r,
		RunConfig: agent.RunConfig{StreamingMode: agent.StreamingModeNone},
	})
	card := server.BuildCard(server.CardConfig{
		Name:        inspiration.AgentName,
		Description: inspiration.AgentDescription,
		URL:         a.cfg.InspirationURL(),
		Version:     appVersion(),
	})
	opts := []server.Option{server.WithMetrics(a.metrics)}
	if tasks != nil {
		opts = append(opts, server.WithTaskStore(tasks))
	}
	return server.New(server.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		MetricsPath: a.cfg.Observability.Metrics.Endpoint,
	}, card, executor, opts...), nil
}
