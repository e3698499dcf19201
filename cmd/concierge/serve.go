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
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/concierge"
	"github.com/kadirpekel/concierge/pkg/httpclient"
	"github.com/kadirpekel/concierge/pkg/ratelimit"
	"github.com/kadirpekel/concierge/pkg/relay"
	"github.com/kadirpekel/concierge/pkg/runner"
	"github.com/kadirpekel/concierge/pkg/server"
	"github.com/kadirpekel/concierge/pkg/task"
)

const readyTimeout = 15 * time.Second

// ServeCmd starts the concierge A2A server.
type ServeCmd struct {
	Host            string   `help:"Listen host (overrides config)."`
	Port            int      `help:"Listen port (overrides config)."`
	Remote          []string `help:"Remote agent base URLs (overrides config)." sep:","`
	WithInspiration bool     `name:"with-inspiration" help:"Also run the inspiration agent in this process and connect to it."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	c.applyOverrides(a)

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

	g, gctx := errgroup.WithContext(ctx)

	remotes := a.cfg.Concierge.RemoteAgents
	if c.WithInspiration {
		insp, err := newInspirationServer(gctx, a, client)
		if err != nil {
			return err
		}
		g.Go(func() error { return insp.Start(gctx) })
		url := a.cfg.InspirationURL()
		if err := waitReady(gctx, client, url); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		remotes = withRemote(remotes, url)
	}

	srv, err := c.newConciergeServer(gctx, a, client, remotes)
	if err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	g.Go(func() error { return srv.Start(gctx) })

	printStartup(a, srv)
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped")
	return nil
}

func (c *ServeCmd) applyOverrides(a *app) {
	if c.Host != "" {
		a.cfg.Concierge.Host = c.Host
	}
	if c.Port != 0 {
		a.cfg.Concierge.Port = c.Port
	}
	if len(c.Remote) > 0 {
		a.cfg.Concierge.RemoteAgents = c.Remote
	}
}

// withRemote returns remotes plus url, unless url is already listed.
func withRemote(remotes []string, url string) []string {
	out := make([]string, 0, len(remotes)+1)
	for _, r := range remotes {
		if strings.TrimSuffix(r, "/") == strings.TrimSuffix(url, "/") {
			continue
		}
		out = append(out, r)
	}
	return append(out, url)
}

// newConciergeServer discovers the remote agents and builds the root agent
// server with chat and agent listing routes.
func (c *ServeCmd) newConciergeServer(ctx context.Context, a *app, client *httpclient.Client, remotes []string) (*server.HTTPServer, error) {
	r, host, tasks, err := newConciergeRunner(ctx, a, client, remotes)
	if err != nil {
		return nil, err
	}
	validator, err := a.newValidator(ctx)
	if err != nil {
		return nil, err
	}

	executor := server.NewExecutor(server.ExecutorConfig{
		Runner:    r,
		RunConfig: agent.RunConfig{StreamingMode: agent.StreamingModeNone},
	})
	card := server.BuildCard(server.CardConfig{
		Name:        concierge.AgentName,
		Description: concierge.AgentDescription,
		URL:         a.cfg.ConciergeURL(),
		Version:     appVersion(),
		BearerAuth:  validator != nil,
	})

	cfg := a.cfg.Concierge
	opts := []server.Option{
		server.WithRelay(relay.New(r)),
		server.WithRegistry(host.Registry()),
		server.WithMetrics(a.metrics),
	}
	if validator != nil {
		opts = append(opts, server.WithAuth(validator))
	}
	if tasks != nil {
		opts = append(opts, server.WithTaskStore(tasks))
	}
	if rl := a.cfg.RateLimit; rl.Enabled {
		limiter, err := ratelimit.New(rl.Limits)
		if err != nil {
			return nil, err
		}
		go limiter.RunPruner(ctx, time.Minute)
		opts = append(opts, server.WithRateLimiter(limiter))
	}
	return server.New(server.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		AllowedOrigins:    cfg.AllowedOrigins,
		AuthExcludedPaths: a.cfg.Auth.ExcludedPaths,
		RequireAuth:       a.cfg.Auth.IsRequireAuth(),
		MetricsPath:       a.cfg.Observability.Metrics.Endpoint,
	}, card, executor, opts...), nil
}

// newConciergeRunner builds the root agent over the discovered remote
// agents. It is shared by serve and chat.
func newConciergeRunner(ctx context.Context, a *app, client *httpclient.Client, remotes []string) (*runner.Runner, *concierge.Host, *task.SQLStore, error) {
	registry, err := a.discover(ctx, client, remotes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to discover remote agents: %w", err)
	}
	if len(registry.Names()) == 0 {
		slog.Warn("No remote agents available; the concierge can only answer directly")
	}

	llm, err := a.newModel(ctx, "")
	if err != nil {
		return nil, nil, nil, err
	}
	host := concierge.NewHost(registry, concierge.WithItineraryFile(a.cfg.Concierge.ItineraryFile))
	root, err := host.NewAgent(llm, a.metrics)
	if err != nil {
		return nil, nil, nil, err
	}
	sessions, tasks, err := a.newSessionService()
	if err != nil {
		return nil, nil, nil, err
	}
	r, err := runner.New(runner.Config{
		AppName:        relay.DefaultAppName,
		Agent:          root,
		SessionService: sessions,
		Metrics:        a.metrics,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return r, host, tasks, nil
}

// waitReady polls the health route at baseURL until it answers.
func waitReady(ctx context.Context, client *httpclient.Client, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	hc := client.StandardClient()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/health", nil)
		if err != nil {
			return err
		}
		if resp, err := hc.Do(req); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("agent at %s not ready: %w", baseURL, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printStartup(a *app, srv *server.HTTPServer) {
	base := strings.TrimSuffix(a.cfg.ConciergeURL(), "/")
	fmt.Printf("\nConcierge %s\n", appVersion())
	fmt.Printf("  A2A:     %s/\n", base)
	fmt.Printf("  Chat:    %s/chat\n", base)
	fmt.Printf("  Agents:  %s/agents\n", base)
	if a.metrics != nil {
		fmt.Printf("  Metrics: %s%s\n", base, a.cfg.Observability.Metrics.Endpoint)
	}
	fmt.Printf("  Listen:  %s\n\n", srv.Address())
}
