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

// Package remote resolves remote A2A agents and keeps a client per agent.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/concierge/pkg/httpclient"
)

// DefaultAddress is where the inspiration agent listens by default.
const DefaultAddress = "http://0.0.0.0:10001"

// NoAgentsFound is the agents description when nothing could be resolved.
const NoAgentsFound = "No agents found"

const (
	resolveTimeout = 30 * time.Second
	maxConcurrent  = 8
)

// Connection is a client for one remote agent.
type Connection struct {
	card    *a2a.AgentCard
	address string
	client  *a2aclient.Client
}

// NewConnection creates a client for card. address is where the card was
// resolved from.
func NewConnection(ctx context.Context, card *a2a.AgentCard, address string) (*Connection, error) {
	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, fmt.Errorf("failed to create a2a client: %w", err)
	}
	return &Connection{card: card, address: address, client: client}, nil
}

func (c *Connection) Card() *a2a.AgentCard { return c.card }
func (c *Connection) Address() string      { return c.address }

// SendMessage sends params and returns the resulting task. A remote that
// answers with a bare message yields a nil task and no error.
func (c *Connection) SendMessage(ctx context.Context, params *a2a.MessageSendParams) (*a2a.Task, error) {
	result, err := c.client.SendMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", c.card.Name, err)
	}
	switch v := result.(type) {
	case *a2a.Task:
		return v, nil
	case *a2a.Message:
		slog.Info("Received non-task response, ignoring", "agent", c.card.Name, "message_id", v.ID)
		return nil, nil
	default:
		slog.Warn("Received unexpected response type", "agent", c.card.Name, "type", fmt.Sprintf("%T", result))
		return nil, nil
	}
}

// Close releases the underlying client.
func (c *Connection) Close() error {
	return c.client.Destroy()
}

// Registry holds the connections to every resolved remote agent.
type Registry struct {
	connections map[string]*Connection
	cards       map[string]*a2a.AgentCard
	order       []string
	agents      string
}

// Option configures Discover.
type Option func(*discoverOptions)

type discoverOptions struct {
	httpClient *http.Client
}

// WithHTTPClient overrides the client used to fetch agent cards.
func WithHTTPClient(c *http.Client) Option {
	return func(o *discoverOptions) { o.httpClient = c }
}

type resolved struct {
	conn *Connection
	err  error
	// dial is set when the card could not be fetched at all.
	dial bool
}

// Discover resolves the agent card at each address and connects to it.
// Addresses that fail are logged and skipped.
func Discover(ctx context.Context, addresses []string, opts ...Option) (*Registry, error) {
	o := discoverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(resolveTimeout)).StandardClient()
	}
	resolver := agentcard.NewResolver(o.httpClient)

	results := make([]resolved, len(addresses))
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrent)
	for i, address := range addresses {
		g.Go(func() error {
			card, err := resolver.Resolve(ctx, address)
			if err != nil {
				results[i] = resolved{err: err, dial: isTransportError(err)}
				return nil
			}
			conn, err := NewConnection(ctx, card, address)
			results[i] = resolved{conn: conn, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &Registry{
		connections: make(map[string]*Connection),
		cards:       make(map[string]*a2a.AgentCard),
	}
	for i, res := range results {
		address := addresses[i]
		switch {
		case res.err != nil && res.dial:
			slog.Error("Failed to get agent card", "address", address, "error", res.err)
		case res.err != nil:
			slog.Error("Failed to initialize connection", "address", address, "error", res.err)
		default:
			r.add(res.conn)
		}
	}
	r.agents = r.describe()
	slog.Info("Remote agents discovered", "count", len(r.cards), "names", r.Names())
	return r, nil
}

// NewRegistry builds a registry from existing connections, in order.
func NewRegistry(conns ...*Connection) *Registry {
	r := &Registry{
		connections: make(map[string]*Connection),
		cards:       make(map[string]*a2a.AgentCard),
	}
	for _, c := range conns {
		r.add(c)
	}
	r.agents = r.describe()
	return r
}

func (r *Registry) add(conn *Connection) {
	name := conn.card.Name
	if old, ok := r.connections[name]; ok {
		slog.Warn("Duplicate remote agent name, replacing", "agent", name, "previous", old.address, "address", conn.address)
		_ = old.Close()
	} else {
		r.order = append(r.order, name)
	}
	r.connections[name] = conn
	r.cards[name] = conn.card
}

func (r *Registry) describe() string {
	if len(r.order) == 0 {
		return NoAgentsFound
	}
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		card := r.cards[name]
		b, err := json.Marshal(struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}{card.Name, card.Description})
		if err != nil {
			continue
		}
		lines = append(lines, string(b))
	}
	return strings.Join(lines, "\n")
}

// Agents returns one JSON line per agent, or NoAgentsFound.
func (r *Registry) Agents() string { return r.agents }

// Cards returns the resolved cards in discovery order.
func (r *Registry) Cards() []*a2a.AgentCard {
	out := make([]*a2a.AgentCard, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.cards[name])
	}
	return out
}

// Names returns the agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connections))
	for name := range r.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connection looks up a connection by agent name.
func (r *Registry) Connection(name string) (*Connection, bool) {
	c, ok := r.connections[name]
	return c, ok
}

// Close destroys every client.
func (r *Registry) Close() error {
	var errs []error
	for name, c := range r.connections {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// isTransportError reports whether err came from reaching the address, as
// opposed to building a request from it.
func isTransportError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Op != "parse"
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
