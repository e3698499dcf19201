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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// consulWaitTime bounds each blocking query.
const consulWaitTime = 5 * time.Minute

// ConsulProvider reads config from a Consul KV key and watches it with
// blocking queries.
type ConsulProvider struct {
	client *api.Client
	key    string
}

// NewConsulProvider connects to the first endpoint, or to the agent named by
// the CONSUL_HTTP_ADDR environment when none is given.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	cfg := api.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulProvider{client: client, key: key}, nil
}

func (p *ConsulProvider) Type() Type { return TypeConsul }

func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	_, meta, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		index := meta.LastIndex
		for {
			opts := (&api.QueryOptions{WaitIndex: index, WaitTime: consulWaitTime}).WithContext(ctx)
			_, meta, err := p.client.KV().Get(p.key, opts)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				slog.Warn("Consul watch failed, retrying", "key", p.key, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			// The index can go backwards after a consul restore.
			if meta.LastIndex < index {
				index = 0
				continue
			}
			if meta.LastIndex != index {
				index = meta.LastIndex
				slog.Debug("Consul key changed", "key", p.key, "index", index)
				notify(ch)
			}
		}
	}()

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) Close() error { return nil }

var _ Provider = (*ConsulProvider)(nil)
