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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider reads config from a znode and watches it with GetW.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

// NewZookeeperProvider connects to endpoints.
func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("zookeeper endpoints are required")
	}
	conn, _, err := zk.Connect(endpoints, 10*time.Second, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &ZookeeperProvider{conn: conn, path: path}, nil
}

func (p *ZookeeperProvider) Type() Type { return TypeZookeeper }

func (p *ZookeeperProvider) Load(context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// Watch re-arms the one-shot zookeeper watch after every change.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	_, _, events, err := p.conn.GetW(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to watch zookeeper path %s: %w", p.path, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				switch ev.Type {
				case zk.EventNodeDataChanged:
					notify(ch)
				case zk.EventNodeDeleted:
					slog.Warn("Zookeeper config node was deleted", "path", p.path)
					return
				case zk.EventNotWatching:
					slog.Warn("Zookeeper watch lost", "path", p.path)
					return
				}
			}
			_, _, events, err = p.conn.GetW(p.path)
			if err != nil {
				slog.Error("Failed to re-arm zookeeper watch", "path", p.path, "error", err)
				return
			}
		}
	}()

	slog.Info("Watching zookeeper path", "path", p.path)
	return ch, nil
}

func (p *ZookeeperProvider) Close() error {
	p.conn.Close()
	return nil
}

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "zookeeper")
}

var _ Provider = (*ZookeeperProvider)(nil)
