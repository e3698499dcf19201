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

// Package provider loads raw configuration bytes from a file or a key-value
// store and signals when they change.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Type identifies the config source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType converts a string to a Type. The empty string is a file.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources. Implementations are safe for
// concurrent use.
type Provider interface {
	Type() Type

	// Load reads the raw config bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the config changes.
	// The channel is closed when ctx is done or the watch is lost.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// Config selects and configures a provider.
type Config struct {
	Type Type

	// Path is a file path, or the key of the document in a remote store.
	Path string

	// Endpoints of the remote store.
	Endpoints []string
}

// ErrClosed is returned when watching a closed provider.
var ErrClosed = errors.New("provider is closed")

// New creates the provider described by cfg.
func New(cfg Config) (Provider, error) {
	if cfg.Path == "" {
		return nil, errors.New("config path is required")
	}

	switch cfg.Type {
	case TypeFile, "":
		return NewFileProvider(cfg.Path)
	case TypeConsul:
		return NewConsulProvider(cfg.Endpoints, cfg.Path)
	case TypeEtcd:
		return NewEtcdProvider(cfg.Endpoints, cfg.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(cfg.Endpoints, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// notify delivers a change signal without blocking. A pending signal
// already covers the new change.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
