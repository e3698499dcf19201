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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := map[string]Type{"": TypeFile, "file": TypeFile, "consul": TypeConsul, "etcd": TypeEtcd, "zk": TypeZookeeper, "zookeeper": TypeZookeeper}
	for in, want := range tests {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseType("vault")
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Type: TypeEtcd, Path: "/concierge"})
	assert.ErrorContains(t, err, "endpoints are required")

	_, err = New(Config{Type: TypeZookeeper, Path: "/concierge"})
	assert.ErrorContains(t, err, "endpoints are required")

	p, err := New(Config{Path: "concierge.yaml"})
	require.NoError(t, err)
	assert.Equal(t, TypeFile, p.Type())
}

func TestFileProvider_LoadAndWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: one\n"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name: one\n", string(data))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := p.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("name: two\n"), 0o644))
	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal")
	}

	data, err = p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name: two\n", string(data))

	cancel()
	select {
	case _, ok := <-changes:
		for ok {
			_, ok = <-changes
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestFileProvider_Missing(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	_, err = p.Load(context.Background())
	assert.Error(t, err)

	require.NoError(t, p.Close())
	_, err = p.Watch(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

// fakeConsul serves a single KV key. Blocking queries on the current index
// wait briefly before answering, like a real agent would.
func fakeConsul(t *testing.T, key string, value *atomic.Value, index *atomic.Uint64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/kv/"+key {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("index") == fmt.Sprint(index.Load()) {
			time.Sleep(20 * time.Millisecond)
		}
		w.Header().Set("X-Consul-Index", fmt.Sprint(index.Load()))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"Key":         key,
			"Value":       base64.StdEncoding.EncodeToString([]byte(value.Load().(string))),
			"ModifyIndex": index.Load(),
		}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConsulProvider(t *testing.T) {
	var value atomic.Value
	value.Store("name: consul\n")
	var index atomic.Uint64
	index.Store(7)
	srv := fakeConsul(t, "concierge/config", &value, &index)

	p, err := New(Config{Type: TypeConsul, Path: "concierge/config", Endpoints: []string{srv.Listener.Addr().String()}})
	require.NoError(t, err)
	defer p.Close()

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name: consul\n", string(data))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := p.Watch(ctx)
	require.NoError(t, err)

	value.Store("name: updated\n")
	index.Store(8)
	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal")
	}

	data, err = p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name: updated\n", string(data))
}

func TestConsulProvider_MissingKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p, err := NewConsulProvider([]string{srv.Listener.Addr().String()}, "absent")
	require.NoError(t, err)
	_, err = p.Load(context.Background())
	assert.ErrorContains(t, err, "not found")
}
