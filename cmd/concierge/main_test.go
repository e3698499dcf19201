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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/concierge/pkg/agent/llmagent"
	"github.com/kadirpekel/concierge/pkg/config"
	"github.com/kadirpekel/concierge/pkg/httpclient"
	"github.com/kadirpekel/concierge/pkg/relay"
	"github.com/kadirpekel/concierge/pkg/runner"
	"github.com/kadirpekel/concierge/pkg/session"
	"github.com/kadirpekel/concierge/pkg/testutils"
)

func TestResolveLogSettings(t *testing.T) {
	env := map[string]string{LogLevelEnvVar: "warn"}
	getenv := func(k string) string { return env[k] }
	fromCfg := &config.LoggerConfig{Level: "error", Format: "json", File: "concierge.log"}

	tests := []struct {
		name string
		cli  CLI
		cfg  *config.LoggerConfig
		want logSettings
	}{
		{
			name: "defaults",
			want: logSettings{Level: "warn", Format: DefaultLogFormat},
		},
		{
			name: "config fills gaps",
			cfg:  fromCfg,
			want: logSettings{Level: "warn", Format: "json", File: "concierge.log"},
		},
		{
			name: "flags win",
			cli:  CLI{LogLevel: "debug", LogFormat: "verbose"},
			cfg:  fromCfg,
			want: logSettings{Level: "debug", Format: "verbose", File: "concierge.log"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveLogSettings(&tt.cli, tt.cfg, getenv))
		})
	}

	got := resolveLogSettings(&CLI{}, nil, func(string) string { return "" })
	assert.Equal(t, DefaultLogLevel, got.Level)
}

func TestChatLoop(t *testing.T) {
	llm := testutils.NewScriptedLLM(
		testutils.TextResponse("Lisbon is lovely in May."),
		testutils.TextResponse("Porto, then."),
	)
	root, err := llmagent.New(llmagent.Config{Name: "root_agent", Model: llm})
	require.NoError(t, err)
	r, err := runner.New(runner.Config{AppName: relay.DefaultAppName, Agent: root, SessionService: session.InMemoryService()})
	require.NoError(t, err)
	rel := relay.New(r)

	in := strings.NewReader("where to go?\n\n/clear\n/bogus\nsomewhere else\n/quit\nnever read\n")
	var out bytes.Buffer
	err = chatLoop(context.Background(), in, &out, rel, func() string { return "fresh" })
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Lisbon is lovely in May.")
	assert.Contains(t, text, "Started session fresh")
	assert.Contains(t, text, "Unknown command: /bogus")
	assert.Contains(t, text, "Porto, then.")
	assert.Contains(t, text, "Chat session ended")
	assert.Equal(t, "fresh", rel.SessionID)
	assert.Equal(t, 0, llm.Remaining())
}

func TestChatLoop_EOF(t *testing.T) {
	var out bytes.Buffer
	err := chatLoop(context.Background(), strings.NewReader(""), &out, &relay.Relay{}, nil)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "You: ")
}

func TestPrintCards(t *testing.T) {
	var out bytes.Buffer
	printCards(&out, nil)
	assert.Equal(t, "No remote agents available.\n", out.String())

	out.Reset()
	printCards(&out, []*a2a.AgentCard{{
		Name:        "inspiration_agent",
		URL:         "http://localhost:10001",
		Description: "Suggests destinations",
		Skills:      []a2a.AgentSkill{{Name: "places"}, {Name: "poi"}},
	}})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[1], "inspiration_agent")
	assert.Contains(t, lines[1], "places,poi")
}

func TestLoadApp_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: trip-planner
model:
  api_key: test-key
concierge:
  port: 9090
  remote_agents:
    - http://localhost:10001
session:
  backend: memory
`), 0o600))

	cli := &CLI{Config: path, ConfigType: "file", LogFile: filepath.Join(t.TempDir(), "out.log")}
	a, err := loadApp(context.Background(), cli)
	require.NoError(t, err)
	defer a.close(context.Background())

	assert.Equal(t, 9090, a.cfg.Concierge.Port)
	assert.Equal(t, []string{"http://localhost:10001"}, a.cfg.Concierge.RemoteAgents)
	require.NoError(t, a.cfg.ValidateModel())

	svc, tasks, err := a.newSessionService()
	require.NoError(t, err)
	assert.NotNil(t, svc)
	assert.Nil(t, tasks)

	v, err := a.newValidator(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, a.initObservability(context.Background()))
	assert.Nil(t, a.metrics)
}

func TestLoadApp_BadConfigType(t *testing.T) {
	_, err := loadApp(context.Background(), &CLI{Config: "x", ConfigType: "floppy"})
	require.Error(t, err)
}

func TestServeCmd_ApplyOverrides(t *testing.T) {
	a := &app{cfg: config.Default()}
	cmd := &ServeCmd{Port: 9999, Remote: []string{"http://a:1", "http://b:2"}}
	cmd.applyOverrides(a)
	assert.Equal(t, 9999, a.cfg.Concierge.Port)
	assert.Equal(t, config.DefaultHost, a.cfg.Concierge.Host)
	assert.Len(t, a.cfg.Concierge.RemoteAgents, 2)
}

func TestWithRemote(t *testing.T) {
	configured := []string{"http://planning:8001/", "http://inspiration:8002/"}

	got := withRemote(configured, "http://localhost:8001/")
	assert.Equal(t, []string{"http://planning:8001/", "http://inspiration:8002/", "http://localhost:8001/"}, got)
	assert.Len(t, configured, 2)

	got = withRemote(configured, "http://inspiration:8002")
	assert.Equal(t, []string{"http://planning:8001/", "http://inspiration:8002"}, got)

	assert.Equal(t, []string{"http://localhost:8001/"}, withRemote(nil, "http://localhost:8001/"))
}

func TestApp_DiscoverRegistersClose(t *testing.T) {
	srv := testutils.NewA2AServer(t, "inspiration_agent", &testutils.ReplyExecutor{Reply: "ok"})
	a := &app{cfg: config.Default()}

	registry, err := a.discover(context.Background(), httpclient.New(httpclient.WithMaxRetries(0)), []string{srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []string{"inspiration_agent"}, registry.Names())
	require.Len(t, a.closers, 1)
	a.close(context.Background())
	assert.Empty(t, a.closers)
}

func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := calls.Add(1); r.URL.Path != "/health" || n < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := httpclient.New(httpclient.WithMaxRetries(0))
	require.NoError(t, waitReady(context.Background(), client, ts.URL+"/"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWaitReady_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := waitReady(ctx, httpclient.New(), "http://127.0.0.1:1")
	assert.Error(t, err)
}
