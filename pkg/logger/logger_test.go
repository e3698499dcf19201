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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "": slog.LevelInfo,
		"warn": slog.LevelWarn, "warning": slog.LevelWarn, "error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_SimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelInfo, &buf, FormatSimple)

	log.Debug("hidden")
	log.With("agent", "root_agent").Warn("Agent slow", "ms", 1200)

	assert.Equal(t, "WARN Agent slow agent=root_agent ms=1200\n", buf.String())
}

func TestNew_VerboseFormat(t *testing.T) {
	var buf bytes.Buffer
	New(slog.LevelDebug, &buf, FormatVerbose).WithGroup("http").Debug("Request", "path", "/chat")

	out := buf.String()
	assert.Regexp(t, `^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} DEBUG Request http.path=/chat\n$`, out)
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(slog.LevelInfo, &buf, FormatJSON).Info("Started", "port", 8083)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Started", rec["msg"])
	assert.Equal(t, float64(8083), rec["port"])
}

func TestFilteringHandler_DropsThirdPartyBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	third := slog.NewRecord(time.Now(), slog.LevelInfo, "from a library", 0)

	require.NoError(t, New(slog.LevelInfo, &buf, FormatSimple).Handler().Handle(context.Background(), third))
	assert.Empty(t, buf.String())

	require.NoError(t, New(slog.LevelDebug, &buf, FormatSimple).Handler().Handle(context.Background(), third))
	assert.Equal(t, "INFO from a library\n", buf.String())
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.log")
	f, closeFn, err := OpenLogFile(path)
	require.NoError(t, err)

	New(slog.LevelInfo, f, FormatSimple).Info("to file")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "INFO to file\n", string(data))
}
