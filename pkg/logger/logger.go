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

// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/term"
)

const modulePrefix = "github.com/kadirpekel/concierge"

// Output formats.
const (
	FormatSimple  = "simple"
	FormatVerbose = "verbose"
	FormatJSON    = "json"
)

// ParseLevel converts debug, info, warn or error to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger writing to w. Records from outside this module are
// dropped unless level is debug. Colors are used when w is a terminal.
func New(level slog.Level, w io.Writer, format string) *slog.Logger {
	var h slog.Handler
	switch format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatVerbose:
		h = &textHandler{out: &lockedWriter{w: w}, level: level, color: isTerminal(w), withTime: true}
	default:
		h = &textHandler{out: &lockedWriter{w: w}, level: level, color: isTerminal(w)}
	}
	return slog.New(&filteringHandler{handler: h, minLevel: level})
}

// Init installs New(level, w, format) as the slog default.
func Init(level slog.Level, w io.Writer, format string) {
	slog.SetDefault(New(level, w, format))
}

// OpenLogFile opens path for appending. The returned func closes it.
func OpenLogFile(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// filteringHandler hides third-party library logs below debug level.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.minLevel > slog.LevelDebug && !fromModule(r.PC) {
		return nil
	}
	return h.handler.Handle(ctx, r)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func fromModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	return fn != nil && strings.HasPrefix(fn.Name(), modulePrefix)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// textHandler prints "LEVEL message key=value ...", prefixed with the time
// in verbose mode.
type textHandler struct {
	out      *lockedWriter
	level    slog.Level
	color    bool
	withTime bool
	attrs    []slog.Attr
	group    string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if h.withTime && !r.Time.IsZero() {
		b.WriteString(r.Time.Format("2006/01/02 15:04:05 "))
	}
	lvl := levelName(r.Level)
	if h.color {
		lvl = levelColor(r.Level) + lvl + "\033[0m"
	}
	b.WriteString(lvl)
	b.WriteByte(' ')
	b.WriteString(r.Message)

	write := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%s", key, a.Value.Resolve().String())
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	b.WriteByte('\n')

	_, err := h.out.Write([]byte(b.String()))
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	c := *h
	if c.group != "" {
		name = c.group + "." + name
	}
	c.group = name
	return &c
}

func levelName(l slog.Level) string {
	if l >= slog.LevelWarn && l < slog.LevelError {
		return "WARN"
	}
	return l.String()
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m"
	case l >= slog.LevelWarn:
		return "\033[33m"
	case l >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}
