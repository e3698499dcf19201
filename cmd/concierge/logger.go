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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/concierge/pkg/config"
	"github.com/kadirpekel/concierge/pkg/logger"
)

// Environment variables that override the config file logger section.
const (
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFileEnvVar   = "LOG_FILE"
	LogFormatEnvVar = "LOG_FORMAT"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "simple"
)

type logSettings struct {
	Level  string
	File   string
	Format string
}

// resolveLogSettings picks each setting from, in order: the CLI flag, the
// environment, the config file, the default.
func resolveLogSettings(cli *CLI, cfg *config.LoggerConfig, getenv func(string) string) logSettings {
	var fromCfg config.LoggerConfig
	if cfg != nil {
		fromCfg = *cfg
	}
	return logSettings{
		Level:  firstNonEmpty(cli.LogLevel, getenv(LogLevelEnvVar), fromCfg.Level, DefaultLogLevel),
		File:   firstNonEmpty(cli.LogFile, getenv(LogFileEnvVar), fromCfg.File),
		Format: firstNonEmpty(cli.LogFormat, getenv(LogFormatEnvVar), fromCfg.Format, DefaultLogFormat),
	}
}

// initLogger installs the default slog logger. The returned cleanup closes
// the log file, if any.
func initLogger(cli *CLI, cfg *config.LoggerConfig) (func(), error) {
	s := resolveLogSettings(cli, cfg, os.Getenv)
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var out io.Writer = os.Stderr
	var cleanup func()
	if s.File != "" {
		f, closeFn, err := logger.OpenLogFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, cleanup = f, closeFn
	}
	logger.Init(level, out, s.Format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
