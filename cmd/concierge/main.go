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

// Command concierge runs the travel concierge and its remote agents.
//
// Usage:
//
//	concierge inspiration
//	concierge serve --config concierge.yaml
//	concierge chat
//	concierge agents --remote http://localhost:10001
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/concierge"
	"github.com/kadirpekel/concierge/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version     VersionCmd     `cmd:"" help:"Show version information."`
	Serve       ServeCmd       `cmd:"" help:"Start the concierge A2A server."`
	Inspiration InspirationCmd `cmd:"" help:"Start the inspiration A2A server."`
	Chat        ChatCmd        `cmd:"" help:"Chat with the concierge in the terminal."`
	Agents      AgentsCmd      `cmd:"" help:"List the remote agents the concierge can reach."`
	Validate    ValidateCmd    `cmd:"" help:"Validate configuration."`

	Config          string   `short:"c" help:"Path to config file (or key for remote providers)."`
	ConfigType      string   `name:"config-type" help:"Config provider: file, consul, etcd, zookeeper." default:"file"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of the remote config provider." sep:","`
	Watch           bool     `help:"Watch the config source and apply log level changes."`

	LogLevel  string `help:"Log level (debug, info, warn, error). Env: LOG_LEVEL."`
	LogFile   string `help:"Log file path (empty = stderr). Env: LOG_FILE."`
	LogFormat string `help:"Log format (simple, verbose, json). Env: LOG_FORMAT."`
}

// VersionCmd shows version information.
type VersionCmd struct {
	JSON bool `help:"Print as JSON."`
}

func (c *VersionCmd) Run() error {
	info := concierge.GetVersion()
	if c.JSON {
		return printJSON(os.Stdout, info)
	}
	fmt.Println(info.String())
	return nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("concierge"),
		kong.Description("Travel concierge built from A2A agents"),
		kong.UsageOnError(),
	)

	// Configure logging early so config loading is visible. Commands that
	// load a config re-apply it with the config's logger section.
	cleanup, err := initLogger(&cli, nil)
	if err != nil {
		ctx.FatalIfErrorf(err)
	}
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	if err := ctx.Run(&cli); err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
}

func appVersion() string { return concierge.GetVersion().Version }
