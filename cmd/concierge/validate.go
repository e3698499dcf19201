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
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ValidateCmd loads the configuration and reports problems.
type ValidateCmd struct {
	Model bool `help:"Also require the model credentials."`
	Print bool `help:"Print the effective configuration with defaults applied."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := loadApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if c.Model {
		if err := a.cfg.ValidateModel(); err != nil {
			return err
		}
	}
	if c.Print {
		cfg := *a.cfg
		cfg.Model.APIKey = redact(cfg.Model.APIKey)
		cfg.Inspiration.MapsAPIKey = redact(cfg.Inspiration.MapsAPIKey)
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(&cfg); err != nil {
			return err
		}
		return enc.Close()
	}

	source := cli.Config
	if source == "" {
		source = "defaults"
	}
	fmt.Printf("Configuration is valid: %s\n", source)
	return nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "<redacted>"
}
