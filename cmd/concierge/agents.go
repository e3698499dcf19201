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
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/a2aproject/a2a-go/a2a"
)

// AgentsCmd resolves the remote agent cards and lists them.
type AgentsCmd struct {
	Remote []string `help:"Remote agent base URLs (overrides config)." sep:","`
	JSON   bool     `help:"Print the agent cards as JSON."`
}

func (c *AgentsCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := loadApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	client, err := a.newHTTPClient()
	if err != nil {
		return err
	}
	registry, err := a.discover(ctx, client, c.Remote)
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(os.Stdout, registry.Cards())
	}
	printCards(os.Stdout, registry.Cards())
	return nil
}

func printCards(w io.Writer, cards []*a2a.AgentCard) {
	if len(cards) == 0 {
		fmt.Fprintln(w, "No remote agents available.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tSKILLS\tDESCRIPTION")
	for _, card := range cards {
		skills := make([]string, 0, len(card.Skills))
		for _, s := range card.Skills {
			skills = append(skills, s.Name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", card.Name, card.URL, strings.Join(skills, ","), card.Description)
	}
	_ = tw.Flush()
}
