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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/kadirpekel/concierge/pkg/relay"
)

// ChatCmd chats with the concierge in the terminal. The root agent runs in
// this process; remote agents are reached over A2A.
type ChatCmd struct {
	Remote []string `help:"Remote agent base URLs (overrides config)." sep:","`
	User   string   `help:"Session user ID." default:"default_user"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	client, err := a.newHTTPClient()
	if err != nil {
		return err
	}
	r, host, _, err := newConciergeRunner(ctx, a, client, c.Remote)
	if err != nil {
		return err
	}

	rel := relay.New(r)
	rel.UserID = c.User
	fmt.Printf("\nChatting with the concierge (%d remote agents: %s)\n",
		len(host.Registry().Names()), strings.Join(host.Registry().Names(), ", "))
	return chatLoop(ctx, os.Stdin, os.Stdout, rel, uuid.NewString)
}

// chatLoop reads messages from in until EOF or /quit. /clear starts a new
// session named by newSession.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, rel *relay.Relay, newSession func() string) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Commands: /quit or /exit to leave, /clear to start a new session.")
	fmt.Fprintln(out)

	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			switch input {
			case "/quit", "/exit":
				fmt.Fprintln(out, "Chat session ended")
				return nil
			case "/clear":
				rel.SessionID = newSession()
				fmt.Fprintf(out, "Started session %s\n", rel.SessionID)
			default:
				fmt.Fprintf(out, "Unknown command: %s\n", input)
			}
			continue
		}

		for msg := range rel.Respond(ctx, input, nil) {
			fmt.Fprintf(out, "\n%s\n", msg.Content)
		}
		fmt.Fprintln(out)
		if ctx.Err() != nil {
			return nil
		}
	}
}
