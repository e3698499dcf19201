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

// Package concierge builds the travel concierge host agent. The host agent
// knows the remote agents found at startup and delegates work to them through
// the send_message tool; which agent to call is left to the model.
package concierge

import (
	"fmt"
	"time"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/agent/llmagent"
	"github.com/kadirpekel/concierge/pkg/model"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/remote"
	"github.com/kadirpekel/concierge/pkg/tool"
)

const (
	AgentName        = "root_agent"
	AgentDescription = "A Travel Conceirge using the services of multiple sub-agents"
)

// State keys read and written by the host agent.
const (
	StateUserProfile          = "user_profile"
	StateItinerary            = "itinerary"
	StateActiveAgent          = "active_agent"
	StateSessionID            = "session_id"
	StateSessionActive        = "session_active"
	StateTaskID               = "task_id"
	StateContextID            = "context_id"
	StateInputMessageMetadata = "input_message_metadata"
)

// Host is the travel concierge host agent factory.
type Host struct {
	registry      *remote.Registry
	itineraryFile string
	now           func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithItineraryFile seeds new sessions from a JSON itinerary file.
func WithItineraryFile(path string) Option {
	return func(h *Host) { h.itineraryFile = path }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// NewHost creates a host over the discovered remote agents. A nil registry
// behaves as one with no agents.
func NewHost(registry *remote.Registry, opts ...Option) *Host {
	if registry == nil {
		registry = remote.NewRegistry()
	}
	h := &Host{registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the remote agents known to the host.
func (h *Host) Registry() *remote.Registry { return h.registry }

// NewAgent creates the root agent backed by llm.
func (h *Host) NewAgent(llm model.LLM, metrics observability.Recorder) (agent.Agent, error) {
	sendMessage, err := h.SendMessageTool()
	if err != nil {
		return nil, err
	}
	a, err := llmagent.New(llmagent.Config{
		Name:                 AgentName,
		Description:          AgentDescription,
		Model:                llm,
		InstructionProvider:  h.RootInstruction,
		Tools:                []tool.Tool{sendMessage},
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{h.LoadItinerary},
		BeforeModelCallbacks: []llmagent.BeforeModelCallback{h.BeforeModel},
		Metrics:              metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", AgentName, err)
	}
	return a, nil
}
