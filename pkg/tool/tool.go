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

// Package tool defines the interfaces for tools that agents can invoke.
//
// The reasoning loop hands every CallableTool to the model as a function
// declaration, and executes the calls the model makes with a Context that
// records state changes into the resulting event.
package tool

import (
	"github.com/kadirpekel/concierge/pkg/agent"
)

// Tool defines the base interface for a tool.
type Tool interface {
	Name() string

	// Description is shown to the LLM to help it decide when to call the tool.
	Description() string

	// IsLongRunning marks tools that finish outside the current turn.
	IsLongRunning() bool
}

// CallableTool extends Tool with synchronous execution.
type CallableTool interface {
	Tool

	Call(ctx Context, args map[string]any) (map[string]any, error)

	// Schema returns the JSON schema of the parameters, or nil.
	Schema() map[string]any
}

// Context provides the execution context for a tool.
type Context interface {
	agent.CallbackContext

	// FunctionCallID returns the ID of the call being executed.
	FunctionCallID() string

	// Actions returns the actions of the tool response event, used to
	// request escalation or to skip summarization.
	Actions() *agent.EventActions
}

// InvocationProvider is implemented by tool contexts that can expose the
// invocation they run in. Agent tools use it to start nested runs.
type InvocationProvider interface {
	InvocationContext() agent.InvocationContext
}

// Definition is a tool declaration sent to the LLM.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	def := Definition{Name: t.Name(), Description: t.Description()}
	if ct, ok := t.(CallableTool); ok {
		def.Parameters = ct.Schema()
	}
	return def
}

// ToolCall is a request from the LLM to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}
