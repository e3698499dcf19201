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

package llmagent

import (
	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/tool"
)

// toolContext records state written by a tool into the actions of the tool
// response event.
type toolContext struct {
	agent.CallbackContext
	invCtx         agent.InvocationContext
	functionCallID string
	actions        *agent.EventActions
}

func newToolContext(invCtx agent.InvocationContext, functionCallID string) *toolContext {
	actions := &agent.EventActions{StateDelta: make(map[string]any)}
	return &toolContext{
		CallbackContext: agent.NewCallbackContext(invCtx, actions),
		invCtx:          invCtx,
		functionCallID:  functionCallID,
		actions:         actions,
	}
}

func (c *toolContext) FunctionCallID() string                     { return c.functionCallID }
func (c *toolContext) Actions() *agent.EventActions               { return c.actions }
func (c *toolContext) InvocationContext() agent.InvocationContext { return c.invCtx }

// mergeActions folds src into dst. Later state writes win.
func mergeActions(dst, src *agent.EventActions) {
	if dst.StateDelta == nil {
		dst.StateDelta = make(map[string]any)
	}
	for k, v := range src.StateDelta {
		dst.StateDelta[k] = v
	}
	dst.SkipSummarization = dst.SkipSummarization || src.SkipSummarization
	dst.Escalate = dst.Escalate || src.Escalate
	if src.TransferToAgent != "" {
		dst.TransferToAgent = src.TransferToAgent
	}
	if src.RequireInput {
		dst.RequireInput = true
		dst.InputPrompt = src.InputPrompt
	}
}

var (
	_ tool.Context            = (*toolContext)(nil)
	_ tool.InvocationProvider = (*toolContext)(nil)
)
