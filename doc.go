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

// Package concierge is a travel concierge built from A2A agents.
//
// The root agent discovers remote agents by their agent cards, describes them
// to the model in its instruction and delegates work to them with the
// send_message tool. The inspiration agent is one such remote agent; it
// suggests destinations and points of interest.
//
//	concierge inspiration            # remote agent on :10001
//	concierge serve                  # root agent on :8083
//	concierge chat                   # terminal chat with the root agent
package concierge
