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

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kadirpekel/concierge/pkg/auth"
	"github.com/kadirpekel/concierge/pkg/relay"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string              `json:"message"`
	History   []relay.ChatMessage `json:"history,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
}

// handleChat streams the relay's messages as server-sent events, one
// "message" event per ChatMessage, followed by a "done" event.
func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	rl := *s.relay
	if req.SessionID != "" {
		rl.SessionID = req.SessionID
	}
	if uid := auth.UserID(r.Context()); uid != "" {
		rl.UserID = uid
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for msg := range rl.Respond(r.Context(), req.Message, req.History) {
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("Failed to encode chat message", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
			slog.Debug("Chat client went away", "error", err)
			return
		}
		flusher.Flush()
	}
	fmt.Fprint(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}
