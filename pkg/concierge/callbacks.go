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

package concierge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/model"
)

// Keys set when a session is seeded from an itinerary file.
const (
	StateSystemTime          = "_time"
	StateItineraryLoaded     = "itinerary_initialized"
	StateItineraryStartDate  = "itinerary_start_date"
	StateItineraryEndDate    = "itinerary_end_date"
	StateItineraryDatetime   = "itinerary_datetime"
	itineraryFileStateObject = "state"
)

// BeforeModel marks the session active, assigning a session id on first use.
func (h *Host) BeforeModel(ctx agent.CallbackContext, _ *model.Request) (*model.Response, error) {
	state := ctx.State()
	if active, ok := lookup(state, StateSessionActive); ok && truthy(active) {
		return nil, nil
	}
	if _, ok := lookup(state, StateSessionID); !ok {
		if err := state.Set(StateSessionID, uuid.NewString()); err != nil {
			return nil, err
		}
	}
	return nil, state.Set(StateSessionActive, true)
}

// LoadItinerary seeds an empty session from the configured itinerary file.
// A session that already has an itinerary is left alone.
func (h *Host) LoadItinerary(ctx agent.CallbackContext) (*agent.Content, error) {
	state := ctx.State()
	if _, ok := lookup(state, StateItinerary); ok || h.itineraryFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(h.itineraryFile)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Itinerary file not found, starting with an empty itinerary", "path", h.itineraryFile)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read itinerary file: %w", err)
	}

	var file map[string]any
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse itinerary file %s: %w", h.itineraryFile, err)
	}
	initial, _ := file[itineraryFileStateObject].(map[string]any)
	if initial == nil {
		slog.Warn("Itinerary file has no state object", "path", h.itineraryFile)
		return nil, nil
	}

	if _, ok := lookup(state, StateSystemTime); !ok {
		if err := state.Set(StateSystemTime, h.now().Format(timeLayout)); err != nil {
			return nil, err
		}
	}
	if _, ok := lookup(state, StateItineraryLoaded); ok {
		return nil, nil
	}
	if err := state.Set(StateItineraryLoaded, true); err != nil {
		return nil, err
	}
	for k, v := range initial {
		if err := state.Set(k, v); err != nil {
			return nil, err
		}
	}
	if itinerary, ok := initial[StateItinerary].(map[string]any); ok {
		start, end := itinerary["start_date"], itinerary["end_date"]
		for k, v := range map[string]any{
			StateItineraryStartDate: start,
			StateItineraryEndDate:   end,
			StateItineraryDatetime:  start,
		} {
			if v == nil {
				continue
			}
			if err := state.Set(k, v); err != nil {
				return nil, err
			}
		}
	}
	slog.Info("Loaded itinerary", "path", h.itineraryFile, "keys", len(initial))
	return nil, nil
}
