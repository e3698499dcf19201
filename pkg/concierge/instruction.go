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
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/concierge/pkg/agent"
)

// Trip phases, derived from the itinerary dates.
const (
	PhasePreBooking = "pre-booking"
	PhasePreTrip    = "pre-trip"
	PhaseInTrip     = "in-trip"
	PhasePostTrip   = "post-trip"
)

const (
	noActiveAgent = "None"
	dateLayout    = "2006-01-02"
	timeLayout    = "2006-01-02 15:04:05"
)

const rootInstruction = `
**Role:** You are an expert Travel Concierge. Your primary function is to help users plan and manage their travel, routing requests to specialized remote agents when available.

**Core Responsibilities:**

1. **Travel Planning:** Help users discover destinations, plan itineraries, find flights/hotels, and manage bookings.

2. **Trip Phase Detection:** Determine the current trip phase using the context below:
   - **Pre-Booking Phase** (no trip dates): Help with inspiration and planning
   - **Pre-Trip Phase** (before start_date): Assist with preparation tasks
   - **In-Trip Phase** (during the trip dates): Provide real-time support
   - **Post-Trip Phase** (after end_date): Collect feedback and preferences

3. **Context-Aware Assistance:** Use relevant contextual information (user preferences, trip details, conversation history) to provide personalized recommendations.

4. **Task Delegation:** When remote agents are available, delegate specialized tasks to appropriate agents via A2A protocol.

**Available Remote A2A Agents:**

{available_agents}

**Current Context:**

Trip Phase: {trip_phase}
Current Time: {current_time}

User Profile:
{user_profile_context}

Trip Information:
{trip_info_context}

**Decision Logic:**

- For travel inspiration, destination suggestions, or activity recommendations → Use **inspiration_agent** if available
- For flight/hotel searches, seat/room selections, or itinerary building → Use **planning_agent** if available
- For reservations, payment processing, or booking confirmations → Use **booking_agent** if available
- For pre-trip preparation (visas, weather, packing) → Use **pre_trip_agent** if available
- For real-time travel support or daily itineraries → Use **in_trip_agent** if available
- For post-trip feedback or preference extraction → Use **post_trip_agent** if available

**Key Directives:**

✓ Provide helpful travel planning advice to users
✓ Route tasks to remote agents when available based on trip phase and user intent
✓ NEVER ask for user permission before engaging with remote agents
✓ Provide minimal but complete context to remote agents
✓ Transparently relay all remote agent responses to the user
✓ Use the send_message tool to communicate with remote agents via A2A
✓ Handle long-running operations gracefully (agents may take time to respond)
✓ Focus on the most recent user interactions when making decisions
`

// RootInstruction renders the host agent's system prompt from session state.
func (h *Host) RootInstruction(ctx agent.ReadonlyContext) (string, error) {
	state := ctx.ReadonlyState()
	now := h.now()

	profile := "No user profile available"
	if v, ok := lookup(state, StateUserProfile); ok {
		if m, isMap := v.(map[string]any); isMap {
			b, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return "", fmt.Errorf("failed to encode user profile: %w", err)
			}
			profile = string(b)
		} else {
			profile = fmt.Sprint(v)
		}
	}

	itinerary, _ := lookupMap(state, StateItinerary)
	destination := stringOr(itinerary, "destination", "Not determined")
	start := stringOr(itinerary, "start_date", "Not set")
	end := stringOr(itinerary, "end_date", "Not set")

	tripInfo := fmt.Sprintf(`
        Destination: %s
        Start Date: %s
        End Date: %s
        Active Agent: %s
        `, destination, start, end, CheckActiveAgent(state))

	r := strings.NewReplacer(
		"{available_agents}", h.registry.Agents(),
		"{trip_phase}", TripPhase(itinerary, now),
		"{current_time}", now.Format(timeLayout),
		"{user_profile_context}", profile,
		"{trip_info_context}", tripInfo,
	)
	return r.Replace(rootInstruction), nil
}

// CheckActiveAgent returns the agent the session is talking to, or "None"
// unless the session is active and an agent has been engaged.
func CheckActiveAgent(state agent.ReadonlyState) string {
	if state == nil {
		return noActiveAgent
	}
	if _, ok := lookup(state, StateSessionID); !ok {
		return noActiveAgent
	}
	if active, ok := lookup(state, StateSessionActive); !ok || !truthy(active) {
		return noActiveAgent
	}
	name, ok := lookup(state, StateActiveAgent)
	if !ok {
		return noActiveAgent
	}
	return fmt.Sprint(name)
}

// TripPhase classifies now against the itinerary dates. Both ends of the
// trip count as in-trip.
func TripPhase(itinerary map[string]any, now time.Time) string {
	start, hasStart := parseDate(itinerary, "start_date")
	end, hasEnd := parseDate(itinerary, "end_date")
	if !hasStart && !hasEnd {
		return PhasePreBooking
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case hasStart && today.Before(start):
		return PhasePreTrip
	case hasEnd && today.After(end):
		return PhasePostTrip
	default:
		return PhaseInTrip
	}
}

func parseDate(m map[string]any, key string) (time.Time, bool) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func lookup(state agent.ReadonlyState, key string) (any, bool) {
	if state == nil {
		return nil, false
	}
	v, err := state.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

func lookupMap(state agent.ReadonlyState, key string) (map[string]any, bool) {
	v, ok := lookup(state, key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func stringOr(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return fallback
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
