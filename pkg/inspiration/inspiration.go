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

// Package inspiration implements the remote inspiration agent: it suggests
// destinations and points of interest and verifies their locations.
package inspiration

import (
	"fmt"

	"github.com/kadirpekel/concierge/pkg/agent"
	"github.com/kadirpekel/concierge/pkg/agent/llmagent"
	"github.com/kadirpekel/concierge/pkg/model"
	"github.com/kadirpekel/concierge/pkg/observability"
	"github.com/kadirpekel/concierge/pkg/tool"
	"github.com/kadirpekel/concierge/pkg/tool/agenttool"
)

// Agent names and descriptions.
const (
	AgentName        = "inspiration_agent"
	AgentDescription = "A travel inspiration agent who inspire users, and discover their next vacations; Provide information about places, activities, interests,"

	PlaceAgentName        = "place_agent"
	PlaceAgentDescription = "This agent suggests a few destination given some user preferences"

	POIAgentName        = "poi_agent"
	POIAgentDescription = "This agent suggests a few activities and points of interests given a destination"
)

// State keys the sub-agents write their suggestions to.
const (
	PlaceKey = "place"
	POIKey   = "poi"
)

// DefaultPort is where the inspiration agent is served.
const DefaultPort = 10001

// Config configures the inspiration agent.
type Config struct {
	Model    model.LLM
	Geocoder Geocoder
	Metrics  observability.Recorder
}

// New builds inspiration_agent with place_agent and poi_agent as tools.
func New(cfg Config) (agent.Agent, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("%s: model is required", AgentName)
	}
	if cfg.Geocoder == nil {
		cfg.Geocoder = NewPlacesGeocoder("", "", nil)
	}
	jsonOutput := &model.GenerateConfig{ResponseMIMEType: "application/json"}

	place, err := llmagent.New(llmagent.Config{
		Name:           PlaceAgentName,
		Description:    PlaceAgentDescription,
		Model:          cfg.Model,
		Instruction:    placeInstruction,
		GenerateConfig: jsonOutput,
		OutputSchema:   destinationIdeasSchema,
		OutputKey:      PlaceKey,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	poi, err := llmagent.New(llmagent.Config{
		Name:           POIAgentName,
		Description:    POIAgentDescription,
		Model:          cfg.Model,
		Instruction:    poiInstruction,
		GenerateConfig: jsonOutput.Clone(),
		OutputSchema:   poiSuggestionsSchema,
		OutputKey:      POIKey,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	placeTool, err := agenttool.New(place, nil)
	if err != nil {
		return nil, err
	}
	poiTool, err := agenttool.New(poi, nil)
	if err != nil {
		return nil, err
	}
	mapTool, err := NewMapTool(cfg.Geocoder)
	if err != nil {
		return nil, err
	}

	return llmagent.New(llmagent.Config{
		Name:        AgentName,
		Description: AgentDescription,
		Model:       cfg.Model,
		Instruction: inspirationInstruction,
		Tools:       []tool.Tool{placeTool, poiTool, mapTool},
		Metrics:     cfg.Metrics,
	})
}
