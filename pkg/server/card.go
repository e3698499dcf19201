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
	"github.com/a2aproject/a2a-go/a2a"
)

// CardConfig describes the agent published on the well-known card path.
type CardConfig struct {
	Name        string
	Description string
	URL         string
	Version     string
	Skills      []a2a.AgentSkill

	// BearerAuth advertises JWT bearer authentication.
	BearerAuth bool
}

// BuildCard creates an A2A agent card. Without explicit skills the agent is
// published as a single skill named after itself.
func BuildCard(cfg CardConfig) *a2a.AgentCard {
	version := cfg.Version
	if version == "" {
		version = "1.0.0"
	}
	skills := cfg.Skills
	if len(skills) == 0 {
		skills = []a2a.AgentSkill{{
			ID:          cfg.Name,
			Name:        cfg.Name,
			Description: cfg.Description,
			Tags:        []string{"travel"},
		}}
	}

	card := &a2a.AgentCard{
		Name:               cfg.Name,
		Description:        cfg.Description,
		URL:                cfg.URL,
		Version:            version,
		ProtocolVersion:    "0.3.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             skills,
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "Concierge",
			URL: "https://github.com/kadirpekel/concierge",
		},
	}

	if cfg.BearerAuth {
		card.SecuritySchemes = a2a.NamedSecuritySchemes{
			"BearerAuth": a2a.HTTPAuthSecurityScheme{
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT Bearer token authentication",
			},
		}
		card.Security = []a2a.SecurityRequirements{
			{"BearerAuth": a2a.SecuritySchemeScopes{}},
		}
	}
	return card
}
