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

package inspiration

import "github.com/kadirpekel/concierge/pkg/schema"

// Destination is a place suggested by place_agent.
type Destination struct {
	Name       string `json:"name" jsonschema:"required,description=Name of the destination"`
	Country    string `json:"country" jsonschema:"required,description=Name of the country"`
	Image      string `json:"image" jsonschema:"required,description=Verified URL to an image of the destination"`
	Highlights string `json:"highlights" jsonschema:"required,description=Short description highlighting key features"`
	Rating     string `json:"rating" jsonschema:"required,description=Numerical rating (e.g. 4.5)"`
	Lat        string `json:"lat,omitempty" jsonschema:"description=Latitude of the destination"`
	Long       string `json:"long,omitempty" jsonschema:"description=Longitude of the destination"`
}

// DestinationIdeas is the structured output of place_agent.
type DestinationIdeas struct {
	Places []Destination `json:"places" jsonschema:"required,description=List of destinations"`
}

// POI is a point of interest suggested by poi_agent.
type POI struct {
	PlaceName     string `json:"place_name" jsonschema:"required,description=Name of the attraction"`
	Address       string `json:"address" jsonschema:"required,description=An address or sufficient information to geocode for a Lat/Lon"`
	Lat           string `json:"lat" jsonschema:"required,description=Numerical representation of Latitude of the location (e.g. 20.6843)"`
	Long          string `json:"long" jsonschema:"required,description=Numerical representation of Longitude of the location (e.g. -88.5678)"`
	ReviewRatings string `json:"review_ratings" jsonschema:"required,description=Numerical representation of rating (e.g. 4.8 or 3.0 or 1.0 etc)"`
	Highlights    string `json:"highlights" jsonschema:"required,description=Short description highlighting key features"`
	ImageURL      string `json:"image_url" jsonschema:"required,description=Verified URL to an image of the destination"`
	MapURL        string `json:"map_url,omitempty" jsonschema:"description=Verified URL to Google Map"`
	PlaceID       string `json:"place_id,omitempty" jsonschema:"description=Google Map place_id"`
}

// POISuggestions is the structured output of poi_agent.
type POISuggestions struct {
	Places []POI `json:"places" jsonschema:"required,description=List of points of interest"`
}

var (
	destinationIdeasSchema = schema.MustFor[DestinationIdeas]()
	poiSuggestionsSchema   = schema.MustFor[POISuggestions]()
)
