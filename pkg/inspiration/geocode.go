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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kadirpekel/concierge/pkg/httpclient"
)

// DefaultPlacesEndpoint is the Google Places "find place from text" API.
const DefaultPlacesEndpoint = "https://maps.googleapis.com/maps/api/place/findplacefromtext/json"

// ErrPlaceNotFound is returned when the geocoder has no candidate.
var ErrPlaceNotFound = errors.New("place not found")

// Location is a geocoded place.
type Location struct {
	PlaceID string
	Lat     float64
	Long    float64
	MapURL  string
}

// Geocoder resolves free text to a location.
type Geocoder interface {
	Find(ctx context.Context, query string) (*Location, error)
}

// PlacesGeocoder queries a Places compatible HTTP endpoint.
type PlacesGeocoder struct {
	endpoint string
	apiKey   string
	client   *httpclient.Client
}

// NewPlacesGeocoder creates a geocoder. An empty endpoint uses
// DefaultPlacesEndpoint; a nil client gets the default retrying client.
func NewPlacesGeocoder(endpoint, apiKey string, client *httpclient.Client) *PlacesGeocoder {
	if endpoint == "" {
		endpoint = DefaultPlacesEndpoint
	}
	if client == nil {
		client = httpclient.New()
	}
	return &PlacesGeocoder{endpoint: endpoint, apiKey: apiKey, client: client}
}

type placesResponse struct {
	Status     string `json:"status"`
	Candidates []struct {
		PlaceID  string `json:"place_id"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"candidates"`
	ErrorMessage string `json:"error_message"`
}

func (g *PlacesGeocoder) Find(ctx context.Context, query string) (*Location, error) {
	params := url.Values{}
	params.Set("input", query)
	params.Set("inputtype", "textquery")
	params.Set("fields", "place_id,formatted_address,name,geometry")
	if g.apiKey != "" {
		params.Set("key", g.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build places request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("places request failed: HTTP %d: %s", resp.StatusCode, body)
	}

	var pr placesResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode places response: %w", err)
	}
	if len(pr.Candidates) == 0 {
		if pr.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrPlaceNotFound, pr.Status, pr.ErrorMessage)
		}
		return nil, fmt.Errorf("%w: %s", ErrPlaceNotFound, query)
	}
	c := pr.Candidates[0]
	return &Location{
		PlaceID: c.PlaceID,
		Lat:     c.Geometry.Location.Lat,
		Long:    c.Geometry.Location.Lng,
		MapURL:  "https://www.google.com/maps/place/?q=place_id:" + c.PlaceID,
	}, nil
}
