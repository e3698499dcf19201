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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kadirpekel/concierge/pkg/session"
	"github.com/kadirpekel/concierge/pkg/tool"
	"github.com/kadirpekel/concierge/pkg/tool/functiontool"
)

type mapToolArgs struct {
	Key string `json:"key" jsonschema:"required,description=State key holding the places to verify such as poi or place"`
}

// NewMapTool returns map_tool. It geocodes every place stored under a state
// key and writes the coordinates and map link back into state.
func NewMapTool(geocoder Geocoder) (tool.CallableTool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "map_tool",
		Description: "Looks up the latitude, longitude and map url of the places stored in state under key and updates them in place.",
	}, func(ctx tool.Context, args mapToolArgs) (map[string]any, error) {
		return verifyPlaces(ctx, geocoder, args.Key)
	})
}

func verifyPlaces(ctx tool.Context, geocoder Geocoder, key string) (map[string]any, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	v, err := ctx.State().Get(key)
	if err != nil {
		if errors.Is(err, session.ErrStateKeyNotExist) {
			return nil, fmt.Errorf("no places stored under %q", key)
		}
		return nil, err
	}
	container, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("state %q is %T, want an object with places", key, v)
	}
	places, _ := container["places"].([]any)

	updated := make([]any, 0, len(places))
	for _, p := range places {
		place, ok := p.(map[string]any)
		if !ok {
			updated = append(updated, p)
			continue
		}
		place = copyMap(place)
		query := placeQuery(place)
		loc, err := geocoder.Find(ctx, query)
		if err != nil {
			slog.Warn("Failed to geocode place", "query", query, "error", err)
			updated = append(updated, place)
			continue
		}
		place["place_id"] = loc.PlaceID
		place["lat"] = strconv.FormatFloat(loc.Lat, 'f', -1, 64)
		place["long"] = strconv.FormatFloat(loc.Long, 'f', -1, 64)
		place["map_url"] = loc.MapURL
		updated = append(updated, place)
	}

	next := copyMap(container)
	next["places"] = updated
	if err := ctx.State().Set(key, next); err != nil {
		return nil, err
	}
	return map[string]any{"places": updated}, nil
}

func placeQuery(place map[string]any) string {
	var parts []string
	for _, k := range []string{"place_name", "name", "address", "country"} {
		if s, ok := place[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
